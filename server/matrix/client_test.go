package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
	"github.com/wiggin77/matrix-appservice-bridge/server/scheduler"
)

const (
	testDomain  = "srv"
	testASToken = "as-secret"
)

type recordedCall struct {
	Method      string
	Path        string
	RequestURI  string
	Query       map[string]string
	Body        string
	ContentType string
	Length      int64
	At          time.Time
}

type reply struct {
	status int
	body   string
}

// fakeHomeserver records every call and answers from a per-path queue, falling back
// to 200 {}.
type fakeHomeserver struct {
	*httptest.Server

	mu      sync.Mutex
	calls   []recordedCall
	replies map[string][]reply

	// limitOnce, when set, answers the first request whose path contains it with a 429.
	limitOnce string
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	hs := &fakeHomeserver{replies: make(map[string][]reply)}
	hs.Server = httptest.NewServer(http.HandlerFunc(hs.serve))
	t.Cleanup(hs.Close)
	return hs
}

func (hs *fakeHomeserver) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	query := map[string]string{}
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}

	hs.mu.Lock()
	hs.calls = append(hs.calls, recordedCall{
		Method:      r.Method,
		Path:        r.URL.Path,
		RequestURI:  r.RequestURI,
		Query:       query,
		Body:        string(body),
		ContentType: r.Header.Get("Content-Type"),
		Length:      r.ContentLength,
		At:          time.Now(),
	})
	rep := reply{status: http.StatusOK, body: "{}"}
	if hs.limitOnce != "" && strings.Contains(r.URL.Path, hs.limitOnce) {
		hs.limitOnce = ""
		rep = reply{status: http.StatusTooManyRequests, body: `{"errcode":"M_LIMIT_EXCEEDED","retry_after_ms":10}`}
	} else if queue := hs.replies[r.URL.Path]; len(queue) > 0 {
		rep = queue[0]
		hs.replies[r.URL.Path] = queue[1:]
	}
	hs.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rep.status)
	_, _ = w.Write([]byte(rep.body))
}

func (hs *fakeHomeserver) queue(path string, status int, body string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.replies[path] = append(hs.replies[path], reply{status: status, body: body})
}

func (hs *fakeHomeserver) recorded() []recordedCall {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return append([]recordedCall(nil), hs.calls...)
}

func newTestClient(t *testing.T, hs *fakeHomeserver) *Client {
	t.Helper()
	logger := logging.NewTestLogger(t)
	pool := scheduler.NewPool(2, logger)
	sched := scheduler.New(pool, logger)
	c := NewClient(Config{
		ServerURL:       hs.URL + "/",
		Domain:          testDomain,
		ASToken:         testASToken,
		SenderLocalpart: "bridgebot",
	}, sched, logger)
	t.Cleanup(func() {
		c.Close()
		sched.Shutdown()
		_ = pool.Shutdown(context.Background())
	})
	return c
}

func TestGhostFirstUseRegisters(t *testing.T) {
	ctx := context.Background()
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)

	var registered []id.UserID
	c.onGhostRegistered = func(userID id.UserID) { registered = append(registered, userID) }

	ghost := c.UserClient("@ghost_a:srv")
	res, err := ghost.SetDisplayName(ctx, "Alice")
	require.NoError(t, err)
	assert.True(t, res.OK)

	calls := hs.recorded()
	require.Len(t, calls, 2)

	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/_matrix/client/r0/register", calls[0].Path)
	assert.JSONEq(t, `{"type":"m.login.application_service","username":"ghost_a"}`, calls[0].Body)
	assert.Equal(t, testASToken, calls[0].Query["access_token"])

	assert.Equal(t, http.MethodPut, calls[1].Method)
	assert.Equal(t, "/_matrix/client/r0/profile/@ghost_a:srv/displayname", calls[1].Path)
	assert.JSONEq(t, `{"displayname":"Alice"}`, calls[1].Body)
	assert.Equal(t, "@ghost_a:srv", calls[1].Query["user_id"])
	assert.Equal(t, testASToken, calls[1].Query["access_token"])
	assert.NotContains(t, calls[1].Query, "ts")

	// Second use skips registration and reuses the cached client.
	assert.Same(t, ghost, c.UserClient("@ghost_a:srv"))
	_, err = ghost.SetDisplayName(ctx, "Alice")
	require.NoError(t, err)

	calls = hs.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, "/_matrix/client/r0/profile/@ghost_a:srv/displayname", calls[2].Path)
	assert.Equal(t, []id.UserID{"@ghost_a:srv"}, registered)
}

func TestNewUserHookFiresOncePerGhost(t *testing.T) {
	hs := newFakeHomeserver(t)
	logger := logging.NewTestLogger(t)

	var mu sync.Mutex
	var seen []id.UserID
	c := NewClient(Config{
		ServerURL:       hs.URL,
		Domain:          testDomain,
		ASToken:         testASToken,
		SenderLocalpart: "bridgebot",
		OnNewUser: func(userID id.UserID) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, userID)
		},
	}, nil, logger)
	t.Cleanup(c.Close)

	c.Bot()
	c.UserClient("@ghost_a:srv")
	c.UserClient("@ghost_a:srv")
	c.UserClient("@ghost_b:srv")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []id.UserID{"@ghost_a:srv", "@ghost_b:srv"}, seen)
	assert.Empty(t, hs.recorded(), "handles are created without contacting the homeserver")
}

func TestRegisterGhostResponses(t *testing.T) {
	ctx := context.Background()

	t.Run("user in use is success", func(t *testing.T) {
		hs := newFakeHomeserver(t)
		c := newTestClient(t, hs)
		hs.queue("/_matrix/client/r0/register", http.StatusBadRequest, `{"errcode":"M_USER_IN_USE","error":"taken"}`)

		require.NoError(t, c.RegisterGhost(ctx, "ghost_a"))
		require.NoError(t, c.RegisterGhost(ctx, "ghost_a"))
	})

	t.Run("exclusive is distinguishable", func(t *testing.T) {
		hs := newFakeHomeserver(t)
		c := newTestClient(t, hs)
		hs.queue("/_matrix/client/r0/register", http.StatusBadRequest, `{"errcode":"M_EXCLUSIVE","error":"not yours"}`)

		_, err := c.UserClient("@outsider:srv").SetDisplayName(ctx, "x")
		var exclusive *UserExclusiveError
		require.ErrorAs(t, err, &exclusive)
		assert.Equal(t, "outsider", exclusive.Localpart)
		assert.Len(t, hs.recorded(), 1, "no profile call after a failed registration")
	})

	t.Run("other failures are network errors and retried next time", func(t *testing.T) {
		hs := newFakeHomeserver(t)
		c := newTestClient(t, hs)
		hs.queue("/_matrix/client/r0/register", http.StatusInternalServerError, `{"errcode":"M_UNKNOWN","error":"oops"}`)

		ghost := c.UserClient("@ghost_b:srv")
		_, err := ghost.SetDisplayName(ctx, "x")
		var netErr *NetworkError
		require.ErrorAs(t, err, &netErr)

		_, err = ghost.SetDisplayName(ctx, "x")
		require.NoError(t, err)

		calls := hs.recorded()
		require.Len(t, calls, 3)
		assert.Equal(t, "/_matrix/client/r0/register", calls[1].Path)
	})
}

func TestSenderRequestsCarryTimestamp(t *testing.T) {
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)

	_, err := c.Bot().LeaveRoom(context.Background(), "!r:srv")
	require.NoError(t, err)

	calls := hs.recorded()
	require.Len(t, calls, 1, "the sender never registers")
	assert.Equal(t, "/_matrix/client/r0/rooms/!r:srv/leave", calls[0].Path)
	assert.NotEmpty(t, calls[0].Query["ts"])
	assert.NotContains(t, calls[0].Query, "user_id")
	assert.Equal(t, "@bridgebot:srv", c.SenderID().String())
}

func TestRateLimitedRequestIsRetried(t *testing.T) {
	ctx := context.Background()
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)

	bot := c.Bot()
	path := "/_matrix/client/r0/presence/@bridgebot:srv/status"
	hs.queue(path, http.StatusTooManyRequests, `{"errcode":"M_LIMIT_EXCEEDED","error":"slow down","retry_after_ms":1500}`)
	hs.queue(path, http.StatusOK, `{}`)

	res, err := bot.SetPresence(ctx, event.PresenceOnline, "here")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	calls := hs.recorded()
	require.Len(t, calls, 2, "exactly one retry")
	assert.GreaterOrEqual(t, calls[1].At.Sub(calls[0].At), 1500*time.Millisecond)
	assert.Equal(t, calls[0].RequestURI, calls[1].RequestURI, "the identical request is replayed")
	assert.Equal(t, calls[0].Body, calls[1].Body)
}

func TestRateLimitedRetryOnBusyPool(t *testing.T) {
	hs := newFakeHomeserver(t)
	hs.queue("/_matrix/client/r0/profile/@bridgebot:srv/displayname", http.StatusTooManyRequests, `{"errcode":"M_LIMIT_EXCEEDED","retry_after_ms":10}`)

	logger := logging.NewTestLogger(t)
	pool := scheduler.NewPool(1, logger)
	sched := scheduler.New(pool, logger)
	c := NewClient(Config{
		ServerURL:       hs.URL,
		Domain:          testDomain,
		ASToken:         testASToken,
		SenderLocalpart: "bridgebot",
	}, sched, logger)
	t.Cleanup(func() {
		c.Close()
		sched.Shutdown()
		_ = pool.Shutdown(context.Background())
	})

	// The caller holds the only worker for the whole retry.
	type result struct {
		res *Result
		err error
	}
	done := make(chan result, 1)
	require.NoError(t, pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		res, err := c.Bot().SetDisplayName(ctx, "Bridge Bot")
		done <- result{res: res, err: err}
	}))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.True(t, r.res.OK)
	case <-time.After(5 * time.Second):
		t.Fatal("retry never ran while the caller held the only worker")
	}
	assert.Len(t, hs.recorded(), 2)
}

func TestRateLimitedMessageKeepsTxnID(t *testing.T) {
	ctx := context.Background()
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)

	// The txn id is only known once the request arrives.
	hs.limitOnce = "/send/"

	res, err := c.Bot().SendText(ctx, "!r:srv", "hello")
	require.NoError(t, err)
	assert.True(t, res.OK)

	calls := hs.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Path, calls[1].Path)
	assert.Contains(t, calls[0].Path, "/send/m.room.message/")
	assert.JSONEq(t, `{"msgtype":"m.text","body":"hello"}`, calls[1].Body)
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Duration
	}{
		{"explicit", `{"errcode":"M_LIMIT_EXCEEDED","retry_after_ms":1500}`, 1500 * time.Millisecond},
		{"missing", `{"errcode":"M_LIMIT_EXCEEDED"}`, DefaultRetryAfter},
		{"negative", `{"errcode":"M_LIMIT_EXCEEDED","retry_after_ms":-20}`, 0},
		{"no errcode", `{"retry_after_ms":30}`, 30 * time.Millisecond},
		{"not json", `busy`, DefaultRetryAfter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryDelay(newResult(http.StatusTooManyRequests, []byte(tt.body))))
		})
	}
}

func TestCloseFailsPendingRetry(t *testing.T) {
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)
	hs.queue("/_matrix/client/r0/rooms/!r:srv/leave", http.StatusTooManyRequests, `{"retry_after_ms":60000}`)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Bot().LeaveRoom(context.Background(), "!r:srv")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return len(hs.recorded()) == 1 }, 5*time.Second, 10*time.Millisecond)
	c.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClientClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("caller still blocked after Close")
	}

	_, err := c.Bot().LeaveRoom(context.Background(), "!r:srv")
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestTimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	logger := logging.NewTestLogger(t)
	c := NewClient(Config{ServerURL: srv.URL, Domain: testDomain, ASToken: testASToken, SenderLocalpart: "bot"}, nil, logger)
	c.httpClient.Timeout = 50 * time.Millisecond

	_, err := c.Bot().LeaveRoom(context.Background(), "!r:srv")
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "leave room", netErr.Op)
}

func TestResolveAliasEscapesHash(t *testing.T) {
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)
	hs.queue("/_matrix/client/r0/directory/room/#room:srv", http.StatusOK, `{"room_id":"!abc:srv","servers":["srv"]}`)

	res, err := c.Bot().ResolveAlias(context.Background(), "#room:srv")
	require.NoError(t, err)
	assert.Equal(t, id.RoomID("!abc:srv"), res.RoomID)
	assert.Equal(t, []string{"srv"}, res.Servers)

	calls := hs.recorded()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].RequestURI, "/_matrix/client/r0/directory/room/%23room:srv?"), calls[0].RequestURI)
}

func TestJoinRoomByAliasEscapesHash(t *testing.T) {
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)

	_, err := c.Bot().JoinRoom(context.Background(), "#room:srv")
	require.NoError(t, err)

	calls := hs.recorded()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].RequestURI, "/_matrix/client/r0/join/%23room:srv?"))
	assert.JSONEq(t, `{}`, calls[0].Body)
}

func TestSetTypingAlwaysSendsTimeout(t *testing.T) {
	ctx := context.Background()
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)
	bot := c.Bot()

	_, err := bot.SetTyping(ctx, "!r:srv", true, 30000)
	require.NoError(t, err)
	_, err = bot.SetTyping(ctx, "!r:srv", false, 0)
	require.NoError(t, err)

	calls := hs.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "/_matrix/client/r0/rooms/!r:srv/typing/@bridgebot:srv", calls[0].Path)
	assert.JSONEq(t, `{"typing":true,"timeout":30000}`, calls[0].Body)

	var off map[string]any
	require.NoError(t, json.Unmarshal([]byte(calls[1].Body), &off))
	assert.Equal(t, false, off["typing"])
	assert.Contains(t, off, "timeout")
}

func TestUserClientOperations(t *testing.T) {
	ctx := context.Background()
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)
	bot := c.Bot()

	tests := []struct {
		name   string
		call   func() (*Result, error)
		method string
		path   string
		body   string
	}{
		{"invite", func() (*Result, error) { return bot.Invite(ctx, "!r:srv", "@u:srv") },
			http.MethodPost, "/_matrix/client/r0/rooms/!r:srv/invite", `{"user_id":"@u:srv"}`},
		{"kick", func() (*Result, error) { return bot.Kick(ctx, "!r:srv", "@u:srv", "spam") },
			http.MethodPost, "/_matrix/client/r0/rooms/!r:srv/kick", `{"user_id":"@u:srv","reason":"spam"}`},
		{"ban", func() (*Result, error) { return bot.Ban(ctx, "!r:srv", "@u:srv", "spam") },
			http.MethodPost, "/_matrix/client/r0/rooms/!r:srv/ban", `{"user_id":"@u:srv","reason":"spam"}`},
		{"avatar", func() (*Result, error) { return bot.SetAvatar(ctx, "mxc://srv/abc") },
			http.MethodPut, "/_matrix/client/r0/profile/@bridgebot:srv/avatar_url", `{"avatar_url":"mxc://srv/abc"}`},
		{"presence", func() (*Result, error) { return bot.SetPresence(ctx, event.PresenceUnavailable, "away") },
			http.MethodPut, "/_matrix/client/r0/presence/@bridgebot:srv/status", `{"presence":"unavailable","status_msg":"away"}`},
		{"create alias", func() (*Result, error) { return bot.CreateRoomAlias(ctx, "#a:srv", "!r:srv") },
			http.MethodPut, "/_matrix/client/r0/directory/room/#a:srv", `{"room_id":"!r:srv"}`},
		{"delete alias", func() (*Result, error) { return bot.DeleteAlias(ctx, "#a:srv") },
			http.MethodDelete, "/_matrix/client/r0/directory/room/#a:srv", ``},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.call()
			require.NoError(t, err)
			assert.True(t, res.OK)

			calls := hs.recorded()
			require.Len(t, calls, i+1)
			call := calls[i]
			assert.Equal(t, tt.method, call.Method)
			assert.Equal(t, tt.path, call.Path)
			if tt.body == "" {
				assert.Empty(t, call.Body)
			} else {
				assert.JSONEq(t, tt.body, call.Body)
			}
		})
	}
}

func TestGetters(t *testing.T) {
	ctx := context.Background()
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)
	bot := c.Bot()

	hs.queue("/_matrix/client/r0/profile/@bridgebot:srv/displayname", http.StatusOK, `{"displayname":"Bridge Bot"}`)
	name, err := bot.GetDisplayName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bridge Bot", name)

	hs.queue("/_matrix/client/r0/profile/@bridgebot:srv/avatar_url", http.StatusOK, `{"avatar_url":"mxc://srv/av"}`)
	avatar, err := bot.GetAvatar(ctx)
	require.NoError(t, err)
	assert.Equal(t, id.ContentURIString("mxc://srv/av"), avatar)

	hs.queue("/_matrix/client/r0/presence/@bridgebot:srv/status", http.StatusOK, `{"presence":"online","currently_active":true}`)
	presence, err := bot.GetPresence(ctx)
	require.NoError(t, err)
	assert.Equal(t, event.PresenceOnline, presence.Presence)
	assert.True(t, presence.CurrentlyActive)

	hs.queue("/_matrix/client/r0/rooms/!r:srv/joined_members", http.StatusOK, `{"joined":{"@a:srv":{"display_name":"A"}}}`)
	members, err := bot.GetRoomMembers(ctx, "!r:srv")
	require.NoError(t, err)
	assert.Equal(t, map[id.UserID]Member{"@a:srv": {DisplayName: "A"}}, members)

	hs.queue("/_matrix/client/r0/directory/room/#missing:srv", http.StatusNotFound, `{"errcode":"M_NOT_FOUND","error":"no alias"}`)
	_, err = bot.ResolveAlias(ctx, "#missing:srv")
	var matrixErr *MatrixError
	require.ErrorAs(t, err, &matrixErr)
	assert.Equal(t, http.StatusNotFound, matrixErr.StatusCode)
	assert.True(t, IsNotFound(err))

	hs.queue("/_matrix/client/r0/profile/@bridgebot:srv/displayname", http.StatusBadGateway, `upstream down`)
	_, err = bot.GetDisplayName(ctx)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.Result.StatusCode)
}

func TestNonOKWriteIsDeliveredAsResult(t *testing.T) {
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)
	hs.queue("/_matrix/client/r0/rooms/!r:srv/invite", http.StatusForbidden, `{"errcode":"M_FORBIDDEN","error":"not allowed"}`)

	res, err := c.Bot().Invite(context.Background(), "!r:srv", "@u:srv")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	require.NotNil(t, res.Error)
	assert.Equal(t, "M_FORBIDDEN", res.Error.ErrCode)
	assert.Equal(t, "not allowed", res.Error.Message)
	assert.Equal(t, res.Error, res.Err())
}

func TestCreateRoom(t *testing.T) {
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)
	hs.queue("/_matrix/client/r0/createRoom", http.StatusOK, `{"room_id":"!new:srv"}`)

	roomID, err := c.Bot().CreateRoom(context.Background(), &CreateRoomRequest{RoomAliasName: "rm_abc", Preset: "public_chat"})
	require.NoError(t, err)
	assert.Equal(t, id.RoomID("!new:srv"), roomID)

	calls := hs.recorded()
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"room_alias_name":"rm_abc","preset":"public_chat"}`, calls[0].Body)
}

func TestUploadMedia(t *testing.T) {
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)
	hs.queue("/_matrix/media/r0/upload", http.StatusOK, `{"content_uri":"mxc://srv/media1"}`)

	data := []byte("\x89PNG fake image")
	uri, err := c.UploadMedia(context.Background(), "cat.png", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, id.ContentURIString("mxc://srv/media1"), uri)

	calls := hs.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "image/png", calls[0].ContentType)
	assert.Equal(t, int64(len(data)), calls[0].Length)
	assert.Equal(t, string(data), calls[0].Body)
	assert.Equal(t, "cat.png", calls[0].Query["filename"])
	assert.Equal(t, testASToken, calls[0].Query["access_token"])
}

func TestUploadMediaBuffersPlainReaders(t *testing.T) {
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)
	hs.queue("/_matrix/media/r0/upload", http.StatusTooManyRequests, `{"retry_after_ms":5}`)
	hs.queue("/_matrix/media/r0/upload", http.StatusOK, `{"content_uri":"mxc://srv/media2"}`)

	reader := io.MultiReader(strings.NewReader("abc"), strings.NewReader("def"))
	uri, err := c.UploadMedia(context.Background(), "notes.unknownext", reader, 6)
	require.NoError(t, err)
	assert.Equal(t, id.ContentURIString("mxc://srv/media2"), uri)

	calls := hs.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "abcdef", calls[1].Body, "the retry resends the whole body")
	assert.Equal(t, "application/octet-stream", calls[1].ContentType)

	_, err = c.UploadMedia(context.Background(), "short.bin", strings.NewReader("ab"), 6)
	assert.Error(t, err)
}

func TestVersions(t *testing.T) {
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)
	hs.queue("/_matrix/client/versions", http.StatusOK, `{"versions":["r0.6.1","v1.1"]}`)

	v, err := c.Versions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"r0.6.1", "v1.1"}, v.Versions)
}

func TestTxnIDsAreUnique(t *testing.T) {
	c := NewClient(Config{Domain: testDomain, SenderLocalpart: "bot"}, nil, logging.Nop())
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		txn := c.NewTxnID()
		require.False(t, seen[txn], "duplicate txn id %s", txn)
		seen[txn] = true
	}

	other := NewClient(Config{Domain: testDomain, SenderLocalpart: "bot"}, nil, logging.Nop())
	assert.False(t, seen[other.NewTxnID()], "a new client starts a new session")
}

func TestFormattedContent(t *testing.T) {
	content := FormattedContent("<p>Hello <strong>world</strong></p>")
	assert.Equal(t, event.MsgText, content.MsgType)
	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Equal(t, "Hello **world**", content.Body)
	assert.Equal(t, "<p>Hello <strong>world</strong></p>", content.FormattedBody)

	assert.Equal(t, event.MsgNotice, NoticeContent("n").MsgType)
}

func TestPowerLevels(t *testing.T) {
	ctx := context.Background()
	hs := newFakeHomeserver(t)
	c := newTestClient(t, hs)

	path := "/_matrix/client/r0/rooms/!r:srv/state/m.room.power_levels"
	hs.queue(path, http.StatusOK, `{"users":{"@bridgebot:srv":100},"ban":50,"kick":50}`)

	res, err := c.Bot().SetUserPowerLevel(ctx, "!r:srv", "@ghost:srv", 50)
	require.NoError(t, err)
	assert.True(t, res.OK)

	calls := hs.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodGet, calls[0].Method)
	assert.Equal(t, http.MethodPut, calls[1].Method)
	assert.Equal(t, path, calls[1].Path)

	var written map[string]any
	require.NoError(t, json.Unmarshal([]byte(calls[1].Body), &written))
	assert.Equal(t, map[string]any{"@bridgebot:srv": float64(100), "@ghost:srv": float64(50)}, written["users"])

	defaults := DefaultPowerLevels()
	assert.Equal(t, 50, *defaults.BanPtr)
	assert.Equal(t, 0, *defaults.InvitePtr)
}

func TestResultErr(t *testing.T) {
	ok := newResult(http.StatusOK, []byte(`{"a":1}`))
	assert.NoError(t, ok.Err())

	var v struct{ A int }
	require.NoError(t, ok.Decode(&v))
	assert.Equal(t, 1, v.A)

	empty := newResult(http.StatusOK, nil)
	assert.Error(t, empty.Decode(&v))

	assert.True(t, errors.Is(&NetworkError{Err: context.Canceled}, context.Canceled))
}
