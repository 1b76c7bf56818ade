// Package matrix is the outbound homeserver client. Requests are issued as the appservice
// sender or masqueraded as a ghost user inside the appservice's exclusive namespace.
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"maunium.net/go/mautrix/id"

	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
)

const (
	// RequestTimeout bounds every outbound request. A timeout is not retried.
	RequestTimeout = 20 * time.Second

	// DefaultRetryAfter is used when a 429 carries no retry_after_ms.
	DefaultRetryAfter = 5 * time.Second

	clientPathPrefix = "/_matrix/client/r0/"
	mediaUploadPath  = "/_matrix/media/r0/upload"
	versionsPath     = "/_matrix/client/versions"
)

// Scheduler signals once d has elapsed; *scheduler.Scheduler satisfies it.
type Scheduler interface {
	Signal(d time.Duration) (<-chan struct{}, error)
}

// Config configures a Client.
type Config struct {
	ServerURL       string
	Domain          string
	ASToken         string
	SenderLocalpart string
	RateLimit       RateLimitConfig

	// OnGhostRegistered, when set, is called once per ghost after its first successful
	// registration in this process.
	OnGhostRegistered func(userID id.UserID)

	// OnNewUser, when set, is called synchronously the first time a handle for a user id
	// other than the sender is requested.
	OnNewUser func(userID id.UserID)
}

// Client talks to the homeserver with the appservice token.
type Client struct {
	serverURL  string
	domain     string
	asToken    string
	senderID   id.UserID
	httpClient *http.Client
	scheduler  Scheduler
	limiter    *rateLimiter
	logger     logging.Logger

	onGhostRegistered func(id.UserID)
	onNewUser         func(id.UserID)

	txnSession string
	txnCounter atomic.Uint64

	usersMu sync.Mutex
	users   map[id.UserID]*UserClient

	closed    atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client. Rate-limited requests are retried on sched; with a nil sched
// the 429 is returned as the Result.
func NewClient(cfg Config, sched Scheduler, logger logging.Logger) *Client {
	c := &Client{
		serverURL: strings.TrimSuffix(cfg.ServerURL, "/"),
		domain:    cfg.Domain,
		asToken:   cfg.ASToken,
		senderID:  id.NewUserID(cfg.SenderLocalpart, cfg.Domain),
		httpClient: &http.Client{
			Timeout: RequestTimeout,
		},
		scheduler:         sched,
		limiter:           newRateLimiter(cfg.RateLimit),
		logger:            logger,
		onGhostRegistered: cfg.OnGhostRegistered,
		onNewUser:         cfg.OnNewUser,
		txnSession:        uuid.NewString(),
		users:             make(map[id.UserID]*UserClient),
		closing:           make(chan struct{}),
	}
	return c
}

// SenderID is the appservice's own user.
func (c *Client) SenderID() id.UserID { return c.senderID }

// Domain is the homeserver's matrix domain.
func (c *Client) Domain() string { return c.domain }

// NewTxnID returns a transaction id that is unique for the life of this client.
func (c *Client) NewTxnID() string {
	return c.txnSession + "." + strconv.FormatUint(c.txnCounter.Add(1), 10)
}

// Bot returns the client for the appservice sender. It never registers.
func (c *Client) Bot() *UserClient {
	return c.UserClient(c.senderID)
}

// UserClient returns the cached per-user view for userID.
func (c *Client) UserClient(userID id.UserID) *UserClient {
	c.usersMu.Lock()
	u, ok := c.users[userID]
	if !ok {
		u = newUserClient(c, userID)
		c.users[userID] = u
	}
	c.usersMu.Unlock()

	if !ok && userID != c.senderID && c.onNewUser != nil {
		c.onNewUser(userID)
	}
	return u
}

// Close fails pending retries and releases idle connections. It is safe to call twice.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)
		c.httpClient.CloseIdleConnections()
	})
}

// clientURL builds a client-server API URL for the given path segments. Each segment is
// escaped, so "#" in an alias becomes "%23".
func (c *Client) clientURL(asUser id.UserID, query url.Values, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.serverURL + clientPathPrefix + strings.Join(escaped, "/") + "?" + c.authQuery(asUser, query).Encode()
}

// authQuery adds the appservice token plus user_id for ghosts or ts for the sender.
func (c *Client) authQuery(asUser id.UserID, query url.Values) url.Values {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("access_token", c.asToken)
	if asUser == c.senderID {
		q.Set("ts", strconv.FormatInt(time.Now().UnixMilli(), 10))
	} else {
		q.Set("user_id", asUser.String())
	}
	return q
}

// request is everything needed to replay a call verbatim.
type request struct {
	op            string
	method        string
	url           string
	contentType   string
	contentLength int64
	body          func() (io.Reader, error)
}

func jsonRequest(op, method, target string, payload any) (*request, error) {
	req := &request{op: op, method: method, url: target}
	if payload == nil {
		return req, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request body")
	}
	req.contentType = "application/json"
	req.contentLength = int64(len(data))
	req.body = func() (io.Reader, error) { return bytes.NewReader(data), nil }
	return req, nil
}

// do sends req and absorbs 429s: after the server's delay the identical request is
// replayed on the caller's goroutine until a non-429 answer arrives. Only the wait goes
// through the scheduler, so a caller running on a pool worker never waits on a free worker.
func (c *Client) do(ctx context.Context, req *request) (*Result, error) {
	for {
		if c.closed.Load() {
			return nil, ErrClientClosed
		}

		res, err := c.roundTrip(ctx, req)
		if err != nil || res.StatusCode != http.StatusTooManyRequests || c.scheduler == nil {
			return res, err
		}

		delay := retryDelay(res)
		c.logger.LogWarn("Rate limited by homeserver, retrying", "op", req.op, "retry_after_ms", delay.Milliseconds())

		due, err := c.scheduler.Signal(delay)
		if err != nil {
			return nil, errors.Wrap(err, "failed to schedule rate limit retry")
		}

		select {
		case <-due:
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "failed to %s", req.op)
		case <-c.closing:
			return nil, ErrClientClosed
		}
	}
}

// retryDelay reads retry_after_ms, clamping negatives to zero.
func retryDelay(res *Result) time.Duration {
	if res.Error == nil || res.Error.RetryAfterMs == nil {
		var body struct {
			RetryAfterMs *int64 `json:"retry_after_ms"`
		}
		if res.Body == nil || json.Unmarshal(res.Body, &body) != nil || body.RetryAfterMs == nil {
			return DefaultRetryAfter
		}
		return time.Duration(max(*body.RetryAfterMs, 0)) * time.Millisecond
	}
	return time.Duration(max(*res.Error.RetryAfterMs, 0)) * time.Millisecond
}

func (c *Client) roundTrip(ctx context.Context, req *request) (*Result, error) {
	var body io.Reader
	if req.body != nil {
		r, err := req.body()
		if err != nil {
			return nil, &NetworkError{Op: req.op, Err: errors.Wrap(err, "failed to prepare request body")}
		}
		body = r
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, &NetworkError{Op: req.op, Err: errors.Wrap(err, "failed to create request")}
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if body != nil {
		httpReq.ContentLength = req.contentLength
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: req.op, Err: errors.Wrap(err, "failed to send request")}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: req.op, Err: errors.Wrap(err, "failed to read response body")}
	}

	res := newResult(resp.StatusCode, data)
	if res.OK && len(data) > 0 && res.Body == nil {
		return nil, &NetworkError{Op: req.op, Err: errors.New("failed to parse response body")}
	}

	c.logger.LogDebug("Matrix request completed", "op", req.op, "method", req.method, "status", resp.StatusCode)
	return res, nil
}

// getJSON performs a GET and decodes a successful body into v.
func (c *Client) getJSON(ctx context.Context, op, target string, v any) error {
	res, err := c.do(ctx, &request{op: op, method: http.MethodGet, url: target})
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}
	return res.Decode(v)
}

// Versions is the response of /_matrix/client/versions.
type Versions struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// Versions queries the client-server API versions the homeserver supports. It doubles as a
// connectivity check.
func (c *Client) Versions(ctx context.Context) (*Versions, error) {
	var v Versions
	if err := c.getJSON(ctx, "get versions", c.serverURL+versionsPath, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
