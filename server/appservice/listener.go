package appservice

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
	"github.com/wiggin77/matrix-appservice-bridge/server/matrix"
)

const (
	// DefaultMaxBodySize bounds an inbound transaction body.
	DefaultMaxBodySize = 10 << 20

	appservicePathPrefix = "/_matrix/app/v1"

	errCodeUnauthorized = "M_UNAUTHORIZED"
	errCodeNotJSON      = "M_NOT_JSON"
	errCodeUnrecognized = "M_UNRECOGNIZED"
	errCodeUnknown      = "M_UNKNOWN"
)

// ListenerConfig configures the built-in appservice HTTP listener.
type ListenerConfig struct {
	// HSToken is the token the homeserver presents on every request.
	HSToken     string
	MaxBodySize int64
	TxnTTL      time.Duration
	TxnCapacity int
}

// transaction is the body of PUT /transactions/{txnId}.
type transaction struct {
	Events           []json.RawMessage `json:"events"`
	Ephemeral        []json.RawMessage `json:"ephemeral,omitempty"`
	MSC2409Ephemeral []json.RawMessage `json:"de.sorunome.msc2409.ephemeral,omitempty"`
}

// Listener is the homeserver-facing HTTP endpoint. It authenticates requests, fans
// transactions out to the adapter and performs the room and user provisioning the
// adapter's hooks decide on.
type Listener struct {
	adapter *Adapter
	client  *matrix.Client
	hsToken string
	maxBody int64
	tracker *TxnTracker
	txnLog  *TxnLogger
	logger  logging.Logger
	router  *mux.Router

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// NewListener creates a listener. txnLog may be nil.
func NewListener(cfg ListenerConfig, adapter *Adapter, client *matrix.Client, txnLog *TxnLogger, logger logging.Logger) *Listener {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.TxnTTL <= 0 {
		cfg.TxnTTL = DefaultTxnTTL
	}
	if cfg.TxnCapacity <= 0 {
		cfg.TxnCapacity = DefaultTxnCapacity
	}

	l := &Listener{
		adapter: adapter,
		client:  client,
		hsToken: cfg.HSToken,
		maxBody: cfg.MaxBodySize,
		tracker: NewTxnTracker(cfg.TxnTTL, cfg.TxnCapacity),
		txnLog:  txnLog,
		logger:  logger,
	}
	l.router = l.newRouter()
	return l
}

func (l *Listener) newRouter() *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errCodeUnrecognized, "unrecognized request")
	})

	// Homeservers older than the v1 prefix call the bare paths.
	for _, r := range []*mux.Router{router.PathPrefix(appservicePathPrefix).Subrouter(), router.NewRoute().Subrouter()} {
		r.Use(l.authorizationRequired)
		r.HandleFunc("/transactions/{txnId}", l.handleTransaction).Methods(http.MethodPut)
		r.HandleFunc("/rooms/{alias}", l.handleRoomQuery).Methods(http.MethodGet)
		r.HandleFunc("/users/{userId}", l.handleUserQuery).Methods(http.MethodGet)
	}
	return router
}

// Handler exposes the routes, for embedding in another server.
func (l *Listener) Handler() http.Handler { return l.router }

// Start binds addr and serves in the background.
func (l *Listener) Start(addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.server != nil {
		return errors.New("listener already started")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}

	srv := &http.Server{
		Handler:           l.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	l.server = srv
	l.addr = ln.Addr()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.LogError("Appservice listener stopped", "error", err)
		}
	}()
	l.logger.LogInfo("Appservice listener started", "address", ln.Addr().String())
	return nil
}

// Addr is the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	srv := l.server
	l.server = nil
	l.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shut down appservice listener")
	}
	l.logger.LogInfo("Appservice listener stopped")
	return nil
}

// authorizationRequired checks the hs_token from the Authorization header or, for older
// homeservers, the access_token query parameter.
func (l *Listener) authorizationRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.hsToken == "" {
			l.logger.LogWarn("Appservice request received but hs_token is not configured")
			writeError(w, http.StatusServiceUnavailable, errCodeUnknown, "appservice not configured")
			return
		}

		token := r.URL.Query().Get("access_token")
		if auth := r.Header.Get("Authorization"); auth != "" {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, errCodeUnauthorized, "missing token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(l.hsToken)) != 1 {
			l.logger.LogWarn("Appservice request authentication failed", "path", r.URL.Path)
			writeError(w, http.StatusForbidden, mautrix.MForbidden.ErrCode, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Listener) handleTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := mux.Vars(r)["txnId"]

	switch l.tracker.Begin(txnID) {
	case TxnDone:
		l.logger.LogDebug("Duplicate appservice transaction ignored", "txn_id", txnID)
		writeJSON(w, http.StatusOK, struct{}{})
		return
	case TxnInFlight:
		l.logger.LogDebug("Appservice transaction already in progress", "txn_id", txnID)
		writeError(w, http.StatusServiceUnavailable, errCodeUnknown, "transaction in progress")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, l.maxBody))
	if err != nil {
		l.tracker.Release(txnID)
		l.logger.LogError("Failed to read appservice transaction", "txn_id", txnID, "error", err)
		writeError(w, http.StatusBadRequest, errCodeNotJSON, "failed to read request body")
		return
	}
	l.txnLog.Log(txnID, body)

	var txn transaction
	if err := json.Unmarshal(body, &txn); err != nil {
		l.tracker.Release(txnID)
		l.logger.LogError("Failed to parse appservice transaction", "txn_id", txnID, "error", err)
		writeError(w, http.StatusBadRequest, errCodeNotJSON, "invalid JSON")
		return
	}

	events := make([]json.RawMessage, 0, len(txn.Events)+len(txn.Ephemeral)+len(txn.MSC2409Ephemeral))
	events = append(events, txn.Events...)
	events = append(events, txn.Ephemeral...)
	events = append(events, txn.MSC2409Ephemeral...)

	for _, evt := range events {
		if err := l.adapter.OnMatrixEvent(evt); err != nil {
			// Leave the transaction unmarked so the homeserver retries it.
			l.tracker.Release(txnID)
			l.logger.LogError("Failed to publish appservice event", "txn_id", txnID, "error", err)
			writeError(w, http.StatusServiceUnavailable, errCodeUnknown, "bridge is shutting down")
			return
		}
	}

	if err := l.tracker.Put(txnID); err != nil {
		l.logger.LogWarn("Failed to remember appservice transaction", "txn_id", txnID, "error", err)
	}
	l.logger.LogDebug("Processed appservice transaction", "txn_id", txnID, "event_count", len(events))
	writeJSON(w, http.StatusOK, struct{}{})
}

func (l *Listener) handleRoomQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alias := id.RoomAlias(mux.Vars(r)["alias"])

	req := l.adapter.OnRoomAliasQueried(ctx, alias)
	if req == nil {
		writeError(w, http.StatusNotFound, mautrix.MNotFound.ErrCode, "room alias not bridged")
		return
	}

	create := *req
	if create.RoomAliasName == "" {
		create.RoomAliasName = aliasLocalpart(alias)
	}
	roomID, err := l.client.Bot().CreateRoom(ctx, &create)
	if err != nil {
		l.logger.LogError("Failed to create room for alias", "alias", alias.String(), "error", err)
		writeError(w, http.StatusInternalServerError, errCodeUnknown, "failed to create room")
		return
	}

	if err := l.adapter.OnRoomAliasCreated(alias, roomID); err != nil {
		l.logger.LogWarn("Failed to publish bridged room creation", "alias", alias.String(), "room_id", roomID.String(), "error", err)
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (l *Listener) handleUserQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := id.UserID(mux.Vars(r)["userId"])

	req := l.adapter.OnUserAliasQueried(ctx, userID)
	if req == nil {
		writeError(w, http.StatusNotFound, mautrix.MNotFound.ErrCode, "user not bridged")
		return
	}

	ghost := l.client.UserClient(userID)
	if err := ghost.EnsureRegistered(ctx); err != nil {
		l.logger.LogError("Failed to register queried user", "user_id", userID.String(), "error", err)
		writeError(w, http.StatusInternalServerError, errCodeUnknown, "failed to register user")
		return
	}
	if req.DisplayName != "" {
		l.logResult("set display name", userID, func() (*matrix.Result, error) { return ghost.SetDisplayName(ctx, req.DisplayName) })
	}
	if req.AvatarURL != "" {
		l.logResult("set avatar", userID, func() (*matrix.Result, error) { return ghost.SetAvatar(ctx, req.AvatarURL) })
	}

	localpart, _, _ := userID.Parse()
	if err := l.adapter.OnUserProvisioned(localpart); err != nil {
		l.logger.LogWarn("Failed to publish user provisioning", "user_id", userID.String(), "error", err)
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// logResult runs a best-effort profile update; the user exists either way.
func (l *Listener) logResult(op string, userID id.UserID, fn func() (*matrix.Result, error)) {
	res, err := fn()
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		l.logger.LogWarn("Failed to "+op+" for provisioned user", "user_id", userID.String(), "error", err)
	}
}

func aliasLocalpart(alias id.RoomAlias) string {
	localpart := strings.TrimPrefix(alias.String(), "#")
	if i := strings.IndexByte(localpart, ':'); i >= 0 {
		localpart = localpart[:i]
	}
	return localpart
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, &matrix.MatrixError{ErrCode: errCode, Message: message})
}
