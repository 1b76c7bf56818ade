package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/wiggin77/merror"
	"maunium.net/go/mautrix/id"

	"github.com/wiggin77/matrix-appservice-bridge/server/appservice"
	"github.com/wiggin77/matrix-appservice-bridge/server/config"
	"github.com/wiggin77/matrix-appservice-bridge/server/entity"
	"github.com/wiggin77/matrix-appservice-bridge/server/eventbus"
	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
	"github.com/wiggin77/matrix-appservice-bridge/server/matrix"
	"github.com/wiggin77/matrix-appservice-bridge/server/scheduler"
	"github.com/wiggin77/matrix-appservice-bridge/server/store"
	"github.com/wiggin77/matrix-appservice-bridge/server/store/leveldb"
	"github.com/wiggin77/matrix-appservice-bridge/server/store/mongo"
)

// AbortTimeout bounds the teardown performed by Abort.
const AbortTimeout = 10 * time.Second

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("bridge already started")
	// ErrStopped is returned by Start after Stop or Abort.
	ErrStopped = errors.New("bridge has been stopped")
)

// Options configure a Controller.
type Options struct {
	ConfigPath       string
	RegistrationPath string

	// Config and Registration, when set, are used instead of reading the files.
	Config       *config.Config
	Registration *config.Registration

	// Logger defaults to one built from the config file's logging section.
	Logger logging.Logger

	// ServeHTTP starts the built-in appservice listener on the configured port.
	ServeHTTP bool
}

type shutdownTask struct {
	name string
	fn   func(ctx context.Context) error
}

// Controller runs one bridge.
type Controller struct {
	impl Bridge
	opts Options

	mu          sync.Mutex
	started     bool
	stopped     bool
	implStarted bool
	stopErr     error

	cfg      *config.Config
	reg      *config.Registration
	logger   logging.Logger
	store    store.Store
	pool     *scheduler.Pool
	sched    *scheduler.Scheduler
	bus      *eventbus.Bus
	client   *matrix.Client
	entities *entity.Model
	adapter  *appservice.Adapter
	listener *appservice.Listener
	txnLog   *appservice.TxnLogger

	tasksMu sync.Mutex
	tasks   []shutdownTask
}

// New creates a controller for impl. Nothing is opened until Start.
func New(impl Bridge, opts Options) *Controller {
	return &Controller{impl: impl, opts: opts}
}

// Start brings every component up in dependency order, then calls impl.OnStart and, if
// requested, starts the listener. A failure closes whatever was already opened.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return ErrAlreadyStarted
	}

	if err := c.start(ctx); err != nil {
		if c.logger != nil {
			c.logger.LogError("Bridge failed to start", "error", err)
		}
		if unwindErr := c.teardown(ctx, false); unwindErr != nil && c.logger != nil {
			c.logger.LogWarn("Failed to release resources after start failure", "error", unwindErr)
		}
		c.stopped = true
		return err
	}
	c.started = true
	c.logger.LogInfo("Bridge started", "domain", c.cfg.MatrixDomain, "sender", c.client.SenderID().String())
	return nil
}

func (c *Controller) start(ctx context.Context) error {
	if err := c.loadConfig(); err != nil {
		return err
	}

	logger := c.opts.Logger
	if logger == nil {
		built, err := logging.Build(c.cfg.Logging)
		if err != nil {
			return err
		}
		logger = built
	}
	c.logger = logging.Component(logger, "bridge")

	s, err := openStore(ctx, c.cfg.DB, logging.Component(logger, "store"))
	if err != nil {
		return err
	}
	c.store = s

	c.pool = scheduler.NewPool(c.cfg.Workers, logging.Component(logger, "pool"))
	c.sched = scheduler.New(c.pool, logging.Component(logger, "scheduler"))
	c.bus = eventbus.New(c.pool, logging.Component(logger, "eventbus"))
	c.client = matrix.NewClient(matrix.Config{
		ServerURL:         c.cfg.ServerURL,
		Domain:            c.cfg.MatrixDomain,
		ASToken:           c.reg.ASToken,
		SenderLocalpart:   c.reg.SenderLocalpart,
		RateLimit:         c.cfg.RateLimit,
		OnGhostRegistered: c.publishGhostRegistered,
		OnNewUser:         c.materializeUser,
	}, c.sched, logging.Component(logger, "matrix"))
	c.entities = entity.New(c.store, logging.Component(logger, "entity"))
	c.adapter = appservice.New(c.bus, c.impl, logging.Component(logger, "appservice"))

	c.bus.Register(appservice.NewInternalHandler(c.entities, c.bus, logging.Component(logger, "appservice")))

	if err := c.impl.OnStart(ctx, c); err != nil {
		return errors.Wrap(err, "failed to start bridge implementation")
	}
	c.implStarted = true

	if c.opts.ServeHTTP {
		txnLog, err := appservice.NewTxnLogger()
		if err != nil {
			return err
		}
		c.txnLog = txnLog
		c.listener = appservice.NewListener(appservice.ListenerConfig{HSToken: c.reg.HSToken},
			c.adapter, c.client, txnLog, logging.Component(logger, "listener"))
		if err := c.listener.Start(c.cfg.ListenAddress()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) loadConfig() error {
	c.cfg = c.opts.Config
	if c.cfg == nil {
		cfg, err := config.Load(c.opts.ConfigPath)
		if err != nil {
			return err
		}
		c.cfg = cfg
	} else if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.reg = c.opts.Registration
	if c.reg == nil {
		reg, err := config.LoadRegistration(c.opts.RegistrationPath)
		if err != nil {
			return err
		}
		c.reg = reg
	}
	return nil
}

func openStore(ctx context.Context, db config.DBConfig, logger logging.Logger) (store.Store, error) {
	switch db.Type {
	case config.DBTypeLevelDB:
		return leveldb.Open(db.Directory, leveldb.Options{CacheSizeMB: db.CacheSize, Compression: db.Compression}, logger)
	case config.DBTypeMongo:
		return mongo.Open(ctx, db.URL, db.Database, logger)
	}
	return nil, &config.ConfigError{Key: "db.type", Reason: "is not supported"}
}

func (c *Controller) publishGhostRegistered(userID id.UserID) {
	if err := c.bus.PublishAsync(eventbus.MatrixUserRegistered{UserID: userID}); err != nil {
		c.logger.LogWarn("Failed to publish ghost registration", "user_id", userID.String(), "error", err)
	}
}

// materializeUser makes sure a Matrix user record exists for every ghost handle handed out.
func (c *Controller) materializeUser(userID id.UserID) {
	if _, err := c.entities.ResolveUser(context.Background(), userID.String(), store.MatrixUser, true); err != nil {
		c.logger.LogWarn("Failed to record Matrix user", "user_id", userID.String(), "error", err)
	}
}

// AddShutdownTask appends fn to the tasks Stop runs, in registration order, before any
// component is closed.
func (c *Controller) AddShutdownTask(name string, fn func(ctx context.Context) error) {
	c.tasksMu.Lock()
	defer c.tasksMu.Unlock()
	c.tasks = append(c.tasks, shutdownTask{name: name, fn: fn})
}

// Stop shuts everything down and waits for queued work. Later calls return the first
// call's result.
func (c *Controller) Stop(ctx context.Context) error {
	return c.stop(ctx, false)
}

// Abort is Stop without draining: queued bus events and pool tasks are dropped.
func (c *Controller) Abort() error {
	ctx, cancel := context.WithTimeout(context.Background(), AbortTimeout)
	defer cancel()
	return c.stop(ctx, true)
}

func (c *Controller) stop(ctx context.Context, abort bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return c.stopErr
	}
	c.stopped = true
	if !c.started {
		return nil
	}

	c.logger.LogInfo("Bridge stopping", "abort", abort)
	c.stopErr = c.teardown(ctx, abort)
	if c.stopErr != nil {
		c.logger.LogError("Bridge stopped with errors", "error", c.stopErr)
	} else {
		c.logger.LogInfo("Bridge stopped")
	}
	return c.stopErr
}

// teardown releases whatever has been created, in reverse dependency order.
func (c *Controller) teardown(ctx context.Context, abort bool) error {
	merr := merror.New()
	collect := func(err error) {
		if err != nil {
			merr.Append(err)
		}
	}

	if c.listener != nil {
		collect(c.listener.Shutdown(ctx))
	}

	if c.started {
		c.tasksMu.Lock()
		tasks := append([]shutdownTask(nil), c.tasks...)
		c.tasksMu.Unlock()
		for _, task := range tasks {
			if err := task.fn(ctx); err != nil {
				c.logger.LogWarn("Shutdown task failed", "task", task.name, "error", err)
				merr.Append(errors.Wrapf(err, "shutdown task %s", task.name))
			}
		}
	}

	if c.client != nil {
		c.client.Close()
	}
	if c.sched != nil {
		c.sched.Shutdown()
	}
	if c.pool != nil {
		if abort {
			c.pool.Abort()
		} else {
			collect(c.pool.Shutdown(ctx))
		}
	}
	if c.store != nil {
		collect(c.store.Close())
	}
	if c.implStarted {
		collect(c.impl.OnStop(ctx))
	}
	if c.txnLog != nil {
		collect(c.txnLog.Close())
	}
	return merr.ErrorOrNil()
}

func (c *Controller) Config() *config.Config             { return c.cfg }
func (c *Controller) Registration() *config.Registration { return c.reg }
func (c *Controller) Logger() logging.Logger             { return c.logger }
func (c *Controller) Store() store.Store                 { return c.store }
func (c *Controller) Entities() *entity.Model            { return c.entities }
func (c *Controller) Bus() *eventbus.Bus                 { return c.bus }
func (c *Controller) Matrix() *matrix.Client             { return c.client }
func (c *Controller) Adapter() *appservice.Adapter       { return c.adapter }
func (c *Controller) Scheduler() *scheduler.Scheduler    { return c.sched }
func (c *Controller) Pool() *scheduler.Pool              { return c.pool }

// Listener is the built-in listener, or nil unless Options.ServeHTTP was set.
func (c *Controller) Listener() *appservice.Listener { return c.listener }
