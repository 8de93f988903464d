package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matheus3301/meshphone/internal/api"
	"github.com/matheus3301/meshphone/internal/bus"
	"github.com/matheus3301/meshphone/internal/config"
	"github.com/matheus3301/meshphone/internal/dispatch"
	"github.com/matheus3301/meshphone/internal/lock"
	"github.com/matheus3301/meshphone/internal/logging"
	"github.com/matheus3301/meshphone/internal/mute"
	"github.com/matheus3301/meshphone/internal/outbox"
	"github.com/matheus3301/meshphone/internal/reactive"
	"github.com/matheus3301/meshphone/internal/relay"
	"github.com/matheus3301/meshphone/internal/replication"
	"github.com/matheus3301/meshphone/internal/service"
	"github.com/matheus3301/meshphone/internal/session"
	"github.com/matheus3301/meshphone/internal/status"
	"github.com/matheus3301/meshphone/internal/store"
	"github.com/matheus3301/meshphone/internal/syncer"
	"github.com/matheus3301/meshphone/internal/worldstore"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	LogLevel    zapcore.Level
	// Quiet keeps logs off stderr, for the TUI.
	Quiet bool

	// Overrides for tests and embedding; zero values use the defaults.
	Dir        string
	SocketPath string
	Logger     *zap.Logger
	Transport  replication.Transport
	Scheduler  reactive.Scheduler
	Alerter    service.Alerter
}

func (p Params) dir() string {
	if p.Dir != "" {
		return p.Dir
	}
	return session.Dir(p.SessionName)
}

func (p Params) localDBPath() string {
	if p.Dir != "" {
		return filepath.Join(p.Dir, "meshphone.db")
	}
	return session.LocalDBPath(p.SessionName)
}

func (p Params) worldDir() string {
	if p.Dir != "" {
		return filepath.Join(p.Dir, "world")
	}
	return session.WorldDir(p.SessionName)
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	if p.Dir != "" {
		return filepath.Join(p.Dir, "daemon.sock")
	}
	return session.SocketPath(p.SessionName)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideWorld,
			provideTransport,
			provideSender,
			provideMutes,
			provideScheduler,
			provideController,
			provideService,
			provideDispatcher,
			provideBridge,
			provideControl,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(session.LogPath(p.SessionName, "meshd"), p.SessionName, p.Config.Identity.UserID, p.LogLevel, p.Quiet)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(p.dir(), p.Config.Identity.UserID)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.localDBPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

// provideWorld opens the world store on the coordinator. Participants get nil.
func provideWorld(p Params, logger *zap.Logger) (*worldstore.Store, error) {
	if !p.Config.Identity.Coordinator {
		return nil, nil
	}
	return worldstore.Open(p.worldDir(), true, logger.Named("world"))
}

func provideTransport(p Params, machine *status.Machine, b *bus.Bus, logger *zap.Logger) (replication.Transport, error) {
	if p.Transport != nil {
		// Injected transports are connected already.
		_ = machine.Advance(status.Connecting)
		_ = machine.Advance(status.Online)
		return p.Transport, nil
	}
	return relay.Dial(relay.ClientConfig{
		Address:     p.Config.Relay.Address,
		UserID:      p.Config.Identity.UserID,
		Coordinator: p.Config.Identity.Coordinator,
		MinBackoff:  p.Config.Relay.MinBackoff.Duration,
		MaxBackoff:  p.Config.Relay.MaxBackoff.Duration,
	}, logger.Named("relay"), machine, b)
}

func provideSender(p Params, db *store.DB, tr replication.Transport, b *bus.Bus, logger *zap.Logger) (*outbox.Sender, error) {
	origin := replication.Origin{
		UserID:    p.Config.Identity.UserID,
		UserName:  p.Config.Identity.UserName,
		SessionID: p.SessionName,
	}
	s, err := outbox.NewSender(db, tr, origin, b, logger.Named("outbox"))
	if err != nil {
		return nil, err
	}
	if d := p.Config.Sync.FlushInterval.Duration; d > 0 {
		s.SetInterval(d)
	}
	return s, nil
}

func provideMutes(p Params, db *store.DB) (*mute.Store, error) {
	return mute.Open(db.ForClient(p.Config.Identity.UserID))
}

func provideScheduler(p Params) reactive.Scheduler {
	if p.Scheduler != nil {
		return p.Scheduler
	}
	return reactive.NewFrameLoop(p.Config.UI.FrameInterval.Duration)
}

func provideController(p Params, sched reactive.Scheduler, logger *zap.Logger) *reactive.Controller {
	return reactive.New(sched, p.Config.UI.MaxPending, logger.Named("ui"))
}

func provideService(p Params, db *store.DB, mutes *mute.Store, sender *outbox.Sender, world *worldstore.Store, b *bus.Bus, ctrl *reactive.Controller, logger *zap.Logger) (*service.Service, error) {
	deps := service.Deps{
		Local:     db.ForClient(p.Config.Identity.UserID),
		Mutes:     mutes,
		Publisher: sender,
		Events:    b,
		Notifier:  ctrl,
		Alerter:   p.Alerter,
		Sync: syncer.Config{
			Window:     p.Config.Sync.Window.Duration,
			StaleAfter: p.Config.Sync.StaleAfter.Duration,
		},
		Logger: logger.Named("service"),
	}
	if deps.Alerter == nil {
		deps.Alerter = logAlerter{logger: logger}
	}
	// A nil *worldstore.Store must not become a non-nil interface.
	if world != nil {
		deps.World = world
	}
	return service.New(deps)
}

func provideDispatcher(p Params, svc *service.Service, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.New(p.Config.Identity.UserID, svc, 0, logger.Named("dispatch"))
}

func provideBridge(b *bus.Bus, ctrl *reactive.Controller) *reactive.Bridge {
	return reactive.NewBridge(b, ctrl)
}

func provideControl(p Params, svc *service.Service, machine *status.Machine, sender *outbox.Sender, db *store.DB, disp *dispatch.Dispatcher, b *bus.Bus, logger *zap.Logger) *api.Control {
	return api.NewControl(p.SessionName, svc, machine, sender, db, disp, b, logger.Named("api"))
}

type lifecycleDeps struct {
	fx.In

	Lock       *lock.Lock
	Server     *Server
	DB         *store.DB
	World      *worldstore.Store
	Transport  replication.Transport
	Sender     *outbox.Sender
	Dispatcher *dispatch.Dispatcher
	Bridge     *reactive.Bridge
	Scheduler  reactive.Scheduler
	Service    *service.Service
	Logger     *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			d.Bridge.Start(ctx)
			if loop, ok := d.Scheduler.(*reactive.FrameLoop); ok {
				go loop.Run(ctx)
			}
			d.Dispatcher.Start(ctx, d.Transport.Inbound())
			d.Sender.Start(ctx)

			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("control server error", zap.Error(err))
				}
			}()

			if err := d.Service.Restore(ctx); err != nil {
				return fmt.Errorf("restore local state: %w", err)
			}
			self := d.Service.Self()
			d.Logger.Info("daemon started",
				zap.String("user", self.UserID), zap.Bool("coordinator", d.Service.IsCoordinator()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			d.Server.Stop(ctx)
			d.Dispatcher.Stop()
			d.Sender.Stop()
			d.Bridge.Stop()
			if err := d.Transport.Close(); err != nil {
				d.Logger.Warn("error closing transport", zap.Error(err))
			}
			if d.World != nil {
				if err := d.World.Close(); err != nil {
					d.Logger.Warn("error closing world store", zap.Error(err))
				}
			}
			if err := d.DB.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			return nil
		},
	})
}
