package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/pigeon/internal/admin"
	"github.com/matheus3301/pigeon/internal/auth"
	"github.com/matheus3301/pigeon/internal/bus"
	"github.com/matheus3301/pigeon/internal/chat"
	"github.com/matheus3301/pigeon/internal/config"
	"github.com/matheus3301/pigeon/internal/lock"
	"github.com/matheus3301/pigeon/internal/logging"
	"github.com/matheus3301/pigeon/internal/presence"
	"github.com/matheus3301/pigeon/internal/room"
	"github.com/matheus3301/pigeon/internal/stats"
	"github.com/matheus3301/pigeon/internal/status"
	"github.com/matheus3301/pigeon/internal/store"
	"github.com/matheus3301/pigeon/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
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
			provideAuthenticator,
			presence.NewRegistry,
			room.NewManager,
			chat.NewBroadcaster,
			providePipeline,
			provideHub,
			stats.NewCollector,
			provideHTTPServer,
			provideAdminServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := p.Config.EnsureDirs(); err != nil {
		return nil, err
	}
	return logging.New(p.Config.LogPath(), p.Config.Instance)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring instance lock", zap.String("instance", p.Config.Instance))
	l, err := lock.Acquire(p.Config.InstanceDir(), p.Config.Listen)
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

// provideStore depends on the lock so no second daemon touches the database.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.Config.DBPath()
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

	// Nobody is connected to a process that just started.
	n, err := db.ResetPresence(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reset presence: %w", err)
	}
	logger.Info("store initialized", zap.String("path", dbPath), zap.Int64("presence_reset", n))
	return db, nil
}

func provideAuthenticator(p Params, db *store.DB) *auth.Authenticator {
	return auth.New(p.Config.JWTSecret, p.Config.TokenTTL.Duration, db)
}

func providePipeline(p Params, db *store.DB, reg *presence.Registry, rooms *room.Manager, out *chat.Broadcaster, b *bus.Bus, logger *zap.Logger) *chat.Pipeline {
	return chat.NewPipeline(db, reg, rooms, out, b, chat.Limits{
		MaxContentLength: p.Config.MaxContentLength,
		MaxStatusLength:  p.Config.MaxStatusLength,
	}, logger)
}

func provideHub(db *store.DB, reg *presence.Registry, rooms *room.Manager, out *chat.Broadcaster, pipeline *chat.Pipeline, b *bus.Bus, logger *zap.Logger) *chat.Hub {
	return chat.NewHub(db, reg, rooms, out, pipeline, b, logger)
}

func provideHTTPServer(p Params, hub *chat.Hub, a *auth.Authenticator, db *store.DB, collector *stats.Collector, logger *zap.Logger) *transport.Server {
	return transport.NewServer(transport.Options{
		Listen:           p.Config.Listen,
		HandshakeTimeout: p.Config.HandshakeTimeout.Duration,
		EventsPerSecond:  p.Config.EventsPerSecond,
		SendQueueSize:    p.Config.SendQueueSize,
		AllowedOrigins:   p.Config.AllowedOrigins,
	}, hub, a, db, collector, logger)
}

func provideAdminServer(p Params, _ *lock.Lock, machine *status.Machine, b *bus.Bus, logger *zap.Logger) (*admin.Server, error) {
	return admin.NewServer(p.Config.SocketPath(), machine, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, httpSrv *transport.Server, adminSrv *admin.Server, collector *stats.Collector, db *store.DB, lk *lock.Lock, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			collector.Start(context.Background())

			go func() {
				if err := adminSrv.Start(); err != nil {
					logger.Error("admin server error", zap.Error(err))
				}
			}()

			if err := httpSrv.Start(); err != nil {
				_ = machine.Transition(status.Error)
				collector.Stop()
				adminSrv.Stop(context.Background())
				_ = db.Close()
				_ = lk.Release()
				return err
			}
			return machine.Transition(status.Serving)
		},
		OnStop: func(ctx context.Context) error {
			if err := machine.Transition(status.Draining); err != nil {
				logger.Warn("state change failed", zap.Error(err))
			}
			if err := httpSrv.Stop(ctx); err != nil {
				logger.Warn("http shutdown incomplete", zap.Error(err))
			}
			collector.Stop()
			adminSrv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			_ = machine.Transition(status.Stopped)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
