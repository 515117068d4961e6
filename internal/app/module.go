package app

import (
	"context"
	"time"

	"github.com/peerzee/peersync/internal/api"
	"github.com/peerzee/peersync/internal/auth"
	"github.com/peerzee/peersync/internal/bus"
	"github.com/peerzee/peersync/internal/config"
	"github.com/peerzee/peersync/internal/lock"
	"github.com/peerzee/peersync/internal/logging"
	"github.com/peerzee/peersync/internal/rt"
	"github.com/peerzee/peersync/internal/session"
	"github.com/peerzee/peersync/internal/status"
	"github.com/peerzee/peersync/internal/store"
	intsync "github.com/peerzee/peersync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const snapshotTimeout = 30 * time.Second

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config // nil = defaults throughout
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("peersync",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTokens,
			provideRealtime,
			provideRest,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.ReplicaDBPath(p.SessionName)
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
	logger.Info("archive initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTokens(p Params) *auth.FileTokenSource {
	return auth.NewFileTokenSource(session.TokenPath(p.SessionName))
}

func provideRealtime(p Params, tokens *auth.FileTokenSource, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *rt.Client {
	cfg := rt.Config{
		URL:         p.Config.SocketURL(),
		BaseDelay:   p.Config.ReconnectBase(),
		MaxDelay:    p.Config.ReconnectMax(),
		MaxAttempts: p.Config.ReconnectTries(),
	}
	return rt.NewClient(cfg, tokens, b, machine, logger)
}

func provideRest(p Params, tokens *auth.FileTokenSource, logger *zap.Logger) *api.Client {
	return api.NewClient(p.Config.ServerBase(), tokens, logger)
}

func provideEngine(p Params, client *rt.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(client, db, b, logger, p.Config.TypingDebounce())
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, client *rt.Client, engine *intsync.Engine, restc *api.Client, machine *status.Machine, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Engine first: it must be subscribed before the channel
			// can publish inbound events.
			engine.Start(context.Background())

			if err := engine.LoadArchive(); err != nil {
				logger.Warn("archive warm-load failed", zap.Error(err))
			}

			_ = machine.Transition(status.Connecting)
			client.Start(context.Background())

			// Snapshot fetch runs in the background; a failure leaves
			// the warm-loaded directory in place.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
				defer cancel()
				convs, err := restc.ListConversations(ctx)
				if err != nil {
					logger.Warn("conversation snapshot failed", zap.Error(err))
					return
				}
				engine.LoadSnapshot(convs)
				logger.Info("conversation snapshot loaded", zap.Int("conversations", len(convs)))
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			client.Stop()
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing archive", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
