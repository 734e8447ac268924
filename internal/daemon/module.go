// Package daemon composes the long-running backscrolld process with fx:
// workspace lock, store, rate limiter, remote client, indexer, and the sync
// scheduler loop.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/backscroll/backscroll/internal/bus"
	"github.com/backscroll/backscroll/internal/config"
	"github.com/backscroll/backscroll/internal/embed"
	"github.com/backscroll/backscroll/internal/index"
	"github.com/backscroll/backscroll/internal/lock"
	"github.com/backscroll/backscroll/internal/logging"
	"github.com/backscroll/backscroll/internal/ratelimit"
	"github.com/backscroll/backscroll/internal/slackapi"
	"github.com/backscroll/backscroll/internal/store"
	intsync "github.com/backscroll/backscroll/internal/sync"
	"github.com/backscroll/backscroll/internal/workspace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved workspace configuration passed to the fx module.
type Params struct {
	WorkspaceName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideLimiter,
			provideClient,
			provideEmbedder,
			provideIndexer,
			provideScheduler,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	config.LoadEnv()
	return config.Load(workspace.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(workspace.LogPath(p.WorkspaceName), p.WorkspaceName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := workspace.EnsureDir(p.WorkspaceName); err != nil {
		return nil, err
	}
	logger.Info("acquiring workspace lock", zap.String("workspace", p.WorkspaceName))
	l, err := lock.Acquire(workspace.Dir(p.WorkspaceName))
	if err != nil {
		return nil, err
	}
	logger.Info("workspace lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := workspace.MirrorDBPath(p.WorkspaceName)
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

func provideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		HistoryPerMinute:  cfg.RateLimit.HistoryPerMinute,
		HistoryBurst:      cfg.RateLimit.HistoryBurst,
		MetadataPerMinute: cfg.RateLimit.MetadataPerMinute,
		MetadataBurst:     cfg.RateLimit.MetadataBurst,
		MaxWait:           time.Duration(cfg.RateLimit.AcquireTimeoutSeconds) * time.Second,
	})
}

func provideClient(cfg *config.Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*slackapi.Client, error) {
	token := cfg.Token()
	if token == "" {
		return nil, fmt.Errorf("no Slack token: set SLACK_TOKEN or slack_token in %s", workspace.ConfigPath())
	}
	return slackapi.New(token, limiter, logger, slackapi.Options{PageSize: cfg.Sync.PageSize}), nil
}

func provideEmbedder(cfg *config.Config) (embed.Embedder, error) {
	return embed.New(cfg.Embedding)
}

func provideIndexer(db *store.DB, embedder embed.Embedder, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *index.Indexer {
	return index.New(db, embedder, b, logger, index.Options{
		BatchSize:        cfg.Embedding.BatchSize,
		BackfillInterval: time.Duration(cfg.Embedding.BackfillIntervalSecs) * time.Second,
	})
}

func provideScheduler(db *store.DB, client *slackapi.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *intsync.Scheduler {
	return intsync.NewScheduler(db, client, client, b, logger, SchedulerOptions(cfg))
}

// SchedulerOptions maps config onto the sync engine's tuning knobs.
func SchedulerOptions(cfg *config.Config) intsync.SchedulerOptions {
	return intsync.SchedulerOptions{
		Interval:          time.Duration(cfg.Sync.IntervalSeconds) * time.Second,
		Concurrency:       cfg.Sync.Concurrency,
		CooldownThreshold: cfg.Sync.CooldownThreshold,
		CooldownMaxCycles: cfg.Sync.CooldownMaxCycles,
		Worker: intsync.WorkerOptions{
			MaxRetries: cfg.Sync.MaxRetries,
			RetryBase:  time.Duration(cfg.Sync.RetryBaseMillis) * time.Millisecond,
			RetryMax:   time.Duration(cfg.Sync.RetryMaxMillis) * time.Millisecond,
			JitterFrac: 0.25,
			ThreadSync: cfg.Sync.ThreadSyncEnabled,
			UserLookup: cfg.Sync.UserLookupEnabled,
		},
	}
}

// PersistIdentity stores the authenticated identity in workspace_meta.
func PersistIdentity(db *store.DB, id slackapi.Identity) error {
	pairs := map[string]string{
		store.MetaSelfUserID: id.UserID,
		store.MetaSelfName:   id.UserName,
		store.MetaTeamName:   id.TeamName,
		store.MetaTeamURL:    id.TeamURL,
	}
	for k, v := range pairs {
		if err := db.SetMeta(k, v); err != nil {
			return fmt.Errorf("persist %s: %w", k, err)
		}
	}
	return nil
}

func registerLifecycle(lc fx.Lifecycle, client *slackapi.Client, scheduler *intsync.Scheduler, indexer *index.Indexer, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	var cancel context.CancelFunc
	stopped := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			id, err := client.Authenticate(startCtx)
			if err != nil {
				return fmt.Errorf("authenticate: %w", err)
			}
			if err := PersistIdentity(db, id); err != nil {
				return err
			}
			logger.Info("authenticated",
				zap.String("user", id.UserName),
				zap.String("team", id.TeamName))

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			indexer.Start(ctx)
			go func() {
				defer close(stopped)
				if err := scheduler.RunForever(ctx); err != nil && ctx.Err() == nil {
					logger.Error("scheduler stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
				select {
				case <-stopped:
				case <-ctx.Done():
				}
			}
			indexer.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
