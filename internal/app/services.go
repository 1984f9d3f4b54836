package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/text/language"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/export"
	"github.com/odyssey-erp/odyssey-ledger/internal/notify"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/statement"
	"github.com/odyssey-erp/odyssey-ledger/migrations"
	"github.com/odyssey-erp/odyssey-ledger/report"
)

// Services holds the components shared by the API server and the worker.
type Services struct {
	Config  *Config
	Logger  *slog.Logger
	Metrics *observability.Metrics

	Pool  *pgxpool.Pool
	Redis *redis.Client

	LedgerRepo  *ledger.Repository
	Snapshots   ledger.SnapshotStore
	Locker      shared.Locker
	Coordinator *ledger.Coordinator
	Ledger      *ledger.Service
	Idempotency *shared.IdempotencyStore

	Report    *report.Client
	Notify    *notify.Client
	Scheduler *statement.Scheduler

	JobMetrics *jobmetrics.Metrics
}

// RedisOpts returns the asynq connection options for the configured Redis.
func (c *Config) RedisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr}
}

// BuildServices connects to Postgres and Redis and wires the ledger components. The
// returned close func releases the connections.
func BuildServices(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, func(), error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, nil, err
	}
	if cfg.MigrateOnStart {
		if err := Migrate(cfg, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	rdb, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
		pool.Close()
	}

	metrics := observability.NewMetrics()
	loc := cfg.Location()
	ledgerMetrics := ledger.NewMetrics(metrics.Registerer())

	var locker shared.Locker = shared.NewKeyedMutex()
	if cfg.LedgerDistributedLock {
		locker = cache.NewRedisLocker(rdb, logger)
	}

	repo := ledger.NewRepository(pool)
	store := ledger.NewRedisStore(rdb, cfg.LedgerCacheTTL)
	coordinator := ledger.NewCoordinator(repo, store, locker, ledger.CoordinatorOptions{
		LockTTL:     cfg.LedgerLockTTL,
		MaxAttempts: cfg.LedgerRecomputeAttempts,
		Metrics:     ledgerMetrics,
		Audit:       ledger.NewAuditRecorder(shared.NewAuditLogger(pool)),
		Logger:      logger.With(slog.String("component", "ledger.coordinator")),
	})

	reportClient := report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
	tag, err := language.Parse(cfg.AppLanguage)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("APP_LANGUAGE: %w", err)
	}
	renderer := export.NewRenderer(reportClient, tag, logger.With(slog.String("component", "ledger.export")))
	service := ledger.NewService(repo, store, coordinator, renderer, ledger.ServiceOptions{
		Metrics:  ledgerMetrics,
		Logger:   logger.With(slog.String("component", "ledger.service")),
		Location: loc,
	})

	format, err := ledger.ParseFormat(cfg.StatementFormat)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("STATEMENT_FORMAT: %w", err)
	}
	notifier := notify.NewClient(notify.Config{BaseURL: cfg.NotifyURL, Token: cfg.NotifyToken, Timeout: cfg.NotifyTimeout}, logger)
	scheduler := statement.NewScheduler(statement.NewRepository(pool), service, notifier, locker, statement.Options{
		MaxAttempts: cfg.StatementMaxAttempts,
		Backoff:     cfg.StatementBackoff,
		Concurrency: cfg.StatementSweepConcurrency,
		Location:    loc,
		Format:      format,
		Logger:      logger.With(slog.String("component", "statement")),
		Metrics:     statement.NewMetrics(metrics.Registerer()),
	})

	return &Services{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		Pool:        pool,
		Redis:       rdb,
		LedgerRepo:  repo,
		Snapshots:   store,
		Locker:      locker,
		Coordinator: coordinator,
		Ledger:      service,
		Idempotency: shared.NewIdempotencyStore(pool),
		Report:      reportClient,
		Notify:      notifier,
		Scheduler:   scheduler,
		JobMetrics:  jobmetrics.NewMetrics(metrics.Registerer()),
	}, closeFn, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(cfg *Config, logger *slog.Logger) error {
	m, err := db.NewMigrator(migrations.FS, cfg.PGDSN, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("migrator close", slog.Any("error", err))
		}
	}()
	return m.Up()
}
