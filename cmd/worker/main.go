package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	svc, closeFn, err := app.BuildServices(ctx, cfg, logger)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeFn()

	recomputeJob := jobs.NewLedgerRecomputeJob(svc.Coordinator, logger.With(slog.String("job", "ledger_recompute")), svc.JobMetrics)
	statementJob := jobs.NewStatementJob(svc.Scheduler, logger.With(slog.String("job", "statement")), svc.JobMetrics)
	integrityJob := jobs.NewLedgerIntegrityJob(svc.Coordinator, svc.LedgerRepo, svc.Idempotency, logger.With(slog.String("job", "ledger_integrity")), svc.JobMetrics)

	sweepTask, err := jobs.NewStatementSweepTask(time.Time{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewIntegrityTask(0, cfg.IntegrityRepair)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.RedisOpts(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerRecompute, Handler: recomputeJob.Handle},
			{Type: jobs.TaskStatementSweep, Handler: statementJob.HandleSweep},
			{Type: jobs.TaskStatementSendNow, Handler: statementJob.HandleSendNow},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.StatementSweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started",
		slog.String("sweep_cron", cfg.StatementSweepCron),
		slog.String("integrity_cron", cfg.IntegrityCron))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
