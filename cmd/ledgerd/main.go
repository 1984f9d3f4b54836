package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/cmd/ledgerd/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/statement"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
	"github.com/odyssey-erp/odyssey-ledger/migrations"
	"github.com/odyssey-erp/odyssey-ledger/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "migrate":
		err = migrate(cfg, logger, args)
	case "jobs":
		err = jobsCommand(ctx, cfg, args)
	case "check":
		code := check(ctx, cfg, logger, args)
		stop()
		os.Exit(code)
	default:
		err = fmt.Errorf("unknown command %q (serve, migrate, jobs, check)", cmd)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	svc, closeFn, err := app.BuildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	jobClient, err := jobs.NewClient(cfg.RedisOpts())
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	intake := ledger.NewIntake(jobClient, svc.Idempotency, logger.With(slog.String("component", "ledger.intake")))
	subscriber := ledger.NewSubscriber(svc.Redis, intake, cfg.LedgerChangeChannel, logger.With(slog.String("component", "ledger.subscriber")))
	if err := subscriber.Listen(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.LedgerChangeChannel, err)
	}

	inspector := asynq.NewInspector(cfg.RedisOpts())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		LedgerHandler:    ledger.NewHandler(logger, svc.Ledger, intake, app.ExportLimiter(cfg.ExportRateLimit)),
		StatementHandler: statement.NewHandler(logger, svc.Scheduler, jobClient),
		ReportHandler:    report.NewHandler(svc.Report, logger),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          svc.Metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func migrate(cfg *app.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "migrations to roll back with down")
	if err := fs.Parse(args); err != nil {
		return err
	}
	action := "up"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}
	m, err := db.NewMigrator(migrations.FS, cfg.PGDSN, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("migrator close", slog.Any("error", err))
		}
	}()
	switch action {
	case "up":
		return m.Up()
	case "down":
		return m.Down(*steps)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("migrate: unknown action %q (up, down, version)", action)
	}
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("jobs: expected trigger, stats or scheduled")
	}
	action, args := args[0], args[1:]
	fs := flag.NewFlagSet("jobs "+action, flag.ContinueOnError)
	clientID := fs.Int64("client", 0, "client id")
	period := fs.String("period", "", "statement period YYYY-MM")
	repair := fs.Bool("repair", false, "repair drift found by the integrity job")
	queue := fs.String("queue", jobs.QueueDefault, "queue to inspect")
	limit := fs.Int("limit", 10, "scheduled tasks to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	switch action {
	case "trigger":
		if fs.NArg() == 0 {
			return errors.New("jobs trigger: task name required")
		}
		info, err := jobsCLI.Trigger(ctx, cli.TriggerRequest{Name: fs.Arg(0), ClientID: *clientID, Period: *period, Repair: *repair})
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx, *queue)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return nil
	case "scheduled":
		infos, err := jobsCLI.ListScheduled(ctx, *queue, *limit)
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Printf("%s id=%s next=%s\n", info.Type, info.ID, info.NextProcessAt.Format(time.RFC3339))
		}
		return nil
	default:
		return fmt.Errorf("jobs: unknown action %q", action)
	}
}

func check(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	clientID := fs.Int64("client", 0, "client id, 0 for all clients")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	svc, closeFn, err := app.BuildServices(ctx, cfg, logger)
	if err != nil {
		logger.Error("check", slog.Any("error", err))
		return 1
	}
	defer closeFn()
	integrity, err := cli.NewIntegrityCLI(svc.Coordinator, svc.LedgerRepo)
	if err != nil {
		logger.Error("check", slog.Any("error", err))
		return 1
	}
	return integrity.CheckCommand(ctx, cli.IntegrityOptions{ClientID: *clientID, JSONOutput: *jsonOut})
}
