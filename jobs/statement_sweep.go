package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/statement"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StatementScheduler is the part of *statement.Scheduler the statement jobs drive.
type StatementScheduler interface {
	Sweep(ctx context.Context, now time.Time) (statement.SweepReport, error)
	SendNow(ctx context.Context, clientID int64, period shared.Period) (statement.Outcome, error)
}

// StatementJob handles TaskStatementSweep and TaskStatementSendNow.
type StatementJob struct {
	Scheduler StatementScheduler
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewStatementJob constructs the job handlers.
func NewStatementJob(scheduler StatementScheduler, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatementJob {
	return &StatementJob{
		Scheduler: scheduler,
		Logger:    logger,
		Metrics:   metrics,
		clock:     time.Now,
	}
}

// HandleSweep runs the monthly sweep. The sweep is idempotent per period, so a retry
// only revisits clients still PENDING.
func (j *StatementJob) HandleSweep(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Scheduler == nil {
		return errors.New("statement sweep: dependencies not configured")
	}
	var payload SweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("statement sweep payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	at := payload.At
	if at.IsZero() {
		at = j.now()
	}

	tracker := j.metrics().Track("statement_sweep")
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	report, err := j.Scheduler.Sweep(ctx, at)
	if err != nil {
		j.log().Error("statement sweep incomplete",
			slog.String("period", report.Period),
			slog.Int("failed", len(report.Errors)),
			slog.Bool("cancelled", report.Cancelled),
			slog.Any("error", err))
		return err
	}
	counts := report.Counts()
	j.log().Info("statement sweep done",
		slog.String("period", report.Period),
		slog.Int("sent", counts[statement.StatusSent]),
		slog.Int("skipped", counts[statement.StatusSkipped]))
	return nil
}

// HandleSendNow delivers one statement on demand. Failures are reported, not retried;
// the caller asks again.
func (j *StatementJob) HandleSendNow(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Scheduler == nil {
		return errors.New("statement send now: dependencies not configured")
	}
	var payload SendNowPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("send now payload: %v: %w", err, asynq.SkipRetry)
	}
	period, err := shared.ParsePeriod(payload.Period)
	if err != nil || payload.ClientID <= 0 {
		return fmt.Errorf("send now payload: invalid client or period: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track("statement_send_now")
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	outcome, err := j.Scheduler.SendNow(ctx, payload.ClientID, period)
	if err != nil {
		j.log().Warn("statement send now failed",
			slog.Int64("client_id", payload.ClientID),
			slog.String("period", payload.Period),
			slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	j.log().Info("statement send now",
		slog.Int64("client_id", payload.ClientID),
		slog.String("period", outcome.Period),
		slog.String("status", string(outcome.Status)),
		slog.String("reason", string(outcome.Reason)))
	return nil
}

func (j *StatementJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StatementJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default().With(slog.String("job", "statement"))
}

func (j *StatementJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}
