package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Recomputer rebuilds client snapshots. Implemented by *ledger.Coordinator.
type Recomputer interface {
	Notify(evt ledger.ChangeEvent)
	Recompute(ctx context.Context, clientID int64) (*ledger.Snapshot, error)
}

// LedgerRecomputeJob handles TaskLedgerRecompute.
type LedgerRecomputeJob struct {
	Coordinator Recomputer
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewLedgerRecomputeJob constructs the job handler.
func NewLedgerRecomputeJob(coordinator Recomputer, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerRecomputeJob {
	return &LedgerRecomputeJob{Coordinator: coordinator, Logger: logger, Metrics: metrics}
}

// Handle marks the client's in-flight work as superseded and recomputes it. Missing
// clients and malformed payloads are not retried.
func (j *LedgerRecomputeJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Coordinator == nil {
		return errors.New("ledger recompute: dependencies not configured")
	}
	var payload RecomputePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("ledger recompute payload: %v: %w", err, asynq.SkipRetry)
	}
	evt := payload.Event
	if evt.ClientID <= 0 {
		return fmt.Errorf("ledger recompute: client id required: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track("ledger_recompute")
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	j.Coordinator.Notify(evt)
	snap, err := j.Coordinator.Recompute(ctx, evt.ClientID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrValidation) {
			j.log().Warn("recompute dropped", slog.Int64("client_id", evt.ClientID), slog.String("event_id", evt.EventID), slog.Any("error", err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	j.log().Debug("recompute committed",
		slog.Int64("client_id", evt.ClientID),
		slog.String("event_id", evt.EventID),
		slog.Int64("version", snap.Version),
		slog.String("balance", snap.Balance.StringFixed(2)),
	)
	return nil
}

func (j *LedgerRecomputeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerRecomputeJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default().With(slog.String("job", "ledger_recompute"))
}
