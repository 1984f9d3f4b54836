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
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

const (
	integrityKindBalance  = "balance_drift"
	integrityKindSnapshot = "snapshot_invalid"
	integrityKindError    = "check_failed"

	defaultKeyRetention = 7 * 24 * time.Hour
)

// IntegrityChecker compares stored and cached state with a fresh fold. Implemented by
// *ledger.Coordinator.
type IntegrityChecker interface {
	Check(ctx context.Context, clientID int64) (ledger.IntegrityReport, error)
	Recompute(ctx context.Context, clientID int64) (*ledger.Snapshot, error)
}

// ClientLister enumerates clients.
type ClientLister interface {
	ListClientIDs(ctx context.Context) ([]int64, error)
}

// KeyJanitor expires processed change event ids.
type KeyJanitor interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// LedgerIntegrityJob handles TaskLedgerIntegrity.
type LedgerIntegrityJob struct {
	Checker   IntegrityChecker
	Clients   ClientLister
	Janitor   KeyJanitor
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewLedgerIntegrityJob constructs the job handler. janitor may be nil.
func NewLedgerIntegrityJob(checker IntegrityChecker, clients ClientLister, janitor KeyJanitor, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Checker:   checker,
		Clients:   clients,
		Janitor:   janitor,
		Retention: defaultKeyRetention,
		Logger:    logger,
		Metrics:   metrics,
	}
}

// IntegritySummary aggregates one run.
type IntegritySummary struct {
	Checked  int
	Drifted  int
	Invalid  int
	Repaired int
	Failed   int
}

// Handle checks the requested clients. With Repair set, an unhealthy client is
// recomputed, which rewrites both the stored balance and the snapshot.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Checker == nil || j.Clients == nil {
		return errors.New("ledger integrity: dependencies not configured")
	}
	var payload IntegrityPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("ledger integrity payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.metrics().Track("ledger_integrity")
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	summary, err := j.Run(ctx, payload.ClientID, payload.Repair)
	if err != nil {
		return err
	}
	j.log().Info("ledger integrity check done",
		slog.Int("checked", summary.Checked),
		slog.Int("drifted", summary.Drifted),
		slog.Int("invalid", summary.Invalid),
		slog.Int("repaired", summary.Repaired),
		slog.Int("failed", summary.Failed))
	return nil
}

// Run performs the check outside of asynq. A failing client is counted and logged; the
// rest are still checked.
func (j *LedgerIntegrityJob) Run(ctx context.Context, clientID int64, repair bool) (IntegritySummary, error) {
	var summary IntegritySummary
	ids := []int64{clientID}
	if clientID == 0 {
		var err error
		if ids, err = j.Clients.ListClientIDs(ctx); err != nil {
			return summary, err
		}
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		report, err := j.Checker.Check(ctx, id)
		if err != nil {
			summary.Failed++
			j.metrics().AddIntegrityIssues(integrityKindError, id, 1)
			j.log().Error("integrity check failed", slog.Int64("client_id", id), slog.Any("error", err))
			continue
		}
		if report.Healthy() {
			continue
		}
		if report.BalanceDrift {
			summary.Drifted++
			j.metrics().AddIntegrityIssues(integrityKindBalance, id, 1)
		}
		if report.SnapshotInvalid {
			summary.Invalid++
			j.metrics().AddIntegrityIssues(integrityKindSnapshot, id, 1)
		}
		j.log().Warn("ledger integrity issue",
			slog.Int64("client_id", id),
			slog.String("stored_balance", report.StoredBalance.StringFixed(2)),
			slog.String("computed_balance", report.ComputedBalance.StringFixed(2)),
			slog.Int64("stored_version", report.StoredVersion),
			slog.Int64("cached_version", report.CachedVersion),
			slog.Bool("balance_drift", report.BalanceDrift),
			slog.Bool("snapshot_invalid", report.SnapshotInvalid))
		if !repair {
			continue
		}
		if _, err := j.Checker.Recompute(ctx, id); err != nil {
			summary.Failed++
			j.log().Error("integrity repair failed", slog.Int64("client_id", id), slog.Any("error", err))
			continue
		}
		summary.Repaired++
	}
	if j.Janitor != nil {
		retention := j.Retention
		if retention <= 0 {
			retention = defaultKeyRetention
		}
		if err := j.Janitor.Cleanup(ctx, retention); err != nil {
			j.log().Warn("idempotency cleanup", slog.Any("error", err))
		}
	}
	return summary, nil
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerIntegrityJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default().With(slog.String("job", "ledger_integrity"))
}
