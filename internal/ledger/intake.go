package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Enqueuer schedules a recompute for a change event.
type Enqueuer interface {
	EnqueueRecompute(ctx context.Context, evt ChangeEvent) error
}

// Deduper remembers processed event ids.
type Deduper interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Release(ctx context.Context, key, module string) error
}

// Intake accepts change notifications from the record stores and turns each accepted
// event into exactly one recompute task.
type Intake struct {
	enqueuer Enqueuer
	dedupe   Deduper
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewIntake wires the intake. dedupe may be nil, in which case duplicates are not dropped.
func NewIntake(enqueuer Enqueuer, dedupe Deduper, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default().With("component", "ledger.intake")
	}
	return &Intake{enqueuer: enqueuer, dedupe: dedupe, validate: validator.New(), logger: logger, now: time.Now}
}

// Accept validates evt and enqueues a recompute. It reports false for a duplicate event.
func (i *Intake) Accept(ctx context.Context, evt ChangeEvent) (bool, error) {
	if err := i.validate.Struct(evt); err != nil {
		return false, shared.Validationf("change event: %v", err)
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = i.now().UTC()
	}
	deduped := false
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	} else if i.dedupe != nil {
		err := i.dedupe.CheckAndInsert(ctx, evt.EventID, shared.IdempotencyModuleChanges)
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			i.logger.Debug("duplicate change event dropped", "event_id", evt.EventID, "client_id", evt.ClientID)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		deduped = true
	}
	if err := i.enqueuer.EnqueueRecompute(ctx, evt); err != nil {
		if deduped {
			if relErr := i.dedupe.Release(context.WithoutCancel(ctx), evt.EventID, shared.IdempotencyModuleChanges); relErr != nil {
				i.logger.Warn("release change event key", "event_id", evt.EventID, "error", relErr)
			}
		}
		return false, err
	}
	return true, nil
}
