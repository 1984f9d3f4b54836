package statement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/notify"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second
	maxBackoff         = time.Minute
	defaultConcurrency = 4
	defaultLockTTL     = 5 * time.Minute
	manualLockScope    = "manual"
)

// Exporter renders a client's statement. Implemented by ledger.Service.
type Exporter interface {
	Export(ctx context.Context, q ledger.ExportQuery) (ledger.ExportResult, error)
}

// Notifier is the delivery service contract.
type Notifier interface {
	Verify(ctx context.Context, contact string) (bool, error)
	Send(ctx context.Context, msg notify.Message) error
}

// Options tunes the scheduler.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	Concurrency int
	LockTTL     time.Duration
	Location    *time.Location
	Format      ledger.Format
	Logger      *slog.Logger
	Metrics     *Metrics
	Clock       func() time.Time
	// Sleep waits between dispatch attempts. Tests replace it.
	Sleep func(time.Duration)
}

// Scheduler sends one statement per client per calendar month.
type Scheduler struct {
	repo     RepositoryPort
	exporter Exporter
	notifier Notifier
	locker   shared.Locker
	opts     Options
}

// NewScheduler wires the scheduler.
func NewScheduler(repo RepositoryPort, exporter Exporter, notifier Notifier, locker shared.Locker, opts Options) *Scheduler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Format == "" {
		opts.Format = ledger.FormatPDF
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if locker == nil {
		locker = shared.NewKeyedMutex()
	}
	return &Scheduler{repo: repo, exporter: exporter, notifier: notifier, locker: locker, opts: opts}
}

func (s *Scheduler) logger() *slog.Logger {
	if s.opts.Logger != nil {
		return s.opts.Logger
	}
	return slog.Default().With("component", "statement.scheduler")
}

// PeriodFor returns the statement period a sweep at now covers: the previous month.
func (s *Scheduler) PeriodFor(now time.Time) shared.Period {
	return shared.PeriodOf(now.In(s.opts.Location)).Prev()
}

// Sweep processes every delivery-enabled client for the month before now. One client's
// failure never stops the others. Cancellation is honoured only between clients; a
// dispatch already in progress runs to completion.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	period := s.PeriodFor(now)
	report := SweepReport{Period: period.String()}
	clients, err := s.repo.ListDeliveryClients(ctx)
	if err != nil {
		return report, err
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Concurrency)
	detached := context.WithoutCancel(ctx)
	for _, client := range clients {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		clientID := client.ID
		g.Go(func() error {
			outcome, err := s.SendScheduled(detached, clientID, period)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, fmt.Errorf("client %d: %w", clientID, err))
			}
			if outcome.ClientID != 0 {
				report.Outcomes = append(report.Outcomes, outcome)
			}
			return nil
		})
	}
	_ = g.Wait()

	counts := report.Counts()
	s.logger().Info("statement sweep finished",
		"period", report.Period,
		"clients", len(clients),
		"sent", counts[StatusSent],
		"skipped", counts[StatusSkipped],
		"pending", counts[StatusPending],
		"errors", len(report.Errors),
		"cancelled", report.Cancelled,
	)
	return report, errors.Join(report.Errors...)
}

// SendScheduled sends the period statement unless the period is already SENT or SKIPPED.
func (s *Scheduler) SendScheduled(ctx context.Context, clientID int64, period shared.Period) (Outcome, error) {
	if period.IsZero() {
		return Outcome{}, shared.Validationf("statement period required")
	}
	release, err := s.locker.Lock(ctx, shared.StatementLockKey(clientID, period.String()), s.opts.LockTTL)
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	client, err := s.repo.GetClient(ctx, clientID)
	if err != nil {
		return Outcome{}, err
	}
	d, found, err := s.repo.GetDelivery(ctx, clientID, period.String())
	if err != nil {
		return Outcome{}, err
	}
	if found && d.Terminal() {
		return outcomeOf(d, true), nil
	}
	now := s.opts.Clock()
	if !found {
		d = newDelivery(clientID, period.String(), now)
	}

	switch {
	case !client.DeliveryEnabled:
		return s.finishSkipped(ctx, d, ReasonDeliveryDisabled)
	case !client.ChannelVerified:
		return s.finishSkipped(ctx, d, ReasonChannelUnverified)
	case d.Attempts >= s.opts.MaxAttempts:
		return s.finishSkipped(ctx, d, ReasonDispatchFailed)
	}

	verified, err := s.notifier.Verify(ctx, client.Contact)
	if err != nil {
		// A failed verification call uses up an attempt like a failed send.
		d.Attempts++
		d.LastError = err.Error()
		d.UpdatedAt = s.opts.Clock()
		if d.Attempts >= s.opts.MaxAttempts {
			out, skipErr := s.finishSkipped(ctx, d, ReasonDispatchFailed)
			return out, errors.Join(err, skipErr)
		}
		if saveErr := s.repo.SaveDelivery(ctx, d); saveErr != nil {
			return outcomeOf(d, false), errors.Join(err, saveErr)
		}
		s.opts.Metrics.observe(StatusPending, "")
		return outcomeOf(d, false), err
	}
	if !verified {
		return s.finishSkipped(ctx, d, ReasonContactRejected)
	}

	msg, err := s.buildMessage(ctx, client, period, d)
	if err != nil {
		return outcomeOf(d, false), err
	}

	if !found {
		// The row carries the idempotency key; it must exist before the first send so a
		// retry after a lost MarkSent reuses it.
		if err := s.repo.SaveDelivery(ctx, d); err != nil {
			return outcomeOf(d, false), err
		}
	}
	sendErr := s.dispatch(ctx, &d, msg, true)
	if sendErr != nil {
		if d.Attempts >= s.opts.MaxAttempts {
			s.logger().Error("statement dispatch exhausted",
				append(shared.ErrorAttrs(sendErr), "client_id", clientID, "period", d.Period, "attempts", d.Attempts)...)
			out, err := s.finishSkipped(ctx, d, ReasonDispatchFailed)
			if err != nil {
				return out, err
			}
			return out, sendErr
		}
		s.opts.Metrics.observe(StatusPending, "")
		return outcomeOf(d, false), sendErr
	}

	d.markSent(s.opts.Clock())
	if err := s.repo.MarkSent(ctx, d); err != nil {
		s.logger().Error("statement sent but state not recorded", "client_id", clientID, "period", d.Period, "error", err)
		return outcomeOf(d, false), err
	}
	s.opts.Metrics.observe(StatusSent, "")
	return outcomeOf(d, false), nil
}

// SendNow delivers a statement on demand. It ignores and never changes the scheduled
// period state; only lastStatementSentAt moves.
func (s *Scheduler) SendNow(ctx context.Context, clientID int64, period shared.Period) (Outcome, error) {
	if period.IsZero() {
		period = s.PeriodFor(s.opts.Clock())
	}
	release, err := s.locker.Lock(ctx, shared.StatementLockKey(clientID, manualLockScope), s.opts.LockTTL)
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	client, err := s.repo.GetClient(ctx, clientID)
	if err != nil {
		return Outcome{}, err
	}
	verified, err := s.notifier.Verify(ctx, client.Contact)
	if err != nil {
		return Outcome{}, err
	}
	if !verified {
		return Outcome{ClientID: clientID, Period: period.String(), Status: StatusSkipped, Reason: ReasonContactRejected}, nil
	}

	d := newDelivery(clientID, period.String(), s.opts.Clock())
	msg, err := s.buildMessage(ctx, client, period, d)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.dispatch(ctx, &d, msg, false); err != nil {
		return outcomeOf(d, false), err
	}
	sentAt := s.opts.Clock()
	if err := s.repo.TouchLastSent(ctx, clientID, sentAt); err != nil {
		return outcomeOf(d, false), err
	}
	d.markSent(sentAt)
	s.opts.Metrics.observe(StatusSent, "")
	return outcomeOf(d, false), nil
}

// History lists a client's statement periods, newest first.
func (s *Scheduler) History(ctx context.Context, clientID int64, limit int) ([]Delivery, error) {
	if _, err := s.repo.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return s.repo.ListDeliveries(ctx, clientID, limit)
}

func (s *Scheduler) buildMessage(ctx context.Context, client ledger.Client, period shared.Period, d Delivery) (notify.Message, error) {
	result, err := s.exporter.Export(ctx, ledger.ExportQuery{
		Query:  ledger.Query{ClientID: client.ID, Filter: ledger.PeriodFilter(period)},
		Format: s.opts.Format,
		Title:  "Statement " + period.String(),
	})
	if err != nil {
		return notify.Message{}, err
	}
	body := fmt.Sprintf("Dear %s,\n\nPlease find your statement for %s attached. Closing balance: %s.\n",
		client.Name, period.Start(s.opts.Location).Format("January 2006"), result.Summary.ClosingBalance.StringFixed(2))
	return notify.Message{
		IdempotencyKey: d.idempotencyKey(),
		Contact:        client.Contact,
		Subject:        "Statement of account " + period.String(),
		Body:           body,
		Attachments: []notify.Attachment{{
			Filename:    result.Filename,
			ContentType: result.ContentType,
			Content:     result.Body,
		}},
	}, nil
}

// dispatch sends msg with exponential backoff until it succeeds or the period runs out
// of attempts. When persist is set every attempt is recorded so the count survives
// across sweeps.
func (s *Scheduler) dispatch(ctx context.Context, d *Delivery, msg notify.Message, persist bool) error {
	var lastErr error
	wait := s.opts.Backoff
	for d.Attempts < s.opts.MaxAttempts {
		d.Attempts++
		err := s.notifier.Send(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		d.LastError = err.Error()
		d.UpdatedAt = s.opts.Clock()
		s.logger().Warn("statement dispatch attempt failed",
			"client_id", d.ClientID, "period", d.Period, "attempt", d.Attempts, "error", err)
		if persist {
			if saveErr := s.repo.SaveDelivery(ctx, *d); saveErr != nil {
				return errors.Join(err, saveErr)
			}
		}
		if d.Attempts < s.opts.MaxAttempts {
			s.opts.Sleep(wait)
			wait = min(wait*2, maxBackoff)
		}
	}
	if lastErr == nil {
		lastErr = shared.ExternalService("dispatch", errors.New("no attempts left"))
	}
	return lastErr
}

func (s *Scheduler) finishSkipped(ctx context.Context, d Delivery, reason SkipReason) (Outcome, error) {
	d.skip(reason, s.opts.Clock())
	if err := s.repo.SaveDelivery(ctx, d); err != nil {
		return outcomeOf(d, false), err
	}
	s.opts.Metrics.observe(StatusSkipped, reason)
	s.logger().Info("statement skipped", "client_id", d.ClientID, "period", d.Period, "reason", string(reason))
	return outcomeOf(d, false), nil
}
