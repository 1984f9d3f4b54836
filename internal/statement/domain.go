package statement

import (
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of one client statement period.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusSkipped Status = "SKIPPED"
)

// SkipReason explains a terminal SKIPPED state.
type SkipReason string

const (
	ReasonDeliveryDisabled  SkipReason = "delivery-disabled"
	ReasonChannelUnverified SkipReason = "channel-unverified"
	ReasonContactRejected   SkipReason = "contact-rejected"
	ReasonDispatchFailed    SkipReason = "dispatch-failed"
)

// Delivery tracks one (client, period) statement. SENT and SKIPPED are terminal.
type Delivery struct {
	ID        uuid.UUID  `json:"id"`
	ClientID  int64      `json:"clientId"`
	Period    string     `json:"period"`
	Status    Status     `json:"status"`
	Reason    SkipReason `json:"reason,omitempty"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"lastError,omitempty"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Terminal reports whether the period needs no further work.
func (d Delivery) Terminal() bool {
	return d.Status == StatusSent || d.Status == StatusSkipped
}

func newDelivery(clientID int64, period string, now time.Time) Delivery {
	return Delivery{ID: uuid.New(), ClientID: clientID, Period: period, Status: StatusPending, UpdatedAt: now}
}

func (d *Delivery) skip(reason SkipReason, now time.Time) {
	d.Status = StatusSkipped
	d.Reason = reason
	d.UpdatedAt = now
}

func (d *Delivery) markSent(at time.Time) {
	d.Status = StatusSent
	d.Reason = ""
	d.LastError = ""
	d.SentAt = &at
	d.UpdatedAt = at
}

// idempotencyKey stays the same across every attempt for the period.
func (d Delivery) idempotencyKey() string {
	return d.ID.String()
}

// Outcome reports what one SendScheduled or SendNow call did.
type Outcome struct {
	ClientID int64      `json:"clientId"`
	Period   string     `json:"period"`
	Status   Status     `json:"status"`
	Reason   SkipReason `json:"reason,omitempty"`
	Attempts int        `json:"attempts"`
	// Noop is set when the period was already terminal and nothing was done.
	Noop bool `json:"noop,omitempty"`
}

func outcomeOf(d Delivery, noop bool) Outcome {
	return Outcome{ClientID: d.ClientID, Period: d.Period, Status: d.Status, Reason: d.Reason, Attempts: d.Attempts, Noop: noop}
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Period    string    `json:"period"`
	Outcomes  []Outcome `json:"outcomes"`
	Errors    []error   `json:"-"`
	Cancelled bool      `json:"cancelled"`
}

// Counts tallies outcomes by status.
func (r SweepReport) Counts() map[Status]int {
	out := make(map[Status]int, 3)
	for _, o := range r.Outcomes {
		out[o.Status]++
	}
	return out
}
