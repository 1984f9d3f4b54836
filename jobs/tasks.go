package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueLedger carries recompute tasks so they are not starved by sweeps.
	QueueLedger = "ledger"

	// TaskLedgerRecompute rebuilds one client's snapshot after a record change.
	TaskLedgerRecompute = "ledger:recompute"
	// TaskLedgerIntegrity compares stored balances with a fresh fold for every client.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskStatementSweep sends the previous month's statements.
	TaskStatementSweep = "statement:sweep"
	// TaskStatementSendNow sends one statement on demand.
	TaskStatementSendNow = "statement:send_now"
)

// RecomputePayload is the task body of TaskLedgerRecompute.
type RecomputePayload struct {
	Event ledger.ChangeEvent `json:"event"`
}

// NewRecomputeTask creates a recompute task for the change event.
func NewRecomputeTask(evt ledger.ChangeEvent) (*asynq.Task, error) {
	if evt.ClientID <= 0 {
		return nil, fmt.Errorf("recompute task: client id required")
	}
	body, err := json.Marshal(RecomputePayload{Event: evt})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerRecompute, body, asynq.Queue(QueueLedger), asynq.MaxRetry(10), asynq.Timeout(2*time.Minute)), nil
}

// SweepPayload is the task body of TaskStatementSweep. A zero At means the time the
// task runs.
type SweepPayload struct {
	At time.Time `json:"at,omitempty"`
}

// NewStatementSweepTask creates a sweep task.
func NewStatementSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{At: at})
	if err != nil {
		return nil, err
	}
	// A sweep is idempotent per period, so a dropped duplicate loses nothing.
	return asynq.NewTask(TaskStatementSweep, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(time.Hour), asynq.Unique(30*time.Minute)), nil
}

// SendNowPayload is the task body of TaskStatementSendNow.
type SendNowPayload struct {
	ClientID int64  `json:"client_id"`
	Period   string `json:"period"`
}

// NewSendNowTask creates an on-demand statement task.
func NewSendNowTask(clientID int64, period string) (*asynq.Task, error) {
	if clientID <= 0 {
		return nil, fmt.Errorf("send now task: client id required")
	}
	if _, err := shared.ParsePeriod(period); err != nil {
		return nil, err
	}
	body, err := json.Marshal(SendNowPayload{ClientID: clientID, Period: period})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatementSendNow, body, asynq.Queue(QueueDefault), asynq.MaxRetry(0), asynq.Timeout(10*time.Minute)), nil
}

// IntegrityPayload is the task body of TaskLedgerIntegrity. ClientID zero checks all clients.
type IntegrityPayload struct {
	ClientID int64 `json:"client_id,omitempty"`
	Repair   bool  `json:"repair"`
}

// NewIntegrityTask creates an integrity check task.
func NewIntegrityTask(clientID int64, repair bool) (*asynq.Task, error) {
	body, err := json.Marshal(IntegrityPayload{ClientID: clientID, Repair: repair})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1), asynq.Timeout(time.Hour)), nil
}
