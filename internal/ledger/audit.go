package ledger

import (
	"context"
	"strconv"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type auditRecorder struct {
	logger *shared.AuditLogger
}

// NewAuditRecorder adapts the shared audit log to ledger mutations.
func NewAuditRecorder(logger *shared.AuditLogger) AuditPort {
	return auditRecorder{logger: logger}
}

func (a auditRecorder) Record(ctx context.Context, entry AuditEntry) error {
	return a.logger.Record(ctx, shared.AuditLog{
		Action:   "ledger." + string(entry.Source.Kind) + "." + entry.Action,
		Entity:   string(entry.Source.Kind) + "_record",
		EntityID: strconv.FormatInt(entry.Source.ID, 10),
		Meta: map[string]any{
			"client_id":      entry.ClientID,
			"balance":        entry.Balance.StringFixed(2),
			"ledger_version": entry.Version,
		},
	})
}
