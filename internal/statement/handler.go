package statement

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// SendNowEnqueuer schedules an on-demand statement.
type SendNowEnqueuer interface {
	EnqueueSendNow(ctx context.Context, clientID int64, period string) (string, error)
}

// Handler exposes statement history and on-demand sends.
type Handler struct {
	logger    *slog.Logger
	scheduler *Scheduler
	enqueuer  SendNowEnqueuer
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, scheduler *Scheduler, enqueuer SendNowEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, scheduler: scheduler, enqueuer: enqueuer}
}

// MountRoutes registers statement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/clients/{clientID}/statements", h.list)
	r.Post("/clients/{clientID}/statements/send", h.sendNow)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	clientID, err := ledger.ClientIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 || limit > shared.MaxPageLimit {
			h.fail(w, r, shared.Validationf("limit must be between 1 and %d", shared.MaxPageLimit))
			return
		}
	}
	items, err := h.scheduler.History(r.Context(), clientID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []Delivery{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"clientId": clientID, "items": items})
}

type sendNowRequest struct {
	Period string `json:"period"`
}

func (h *Handler) sendNow(w http.ResponseWriter, r *http.Request) {
	clientID, err := ledger.ClientIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req sendNowRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, &req, 4<<10); err != nil {
			h.fail(w, r, shared.Validationf("decode request: %v", err))
			return
		}
	}
	period := shared.Period{}
	if req.Period != "" {
		if period, err = shared.ParsePeriod(req.Period); err != nil {
			h.fail(w, r, err)
			return
		}
	} else {
		period = h.scheduler.PeriodFor(h.scheduler.opts.Clock())
	}
	if _, err := h.scheduler.repo.GetClient(r.Context(), clientID); err != nil {
		h.fail(w, r, err)
		return
	}
	taskID, err := h.enqueuer.EnqueueSendNow(r.Context(), clientID, period.String())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"clientId": clientID, "period": period.String(), "taskId": taskID})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !shared.IsUserVisible(err) {
		attrs := append(shared.ErrorAttrs(err), "path", r.URL.Path)
		h.logger.Error("statement request failed", attrs...)
	}
	httpx.RespondError(w, err)
}
