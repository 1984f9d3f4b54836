package ledger

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler exposes the statement query, export and change intake endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	intake   *Intake
	validate *validator.Validate
	exportMW func(http.Handler) http.Handler
}

// NewHandler builds a Handler. exportLimiter, when set, wraps only the export route.
func NewHandler(logger *slog.Logger, service *Service, intake *Intake, exportLimiter func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, intake: intake, validate: validator.New(), exportMW: exportLimiter}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/clients/{clientID}/ledger", h.getLedger)
	r.Group(func(r chi.Router) {
		if h.exportMW != nil {
			r.Use(h.exportMW)
		}
		r.Get("/clients/{clientID}/ledger/export", h.exportLedger)
	})
	if h.intake != nil {
		r.Post("/ledger/changes", h.postChange)
	}
}

type ledgerRequest struct {
	From      string `validate:"omitempty,datetime=2006-01-02"`
	To        string `validate:"omitempty,datetime=2006-01-02"`
	Month     int    `validate:"omitempty,min=1,max=12"`
	Year      int    `validate:"omitempty,min=1,max=9999"`
	Direction string `validate:"omitempty,oneof=all stock cash IN OUT"`
	Min       string `validate:"omitempty,numeric"`
	Max       string `validate:"omitempty,numeric"`
	Page      int    `validate:"omitempty,min=1"`
	Limit     int    `validate:"omitempty,min=1,max=500"`
	Format    string `validate:"omitempty,oneof=pdf xlsx csv"`
}

func (h *Handler) getLedger(w http.ResponseWriter, r *http.Request) {
	q, _, err := h.parseQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.service.Statement(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) exportLedger(w http.ResponseWriter, r *http.Request) {
	q, req, err := h.parseQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	format, err := ParseFormat(req.Format)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// Without page/limit the export covers the full filtered view.
	if req.Page == 0 && req.Limit == 0 {
		q.Limit = 0
	}
	result, err := h.service.Export(r.Context(), ExportQuery{Query: q, Format: format})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	header := w.Header()
	header.Set("Content-Type", result.ContentType)
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	header.Set("X-Ledger-Version", strconv.FormatInt(result.Version, 10))
	header.Set("X-Ledger-Total-Debit", result.Summary.TotalDebit.StringFixed(2))
	header.Set("X-Ledger-Total-Credit", result.Summary.TotalCredit.StringFixed(2))
	header.Set("X-Ledger-Transaction-Count", strconv.Itoa(result.Summary.TransactionCount))
	header.Set("X-Ledger-Closing-Balance", result.Summary.ClosingBalance.StringFixed(2))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Body)
}

func (h *Handler) postChange(w http.ResponseWriter, r *http.Request) {
	var evt ChangeEvent
	if err := httpx.DecodeJSON(w, r, &evt, 64<<10); err != nil {
		h.fail(w, r, shared.Validationf("decode change event: %v", err))
		return
	}
	accepted, err := h.intake.Accept(r.Context(), evt)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusAccepted
	if !accepted {
		status = http.StatusOK
	}
	httpx.JSON(w, status, map[string]any{"accepted": accepted})
}

func (h *Handler) parseQuery(r *http.Request) (Query, ledgerRequest, error) {
	clientID, err := ClientIDParam(r)
	if err != nil {
		return Query{}, ledgerRequest{}, err
	}
	values := r.URL.Query()
	req := ledgerRequest{
		From:      values.Get("from"),
		To:        values.Get("to"),
		Direction: values.Get("direction"),
		Min:       values.Get("min"),
		Max:       values.Get("max"),
		Format:    values.Get("format"),
	}
	for key, dst := range map[string]*int{"month": &req.Month, "year": &req.Year, "page": &req.Page, "limit": &req.Limit} {
		if *dst, err = intParam(values, key); err != nil {
			return Query{}, req, err
		}
	}
	if err := h.validate.Struct(req); err != nil {
		return Query{}, req, shared.Validationf("%v", err).WithClient(clientID)
	}

	f := Filter{Direction: DirectionFilter(req.Direction)}
	if req.From != "" || req.To != "" {
		var dr DateRange
		if req.From != "" {
			dr.Start, _ = time.Parse(dateLayout, req.From)
		}
		if req.To != "" {
			dr.End, _ = time.Parse(dateLayout, req.To)
		}
		f.DateRange = &dr
	}
	switch {
	case req.Month != 0:
		f.MonthYear = &MonthYear{Month: time.Month(req.Month), Year: req.Year}
	case req.Year != 0:
		f.Year = req.Year
	}
	if f.Amount.Min, err = decimalParam(req.Min); err != nil {
		return Query{}, req, err
	}
	if f.Amount.Max, err = decimalParam(req.Max); err != nil {
		return Query{}, req, err
	}
	return Query{ClientID: clientID, Filter: f, Page: req.Page, Limit: req.Limit}, req, nil
}

// ClientIDParam reads the {clientID} route parameter.
func ClientIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "clientID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validationf("invalid client id %q", raw)
	}
	return id, nil
}

func intParam(values url.Values, key string) (int, error) {
	raw := values.Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.Validationf("%s must be an integer", key)
	}
	return v, nil
}

func decimalParam(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, shared.Validationf("invalid amount %q", raw)
	}
	return &d, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !shared.IsUserVisible(err) {
		attrs := append(shared.ErrorAttrs(err), "path", r.URL.Path)
		h.logger.Error("ledger request failed", attrs...)
	}
	httpx.RespondError(w, err)
}
