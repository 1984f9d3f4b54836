package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// DefaultPageLimit applies when a query does not name a limit.
const DefaultPageLimit = 50

// ClientReader loads client directory rows.
type ClientReader interface {
	GetClient(ctx context.Context, clientID int64) (Client, error)
}

// Warmer produces a snapshot for a client with nothing cached. Implemented by Coordinator.
type Warmer interface {
	Ensure(ctx context.Context, clientID int64) (*Snapshot, error)
}

// Query selects a page of a client's statement.
type Query struct {
	ClientID int64
	Filter   Filter
	Page     int
	Limit    int
}

// ExportQuery selects the entries to export. A zero Limit exports the whole filtered view.
type ExportQuery struct {
	Query
	Format Format
	Title  string
}

// View is one page of a client statement. Summary covers the whole filtered view, not
// only the page.
type View struct {
	Client     Client            `json:"client"`
	Entries    []LedgerEntry     `json:"entries"`
	Summary    Summary           `json:"summary"`
	Pagination shared.Pagination `json:"pagination"`
	Version    int64             `json:"version"`
	Filter     Filter            `json:"-"`
}

// ExportResult is a rendered export together with the figures it was built from.
type ExportResult struct {
	Rendered
	Summary Summary
	Version int64
}

// Service serves reads from committed snapshots. It never folds balances itself.
type Service struct {
	clients  ClientReader
	store    SnapshotStore
	warmer   Warmer
	renderer Renderer
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
	loc      *time.Location
}

// ServiceOptions tunes the read path.
type ServiceOptions struct {
	Metrics  *Metrics
	Logger   *slog.Logger
	Clock    func() time.Time
	Location *time.Location
}

// NewService constructs the read service.
func NewService(clients ClientReader, store SnapshotStore, warmer Warmer, renderer Renderer, opts ServiceOptions) *Service {
	svc := &Service{
		clients:  clients,
		store:    store,
		warmer:   warmer,
		renderer: renderer,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Clock,
		loc:      opts.Location,
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.loc == nil {
		svc.loc = time.UTC
	}
	if svc.logger == nil {
		svc.logger = slog.Default().With("component", "ledger.service")
	}
	return svc
}

// Statement returns one page of the filtered statement.
func (s *Service) Statement(ctx context.Context, q Query) (View, error) {
	if q.Limit == 0 {
		q.Limit = DefaultPageLimit
	}
	return s.view(ctx, q)
}

// Export renders the filtered statement. The summary is the same one Statement reports
// for an identical query.
func (s *Service) Export(ctx context.Context, q ExportQuery) (ExportResult, error) {
	var err error
	if q.Format, err = ParseFormat(string(q.Format)); err != nil {
		return ExportResult{}, err
	}
	if s.renderer == nil {
		return ExportResult{}, fmt.Errorf("ledger: export renderer not configured")
	}
	view, err := s.view(ctx, q.Query)
	if err != nil {
		return ExportResult{}, err
	}
	title := q.Title
	if title == "" {
		title = "Statement of Account"
	}
	doc := Document{
		Title:       title,
		Client:      view.Client,
		Entries:     view.Entries,
		Summary:     view.Summary,
		Pagination:  view.Pagination,
		FilterLabel: view.Filter.Label(),
		GeneratedAt: s.now().In(s.loc),
		Location:    s.loc,
	}
	out, err := s.renderer.Render(ctx, doc, q.Format)
	if err != nil {
		return ExportResult{}, err
	}
	return ExportResult{Rendered: out, Summary: view.Summary, Version: view.Version}, nil
}

func (s *Service) view(ctx context.Context, q Query) (View, error) {
	if q.ClientID <= 0 {
		return View{}, shared.Validationf("client id must be positive")
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Page < 1 {
		return View{}, shared.Validationf("page must be >= 1").WithClient(q.ClientID)
	}
	if q.Limit < 0 || q.Limit > shared.MaxPageLimit {
		return View{}, shared.Validationf("limit must be between 1 and %d", shared.MaxPageLimit).WithClient(q.ClientID)
	}
	filter := q.Filter.Normalize()
	if err := filter.Validate(); err != nil {
		return View{}, err
	}

	client, snap, err := s.snapshot(ctx, q.ClientID)
	if err != nil {
		return View{}, err
	}
	filtered, err := Apply(snap.Entries, filter)
	if err != nil {
		return View{}, err
	}
	limit := q.Limit
	if limit == 0 {
		limit = max(len(filtered), 1)
	}
	page, err := shared.Paginate(filtered, q.Page, limit)
	if err != nil {
		return View{}, err
	}
	client.CurrentBalance = snap.Balance
	return View{
		Client:     client,
		Entries:    page.Items,
		Summary:    Summarize(filtered),
		Pagination: page.Pagination,
		Version:    snap.Version,
		Filter:     filter,
	}, nil
}

// snapshot returns the client and a snapshot at least as new as the committed ledger
// version. Snapshots are only published after their commit, so a newer one is still
// committed state. Anything older is treated as a miss and handed to the coordinator.
func (s *Service) snapshot(ctx context.Context, clientID int64) (Client, *Snapshot, error) {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return Client{}, nil, err
	}
	var snap *Snapshot
	if s.store != nil {
		snap, err = s.store.Get(ctx, clientID)
		if err != nil {
			s.logger.Warn("ledger snapshot read failed", "client_id", clientID, "error", err)
			snap = nil
		}
	}
	if snap != nil && snap.Version >= client.LedgerVersion && snap.Version > 0 {
		s.metrics.observeRead(true)
		client.LedgerVersion = snap.Version
		return client, snap, nil
	}
	s.metrics.observeRead(false)
	if s.warmer == nil {
		return Client{}, nil, shared.Computation(clientID, fmt.Errorf("no snapshot available"))
	}
	snap, err = s.warmer.Ensure(ctx, clientID)
	if err != nil {
		return Client{}, nil, err
	}
	client.LedgerVersion = snap.Version
	return client, snap, nil
}
