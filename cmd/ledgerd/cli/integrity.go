package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// IntegrityChecker compares stored state with a fresh fold.
type IntegrityChecker interface {
	Check(ctx context.Context, clientID int64) (ledger.IntegrityReport, error)
}

// ClientLister enumerates clients.
type ClientLister interface {
	ListClientIDs(ctx context.Context) ([]int64, error)
}

// IntegrityCLI runs integrity checks synchronously from the command line.
type IntegrityCLI struct {
	checker IntegrityChecker
	clients ClientLister
}

// NewIntegrityCLI constructs the helper.
func NewIntegrityCLI(checker IntegrityChecker, clients ClientLister) (*IntegrityCLI, error) {
	if checker == nil || clients == nil {
		return nil, fmt.Errorf("integrity cli: checker and client lister required")
	}
	return &IntegrityCLI{checker: checker, clients: clients}, nil
}

// IntegrityOptions defines flags for the check command. ClientID zero checks every client.
type IntegrityOptions struct {
	ClientID   int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// IntegritySummary is the JSON output of the check command.
type IntegritySummary struct {
	OK       bool                     `json:"ok"`
	Checked  int                      `json:"checked"`
	Issues   []ledger.IntegrityReport `json:"issues"`
	Failures []IntegrityFailure       `json:"failures"`
}

// IntegrityFailure reports a client whose check could not run.
type IntegrityFailure struct {
	ClientID int64  `json:"clientId"`
	Error    string `json:"error"`
}

// CheckCommand runs the check and prints the outcome. It exits 10 when any client is
// unhealthy or could not be checked.
func (c *IntegrityCLI) CheckCommand(ctx context.Context, opts IntegrityOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.ClientID < 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "ledger check: --client must be positive")
		return 1
	}
	ids := []int64{opts.ClientID}
	if opts.ClientID == 0 {
		var err error
		if ids, err = c.clients.ListClientIDs(ctx); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger check: list clients: %v\n", err)
			return 1
		}
	}

	summary := IntegritySummary{Issues: []ledger.IntegrityReport{}, Failures: []IntegrityFailure{}}
	for _, id := range ids {
		report, err := c.checker.Check(ctx, id)
		summary.Checked++
		if err != nil {
			summary.Failures = append(summary.Failures, IntegrityFailure{ClientID: id, Error: err.Error()})
			continue
		}
		if !report.Healthy() {
			summary.Issues = append(summary.Issues, report)
		}
	}
	summary.OK = len(summary.Issues) == 0 && len(summary.Failures) == 0

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger check: encode json: %v\n", err)
			return 1
		}
	} else {
		renderIntegrityHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func renderIntegrityHuman(w io.Writer, s IntegritySummary) {
	if s.OK {
		_, _ = fmt.Fprintf(w, "ledger check: %d client(s) healthy\n", s.Checked)
		return
	}
	_, _ = fmt.Fprintf(w, "ledger check: %d client(s) checked, %d issue(s), %d failure(s)\n", s.Checked, len(s.Issues), len(s.Failures))
	for _, r := range s.Issues {
		_, _ = fmt.Fprintf(w, "  client %d: stored %s computed %s (version %d, cached %d) drift=%t snapshot_invalid=%t\n",
			r.ClientID, r.StoredBalance.StringFixed(2), r.ComputedBalance.StringFixed(2), r.StoredVersion, r.CachedVersion, r.BalanceDrift, r.SnapshotInvalid)
	}
	for _, f := range s.Failures {
		_, _ = fmt.Fprintf(w, "  client %d: %s\n", f.ClientID, f.Error)
	}
}
