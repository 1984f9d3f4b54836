package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type stubChecker struct {
	reports map[int64]ledger.IntegrityReport
	errs    map[int64]error
}

func (s stubChecker) Check(_ context.Context, clientID int64) (ledger.IntegrityReport, error) {
	if err := s.errs[clientID]; err != nil {
		return ledger.IntegrityReport{}, err
	}
	r := s.reports[clientID]
	r.ClientID = clientID
	return r, nil
}

type stubClients []int64

func (s stubClients) ListClientIDs(context.Context) ([]int64, error) { return s, nil }

func TestCheckCommandJSONHealthy(t *testing.T) {
	cli, err := NewIntegrityCLI(stubChecker{}, stubClients{1, 2})
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.CheckCommand(context.Background(), IntegrityOptions{JSONOutput: true, Stdout: stdout, Stderr: stderr})
	require.Zero(t, exitCode)
	require.Empty(t, stderr.String())

	var summary IntegritySummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.OK)
	require.Equal(t, 2, summary.Checked)
	require.Empty(t, summary.Issues)
}

func TestCheckCommandReportsDriftAndFailures(t *testing.T) {
	checker := stubChecker{
		reports: map[int64]ledger.IntegrityReport{
			2: {BalanceDrift: true, StoredBalance: decimal.NewFromInt(100), ComputedBalance: decimal.NewFromInt(90)},
		},
		errs: map[int64]error{3: errors.New("boom")},
	}
	cli, err := NewIntegrityCLI(checker, stubClients{1, 2, 3})
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	exitCode := cli.CheckCommand(context.Background(), IntegrityOptions{JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 10, exitCode)

	var summary IntegritySummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Len(t, summary.Issues, 1)
	require.Equal(t, int64(2), summary.Issues[0].ClientID)
	require.Len(t, summary.Failures, 1)
	require.Equal(t, "boom", summary.Failures[0].Error)
}

func TestCheckCommandSingleClientHuman(t *testing.T) {
	cli, err := NewIntegrityCLI(stubChecker{}, stubClients{})
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	exitCode := cli.CheckCommand(context.Background(), IntegrityOptions{ClientID: 5, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Zero(t, exitCode)
	require.Contains(t, stdout.String(), "1 client(s) healthy")
}

func TestCheckCommandRejectsNegativeClient(t *testing.T) {
	cli, err := NewIntegrityCLI(stubChecker{}, stubClients{})
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	exitCode := cli.CheckCommand(context.Background(), IntegrityOptions{ClientID: -1, Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "--client")
}

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(TriggerRequest{Name: jobs.TaskLedgerRecompute, ClientID: 4})
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLedgerRecompute, task.Type())

	_, err = BuildTask(TriggerRequest{Name: jobs.TaskLedgerRecompute})
	require.Error(t, err)

	task, err = BuildTask(TriggerRequest{Name: jobs.TaskStatementSendNow, ClientID: 4, Period: "2024-02"})
	require.NoError(t, err)
	require.Equal(t, jobs.TaskStatementSendNow, task.Type())

	task, err = BuildTask(TriggerRequest{Name: jobs.TaskLedgerIntegrity, Repair: true})
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLedgerIntegrity, task.Type())

	_, err = BuildTask(TriggerRequest{Name: "inventory:revaluation"})
	require.Error(t, err)
}
