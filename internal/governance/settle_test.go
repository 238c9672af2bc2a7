package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContract struct {
	err   error
	keys  []string
	calls [][]TokenRatio
}

func (f *fakeContract) UpdateRatios(_ context.Context, key string, ratios []TokenRatio) error {
	f.keys = append(f.keys, key)
	f.calls = append(f.calls, ratios)
	return f.err
}

type fakeSnapshots struct {
	err       error
	published []Snapshot
}

func (f *fakeSnapshots) Publish(_ context.Context, snap Snapshot) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, snap)
	return nil
}

type sentAlert struct {
	channel string
	alert   Alert
}

type fakeNotifier struct {
	err  error
	sent []sentAlert
}

func (f *fakeNotifier) Notify(_ context.Context, channel string, a Alert) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentAlert{channel: channel, alert: a})
	return nil
}

func testSettler(t *testing.T, contract *fakeContract, snaps *fakeSnapshots, notes *fakeNotifier) *Settler {
	t.Helper()
	s, err := NewSettler(SettlerConfig{
		Contract:         contract,
		Snapshots:        snaps,
		Notifier:         notes,
		DashboardChannel: "dashboard",
		AgentChannel:     "agent",
		Session:          "session-1",
		Operator:         "0.0.2",
		Tokens:           []string{"HBAR", "WBTC", "SAUCE", "USDC", "JAM", "HEADSTART"},
		Baseline: map[string]int{
			"HBAR": 30, "WBTC": 20, "SAUCE": 15, "USDC": 15, "JAM": 10, "HEADSTART": 10,
		},
		StepTimeout: time.Second,
		Now:         func() time.Time { return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return s
}

func winnersTally(winners map[string]TokenWinner) TallyResult {
	return TallyResult{PerTokenWinner: winners, TotalVotingPower: 1100, VoterCount: 3}
}

func TestSettleSuccessRunsAllSteps(t *testing.T) {
	contract := &fakeContract{}
	snaps := &fakeSnapshots{}
	notes := &fakeNotifier{}
	s := testSettler(t, contract, snaps, notes)

	// HBAR moves 30 -> 40; USDC absorbs the difference.
	res := winnersTally(map[string]TokenWinner{
		"HBAR": {WinningRatio: 40, WinningPower: 700, CandidateCount: 2},
		"USDC": {WinningRatio: 5, WinningPower: 400, CandidateCount: 1},
	})

	report, err := s.Settle(context.Background(), res, 1)
	require.NoError(t, err)
	assert.True(t, report.ContractApplied)
	assert.Empty(t, report.Failed())

	require.Len(t, contract.calls, 1)
	assert.Equal(t, []TokenRatio{
		{Token: "HBAR", Ratio: 40},
		{Token: "WBTC", Ratio: 20},
		{Token: "SAUCE", Ratio: 15},
		{Token: "USDC", Ratio: 5},
		{Token: "JAM", Ratio: 10},
		{Token: "HEADSTART", Ratio: 10},
	}, contract.calls[0])

	require.Len(t, snaps.published, 1)
	snap := snaps.published[0]
	assert.Equal(t, SnapshotType, snap.SnapshotType)
	assert.Equal(t, "session-1", snap.GovernanceSession)
	assert.Equal(t, "0.0.2", snap.CreatedBy)
	assert.Equal(t, 40, snap.TokenWeights["HBAR"])
	assert.Equal(t, WeightsHash(snap.TokenWeights), snap.Hash)

	// quorum alert + contract-updated alert on dashboard, live alert on agent.
	require.Len(t, notes.sent, 3)
	assert.Equal(t, "dashboard", notes.sent[0].channel)
	assert.Equal(t, "Quorum reached", notes.sent[0].alert.Title)
	assert.Equal(t, "dashboard", notes.sent[1].channel)
	assert.Equal(t, "Contract updated", notes.sent[1].alert.Title)
	assert.Equal(t, "agent", notes.sent[2].channel)
	assert.Equal(t, AlertInfo, notes.sent[2].alert.Type)
}

func TestSettleContractFailureBlocksLaterSteps(t *testing.T) {
	contract := &fakeContract{err: errors.New("timeout")}
	snaps := &fakeSnapshots{}
	notes := &fakeNotifier{}
	s := testSettler(t, contract, snaps, notes)

	res := winnersTally(map[string]TokenWinner{
		"HBAR": {WinningRatio: 40},
		"USDC": {WinningRatio: 5},
	})

	report, err := s.Settle(context.Background(), res, 1)
	require.Error(t, err)
	var cerr *ContractUpdateError
	require.ErrorAs(t, err, &cerr)
	assert.False(t, report.ContractApplied)
	assert.Empty(t, snaps.published)

	// Only the best-effort quorum alert went out.
	require.Len(t, notes.sent, 1)
	assert.Equal(t, "Quorum reached", notes.sent[0].alert.Title)
}

func TestSettleRetryIsReplaySafe(t *testing.T) {
	contract := &fakeContract{err: errors.New("unavailable")}
	snaps := &fakeSnapshots{}
	notes := &fakeNotifier{}
	s := testSettler(t, contract, snaps, notes)

	res := winnersTally(map[string]TokenWinner{
		"HBAR": {WinningRatio: 40},
		"USDC": {WinningRatio: 5},
	})

	_, err := s.Settle(context.Background(), res, 1)
	require.Error(t, err)

	contract.err = nil
	report, err := s.Settle(context.Background(), res, 2)
	require.NoError(t, err)

	// Same tally produces the same idempotency key and the same
	// contract parameters on retry.
	require.Len(t, contract.keys, 2)
	assert.Equal(t, contract.keys[0], contract.keys[1])
	assert.Equal(t, contract.calls[0], contract.calls[1])
	assert.Equal(t, contract.keys[1], report.IdempotencyKey)
}

func TestSettleRetryDoesNotRepeatQuorumAlert(t *testing.T) {
	contract := &fakeContract{err: errors.New("unavailable")}
	notes := &fakeNotifier{}
	s := testSettler(t, contract, &fakeSnapshots{}, notes)

	res := winnersTally(map[string]TokenWinner{
		"HBAR": {WinningRatio: 40},
		"USDC": {WinningRatio: 5},
	})

	_, err := s.Settle(context.Background(), res, 1)
	require.Error(t, err)
	require.Len(t, notes.sent, 1)
	assert.Equal(t, "Quorum reached", notes.sent[0].alert.Title)

	contract.err = nil
	_, err = s.Settle(context.Background(), res, 2)
	require.NoError(t, err)

	// One quorum alert total across both attempts; the retry only adds
	// the post-settlement alerts.
	quorum := 0
	for _, sent := range notes.sent {
		if sent.alert.Title == "Quorum reached" {
			quorum++
		}
	}
	assert.Equal(t, 1, quorum)
	require.Len(t, notes.sent, 3)
	assert.Equal(t, "Contract updated", notes.sent[1].alert.Title)
	assert.Equal(t, "agent", notes.sent[2].channel)
}

func TestSettleBadSumRefusesContractCall(t *testing.T) {
	contract := &fakeContract{}
	s := testSettler(t, contract, &fakeSnapshots{}, &fakeNotifier{})

	// HBAR 90 over baseline pushes the sum past 100.
	res := winnersTally(map[string]TokenWinner{
		"HBAR": {WinningRatio: 90},
	})

	_, err := s.Settle(context.Background(), res, 1)
	var cerr *ContractUpdateError
	require.ErrorAs(t, err, &cerr)
	assert.Empty(t, contract.calls, "contract must not be called when ratios do not sum to 100")
}

func TestSettleSnapshotFailureIsPartialNotFatal(t *testing.T) {
	contract := &fakeContract{}
	snaps := &fakeSnapshots{err: errors.New("log unavailable")}
	notes := &fakeNotifier{}
	s := testSettler(t, contract, snaps, notes)

	res := winnersTally(map[string]TokenWinner{
		"HBAR": {WinningRatio: 40},
		"USDC": {WinningRatio: 5},
	})

	report, err := s.Settle(context.Background(), res, 1)
	require.NoError(t, err, "snapshot failure must not roll back a final contract write")
	assert.True(t, report.ContractApplied)
	assert.Nil(t, report.Snapshot)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, StepSnapshot, failed[0].Step)
	var serr *SettlementStepError
	assert.ErrorAs(t, failed[0].Err, &serr)
}

func TestSettleNotifyFailureIsBestEffort(t *testing.T) {
	contract := &fakeContract{}
	snaps := &fakeSnapshots{}
	notes := &fakeNotifier{err: errors.New("webhook down")}
	s := testSettler(t, contract, snaps, notes)

	res := winnersTally(map[string]TokenWinner{
		"HBAR": {WinningRatio: 40},
		"USDC": {WinningRatio: 5},
	})

	report, err := s.Settle(context.Background(), res, 1)
	require.NoError(t, err)
	assert.True(t, report.ContractApplied)
	require.Len(t, snaps.published, 1)

	// All three alert steps failed, none blocked settlement.
	assert.Len(t, report.Failed(), 3)
}

func TestMergeRatiosMissingBaseline(t *testing.T) {
	s, err := NewSettler(SettlerConfig{
		Contract:  &fakeContract{},
		Snapshots: &fakeSnapshots{},
		Notifier:  &fakeNotifier{},
		Session:   "s",
		Tokens:    []string{"HBAR", "USDC"},
		Baseline:  map[string]int{"HBAR": 100},
	})
	require.NoError(t, err)

	_, err = s.MergeRatios(TallyResult{PerTokenWinner: map[string]TokenWinner{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "USDC")
}
