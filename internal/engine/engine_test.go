package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ratio-governance/internal/governance"
	"ratio-governance/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubContract struct {
	mu    sync.Mutex
	fail  bool
	keys  []string
	calls [][]governance.TokenRatio
}

func (s *stubContract) UpdateRatios(_ context.Context, key string, ratios []governance.TokenRatio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.calls = append(s.calls, ratios)
	if s.fail {
		return errors.New("contract unavailable")
	}
	return nil
}

func (s *stubContract) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubContract) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

type stubSnapshots struct {
	mu        sync.Mutex
	published []governance.Snapshot
}

func (s *stubSnapshots) Publish(_ context.Context, snap governance.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, snap)
	return nil
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []governance.Alert
}

func (s *stubNotifier) Notify(_ context.Context, _ string, a governance.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, a)
	return nil
}

func (s *stubNotifier) countTitled(title string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.sent {
		if a.Title == title {
			n++
		}
	}
	return n
}

type harness struct {
	engine   *Engine
	round    *governance.RoundState
	contract *stubContract
	snaps    *stubSnapshots
	notes    *stubNotifier
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, threshold int64) *harness {
	t.Helper()

	contract := &stubContract{}
	snaps := &stubSnapshots{}
	notes := &stubNotifier{}
	settler, err := governance.NewSettler(governance.SettlerConfig{
		Contract:         contract,
		Snapshots:        snaps,
		Notifier:         notes,
		DashboardChannel: "dashboard",
		AgentChannel:     "agent",
		Session:          "test-session",
		Operator:         "0.0.2",
		Tokens:           []string{"HBAR", "WBTC", "SAUCE", "USDC", "JAM", "HEADSTART"},
		Baseline: map[string]int{
			"HBAR": 30, "WBTC": 20, "SAUCE": 15, "USDC": 15, "JAM": 10, "HEADSTART": 10,
		},
		StepTimeout: time.Second,
	})
	require.NoError(t, err)

	round := governance.NewRoundState(threshold)
	eng := New(Options{
		Round:         round,
		Settler:       settler,
		Log:           logger.New(false),
		Session:       "test-session",
		RetryInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx) }()
	t.Cleanup(cancel)

	return &harness{engine: eng, round: round, contract: contract, snaps: snaps, notes: notes, cancel: cancel}
}

func ballot(voter string, power int64, token string, ratio int, sec int) governance.Vote {
	return governance.Vote{
		VoterID:      voter,
		VotingPower:  power,
		RatioChanges: []governance.RatioChange{{Token: token, NewRatio: ratio}},
		Timestamp:    time.Date(2026, 8, 23, 12, 0, sec, 0, time.UTC),
	}
}

func TestEngineSettlesExactlyOnceOnQuorum(t *testing.T) {
	h := newHarness(t, 1000)

	// 400 + 400 + 300 = 1100 >= 1000; both trailing votes arrive in
	// the same tick, settlement must still fire exactly once.
	h.engine.Submit(ballot("0.0.1", 400, "HBAR", 40, 0))
	h.engine.Submit(ballot("0.0.2", 400, "HBAR", 40, 1))
	h.engine.Submit(ballot("0.0.3", 300, "USDC", 5, 2))

	require.Eventually(t, func() bool {
		return h.contract.callCount() == 1 && h.round.Phase() == governance.PhaseCollecting
	}, 2*time.Second, 5*time.Millisecond)

	// Settled round was reset; no second settlement happens.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.contract.callCount())
	assert.Zero(t, h.round.TotalPower())
	assert.Zero(t, h.round.VoterCount())

	h.contract.mu.Lock()
	applied := h.contract.calls[0]
	h.contract.mu.Unlock()
	assert.Equal(t, []governance.TokenRatio{
		{Token: "HBAR", Ratio: 40},
		{Token: "WBTC", Ratio: 20},
		{Token: "SAUCE", Ratio: 15},
		{Token: "USDC", Ratio: 5},
		{Token: "JAM", Ratio: 10},
		{Token: "HEADSTART", Ratio: 10},
	}, applied)

	h.snaps.mu.Lock()
	defer h.snaps.mu.Unlock()
	require.Len(t, h.snaps.published, 1)
	assert.Equal(t, 40, h.snaps.published[0].TokenWeights["HBAR"])

	// A vote after reset starts a fresh round.
	h.engine.Submit(ballot("0.0.9", 10, "HBAR", 50, 10))
	require.Eventually(t, func() bool {
		return h.round.TotalPower() == 10
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, governance.PhaseCollecting, h.round.Phase())
}

func TestEngineBelowThresholdNeverSettles(t *testing.T) {
	h := newHarness(t, 1000)

	h.engine.Submit(ballot("0.0.1", 500, "HBAR", 40, 0))

	require.Eventually(t, func() bool {
		return h.round.TotalPower() == 500
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, governance.PhaseCollecting, h.round.Phase())
	assert.Zero(t, h.contract.callCount())
}

func TestEngineContractFailureHoldsRoundAndRetries(t *testing.T) {
	h := newHarness(t, 1000)
	h.contract.setFail(true)

	h.engine.Submit(ballot("0.0.1", 600, "HBAR", 40, 0))
	h.engine.Submit(ballot("0.0.2", 600, "USDC", 5, 1))

	// First attempt fails: round held in TALLYING with votes retained.
	require.Eventually(t, func() bool {
		return h.contract.callCount() >= 1 && h.round.Phase() == governance.PhaseTallying
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1200), h.round.TotalPower())
	assert.Equal(t, 2, h.round.VoterCount())

	// Let the retry loop attempt at least once more while failing.
	require.Eventually(t, func() bool {
		return h.contract.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	h.contract.setFail(false)
	require.Eventually(t, func() bool {
		return h.round.Phase() == governance.PhaseCollecting
	}, 2*time.Second, 5*time.Millisecond)

	// Every attempt replayed the identical key and parameters, and the
	// dashboard saw a single quorum alert despite the retries.
	assert.Equal(t, 1, h.notes.countTitled("Quorum reached"))
	h.contract.mu.Lock()
	defer h.contract.mu.Unlock()
	require.GreaterOrEqual(t, len(h.contract.calls), 2)
	for i := 1; i < len(h.contract.calls); i++ {
		assert.Equal(t, h.contract.keys[0], h.contract.keys[i])
		assert.Equal(t, h.contract.calls[0], h.contract.calls[i])
	}
}

func TestEngineQueuesVotesDuringHeldRound(t *testing.T) {
	h := newHarness(t, 1000)
	h.contract.setFail(true)

	h.engine.Submit(ballot("0.0.1", 1200, "HBAR", 40, 0))
	require.Eventually(t, func() bool {
		return h.round.Phase() == governance.PhaseTallying
	}, 2*time.Second, 5*time.Millisecond)

	// Arrives while the round is held; must be queued, not dropped.
	h.engine.Submit(ballot("0.0.5", 50, "WBTC", 20, 5))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, h.round.VoterCount())

	h.contract.setFail(false)
	require.Eventually(t, func() bool {
		// Queued vote applied to the fresh round after settlement.
		return h.round.Phase() == governance.PhaseCollecting && h.round.TotalPower() == 50
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.round.VoterCount())
}
