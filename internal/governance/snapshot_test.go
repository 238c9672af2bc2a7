package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsHashIsOrderIndependent(t *testing.T) {
	a := map[string]int{"HBAR": 40, "USDC": 30, "WBTC": 30}
	b := map[string]int{"WBTC": 30, "HBAR": 40, "USDC": 30}

	assert.Equal(t, WeightsHash(a), WeightsHash(b))
	assert.NotEqual(t, WeightsHash(a), WeightsHash(map[string]int{"HBAR": 41, "USDC": 30, "WBTC": 29}))
}

func TestNewSnapshotFields(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	weights := map[string]int{"HBAR": 40, "USDC": 60}

	snap := NewSnapshot("session-1", weights, "0.0.2", now)

	require.NotEmpty(t, snap.SnapshotID)
	assert.Equal(t, SnapshotType, snap.SnapshotType)
	assert.Equal(t, "session-1", snap.GovernanceSession)
	assert.Equal(t, now, snap.Timestamp)
	assert.Equal(t, "0.0.2", snap.CreatedBy)
	assert.Equal(t, WeightsHash(weights), snap.Hash)

	// The snapshot owns a copy; mutating the input must not change it.
	weights["HBAR"] = 99
	assert.Equal(t, 40, snap.TokenWeights["HBAR"])

	other := NewSnapshot("session-1", snap.TokenWeights, "0.0.2", now)
	assert.NotEqual(t, snap.SnapshotID, other.SnapshotID)
}

func TestIdempotencyKeyStableForSameWinners(t *testing.T) {
	w1 := map[string]TokenWinner{"HBAR": {WinningRatio: 40}, "USDC": {WinningRatio: 5}}
	w2 := map[string]TokenWinner{"USDC": {WinningRatio: 5}, "HBAR": {WinningRatio: 40}}

	assert.Equal(t, IdempotencyKey("s", w1), IdempotencyKey("s", w2))
	assert.NotEqual(t, IdempotencyKey("s", w1), IdempotencyKey("other", w1))
	assert.NotEqual(t, IdempotencyKey("s", w1),
		IdempotencyKey("s", map[string]TokenWinner{"HBAR": {WinningRatio: 41}, "USDC": {WinningRatio: 5}}))
}
