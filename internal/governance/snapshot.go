package governance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SnapshotType is the snapshot record type published to the log.
const SnapshotType = "token_ratios"

// Snapshot is the immutable record of the ratios finalized by a round.
type Snapshot struct {
	SnapshotID        string         `json:"snapshotId"`
	SnapshotType      string         `json:"snapshotType"`
	GovernanceSession string         `json:"governanceSession"`
	TokenWeights      map[string]int `json:"tokenWeights"`
	Timestamp         time.Time      `json:"timestamp"`
	CreatedBy         string         `json:"createdBy"`
	Hash              string         `json:"hash"`
}

// NewSnapshot builds a snapshot of the settled weights with a content
// hash over the weights themselves.
func NewSnapshot(session string, weights map[string]int, createdBy string, now time.Time) Snapshot {
	w := make(map[string]int, len(weights))
	for k, v := range weights {
		w[k] = v
	}
	return Snapshot{
		SnapshotID:        uuid.NewString(),
		SnapshotType:      SnapshotType,
		GovernanceSession: session,
		TokenWeights:      w,
		Timestamp:         now.UTC(),
		CreatedBy:         createdBy,
		Hash:              WeightsHash(w),
	}
}

// WeightsHash returns the hex SHA-256 of the weights serialized with
// canonically sorted keys, so the hash is independent of map order.
func WeightsHash(weights map[string]int) string {
	tokens := make([]string, 0, len(weights))
	for t := range weights {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	var b strings.Builder
	for _, t := range tokens {
		fmt.Fprintf(&b, "%s=%d;", t, weights[t])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey derives the dedup key for a settlement attempt from
// the session and the canonical winner set. Retrying the same tally
// yields the same key, so a replayed contract write can be deduplicated
// downstream.
func IdempotencyKey(session string, winners map[string]TokenWinner) string {
	tokens := make([]string, 0, len(winners))
	for t := range winners {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	var b strings.Builder
	b.WriteString(session)
	b.WriteByte('|')
	for _, t := range tokens {
		fmt.Fprintf(&b, "%s=%d;", t, winners[t].WinningRatio)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
