package governance

import (
	"fmt"
	"sort"
	"sync"
)

// Phase is the round lifecycle phase.
type Phase string

const (
	PhaseCollecting Phase = "COLLECTING"
	PhaseTallying   Phase = "TALLYING"
	PhaseSettling   Phase = "SETTLING"
)

type storedVote struct {
	vote Vote
	seq  uint64
}

// RoundState is the mutable accumulator for one governance round and
// the only shared mutable resource in the core. All access is
// serialized by an internal mutex; the quorum check and the TALLYING
// transition are a single atomic step so that two back-to-back votes
// crossing the threshold cannot both initiate settlement.
type RoundState struct {
	mu         sync.Mutex
	phase      Phase
	votes      map[string]storedVote
	totalPower int64
	threshold  int64
	nextSeq    uint64
}

// NewRoundState creates an empty round in COLLECTING with the given
// quorum threshold.
func NewRoundState(quorumThreshold int64) *RoundState {
	return &RoundState{
		phase:     PhaseCollecting,
		votes:     make(map[string]storedVote),
		threshold: quorumThreshold,
	}
}

// AddVote records a vote and returns the updated running power. If the
// voter already has a recorded vote its power is netted out before the
// replacement is added, so a revote never double-counts. Only legal in
// COLLECTING.
func (r *RoundState) AddVote(v Vote) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseCollecting {
		return r.totalPower, fmt.Errorf("%w (phase %s)", ErrNotCollecting, r.phase)
	}

	if prev, ok := r.votes[v.VoterID]; ok {
		r.totalPower -= prev.vote.VotingPower
		if r.totalPower < 0 {
			// Impossible unless state was corrupted; caller should
			// reset defensively.
			return r.totalPower, &StateInvariantError{
				Detail: fmt.Sprintf("negative running power %d after netting out voter %s", r.totalPower, v.VoterID),
			}
		}
	}
	r.votes[v.VoterID] = storedVote{vote: v, seq: r.nextSeq}
	r.nextSeq++
	r.totalPower += v.VotingPower

	return r.totalPower, nil
}

// CheckQuorum reports whether accumulated power has reached the quorum
// threshold, transitioning the round to TALLYING exactly once the
// instant the threshold is crossed. Subsequent calls before Reset
// return false so settlement can never be triggered twice for one
// round.
func (r *RoundState) CheckQuorum() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseCollecting || r.totalPower < r.threshold {
		return false
	}
	r.phase = PhaseTallying
	return true
}

// SnapshotVotes returns the votes to be tallied, ordered by acceptance
// order. Callable only from TALLYING.
func (r *RoundState) SnapshotVotes() ([]Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseTallying {
		return nil, fmt.Errorf("%w (phase %s)", ErrNotTallying, r.phase)
	}
	stored := make([]storedVote, 0, len(r.votes))
	for _, sv := range r.votes {
		stored = append(stored, sv)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].seq < stored[j].seq })
	out := make([]Vote, len(stored))
	for i, sv := range stored {
		out[i] = sv.vote
	}
	return out, nil
}

// BeginSettlement transitions TALLYING -> SETTLING.
func (r *RoundState) BeginSettlement() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseTallying {
		return fmt.Errorf("%w (phase %s)", ErrNotTallying, r.phase)
	}
	r.phase = PhaseSettling
	return nil
}

// AbortSettlement returns the round to TALLYING after a failed contract
// write, retaining all collected votes so the same tally can be
// re-attempted.
func (r *RoundState) AbortSettlement() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseSettling {
		return fmt.Errorf("%w (phase %s)", ErrNotSettling, r.phase)
	}
	r.phase = PhaseTallying
	return nil
}

// Reset clears all votes, zeroes running power and returns the round to
// COLLECTING. The SETTLING -> COLLECTING transition is atomic under the
// lock; no intermediate phase is ever observable. Called exactly once
// per completed round, after the contract write succeeded.
func (r *RoundState) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseSettling {
		return fmt.Errorf("%w (phase %s)", ErrNotSettling, r.phase)
	}
	r.clearLocked()
	return nil
}

// ForceReset unconditionally clears the round. Used as the defensive
// recovery path after a StateInvariantError.
func (r *RoundState) ForceReset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}

func (r *RoundState) clearLocked() {
	r.votes = make(map[string]storedVote)
	r.totalPower = 0
	r.nextSeq = 0
	r.phase = PhaseCollecting
}

// Phase returns the current lifecycle phase.
func (r *RoundState) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// TotalPower returns the running accumulated power.
func (r *RoundState) TotalPower() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalPower
}

// VoterCount returns the number of distinct voters recorded.
func (r *RoundState) VoterCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.votes)
}

// QuorumThreshold returns the fixed threshold configured for the round.
func (r *RoundState) QuorumThreshold() int64 { return r.threshold }

// CurrentVotes returns a copy of the recorded votes in acceptance
// order, usable from any phase. Read-only status view; the tally input
// comes from SnapshotVotes, which is phase-gated.
func (r *RoundState) CurrentVotes() []Vote {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := make([]storedVote, 0, len(r.votes))
	for _, sv := range r.votes {
		stored = append(stored, sv)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].seq < stored[j].seq })
	out := make([]Vote, len(stored))
	for i, sv := range stored {
		out[i] = sv.vote
	}
	return out
}
