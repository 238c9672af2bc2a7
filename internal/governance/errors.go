package governance

import (
	"errors"
	"fmt"
	"strings"
)

// Phase gating errors returned by RoundState operations.
var (
	ErrNotCollecting = errors.New("round is not collecting votes")
	ErrNotTallying   = errors.New("round is not in tallying phase")
	ErrNotSettling   = errors.New("round is not in settling phase")
)

// ValidationError reports a malformed or out-of-range vote. It is an
// expected outcome of ingesting untrusted input: callers log and discard
// the offending message and keep going.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid vote: %s", e.Reason)
	}
	return fmt.Sprintf("invalid vote (%s): %s", strings.Join(e.Fields, ", "), e.Reason)
}

func validationErr(reason string, fields ...string) *ValidationError {
	return &ValidationError{Fields: fields, Reason: reason}
}

// StateInvariantError indicates round state corruption (negative running
// power, duplicate-key inconsistency). It is fatal to the round: the
// caller is expected to reset defensively rather than continue with
// inconsistent state.
type StateInvariantError struct {
	Detail string
}

func (e *StateInvariantError) Error() string {
	return "round state invariant violated: " + e.Detail
}

// SettlementStepError reports a failed post-contract settlement step
// (snapshot publish, notification). The contract ratios are already
// final when this occurs, so it is surfaced for operator follow-up but
// does not block the round.
type SettlementStepError struct {
	Step string
	Err  error
}

func (e *SettlementStepError) Error() string {
	return fmt.Sprintf("settlement step %q failed: %v", e.Step, e.Err)
}

func (e *SettlementStepError) Unwrap() error { return e.Err }

// ContractUpdateError reports failure of the settlement contract write
// itself. The round must remain in TALLYING with collected votes
// retained so the same tally can be re-attempted.
type ContractUpdateError struct {
	Err error
}

func (e *ContractUpdateError) Error() string {
	return fmt.Sprintf("contract ratio update failed: %v", e.Err)
}

func (e *ContractUpdateError) Unwrap() error { return e.Err }
