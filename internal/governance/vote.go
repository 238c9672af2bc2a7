// Package governance implements the portfolio-ratio governance round:
// vote validation, the pure tally computation, the round state machine,
// and settlement sequencing.
package governance

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"time"
)

// VoteMessageType is the wire message type carrying a ratio ballot.
const VoteMessageType = "MULTI_RATIO_VOTE"

// accountIDRe matches shard.realm.num style account identifiers.
var accountIDRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// RatioChange proposes a new target ratio for a single token.
type RatioChange struct {
	Token    string `json:"token"`
	NewRatio int    `json:"newRatio"`
}

// Vote is one validated governance ballot. A Vote is immutable once
// validated; round state only ever retains the current accepted vote
// per voter.
type Vote struct {
	VoterID      string        `json:"voterId"`
	VotingPower  int64         `json:"votingPower"`
	RatioChanges []RatioChange `json:"ratioChanges"`
	Timestamp    time.Time     `json:"timestamp"`
	Reason       string        `json:"reason,omitempty"`
	ExternalRef  string        `json:"externalRef,omitempty"`
}

// wireVote mirrors the raw log message. Numeric fields are decoded
// loosely so validation can report range errors instead of json type
// errors, and timestamps may arrive as ISO-8601 strings or epoch
// seconds.
type wireVote struct {
	Type         string            `json:"type"`
	VoterID      string            `json:"voterId"`
	VotingPower  *float64          `json:"votingPower"`
	RatioChanges []wireRatioChange `json:"ratioChanges"`
	Timestamp    json.RawMessage   `json:"timestamp"`
	Reason       string            `json:"reason"`
	ExternalRef  string            `json:"externalRef"`
}

type wireRatioChange struct {
	Token    string   `json:"token"`
	NewRatio *float64 `json:"newRatio"`
}

// ParseVote decodes and validates a raw vote payload. The returned
// error is a *ValidationError for any recoverable shape or range
// mismatch; ingestion logs and discards those without crashing.
func ParseVote(raw []byte) (Vote, error) {
	var w wireVote
	if err := json.Unmarshal(raw, &w); err != nil {
		return Vote{}, validationErr(fmt.Sprintf("malformed payload: %v", err))
	}
	return w.validate()
}

func (w wireVote) validate() (Vote, error) {
	if w.Type != VoteMessageType {
		return Vote{}, validationErr(fmt.Sprintf("unexpected message type %q", w.Type), "type")
	}
	if w.VoterID == "" {
		return Vote{}, validationErr("voterId is required", "voterId")
	}
	if !accountIDRe.MatchString(w.VoterID) {
		return Vote{}, validationErr(fmt.Sprintf("voterId %q is not a shard.realm.num account id", w.VoterID), "voterId")
	}
	if w.VotingPower == nil {
		return Vote{}, validationErr("votingPower is required", "votingPower")
	}
	power := *w.VotingPower
	if power < 0 {
		return Vote{}, validationErr(fmt.Sprintf("votingPower %v is negative", power), "votingPower")
	}
	if power != math.Trunc(power) {
		return Vote{}, validationErr(fmt.Sprintf("votingPower %v is not a whole number", power), "votingPower")
	}
	// float64 rounds math.MaxInt64 up to 2^63, so the comparison must be
	// >= or the int64 conversion below overflows negative.
	if power >= math.MaxInt64 {
		return Vote{}, validationErr(fmt.Sprintf("votingPower %v overflows int64", power), "votingPower")
	}
	if len(w.RatioChanges) == 0 {
		return Vote{}, validationErr("ratioChanges must contain at least one entry", "ratioChanges")
	}

	seen := make(map[string]struct{}, len(w.RatioChanges))
	changes := make([]RatioChange, 0, len(w.RatioChanges))
	for i, rc := range w.RatioChanges {
		field := fmt.Sprintf("ratioChanges[%d]", i)
		if rc.Token == "" {
			return Vote{}, validationErr("token is required", field)
		}
		if rc.NewRatio == nil {
			return Vote{}, validationErr("newRatio is required", field)
		}
		r := *rc.NewRatio
		if r < 0 || r > 100 {
			return Vote{}, validationErr(fmt.Sprintf("newRatio %v is outside [0,100]", r), field)
		}
		// The settlement contract takes whole-number ratios, so
		// fractional proposals are rejected up front.
		if r != math.Trunc(r) {
			return Vote{}, validationErr(fmt.Sprintf("newRatio %v is not a whole number", r), field)
		}
		// A ballot proposing two ratios for the same token is
		// ambiguous and is rejected rather than resolved keep-last.
		if _, dup := seen[rc.Token]; dup {
			return Vote{}, validationErr(fmt.Sprintf("duplicate token %q in one vote", rc.Token), field)
		}
		seen[rc.Token] = struct{}{}
		changes = append(changes, RatioChange{Token: rc.Token, NewRatio: int(r)})
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return Vote{}, validationErr(err.Error(), "timestamp")
	}

	return Vote{
		VoterID:      w.VoterID,
		VotingPower:  int64(power),
		RatioChanges: changes,
		Timestamp:    ts,
		Reason:       w.Reason,
		ExternalRef:  w.ExternalRef,
	}, nil
}

// parseTimestamp accepts an ISO-8601 string or numeric epoch seconds
// and coerces both to UTC.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, fmt.Errorf("timestamp is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("timestamp %q is not ISO-8601", s)
	}
	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil {
		sec, frac := math.Modf(epoch)
		return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("timestamp must be an ISO-8601 string or epoch seconds")
}
