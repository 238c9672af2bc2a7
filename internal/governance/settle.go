package governance

import (
	"context"
	"fmt"
	"time"
)

// AlertType classifies a notification message.
type AlertType string

const (
	AlertInfo    AlertType = "INFO"
	AlertWarning AlertType = "WARNING"
	AlertError   AlertType = "ERROR"
)

// Alert is a free-text notification published to a named channel.
type Alert struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      AlertType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenRatio is one entry of the ordered ratio vector passed to the
// settlement contract.
type TokenRatio struct {
	Token string
	Ratio int
}

// ContractClient applies the winning ratios to the external contract.
// The ratios arrive in the fixed supported-token order and sum to 100;
// the idempotency key is stable across retries of the same tally so a
// replayed write must not double-apply.
type ContractClient interface {
	UpdateRatios(ctx context.Context, idempotencyKey string, ratios []TokenRatio) error
}

// SnapshotPublisher publishes the immutable settled-ratio record.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// Notifier delivers fire-and-forget alerts to a named channel.
type Notifier interface {
	Notify(ctx context.Context, channel string, a Alert) error
}

// Settlement step names as reported in SettlementReport.
const (
	StepQuorumAlert    = "quorum-alert"
	StepContractUpdate = "contract-update"
	StepSnapshot       = "snapshot"
	StepUpdateAlert    = "contract-updated-alert"
	StepAgentNotify    = "agent-notify"
)

// StepResult records the outcome of one settlement step.
type StepResult struct {
	Step string
	Err  error
}

// SettlementReport is the per-step outcome of one settlement attempt.
type SettlementReport struct {
	Steps           []StepResult
	ContractApplied bool
	AppliedRatios   []TokenRatio
	IdempotencyKey  string
	Snapshot        *Snapshot
}

// Failed returns the step errors that occurred, if any.
func (r SettlementReport) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// SettlerConfig fixes the external collaborators and policy for one
// governance session.
type SettlerConfig struct {
	Contract  ContractClient
	Snapshots SnapshotPublisher
	Notifier  Notifier

	// DashboardChannel receives operator-facing alerts,
	// AgentChannel the downstream rebalancer notification.
	DashboardChannel string
	AgentChannel     string

	Session  string
	Operator string

	// Tokens is the fixed supported-token order of the contract call.
	// Baseline supplies the current weight for tokens no vote
	// mentioned; winners are merged over it.
	Tokens   []string
	Baseline map[string]int

	// StepTimeout bounds each external call. Zero means 30s.
	StepTimeout time.Duration

	Now func() time.Time
}

// Settler sequences the post-quorum settlement actions. Steps run
// strictly sequentially within one round; only the contract write is
// blocking for round progress, everything after it is best-effort and
// reported.
type Settler struct {
	cfg SettlerConfig
}

// NewSettler validates collaborator wiring and returns a Settler.
func NewSettler(cfg SettlerConfig) (*Settler, error) {
	if cfg.Contract == nil {
		return nil, fmt.Errorf("settler: contract client is required")
	}
	if cfg.Snapshots == nil {
		return nil, fmt.Errorf("settler: snapshot publisher is required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("settler: notifier is required")
	}
	if len(cfg.Tokens) == 0 {
		return nil, fmt.Errorf("settler: supported token set is empty")
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Settler{cfg: cfg}, nil
}

// MergeRatios merges the tally winners over the baseline weights in the
// fixed token order and verifies the result sums to 100. Tokens absent
// from the tally keep their baseline weight.
func (s *Settler) MergeRatios(res TallyResult) ([]TokenRatio, error) {
	out := make([]TokenRatio, 0, len(s.cfg.Tokens))
	sum := 0
	for _, token := range s.cfg.Tokens {
		ratio, ok := res.PerTokenWinner[token]
		if ok {
			out = append(out, TokenRatio{Token: token, Ratio: ratio.WinningRatio})
			sum += ratio.WinningRatio
		} else {
			base, haveBase := s.cfg.Baseline[token]
			if !haveBase {
				return nil, fmt.Errorf("no vote and no baseline weight for token %s", token)
			}
			out = append(out, TokenRatio{Token: token, Ratio: base})
			sum += base
		}
	}
	if sum != 100 {
		return nil, fmt.Errorf("merged ratios sum to %d, want 100", sum)
	}
	return out, nil
}

// Settle runs the settlement sequence for a completed tally. attempt is
// 1-based; the quorum alert goes out only on the first attempt so a held
// round retrying the contract write does not repeat it. A non-nil error
// is always a *ContractUpdateError: the contract write failed and the
// caller must keep the round in TALLYING for retry. Failures of the
// other steps are recorded in the report but do not block finality.
func (s *Settler) Settle(ctx context.Context, res TallyResult, attempt int) (SettlementReport, error) {
	report := SettlementReport{
		IdempotencyKey: IdempotencyKey(s.cfg.Session, res.PerTokenWinner),
	}
	now := s.cfg.Now()

	// Step 1: quorum-reached alert, best effort, first attempt only.
	if attempt <= 1 {
		report.record(StepQuorumAlert, s.notify(ctx, s.cfg.DashboardChannel, Alert{
			Title: "Quorum reached",
			Message: fmt.Sprintf("session %s: %d voters, %d voting power, tallying %d token(s)",
				s.cfg.Session, res.VoterCount, res.TotalVotingPower, len(res.PerTokenWinner)),
			Type:      AlertInfo,
			Timestamp: now,
		}))
	}

	// Step 2: the contract write. The only step whose failure blocks
	// the round.
	ratios, err := s.MergeRatios(res)
	if err != nil {
		cerr := &ContractUpdateError{Err: err}
		report.record(StepContractUpdate, cerr)
		return report, cerr
	}
	if err := s.withTimeout(ctx, func(c context.Context) error {
		return s.cfg.Contract.UpdateRatios(c, report.IdempotencyKey, ratios)
	}); err != nil {
		cerr := &ContractUpdateError{Err: err}
		report.record(StepContractUpdate, cerr)
		return report, cerr
	}
	report.record(StepContractUpdate, nil)
	report.ContractApplied = true
	report.AppliedRatios = ratios

	// Step 3: snapshot publish + contract-updated alert. Ratios are
	// already final; failures here leave a partially-settled state and
	// are surfaced for operator follow-up.
	weights := make(map[string]int, len(ratios))
	for _, tr := range ratios {
		weights[tr.Token] = tr.Ratio
	}
	snap := NewSnapshot(s.cfg.Session, weights, s.cfg.Operator, s.cfg.Now())
	if err := s.withTimeout(ctx, func(c context.Context) error {
		return s.cfg.Snapshots.Publish(c, snap)
	}); err != nil {
		report.record(StepSnapshot, &SettlementStepError{Step: StepSnapshot, Err: err})
	} else {
		report.record(StepSnapshot, nil)
		report.Snapshot = &snap
	}

	report.record(StepUpdateAlert, s.notify(ctx, s.cfg.DashboardChannel, Alert{
		Title:     "Contract updated",
		Message:   fmt.Sprintf("session %s: ratios settled, snapshot %s", s.cfg.Session, snap.SnapshotID),
		Type:      AlertInfo,
		Timestamp: s.cfg.Now(),
	}))

	// Step 4: tell the downstream rebalancer the new ratios are live.
	report.record(StepAgentNotify, s.notify(ctx, s.cfg.AgentChannel, Alert{
		Title:     "New ratios live",
		Message:   fmt.Sprintf("session %s: %s", s.cfg.Session, formatRatios(ratios)),
		Type:      AlertInfo,
		Timestamp: s.cfg.Now(),
	}))

	return report, nil
}

func (s *Settler) notify(ctx context.Context, channel string, a Alert) error {
	err := s.withTimeout(ctx, func(c context.Context) error {
		return s.cfg.Notifier.Notify(c, channel, a)
	})
	if err != nil {
		return &SettlementStepError{Step: "notify:" + channel, Err: err}
	}
	return nil
}

func (s *Settler) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()
	return fn(c)
}

func (r *SettlementReport) record(step string, err error) {
	r.Steps = append(r.Steps, StepResult{Step: step, Err: err})
}

func formatRatios(ratios []TokenRatio) string {
	s := ""
	for i, tr := range ratios {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", tr.Token, tr.Ratio)
	}
	return s
}
