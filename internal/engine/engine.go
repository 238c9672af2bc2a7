// Package engine owns the governance round. A single goroutine applies
// votes, fires the quorum trigger, and drives tally, settlement and
// reset, so no vote can interleave with an in-flight settlement. Votes
// arriving while a round is tallying or settling queue in the submit
// channel and are applied after the round returns to collecting.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ratio-governance/internal/governance"
	"ratio-governance/internal/logger"
	"ratio-governance/internal/models"
	"ratio-governance/internal/tui"

	"gorm.io/gorm"
)

const (
	// TUIChannelBufferSize buffers dashboard updates so a slow render
	// never backpressures the engine loop.
	TUIChannelBufferSize = 64
	// TUICloseDelay gives the TUI a moment to drain on shutdown.
	TUICloseDelay = 200 * time.Millisecond
)

// NameResolver maps account ids to display names for status output.
type NameResolver interface {
	Resolve(accountID string) string
}

// Options wires an Engine.
type Options struct {
	Round   *governance.RoundState
	Settler *governance.Settler
	DB      *gorm.DB // nil disables audit persistence
	TUI     chan<- interface{}
	Log     *logger.Logger
	Names   NameResolver // optional
	Session string

	// QueueSize bounds the vote submit channel; votes queue here while
	// a round settles. Default 256.
	QueueSize int
	// RetryInterval spaces settlement re-attempts after a failed
	// contract write. Default 15s.
	RetryInterval time.Duration
}

// Engine is the single writer of round state.
type Engine struct {
	round   *governance.RoundState
	settler *governance.Settler
	db      *gorm.DB
	tuiCh   chan<- interface{}
	log     *logger.Logger
	names   NameResolver
	session string

	votes         chan governance.Vote
	retryInterval time.Duration

	roundNum int
	pending  *governance.TallyResult
	attempts int
}

func New(opts Options) *Engine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 15 * time.Second
	}
	return &Engine{
		round:         opts.Round,
		settler:       opts.Settler,
		db:            opts.DB,
		tuiCh:         opts.TUI,
		log:           opts.Log,
		names:         opts.Names,
		session:       opts.Session,
		votes:         make(chan governance.Vote, opts.QueueSize),
		retryInterval: opts.RetryInterval,
		roundNum:      1,
	}
}

// Submit queues a validated vote for the engine loop. Blocks when the
// queue is full rather than dropping.
func (e *Engine) Submit(v governance.Vote) {
	e.votes <- v
}

// Run drives the engine until the context is cancelled. While the
// round is stuck in TALLYING after a failed contract write, the loop
// re-attempts settlement on a timer instead of consuming votes, so
// queued votes are neither dropped nor applied mid-settlement.
func (e *Engine) Run(ctx context.Context) error {
	e.publishStatus("started")
	for {
		if e.round.Phase() == governance.PhaseCollecting {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case v := <-e.votes:
				e.handleVote(ctx, v)
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.retryInterval):
				e.attemptSettlement(ctx)
			}
		}
	}
}

func (e *Engine) handleVote(ctx context.Context, v governance.Vote) {
	total, err := e.round.AddVote(v)
	if err != nil {
		var inv *governance.StateInvariantError
		if errors.As(err, &inv) {
			// Round state is corrupt; resetting defensively beats
			// settling from inconsistent state.
			e.log.Errorf("state invariant violated, resetting round %d: %v", e.roundNum, inv)
			e.round.ForceReset()
			e.pending = nil
			e.publishStatus("round reset after invariant violation")
			return
		}
		e.log.Warnf("vote from %s not applied: %v", v.VoterID, err)
		return
	}

	e.log.Infof("vote accepted: voter=%s power=%d total=%d/%d",
		v.VoterID, v.VotingPower, total, e.round.QuorumThreshold())
	e.persistVote(v, total)
	e.publishStatus(fmt.Sprintf("vote from %s (power %d)", v.VoterID, v.VotingPower))
	e.publishVoters()

	if e.round.CheckQuorum() {
		e.log.Infof("quorum reached: total=%d threshold=%d", total, e.round.QuorumThreshold())
		votes, err := e.round.SnapshotVotes()
		if err != nil {
			e.log.Errorf("snapshot votes: %v", err)
			return
		}
		res := governance.Tally(votes)
		e.pending = &res
		e.attempts = 0
		e.persistQuorum(res)
		e.publishStatus("quorum reached, tallying")
		e.publishWinners(res)
		e.attemptSettlement(ctx)
	}
}

func (e *Engine) attemptSettlement(ctx context.Context) {
	if e.pending == nil {
		return
	}
	if err := e.round.BeginSettlement(); err != nil {
		e.log.Errorf("begin settlement: %v", err)
		return
	}
	e.publishStatus("settling")
	e.attempts++

	report, err := e.settler.Settle(ctx, *e.pending, e.attempts)
	if err != nil {
		// Contract write failed: stay in TALLYING with votes retained.
		// The idempotency key makes the eventual retry replay-safe.
		if abortErr := e.round.AbortSettlement(); abortErr != nil {
			e.log.Errorf("abort settlement: %v", abortErr)
		}
		e.log.Errorf("settlement attempt %d failed, retrying in %s: %v", e.attempts, e.retryInterval, err)
		e.publishStatus(fmt.Sprintf("contract update failed (attempt %d), round held for retry", e.attempts))
		return
	}

	for _, step := range report.Failed() {
		// Ratios are live but a follow-up step is missing; loud, not fatal.
		e.log.Errorf("partially settled round %d: %v", e.roundNum, step.Err)
	}
	e.persistSettlement(report)

	if err := e.round.Reset(); err != nil {
		e.log.Errorf("reset round: %v", err)
		e.round.ForceReset()
	}
	e.log.Infof("round %d settled: key=%s snapshot=%v", e.roundNum, report.IdempotencyKey, report.Snapshot != nil)
	e.pending = nil
	e.attempts = 0
	e.roundNum++
	e.publishStatus("settled, collecting")
	e.publishVoters()
}

func (e *Engine) persistVote(v governance.Vote, total int64) {
	if e.db == nil {
		return
	}
	changes, _ := json.Marshal(v.RatioChanges)
	rec := models.VoteRecord{
		Session:      e.session,
		Round:        e.roundNum,
		VoterID:      v.VoterID,
		VotingPower:  v.VotingPower,
		RatioChanges: string(changes),
		CastAt:       v.Timestamp,
		TotalPower:   total,
	}
	if err := e.db.Create(&rec).Error; err != nil {
		e.log.Warnf("persist vote: %v", err)
	}
}

func (e *Engine) persistQuorum(res governance.TallyResult) {
	if e.db == nil {
		return
	}
	now := time.Now().UTC()
	rec := models.RoundRecord{
		Session:         e.session,
		Round:           e.roundNum,
		QuorumThreshold: e.round.QuorumThreshold(),
		TotalPower:      res.TotalVotingPower,
		VoterCount:      res.VoterCount,
		QuorumAt:        &now,
	}
	if err := e.db.Where(models.RoundRecord{Session: e.session, Round: e.roundNum}).
		Assign(rec).FirstOrCreate(&rec).Error; err != nil {
		e.log.Warnf("persist round: %v", err)
	}
}

func (e *Engine) persistSettlement(report governance.SettlementReport) {
	if e.db == nil {
		return
	}
	now := time.Now().UTC()
	var rec models.RoundRecord
	if err := e.db.Where("session = ? AND round = ?", e.session, e.roundNum).First(&rec).Error; err == nil {
		rec.SettledAt = &now
		rec.IdempotencyKey = report.IdempotencyKey
		if report.Snapshot != nil {
			rec.SnapshotID = report.Snapshot.SnapshotID
		}
		if err := e.db.Save(&rec).Error; err != nil {
			e.log.Warnf("persist settlement: %v", err)
		}
	}
	if report.Snapshot != nil {
		weights, _ := json.Marshal(report.Snapshot.TokenWeights)
		snap := models.SnapshotRecord{
			SnapshotID:   report.Snapshot.SnapshotID,
			SnapshotType: report.Snapshot.SnapshotType,
			Session:      e.session,
			Round:        e.roundNum,
			TokenWeights: string(weights),
			Hash:         report.Snapshot.Hash,
			CreatedBy:    report.Snapshot.CreatedBy,
			Timestamp:    report.Snapshot.Timestamp,
		}
		if err := e.db.Create(&snap).Error; err != nil {
			e.log.Warnf("persist snapshot: %v", err)
		}
	}
}

func (e *Engine) publishStatus(event string) {
	if e.tuiCh == nil {
		return
	}
	e.send(tui.RoundInfo{
		Session:    e.session,
		Round:      e.roundNum,
		Phase:      string(e.round.Phase()),
		TotalPower: e.round.TotalPower(),
		Quorum:     e.round.QuorumThreshold(),
		VoterCount: e.round.VoterCount(),
		LastEvent:  event,
		UpdatedAt:  time.Now(),
	})
}

func (e *Engine) publishVoters() {
	if e.tuiCh == nil {
		return
	}
	votes := e.round.CurrentVotes()
	total := e.round.TotalPower()
	voters := make([]tui.VoterInfo, 0, len(votes))
	for _, v := range votes {
		pct := 0.0
		if total > 0 {
			pct = float64(v.VotingPower) / float64(total) * 100
		}
		changes := ""
		for i, rc := range v.RatioChanges {
			if i > 0 {
				changes += " "
			}
			changes += fmt.Sprintf("%s→%d", rc.Token, rc.NewRatio)
		}
		display := ""
		if e.names != nil {
			display = e.names.Resolve(v.VoterID)
		}
		voters = append(voters, tui.VoterInfo{
			Account:      v.VoterID,
			Display:      display,
			Power:        v.VotingPower,
			PowerPercent: pct,
			Changes:      changes,
		})
	}
	e.send(voters)
}

func (e *Engine) publishWinners(res governance.TallyResult) {
	if e.tuiCh == nil {
		return
	}
	winners := make([]tui.WinnerInfo, 0, len(res.PerTokenWinner))
	for token, w := range res.PerTokenWinner {
		winners = append(winners, tui.WinnerInfo{
			Token:      token,
			Ratio:      w.WinningRatio,
			Power:      w.WinningPower,
			Candidates: w.CandidateCount,
		})
	}
	e.send(winners)
}

// send never blocks the engine loop on a slow TUI.
func (e *Engine) send(msg interface{}) {
	select {
	case e.tuiCh <- msg:
	default:
	}
}
