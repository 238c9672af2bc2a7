// Package ingest subscribes to the append-only log and feeds validated
// votes to the engine. It owns reconnect and watchdog behavior for the
// websocket subscription; vote semantics live in the governance
// package.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"ratio-governance/internal/config"
	"ratio-governance/internal/governance"
	"ratio-governance/internal/logger"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	rpccoretypes "github.com/cometbft/cometbft/rpc/core/types"
)

const (
	subscriberID = "ratio-governance"

	// voteQuery filters the event stream down to ratio ballots.
	voteQuery = "tm.event = 'Tx' AND govern.type = '" + governance.VoteMessageType + "'"

	// payloadAttr carries the base64-encoded vote JSON.
	payloadAttr = "govern.payload"

	healthInterval = 30 * time.Second
	reconnectPause = 3 * time.Second
)

// Sink receives validated votes; satisfied by *engine.Engine.
type Sink interface {
	Submit(v governance.Vote)
}

// Verifier checks vote authenticity before a vote reaches round state.
// Signature verification happens upstream in this deployment, so the
// default verifier accepts everything; a real one can be plugged in.
type Verifier interface {
	Verify(payload []byte, v governance.Vote) error
}

// AcceptAll is the pass-through Verifier.
type AcceptAll struct{}

func (AcceptAll) Verify([]byte, governance.Vote) error { return nil }

// Ingester maintains the log subscription.
type Ingester struct {
	cfg    config.Config
	sink   Sink
	verify Verifier
	log    *logger.Logger

	client *rpchttp.HTTP
}

func New(cfg config.Config, sink Sink, verify Verifier, log *logger.Logger) *Ingester {
	if verify == nil {
		verify = AcceptAll{}
	}
	return &Ingester{cfg: cfg, sink: sink, verify: verify, log: log}
}

// Run keeps the subscription alive until the context is cancelled,
// reconnecting on failure.
func (i *Ingester) Run(ctx context.Context) error {
	for {
		if err := i.runLoop(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !strings.Contains(err.Error(), "reconnect:") {
				i.log.Warnf("ingest loop error: %v, reconnecting...", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(reconnectPause):
			}
		}
	}
}

func (i *Ingester) runLoop(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := i.cleanupClient(loopCtx); err != nil {
		i.log.Warnf("client cleanup: %v", err)
	}
	if err := i.initClient(); err != nil {
		return err
	}

	voteCh, err := i.client.Subscribe(loopCtx, subscriberID, voteQuery)
	if err != nil {
		return fmt.Errorf("subscribe votes: %w", err)
	}
	i.log.Infof("subscribed to vote stream: %s", voteQuery)

	go i.consume(loopCtx, voteCh)

	return i.healthLoop(loopCtx)
}

func (i *Ingester) cleanupClient(ctx context.Context) error {
	if i.client == nil {
		return nil
	}
	unsubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_ = i.client.UnsubscribeAll(unsubCtx, subscriberID)
	_ = i.client.Stop()
	i.client = nil
	return nil
}

func (i *Ingester) initClient() error {
	client, err := rpchttp.New(i.cfg.RPCURL, i.cfg.WSURL())
	if err != nil {
		return fmt.Errorf("create rpc client: %w", err)
	}
	if err := client.Start(); err != nil {
		return fmt.Errorf("start rpc client: %w", err)
	}
	i.client = client
	return nil
}

func (i *Ingester) consume(ctx context.Context, ch <-chan rpccoretypes.ResultEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				i.log.Warnf("vote event channel closed")
				return
			}
			i.handleEvent(ev)
		}
	}
}

func (i *Ingester) handleEvent(ev rpccoretypes.ResultEvent) {
	payload, err := DecodeVotePayload(ev.Events)
	if err != nil {
		i.log.Warnf("vote event without usable payload: %v", err)
		return
	}
	vote, err := governance.ParseVote(payload)
	if err != nil {
		// Malformed votes are an expected outcome of untrusted input:
		// log and discard, never crash ingestion.
		var verr *governance.ValidationError
		if errors.As(err, &verr) {
			i.log.Warnf("discarding invalid vote: %v", verr)
		} else {
			i.log.Warnf("discarding vote: %v", err)
		}
		return
	}
	if err := i.verify.Verify(payload, vote); err != nil {
		i.log.Warnf("discarding unverified vote from %s: %v", vote.VoterID, err)
		return
	}
	i.sink.Submit(vote)
}

// healthLoop pings the node periodically. Quiet periods with no votes
// are normal, so unlike a block monitor the watchdog checks endpoint
// health rather than event recency.
func (i *Ingester) healthLoop(ctx context.Context) error {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := i.client.Status(statusCtx)
			cancel()
			if err != nil {
				i.log.Warnf("node health check failed, reconnecting: %v", err)
				return fmt.Errorf("reconnect: health check: %w", err)
			}
		}
	}
}

// Close stops the underlying client.
func (i *Ingester) Close() error {
	if i.client != nil {
		return i.client.Stop()
	}
	return nil
}

// DecodeVotePayload extracts the base64 vote JSON from event
// attributes. Attribute keys are matched case-insensitively since tag
// casing varies across node versions.
func DecodeVotePayload(attrs map[string][]string) ([]byte, error) {
	if attrs == nil {
		return nil, fmt.Errorf("event has no attributes")
	}
	for k, vals := range attrs {
		if !strings.EqualFold(k, payloadAttr) || len(vals) == 0 {
			continue
		}
		raw := strings.TrimSpace(vals[0])
		if raw == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			// Some publishers emit the JSON unencoded.
			if strings.HasPrefix(raw, "{") {
				return []byte(raw), nil
			}
			return nil, fmt.Errorf("decode %s: %w", payloadAttr, err)
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("attribute %s not present", payloadAttr)
}
