// Package chain implements the outbound log collaborators: the
// settlement contract write and the snapshot publish, both delivered as
// transactions broadcast to the append-only log.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ratio-governance/internal/governance"
	"ratio-governance/internal/logger"

	rpccoretypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
)

// TxBroadcaster is the slice of the rpc client the publishers need;
// satisfied by *rpchttp.HTTP.
type TxBroadcaster interface {
	BroadcastTxSync(ctx context.Context, tx cmttypes.Tx) (*rpccoretypes.ResultBroadcastTx, error)
}

// contractUpdateMsg is the wire shape of a ratio-update transaction.
// Ratios are ordered to match the contract's six integer parameters;
// the idempotency key lets the contract dedupe a replayed write.
type contractUpdateMsg struct {
	Type           string    `json:"type"`
	ContractID     string    `json:"contractId"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Tokens         []string  `json:"tokens"`
	Ratios         []int     `json:"ratios"`
	Timestamp      time.Time `json:"timestamp"`
}

// ContractTxClient writes winning ratios to the settlement contract.
type ContractTxClient struct {
	client     TxBroadcaster
	contractID string
	log        *logger.Logger
}

var _ governance.ContractClient = (*ContractTxClient)(nil)

func NewContractTxClient(client TxBroadcaster, contractID string, log *logger.Logger) *ContractTxClient {
	return &ContractTxClient{client: client, contractID: contractID, log: log}
}

// UpdateRatios broadcasts the ratio update and treats CheckTx rejection
// or timeout as failure. A timed-out write is reported failed; the
// idempotency key makes the caller's retry safe against double-apply.
func (c *ContractTxClient) UpdateRatios(ctx context.Context, idempotencyKey string, ratios []governance.TokenRatio) error {
	msg := contractUpdateMsg{
		Type:           "CONTRACT_RATIO_UPDATE",
		ContractID:     c.contractID,
		IdempotencyKey: idempotencyKey,
		Tokens:         make([]string, len(ratios)),
		Ratios:         make([]int, len(ratios)),
		Timestamp:      time.Now().UTC(),
	}
	for i, tr := range ratios {
		msg.Tokens[i] = tr.Token
		msg.Ratios[i] = tr.Ratio
	}
	tx, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode contract update: %w", err)
	}

	res, err := c.client.BroadcastTxSync(ctx, tx)
	if err != nil {
		return fmt.Errorf("broadcast contract update: %w", err)
	}
	if res.Code != 0 {
		return fmt.Errorf("contract update rejected: code=%d log=%q", res.Code, res.Log)
	}
	c.log.Infof("contract update broadcast: key=%s hash=%X", idempotencyKey, res.Hash)
	return nil
}

// snapshotMsg wraps a snapshot for publication to the log.
type snapshotMsg struct {
	Type string `json:"type"`
	governance.Snapshot
}

// LogSnapshotPublisher publishes settled-ratio snapshots to the log.
type LogSnapshotPublisher struct {
	client TxBroadcaster
	log    *logger.Logger
}

var _ governance.SnapshotPublisher = (*LogSnapshotPublisher)(nil)

func NewLogSnapshotPublisher(client TxBroadcaster, log *logger.Logger) *LogSnapshotPublisher {
	return &LogSnapshotPublisher{client: client, log: log}
}

func (p *LogSnapshotPublisher) Publish(ctx context.Context, snap governance.Snapshot) error {
	tx, err := json.Marshal(snapshotMsg{Type: "SNAPSHOT", Snapshot: snap})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	res, err := p.client.BroadcastTxSync(ctx, tx)
	if err != nil {
		return fmt.Errorf("broadcast snapshot: %w", err)
	}
	if res.Code != 0 {
		return fmt.Errorf("snapshot rejected: code=%d log=%q", res.Code, res.Log)
	}
	p.log.Infof("snapshot published: id=%s hash=%X", snap.SnapshotID, res.Hash)
	return nil
}
