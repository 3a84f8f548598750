package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/bitfsorg/btcrelay-go/bitcoin"
	"github.com/bitfsorg/btcrelay-go/relay"
)

// DefaultMaxBackfill bounds how far back Sync walks the node's chain to
// reconnect after the node reorganized away from the relay's tip.
const DefaultMaxBackfill = relay.DefaultMaxForkDepth

// SyncMetrics records relayer sync runs.
type SyncMetrics interface {
	ObserveSync(err error, headers int, started time.Time)
}

type nopSyncMetrics struct{}

func (nopSyncMetrics) ObserveSync(error, int, time.Time) {}

// Inclusion is the outcome of a successful VerifyTx.
type Inclusion struct {
	TxID          chainhash.Hash
	BlockHash     chainhash.Hash
	BlockHeight   uint32
	Confirmations uint32
	Proof         []byte
}

// Relayer pumps headers from a full node into a relay and answers
// inclusion queries with node-supplied proofs checked against the
// relay's headers. The node is trusted for availability only.
type Relayer struct {
	node        Node
	relay       *relay.Relay
	logger      *zap.Logger
	metrics     SyncMetrics
	maxBackfill uint32
}

// RelayerOption configures a Relayer.
type RelayerOption func(*Relayer)

// WithRelayerLogger sets the relayer's logger.
func WithRelayerLogger(l *zap.Logger) RelayerOption {
	return func(r *Relayer) { r.logger = l }
}

// WithSyncMetrics records sync runs on m.
func WithSyncMetrics(m SyncMetrics) RelayerOption {
	return func(r *Relayer) { r.metrics = m }
}

// WithMaxBackfill sets how many ancestors Sync fetches before giving up
// on reconnecting a diverged node chain.
func WithMaxBackfill(n uint32) RelayerOption {
	return func(r *Relayer) { r.maxBackfill = n }
}

// NewRelayer creates a Relayer feeding rl from node.
func NewRelayer(node Node, rl *relay.Relay, opts ...RelayerOption) *Relayer {
	r := &Relayer{
		node:        node,
		relay:       rl,
		logger:      zap.NewNop(),
		metrics:     nopSyncMetrics{},
		maxBackfill: DefaultMaxBackfill,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("relayer")
	return r
}

// Initialize seeds the relay with the node's main-chain header at height.
func (r *Relayer) Initialize(ctx context.Context, height uint32) error {
	hash, err := r.node.GetBlockHash(ctx, height)
	if err != nil {
		return fmt.Errorf("network: block hash at %d: %w", height, err)
	}
	raw, err := r.node.GetBlockHeader(ctx, hash)
	if err != nil {
		return fmt.Errorf("network: header %s: %w", hash, err)
	}
	if err := r.relay.Initialize(raw, height); err != nil {
		return err
	}
	r.logger.Info("relay initialized from node",
		zap.Uint32("height", height), zap.Stringer("hash", hash))
	return nil
}

// Sync submits the node's headers above the relay's best height until the
// relay reaches the node's tip. It returns the number of newly stored
// headers. When the node's chain has diverged from the relay's best chain,
// Sync walks the node's chain back to a header the relay knows and submits
// the missing ancestors first.
func (r *Relayer) Sync(ctx context.Context) (stored int, err error) {
	started := time.Now()
	defer func() { r.metrics.ObserveSync(err, stored, started) }()

	if !r.relay.IsInitialized() {
		return 0, relay.ErrNotInitialized
	}

	tip, err := r.node.GetBlockCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("network: block count: %w", err)
	}

	for height := r.relay.BestBlockHeight() + 1; height <= tip; height++ {
		if err = ctx.Err(); err != nil {
			return stored, err
		}
		hash, err := r.node.GetBlockHash(ctx, height)
		if err != nil {
			return stored, fmt.Errorf("network: block hash at %d: %w", height, err)
		}
		raw, err := r.node.GetBlockHeader(ctx, hash)
		if err != nil {
			return stored, fmt.Errorf("network: header %s: %w", hash, err)
		}
		n, err := r.submit(ctx, raw)
		stored += n
		if err != nil {
			return stored, fmt.Errorf("network: submit header %d: %w", height, err)
		}
	}

	if stored > 0 {
		r.logger.Info("synced headers",
			zap.Int("stored", stored),
			zap.Uint32("best_height", r.relay.BestBlockHeight()),
			zap.Uint32("node_height", tip))
	}
	return stored, nil
}

// submit stores raw, backfilling its missing ancestors on an orphan.
func (r *Relayer) submit(ctx context.Context, raw []byte) (int, error) {
	_, err := r.relay.StoreBlockHeader(raw)
	switch {
	case err == nil:
		return 1, nil
	case errors.Is(err, relay.ErrDuplicateBlock):
		return 0, nil
	case errors.Is(err, relay.ErrOrphanBlock):
		n, err := r.backfill(ctx, raw)
		return n, staleAsMismatch(err)
	default:
		return 0, staleAsMismatch(err)
	}
}

// staleAsMismatch reports a node branch the relay no longer tracks as a
// chain mismatch.
func staleAsMismatch(err error) error {
	if errors.Is(err, relay.ErrStaleFork) {
		return fmt.Errorf("%w: %w", ErrChainMismatch, err)
	}
	return err
}

func (r *Relayer) backfill(ctx context.Context, raw []byte) (int, error) {
	h, err := bitcoin.ParseBlockHeader(raw)
	if err != nil {
		return 0, err
	}

	pending := [][]byte{raw}
	prev := h.PrevBlock
	for {
		if _, err := r.relay.HeaderByHash(prev); err == nil {
			break
		}
		if uint32(len(pending)) > r.maxBackfill {
			return 0, fmt.Errorf("%w: no known ancestor within %d headers", ErrChainMismatch, r.maxBackfill)
		}
		parentRaw, err := r.node.GetBlockHeader(ctx, prev)
		if err != nil {
			return 0, fmt.Errorf("network: header %s: %w", prev, err)
		}
		parent, err := bitcoin.ParseBlockHeader(parentRaw)
		if err != nil {
			return 0, err
		}
		pending = append(pending, parentRaw)
		prev = parent.PrevBlock
	}

	r.logger.Info("backfilling diverged node chain",
		zap.Int("headers", len(pending)), zap.Stringer("ancestor", prev))

	stored := 0
	for i := len(pending) - 1; i >= 0; i-- {
		_, err := r.relay.StoreBlockHeader(pending[i])
		if errors.Is(err, relay.ErrDuplicateBlock) {
			continue
		}
		if err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

// Run calls Sync every interval until ctx is done. Sync failures are
// logged and retried on the next tick.
func (r *Relayer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sync(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// VerifyTx checks that txid is committed to a main-chain block the relay
// holds, buried under at least required confirmations. The block and the
// proof come from the node; only the relay's headers are trusted.
func (r *Relayer) VerifyTx(ctx context.Context, txid chainhash.Hash, required uint32) (*Inclusion, error) {
	entry, proof, err := r.locate(ctx, txid)
	if err != nil {
		return nil, err
	}
	if err := r.relay.VerifyTransactionInclusion(txid, entry.Height, proof, required, false); err != nil {
		return nil, err
	}
	return r.inclusion(txid, entry, proof), nil
}

// VerifyPayment is VerifyTx followed by validating the transaction's
// outputs against exp.
func (r *Relayer) VerifyPayment(ctx context.Context, txid chainhash.Hash, required uint32, exp relay.Expectation) (*Inclusion, *bitcoin.Transaction, error) {
	entry, proof, err := r.locate(ctx, txid)
	if err != nil {
		return nil, nil, err
	}
	rawTx, err := r.node.GetRawTransaction(ctx, txid)
	if err != nil {
		return nil, nil, fmt.Errorf("network: raw transaction %s: %w", txid, err)
	}
	tx, err := r.relay.VerifyAndValidateTransaction(rawTx, entry.Height, proof, required, false, exp)
	if err != nil {
		return nil, nil, err
	}
	return r.inclusion(txid, entry, proof), tx, nil
}

func (r *Relayer) locate(ctx context.Context, txid chainhash.Hash) (relay.ChainEntry, []byte, error) {
	blockHash, err := r.node.GetTxBlockHash(ctx, txid)
	if err != nil {
		return relay.ChainEntry{}, nil, fmt.Errorf("network: locate %s: %w", txid, err)
	}
	entry, err := r.relay.HeaderByHash(blockHash)
	if err != nil {
		return relay.ChainEntry{}, nil, fmt.Errorf("network: block %s: %w", blockHash, err)
	}
	if !entry.Active {
		return relay.ChainEntry{}, nil, fmt.Errorf("%w: block %s is off the relay's best chain", ErrChainMismatch, blockHash)
	}
	proof, err := r.node.GetTxOutProof(ctx, txid, blockHash)
	if err != nil {
		return relay.ChainEntry{}, nil, fmt.Errorf("network: proof for %s: %w", txid, err)
	}
	return entry, proof, nil
}

func (r *Relayer) inclusion(txid chainhash.Hash, entry relay.ChainEntry, proof []byte) *Inclusion {
	return &Inclusion{
		TxID:          txid,
		BlockHash:     entry.Hash,
		BlockHeight:   entry.Height,
		Confirmations: r.relay.BestBlockHeight() - entry.Height + 1,
		Proof:         proof,
	}
}
