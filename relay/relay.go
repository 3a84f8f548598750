// Package relay tracks a Bitcoin header chain from a trusted checkpoint and
// answers whether transactions are included in it.
//
// Headers are validated against their parent before they are stored. The
// relay keeps every branch it has seen within a configurable depth and
// follows the highest one; a strictly higher branch triggers a
// reorganization. Inclusion is checked with partial merkle proofs against
// the main chain only.
package relay

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/bitfsorg/btcrelay-go/bitcoin"
)

// DefaultMaxForkDepth is how far below the best tip a branch may diverge
// before it is pruned.
const DefaultMaxForkDepth = 144

// Metrics records relay activity. metrics.Relay implements it.
type Metrics interface {
	ObserveStoreHeader(err error, started time.Time)
	ObserveFork()
	ObserveReorg(depth uint32)
	SetBestHeight(height uint32)
	ObserveInclusion(err error, started time.Time)
}

type nopMetrics struct{}

func (nopMetrics) ObserveStoreHeader(error, time.Time) {}
func (nopMetrics) ObserveFork()                        {}
func (nopMetrics) ObserveReorg(uint32)                 {}
func (nopMetrics) SetBestHeight(uint32)                {}
func (nopMetrics) ObserveInclusion(error, time.Time)   {}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option { return func(r *Relay) { r.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option { return func(r *Relay) { r.metrics = m } }

// WithJournal persists accepted writes to j and replays it on New.
func WithJournal(j Journal) Option { return func(r *Relay) { r.journal = j } }

// WithEventHandler adds a handler for chain events.
func WithEventHandler(h EventHandler) Option {
	return func(r *Relay) { r.handlers = append(r.handlers, h) }
}

// WithMaxForkDepth sets how deep a branch may diverge before it is pruned.
func WithMaxForkDepth(n uint32) Option { return func(r *Relay) { r.maxForkDepth = n } }

// WithPruneDepth drops main-chain headers more than n blocks below the tip.
// Zero keeps them all.
func WithPruneDepth(n uint32) Option { return func(r *Relay) { r.pruneDepth = n } }

// Relay is a header relay for one network. It is safe for concurrent use;
// writes are serialized and reads see a consistent snapshot.
type Relay struct {
	writeMu sync.Mutex
	mu      sync.RWMutex

	params    Params
	store     *chainStore
	validator *validator

	logger   *zap.Logger
	metrics  Metrics
	journal  Journal
	handlers []EventHandler

	maxForkDepth uint32
	pruneDepth   uint32
}

// New creates a relay for params and replays its journal, if one is set.
func New(params Params, opts ...Option) (*Relay, error) {
	if params.PowLimit == nil || params.PowLimit.Sign() <= 0 {
		return nil, fmt.Errorf("%w: pow limit", bitcoin.ErrNilParam)
	}
	if !params.NoRetargeting && (params.RetargetInterval == 0 || params.TargetTimespan <= 0 || params.AdjustmentFactor <= 0) {
		return nil, fmt.Errorf("relay: invalid retarget parameters for %s", params.Name)
	}

	store := newChainStore()
	r := &Relay{
		params:       params,
		store:        store,
		validator:    &validator{params: params, store: store},
		logger:       zap.NewNop(),
		metrics:      nopMetrics{},
		journal:      nopJournal{},
		maxForkDepth: DefaultMaxForkDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("relay").With(zap.String("network", params.Name))

	if err := r.replay(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Relay) replay() error {
	n := 0
	err := r.journal.Replay(func(rec Record) error {
		var err error
		if rec.Root {
			_, err = r.initialize(rec.Raw, rec.Height, false)
		} else {
			_, _, err = r.storeHeader(rec.Raw, false)
		}
		if err != nil && !errors.Is(err, ErrDuplicateBlock) && !errors.Is(err, ErrStaleFork) {
			return fmt.Errorf("%w: record %d: %w", ErrCorruptJournal, n, err)
		}
		n++
		return nil
	})
	if err != nil {
		return err
	}
	if n > 0 {
		best := r.store.best
		r.logger.Info("replayed journal",
			zap.Int("records", n),
			zap.Uint32("height", best.Height),
			zap.Stringer("hash", best.Hash))
		r.metrics.SetBestHeight(best.Height)
	}
	return nil
}

// Params returns the consensus parameters the relay enforces.
func (r *Relay) Params() Params { return r.params }

// Initialize sets the trusted checkpoint the chain grows from. The header is
// not checked for proof of work.
func (r *Relay) Initialize(rawHeader []byte, height uint32) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	e, err := r.initialize(rawHeader, height, true)
	if err != nil {
		r.logger.Warn("initialize rejected", zap.Error(err))
		return err
	}
	r.logger.Info("initialized",
		zap.Uint32("height", e.Height),
		zap.Stringer("hash", e.Hash))
	r.metrics.SetBestHeight(e.Height)
	return nil
}

func (r *Relay) initialize(raw []byte, height uint32, live bool) (*ChainEntry, error) {
	h, err := bitcoin.ParseBlockHeader(raw)
	if err != nil {
		return nil, err
	}
	if height == math.MaxUint32 {
		return nil, fmt.Errorf("%w: root height %d leaves no room for children", ErrMalformedInput, height)
	}

	r.mu.RLock()
	ready := r.store.ready
	r.mu.RUnlock()
	if ready {
		return nil, ErrAlreadyInitialized
	}

	if live {
		if err := r.journal.AppendRoot(raw, height); err != nil {
			return nil, fmt.Errorf("relay: journal root: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.init(h, height), nil
}

// StoreBlockHeader validates a raw 80-byte header and adds it to the chain.
// It returns the height the header was stored at. A header that is already
// tracked returns its height together with ErrDuplicateBlock.
func (r *Relay) StoreBlockHeader(rawHeader []byte) (uint32, error) {
	started := time.Now()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	height, events, err := r.storeHeader(rawHeader, true)
	r.metrics.ObserveStoreHeader(err, started)
	switch {
	case errors.Is(err, ErrDuplicateBlock):
		r.logger.Debug("duplicate header", zap.Uint32("height", height))
	case err != nil:
		r.logger.Warn("header rejected", zap.Error(err))
	}

	r.dispatch(events)
	return height, err
}

// storeHeader validates under the read lock, journals, then applies under
// the write lock. Callers hold writeMu, so the state cannot change between
// the two phases.
func (r *Relay) storeHeader(raw []byte, live bool) (uint32, []Event, error) {
	h, err := bitcoin.ParseBlockHeader(raw)
	if err != nil {
		return 0, nil, err
	}
	hash := h.BlockHash()

	r.mu.RLock()
	if !r.store.ready {
		r.mu.RUnlock()
		return 0, nil, ErrNotInitialized
	}
	if e, ok := r.store.lookup(hash); ok {
		r.mu.RUnlock()
		return e.Height, nil, fmt.Errorf("%w: %s", ErrDuplicateBlock, hash)
	}
	parent, err := r.validator.check(h, hash)
	if err == nil {
		err = r.checkBranch(parent)
	}
	r.mu.RUnlock()
	if err != nil {
		return 0, nil, err
	}

	if live {
		if err := r.journal.AppendHeader(raw); err != nil {
			return 0, nil, fmt.Errorf("relay: journal header: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prevBest := r.store.best
	e, forked := r.store.insert(h, hash, parent)
	log := r.logger.With(zap.Uint32("height", e.Height), zap.Stringer("hash", e.Hash))

	var events []Event
	if forked {
		events = append(events, ForkDetected{Chain: e.Chain, Height: e.Height, Hash: e.Hash})
		if live {
			log.Info("fork detected", zap.Uint32("chain", uint32(e.Chain)))
			r.metrics.ObserveFork()
		}
	}

	if reorg, ok := r.store.reorgIfLonger(e.Chain); ok {
		events = append(events, *reorg)
		if live {
			log.Info("chain reorganized",
				zap.Stringer("old_tip", reorg.OldTip),
				zap.Uint32("old_height", reorg.OldHeight),
				zap.Uint32("fork_height", reorg.ForkHeight))
			r.metrics.ObserveReorg(reorg.OldHeight - reorg.ForkHeight)
		}
	} else if r.store.best.Hash != prevBest.Hash {
		events = append(events, ChainExtended{Height: e.Height, Hash: e.Hash})
		if live {
			log.Debug("chain extended")
		}
	} else if live {
		log.Debug("side chain extended", zap.Uint32("chain", uint32(e.Chain)))
	}

	r.prune(log)
	if live {
		r.metrics.SetBestHeight(r.store.best.Height)
	}

	if !live {
		events = nil
	}
	return e.Height, events, nil
}

// forkFloor is the lowest height a side chain may branch off the best
// chain at.
func (r *Relay) forkFloor() uint32 {
	best := r.store.best.Height
	limit := r.maxForkDepth
	if r.pruneDepth > 0 {
		limit = min(limit, r.pruneDepth)
	}
	if best <= limit {
		return 0
	}
	return best - limit
}

// checkBranch rejects a child of parent that would open or extend a side
// chain pruned on insert.
func (r *Relay) checkBranch(parent *ChainEntry) error {
	floor := r.forkFloor()
	if floor == 0 {
		return nil
	}
	at, ok := r.store.branchPoint(parent)
	if !ok || at < floor {
		return fmt.Errorf("%w: branches at %d, floor %d", ErrStaleFork, at, floor)
	}
	return nil
}

func (r *Relay) prune(log *zap.Logger) {
	best := r.store.best.Height

	if floor := r.forkFloor(); floor > 0 {
		if pruned := r.store.pruneForks(floor); len(pruned) > 0 {
			log.Debug("pruned forks", zap.Int("count", len(pruned)))
		}
	}

	if r.pruneDepth > 0 && best > r.pruneDepth {
		if n := r.store.pruneMain(best - r.pruneDepth); n > 0 {
			log.Debug("pruned headers", zap.Int("count", n))
		}
	}
}

func (r *Relay) dispatch(events []Event) {
	for _, ev := range events {
		for _, h := range r.handlers {
			h.HandleEvent(ev)
		}
	}
}

// IsInitialized reports whether the checkpoint has been set.
func (r *Relay) IsInitialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.ready
}

// BestBlockHeight returns the height of the best chain's tip, or zero
// before initialization.
func (r *Relay) BestBlockHeight() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.best.Height
}

// BestBlock returns the best chain's tip.
func (r *Relay) BestBlock() (BestChain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.store.ready {
		return BestChain{}, ErrNotInitialized
	}
	return r.store.best, nil
}

// BlockHash returns the hash of the main-chain header at height.
func (r *Relay) BlockHash(height uint32) (chainhash.Hash, error) {
	e, err := r.HeaderAt(height)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return e.Hash, nil
}

// HeaderAt returns the main-chain entry at height.
func (r *Relay) HeaderAt(height uint32) (ChainEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.store.headerAt(height)
	if err != nil {
		return ChainEntry{}, err
	}
	return *e, nil
}

// HeaderByHash returns any tracked entry, on the main chain or a fork.
func (r *Relay) HeaderByHash(hash chainhash.Hash) (ChainEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.store.lookup(hash)
	if !ok {
		return ChainEntry{}, fmt.Errorf("%w: %s", ErrUnknownHash, hash)
	}
	return *e, nil
}

// Forks returns every tracked chain ordered by ID, the main chain included.
func (r *Relay) Forks() []Fork {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.forkList()
}

// Close closes the journal.
func (r *Relay) Close() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.journal.Close()
}
