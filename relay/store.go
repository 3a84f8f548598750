package relay

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitfsorg/btcrelay-go/bitcoin"
)

// chainStore is the arena of accepted headers. Entries are keyed by
// (chain, height); a chain only stores heights from its StartHeight up and
// resolves lower heights through its parent chain. Callers serialize access.
type chainStore struct {
	entries map[entryKey]*ChainEntry
	byHash  map[chainhash.Hash]*ChainEntry
	main    map[uint32]*ChainEntry
	forks   map[ChainID]*Fork
	best    BestChain
	nextID  ChainID
	ready   bool
}

func newChainStore() *chainStore {
	return &chainStore{
		entries: make(map[entryKey]*ChainEntry),
		byHash:  make(map[chainhash.Hash]*ChainEntry),
		main:    make(map[uint32]*ChainEntry),
		forks:   make(map[ChainID]*Fork),
	}
}

// init stores the root header as the first entry of chain 0.
func (s *chainStore) init(h *bitcoin.BlockHeader, height uint32) *ChainEntry {
	e := &ChainEntry{
		Header: *h,
		Hash:   h.BlockHash(),
		Height: height,
		Chain:  0,
		Active: true,
	}
	s.forks[0] = &Fork{ID: 0, Parent: 0, StartHeight: height, TipHeight: height, TipHash: e.Hash}
	s.put(e)
	s.main[height] = e
	s.best = BestChain{Chain: 0, Height: height, Hash: e.Hash}
	s.nextID = 1
	s.ready = true
	return e
}

func (s *chainStore) put(e *ChainEntry) {
	s.entries[entryKey{e.Chain, e.Height}] = e
	s.byHash[e.Hash] = e
}

func (s *chainStore) remove(e *ChainEntry) {
	delete(s.entries, entryKey{e.Chain, e.Height})
	delete(s.byHash, e.Hash)
	if s.main[e.Height] == e {
		delete(s.main, e.Height)
	}
}

func (s *chainStore) lookup(hash chainhash.Hash) (*ChainEntry, bool) {
	e, ok := s.byHash[hash]
	return e, ok
}

// headerAt returns the best-chain entry at height.
func (s *chainStore) headerAt(height uint32) (*ChainEntry, error) {
	e, ok := s.main[height]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoHeaderAtHeight, height)
	}
	return e, nil
}

// ancestor returns the entry at height on e's chain of ancestors. It jumps
// between chains instead of walking one parent at a time.
func (s *chainStore) ancestor(e *ChainEntry, height uint32) (*ChainEntry, bool) {
	if e == nil || height > e.Height {
		return nil, false
	}
	if height == e.Height {
		return e, true
	}

	chain := e.Chain
	for {
		f, ok := s.forks[chain]
		if !ok {
			return nil, false
		}
		if height >= f.StartHeight {
			a, ok := s.entries[entryKey{chain, height}]
			return a, ok
		}
		if f.Parent == chain {
			return nil, false
		}
		chain = f.Parent
	}
}

func (s *chainStore) parentOf(e *ChainEntry) (*ChainEntry, bool) {
	return s.lookup(e.Header.PrevBlock)
}

// insert links a validated header under parent. It extends the parent's
// chain when the parent is that chain's tip and opens a new chain when the
// parent is buried, either on its own chain or on the best chain. It returns
// the new entry and whether a fork was opened.
func (s *chainStore) insert(h *bitcoin.BlockHeader, hash chainhash.Hash, parent *ChainEntry) (*ChainEntry, bool) {
	height := parent.Height + 1
	f := s.forks[parent.Chain]

	forked := f.TipHash != parent.Hash || (parent.Active && parent.Hash != s.best.Hash)
	if forked {
		f = &Fork{ID: s.nextID, Parent: parent.Chain, StartHeight: height}
		s.forks[f.ID] = f
		s.nextID++
	}

	e := &ChainEntry{Header: *h, Hash: hash, Height: height, Chain: f.ID}
	s.put(e)
	f.TipHeight, f.TipHash = height, hash

	if f.ID == s.best.Chain {
		e.Active = true
		s.main[height] = e
		s.best = BestChain{Chain: f.ID, Height: height, Hash: hash}
	}
	return e, forked
}

// forkList returns a copy of every tracked chain.
func (s *chainStore) forkList() []Fork {
	out := make([]Fork, 0, len(s.forks))
	for id := ChainID(0); id < s.nextID; id++ {
		if f, ok := s.forks[id]; ok {
			out = append(out, *f)
		}
	}
	return out
}
