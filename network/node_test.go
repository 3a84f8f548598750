package network

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/btcrelay-go/bitcoin"
)

const (
	regtestBits = 0x207fffff
	rootHeight  = 100
	rootTime    = 1_700_000_000
)

// mine searches for a nonce that satisfies the header's bits.
func mine(t *testing.T, prev *bitcoin.BlockHeader, root chainhash.Hash, tag byte) *bitcoin.BlockHeader {
	t.Helper()
	h := &bitcoin.BlockHeader{Version: 4, MerkleRoot: root, Timestamp: rootTime, Bits: regtestBits}
	if prev != nil {
		h.PrevBlock = prev.BlockHash()
		h.Timestamp = prev.Timestamp + 600
	}
	if root == (chainhash.Hash{}) {
		h.MerkleRoot[0] = tag
	}
	for !h.CheckProofOfWork() {
		h.Nonce++
		require.NotZero(t, h.Nonce, "nonce space exhausted")
	}
	return h
}

// fakeNode serves an in-memory best chain starting at rootHeight.
type fakeNode struct {
	mu      sync.Mutex
	chain   []*bitcoin.BlockHeader
	known   map[chainhash.Hash]*bitcoin.BlockHeader
	txBlock map[chainhash.Hash]chainhash.Hash
	proofs  map[chainhash.Hash][]byte
	rawTxs  map[chainhash.Hash][]byte
	calls   int
}

func newFakeNode(t *testing.T, n int) *fakeNode {
	t.Helper()
	f := &fakeNode{
		known:   make(map[chainhash.Hash]*bitcoin.BlockHeader),
		txBlock: make(map[chainhash.Hash]chainhash.Hash),
		proofs:  make(map[chainhash.Hash][]byte),
		rawTxs:  make(map[chainhash.Hash][]byte),
	}
	f.push(mine(t, nil, chainhash.Hash{}, 0))
	f.grow(t, n, 0)
	return f
}

func (f *fakeNode) push(h *bitcoin.BlockHeader) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chain = append(f.chain, h)
	f.known[h.BlockHash()] = h
}

// grow mines n headers on the node's tip.
func (f *fakeNode) grow(t *testing.T, n int, tag byte) {
	t.Helper()
	for range n {
		f.push(mine(t, f.tip(), chainhash.Hash{}, tag))
	}
}

// reorg replaces everything above height with n fresh headers.
func (f *fakeNode) reorg(t *testing.T, height uint32, n int, tag byte) {
	t.Helper()
	f.mu.Lock()
	f.chain = f.chain[:height-rootHeight+1]
	f.mu.Unlock()
	f.grow(t, n, tag)
}

// confirm mines a block committing to txids and records a proof for each.
func (f *fakeNode) confirm(t *testing.T, txids []chainhash.Hash, raw map[chainhash.Hash][]byte) *bitcoin.BlockHeader {
	t.Helper()
	block := mine(t, f.tip(), bitcoin.MerkleRoot(txids), 0)
	f.push(block)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, txid := range txids {
		match := make([]bool, len(txids))
		match[i] = true
		mp, err := bitcoin.NewMerkleProof(*block, txids, match)
		require.NoError(t, err)
		f.txBlock[txid] = block.BlockHash()
		f.proofs[txid] = mp.Serialize()
		if b, ok := raw[txid]; ok {
			f.rawTxs[txid] = b
		}
	}
	return block
}

func (f *fakeNode) tip() *bitcoin.BlockHeader {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chain[len(f.chain)-1]
}

func (f *fakeNode) height() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return rootHeight + uint32(len(f.chain)) - 1
}

func (f *fakeNode) GetBlockCount(context.Context) (uint32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.height(), nil
}

func (f *fakeNode) GetBlockHash(_ context.Context, height uint32) (chainhash.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := int(height) - rootHeight
	if i < 0 || i >= len(f.chain) {
		return chainhash.Hash{}, fmt.Errorf("network: %w", &rpcError{Code: -8, Message: "Block height out of range"})
	}
	return f.chain[i].BlockHash(), nil
}

func (f *fakeNode) GetBlockHeader(_ context.Context, hash chainhash.Hash) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.known[hash]
	if !ok {
		return nil, fmt.Errorf("network: %w", &rpcError{Code: -5, Message: "Block not found"})
	}
	return h.Serialize(), nil
}

func (f *fakeNode) GetTxBlockHash(_ context.Context, txid chainhash.Hash) (chainhash.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash, ok := f.txBlock[txid]
	if !ok {
		return chainhash.Hash{}, ErrTxNotFound
	}
	return hash, nil
}

func (f *fakeNode) GetTxOutProof(_ context.Context, txid, _ chainhash.Hash) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	proof, ok := f.proofs[txid]
	if !ok {
		return nil, ErrTxNotFound
	}
	return proof, nil
}

func (f *fakeNode) GetRawTransaction(_ context.Context, txid chainhash.Hash) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.rawTxs[txid]
	if !ok {
		return nil, ErrTxNotFound
	}
	return raw, nil
}

// mockNode is a testify mock for failure paths.
type mockNode struct {
	mock.Mock
}

func (m *mockNode) GetBlockCount(ctx context.Context) (uint32, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint32), args.Error(1)
}

func (m *mockNode) GetBlockHash(ctx context.Context, height uint32) (chainhash.Hash, error) {
	args := m.Called(ctx, height)
	return args.Get(0).(chainhash.Hash), args.Error(1)
}

func (m *mockNode) GetBlockHeader(ctx context.Context, hash chainhash.Hash) ([]byte, error) {
	args := m.Called(ctx, hash)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *mockNode) GetTxBlockHash(ctx context.Context, txid chainhash.Hash) (chainhash.Hash, error) {
	args := m.Called(ctx, txid)
	return args.Get(0).(chainhash.Hash), args.Error(1)
}

func (m *mockNode) GetTxOutProof(ctx context.Context, txid, blockHash chainhash.Hash) ([]byte, error) {
	args := m.Called(ctx, txid, blockHash)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *mockNode) GetRawTransaction(ctx context.Context, txid chainhash.Hash) ([]byte, error) {
	args := m.Called(ctx, txid)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

// syncRecorder captures ObserveSync calls.
type syncRecorder struct {
	mu      sync.Mutex
	runs    int
	errs    int
	headers int
}

func (s *syncRecorder) ObserveSync(err error, headers int, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	s.headers += headers
	if err != nil {
		s.errs++
	}
}

var (
	_ Node = (*fakeNode)(nil)
	_ Node = (*mockNode)(nil)
)
