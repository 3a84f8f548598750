package relay

import (
	"encoding/hex"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/btcrelay-go/bitcoin"
)

const (
	regtestBits = 0x207fffff
	easyBits    = 0x2000ffff
	rootHeight  = 100
	rootTime    = 1_700_000_000
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func mustHash(t *testing.T, s string) chainhash.Hash {
	t.Helper()
	h, err := chainhash.NewHashFromStr(s)
	require.NoError(t, err)
	return *h
}

func regtestParams() Params {
	return NewParams(&chaincfg.RegressionNetParams)
}

// retargetParams adjusts every four blocks of ten minutes. The limit is
// far above easyBits so targets can grow during tests.
func retargetParams() Params {
	return Params{
		Name:             "retarget-test",
		Net:              &chaincfg.RegressionNetParams,
		PowLimit:         bitcoin.CompactToBig(regtestBits),
		PowLimitBits:     regtestBits,
		RetargetInterval: 4,
		TargetTimespan:   4 * 600,
		AdjustmentFactor: 4,
	}
}

// mine searches for a nonce that satisfies bits. tag varies the merkle root
// so sibling headers get distinct hashes.
func mine(t *testing.T, prev chainhash.Hash, ts, bits uint32, tag byte) *bitcoin.BlockHeader {
	t.Helper()
	h := &bitcoin.BlockHeader{
		Version:   4,
		PrevBlock: prev,
		Timestamp: ts,
		Bits:      bits,
	}
	h.MerkleRoot[0] = tag
	h.MerkleRoot[1] = byte(ts)
	for !h.CheckProofOfWork() {
		h.Nonce++
		require.NotZero(t, h.Nonce, "nonce space exhausted")
	}
	return h
}

// unmined returns a header that fails its own proof of work.
func unmined(t *testing.T, prev chainhash.Hash, ts, bits uint32) *bitcoin.BlockHeader {
	t.Helper()
	h := &bitcoin.BlockHeader{Version: 4, PrevBlock: prev, Timestamp: ts, Bits: bits}
	for h.CheckProofOfWork() {
		h.Nonce++
	}
	return h
}

func newTestRelay(t *testing.T, params Params, bits uint32, opts ...Option) (*Relay, *bitcoin.BlockHeader) {
	t.Helper()
	r, err := New(params, opts...)
	require.NoError(t, err)

	root := mine(t, chainhash.Hash{}, rootTime, bits, 0)
	require.NoError(t, r.Initialize(root.Serialize(), rootHeight))
	return r, root
}

// extend mines and stores n headers on top of parent, ten minutes apart.
func extend(t *testing.T, r *Relay, parent *bitcoin.BlockHeader, n int, tag byte) []*bitcoin.BlockHeader {
	t.Helper()
	out := make([]*bitcoin.BlockHeader, 0, n)
	for range n {
		h := mine(t, parent.BlockHash(), parent.Timestamp+600, parent.Bits, tag)
		_, err := r.StoreBlockHeader(h.Serialize())
		require.NoError(t, err)
		out = append(out, h)
		parent = h
	}
	return out
}

// recorder collects events in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandleEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) HandleEvent(e Event) { m.Called(e) }

// fakeMetrics counts calls instead of exporting them.
type fakeMetrics struct {
	mu         sync.Mutex
	stored     int
	storeErrs  int
	forks      int
	reorgs     []uint32
	best       uint32
	inclusions int
}

func (m *fakeMetrics) ObserveStoreHeader(err error, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored++
	if err != nil {
		m.storeErrs++
	}
}

func (m *fakeMetrics) ObserveFork() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forks++
}

func (m *fakeMetrics) ObserveReorg(depth uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reorgs = append(m.reorgs, depth)
}

func (m *fakeMetrics) SetBestHeight(h uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.best = h
}

func (m *fakeMetrics) ObserveInclusion(error, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inclusions++
}

func compact(n *big.Int) uint32 { return bitcoin.BigToCompact(n) }
