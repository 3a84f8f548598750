package network

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bitfsorg/btcrelay-go/bitcoin"
	"github.com/bitfsorg/btcrelay-go/relay"
)

func newTestRelay(t *testing.T) *relay.Relay {
	t.Helper()
	r, err := relay.New(relay.NewParams(&chaincfg.RegressionNetParams))
	require.NoError(t, err)
	return r
}

func newSyncedRelayer(t *testing.T, node Node, opts ...RelayerOption) (*Relayer, *relay.Relay) {
	t.Helper()
	r := newTestRelay(t)
	opts = append([]RelayerOption{WithRelayerLogger(zaptest.NewLogger(t))}, opts...)
	rl := NewRelayer(node, r, opts...)
	require.NoError(t, rl.Initialize(context.Background(), rootHeight))
	return rl, r
}

func TestRelayerInitialize(t *testing.T) {
	node := newFakeNode(t, 3)
	_, r := newSyncedRelayer(t, node)

	best, err := r.BestBlock()
	require.NoError(t, err)
	assert.Equal(t, uint32(rootHeight), best.Height)
	assert.Equal(t, node.chain[0].BlockHash(), best.Hash)

	t.Run("twice", func(t *testing.T) {
		rl := NewRelayer(node, r)
		assert.ErrorIs(t, rl.Initialize(context.Background(), rootHeight), relay.ErrAlreadyInitialized)
	})

	t.Run("height beyond node tip", func(t *testing.T) {
		rl := NewRelayer(node, newTestRelay(t))
		err := rl.Initialize(context.Background(), rootHeight+50)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of range")
	})
}

func TestRelayerSync(t *testing.T) {
	node := newFakeNode(t, 10)
	m := &syncRecorder{}
	rl, r := newSyncedRelayer(t, node, WithSyncMetrics(m))

	n, err := rl.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, node.height(), r.BestBlockHeight())

	hash, err := r.BlockHash(node.height())
	require.NoError(t, err)
	assert.Equal(t, node.tip().BlockHash(), hash)

	n, err = rl.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	node.grow(t, 2, 0)
	n, err = rl.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, 3, m.runs)
	assert.Equal(t, 12, m.headers)
	assert.Zero(t, m.errs)
}

func TestRelayerSyncNotInitialized(t *testing.T) {
	m := &syncRecorder{}
	rl := NewRelayer(newFakeNode(t, 1), newTestRelay(t), WithSyncMetrics(m))
	_, err := rl.Sync(context.Background())
	assert.ErrorIs(t, err, relay.ErrNotInitialized)
	assert.Equal(t, 1, m.errs)
}

func TestRelayerSyncFollowsNodeReorg(t *testing.T) {
	node := newFakeNode(t, 5)
	rl, r := newSyncedRelayer(t, node)
	_, err := rl.Sync(context.Background())
	require.NoError(t, err)
	oldTip := node.tip().BlockHash()

	// The node abandons 103..105 for a longer branch off 102.
	node.reorg(t, rootHeight+2, 6, 1)
	require.Equal(t, uint32(rootHeight+8), node.height())

	n, err := rl.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	best, err := r.BestBlock()
	require.NoError(t, err)
	assert.Equal(t, node.tip().BlockHash(), best.Hash)
	assert.Equal(t, node.height(), best.Height)

	old, err := r.HeaderByHash(oldTip)
	require.NoError(t, err)
	assert.False(t, old.Active)
}

func TestRelayerSyncChainMismatch(t *testing.T) {
	node := newFakeNode(t, 3)
	rl, r := newSyncedRelayer(t, node, WithMaxBackfill(2))
	_, err := rl.Sync(context.Background())
	require.NoError(t, err)

	// A branch off the root needs three ancestors before it reconnects.
	node.reorg(t, rootHeight, 5, 2)
	_, err = rl.Sync(context.Background())
	assert.ErrorIs(t, err, ErrChainMismatch)
	assert.Equal(t, uint32(rootHeight+3), r.BestBlockHeight())
}

func TestRelayerSyncStaleBranch(t *testing.T) {
	node := newFakeNode(t, 6)
	r, err := relay.New(relay.NewParams(&chaincfg.RegressionNetParams), relay.WithMaxForkDepth(2))
	require.NoError(t, err)
	rl := NewRelayer(node, r, WithRelayerLogger(zaptest.NewLogger(t)))
	require.NoError(t, rl.Initialize(context.Background(), rootHeight))
	_, err = rl.Sync(context.Background())
	require.NoError(t, err)

	// The node's new branch leaves at 101, below the relay's fork floor.
	node.reorg(t, rootHeight+1, 8, 3)
	_, err = rl.Sync(context.Background())
	assert.ErrorIs(t, err, ErrChainMismatch)
	assert.ErrorIs(t, err, relay.ErrStaleFork)
	assert.Equal(t, uint32(rootHeight+6), r.BestBlockHeight())
	assert.Len(t, r.Forks(), 1)
}

func TestRelayerSyncNodeErrors(t *testing.T) {
	fake := newFakeNode(t, 1)
	_, r := newSyncedRelayer(t, fake)
	boom := errors.New("boom")

	t.Run("block count", func(t *testing.T) {
		node := &mockNode{}
		node.On("GetBlockCount", mock.Anything).Return(uint32(0), boom)
		m := &syncRecorder{}

		_, err := NewRelayer(node, r, WithSyncMetrics(m)).Sync(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, m.errs)
		node.AssertExpectations(t)
	})

	t.Run("invalid header", func(t *testing.T) {
		bad := *fake.tip()
		bad.PrevBlock = fake.chain[0].BlockHash()
		bad.Bits = 0x1d00ffff
		node := &mockNode{}
		node.On("GetBlockCount", mock.Anything).Return(uint32(rootHeight+1), nil)
		node.On("GetBlockHash", mock.Anything, uint32(rootHeight+1)).Return(bad.BlockHash(), nil)
		node.On("GetBlockHeader", mock.Anything, bad.BlockHash()).Return(bad.Serialize(), nil)

		n, err := NewRelayer(node, r).Sync(context.Background())
		require.Error(t, err)
		assert.Zero(t, n)
		assert.Equal(t, uint32(rootHeight), r.BestBlockHeight())
		node.AssertExpectations(t)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewRelayer(fake, r).Sync(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRelayerRun(t *testing.T) {
	node := newFakeNode(t, 4)
	rl, r := newSyncedRelayer(t, node)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rl.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		return r.BestBlockHeight() == node.height()
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func makeTxIDs(n int, seed byte) []chainhash.Hash {
	out := make([]chainhash.Hash, n)
	for i := range out {
		out[i] = bitcoin.DoubleHash([]byte{byte(i), seed})
	}
	return out
}

func TestRelayerVerifyTx(t *testing.T) {
	node := newFakeNode(t, 2)
	txids := makeTxIDs(5, 1)
	block := node.confirm(t, txids, nil)
	node.grow(t, 2, 0)

	rl, _ := newSyncedRelayer(t, node)
	_, err := rl.Sync(context.Background())
	require.NoError(t, err)

	inc, err := rl.VerifyTx(context.Background(), txids[2], 3)
	require.NoError(t, err)
	assert.Equal(t, txids[2], inc.TxID)
	assert.Equal(t, block.BlockHash(), inc.BlockHash)
	assert.Equal(t, uint32(rootHeight+3), inc.BlockHeight)
	assert.Equal(t, uint32(3), inc.Confirmations)
	assert.NotEmpty(t, inc.Proof)

	_, err = rl.VerifyTx(context.Background(), txids[2], 4)
	assert.ErrorIs(t, err, relay.ErrInsufficientConfirmations)

	_, err = rl.VerifyTx(context.Background(), chainhash.Hash{0x99}, 1)
	assert.ErrorIs(t, err, ErrTxNotFound)

	t.Run("proof for another transaction", func(t *testing.T) {
		node.mu.Lock()
		node.proofs[txids[0]] = node.proofs[txids[1]]
		node.mu.Unlock()
		_, err := rl.VerifyTx(context.Background(), txids[0], 1)
		assert.ErrorIs(t, err, relay.ErrInvalidMerkleProof)
	})

	t.Run("block unknown to relay", func(t *testing.T) {
		late := makeTxIDs(2, 2)
		node.confirm(t, late, nil)
		_, err := rl.VerifyTx(context.Background(), late[0], 1)
		assert.ErrorIs(t, err, relay.ErrUnknownHash)

		_, err = rl.Sync(context.Background())
		require.NoError(t, err)
		_, err = rl.VerifyTx(context.Background(), late[0], 1)
		assert.NoError(t, err)
	})

	t.Run("block off best chain", func(t *testing.T) {
		fresh := newFakeNode(t, 1)
		sideTxs := makeTxIDs(3, 3)
		side := fresh.confirm(t, sideTxs, nil)
		rl, r := newSyncedRelayer(t, fresh)
		_, err := rl.Sync(context.Background())
		require.NoError(t, err)

		fresh.reorg(t, rootHeight+1, 3, 3)
		_, err = rl.Sync(context.Background())
		require.NoError(t, err)
		entry, err := r.HeaderByHash(side.BlockHash())
		require.NoError(t, err)
		require.False(t, entry.Active)

		// The fake still reports the abandoned block for these transactions.
		_, err = rl.VerifyTx(context.Background(), sideTxs[0], 1)
		assert.ErrorIs(t, err, ErrChainMismatch)
	})
}

func TestRelayerVerifyTxNotConfirmed(t *testing.T) {
	fake := newFakeNode(t, 1)
	_, r := newSyncedRelayer(t, fake)

	node := &mockNode{}
	txid := chainhash.Hash{0x42}
	node.On("GetTxBlockHash", mock.Anything, txid).Return(chainhash.Hash{}, ErrNotConfirmed)

	_, err := NewRelayer(node, r).VerifyTx(context.Background(), txid, 1)
	assert.ErrorIs(t, err, ErrNotConfirmed)
	node.AssertNotCalled(t, "GetTxOutProof", mock.Anything, mock.Anything, mock.Anything)
}

func paymentTx(t *testing.T, addr btcutil.Address, value int64, payload []byte) []byte {
	t.Helper()
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0x11}, 0), []byte{0x51}, nil))

	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	tx.AddTxOut(wire.NewTxOut(value, pkScript))

	script, err := txscript.NullDataScript(payload)
	require.NoError(t, err)
	tx.AddTxOut(wire.NewTxOut(0, script))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return buf.Bytes()
}

func TestRelayerVerifyPayment(t *testing.T) {
	addr, err := btcutil.NewAddressPubKeyHash(bytes.Repeat([]byte{0xab}, 20), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	raw := paymentTx(t, addr, 75_000, []byte("order:7"))
	txid := chainhash.DoubleHashH(raw)

	node := newFakeNode(t, 1)
	ids := append(makeTxIDs(3, 4), txid)
	node.confirm(t, ids, map[chainhash.Hash][]byte{txid: raw})

	rl, _ := newSyncedRelayer(t, node)
	_, err = rl.Sync(context.Background())
	require.NoError(t, err)

	exp := relay.Expectation{MinValue: 75_000, Recipient: addr.EncodeAddress(), OpReturn: []byte("order:7")}
	inc, tx, err := rl.VerifyPayment(context.Background(), txid, 1, exp)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), inc.Confirmations)
	assert.Len(t, tx.Outputs, 2)

	exp.MinValue = 75_001
	_, _, err = rl.VerifyPayment(context.Background(), txid, 1, exp)
	assert.ErrorIs(t, err, relay.ErrInsufficientValue)

	_, _, err = rl.VerifyPayment(context.Background(), ids[0], 1, relay.Expectation{})
	assert.ErrorIs(t, err, ErrTxNotFound)
}
