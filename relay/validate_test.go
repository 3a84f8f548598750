package relay

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/btcrelay-go/bitcoin"
)

func TestValidateOrphan(t *testing.T) {
	r, _ := newTestRelay(t, regtestParams(), regtestBits)

	orphan := mine(t, chainhash.Hash{0xde, 0xad}, rootTime+600, regtestBits, 1)
	_, err := r.StoreBlockHeader(orphan.Serialize())
	assert.ErrorIs(t, err, ErrOrphanBlock)
	assert.Equal(t, uint32(rootHeight), r.BestBlockHeight())
}

func TestValidateProofOfWork(t *testing.T) {
	r, root := newTestRelay(t, regtestParams(), regtestBits)

	bad := unmined(t, root.BlockHash(), rootTime+600, regtestBits)
	_, err := r.StoreBlockHeader(bad.Serialize())
	assert.ErrorIs(t, err, ErrInvalidProofOfWork)

	t.Run("zero target", func(t *testing.T) {
		h := &bitcoin.BlockHeader{Version: 4, PrevBlock: root.BlockHash(), Timestamp: rootTime + 600}
		_, err := r.StoreBlockHeader(h.Serialize())
		assert.ErrorIs(t, err, ErrInvalidProofOfWork)
	})

	t.Run("negative target", func(t *testing.T) {
		h := &bitcoin.BlockHeader{Version: 4, PrevBlock: root.BlockHash(), Timestamp: rootTime + 600, Bits: 0x20800001}
		_, err := r.StoreBlockHeader(h.Serialize())
		assert.ErrorIs(t, err, ErrInvalidProofOfWork)
	})

	assert.Equal(t, uint32(rootHeight), r.BestBlockHeight())
}

func TestValidateTargetAboveLimit(t *testing.T) {
	params := retargetParams()
	params.PowLimit = bitcoin.CompactToBig(easyBits)
	params.PowLimitBits = easyBits
	r, root := newTestRelay(t, params, easyBits)

	h := mine(t, root.BlockHash(), rootTime+600, regtestBits, 1)
	_, err := r.StoreBlockHeader(h.Serialize())
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestValidateBitsBetweenBoundaries(t *testing.T) {
	t.Run("no retargeting", func(t *testing.T) {
		r, root := newTestRelay(t, regtestParams(), regtestBits)
		h := mine(t, root.BlockHash(), rootTime+600, easyBits, 1)
		_, err := r.StoreBlockHeader(h.Serialize())
		assert.ErrorIs(t, err, ErrInvalidTarget)
	})

	t.Run("off boundary", func(t *testing.T) {
		r, root := newTestRelay(t, retargetParams(), easyBits)
		h := mine(t, root.BlockHash(), rootTime+600, 0x2001fffe, 1)
		_, err := r.StoreBlockHeader(h.Serialize())
		assert.ErrorIs(t, err, ErrInvalidTarget)
	})
}

// retargetChain initializes at rootHeight 0 and stores three headers spaced
// step seconds apart, leaving the next header on a retarget boundary.
func retargetChain(t *testing.T, params Params, step uint32) (*Relay, *bitcoin.BlockHeader) {
	t.Helper()
	r, err := New(params)
	require.NoError(t, err)

	root := mine(t, chainhash.Hash{}, rootTime, easyBits, 0)
	require.NoError(t, r.Initialize(root.Serialize(), 0))

	parent := root
	for range 3 {
		h := mine(t, parent.BlockHash(), parent.Timestamp+step, easyBits, 0)
		_, err := r.StoreBlockHeader(h.Serialize())
		require.NoError(t, err)
		parent = h
	}
	require.Equal(t, uint32(3), r.BestBlockHeight())
	return r, parent
}

func TestValidateRetarget(t *testing.T) {
	params := retargetParams()

	t.Run("clamped slow interval", func(t *testing.T) {
		// Three blocks spanning ten target timespans.
		r, parent := retargetChain(t, params, 8000)

		unclamped := mine(t, parent.BlockHash(), parent.Timestamp+600, 0x2009fff6, 1)
		_, err := r.StoreBlockHeader(unclamped.Serialize())
		assert.ErrorIs(t, err, ErrInvalidTarget)

		clamped := mine(t, parent.BlockHash(), parent.Timestamp+600, 0x2003fffc, 2)
		height, err := r.StoreBlockHeader(clamped.Serialize())
		require.NoError(t, err)
		assert.Equal(t, uint32(4), height)
	})

	t.Run("fast interval", func(t *testing.T) {
		r, parent := retargetChain(t, params, 400)

		old := bitcoin.CompactToBig(easyBits)
		want := compact(new(big.Int).Div(new(big.Int).Mul(old, big.NewInt(1200)), big.NewInt(2400)))

		stale := mine(t, parent.BlockHash(), parent.Timestamp+600, easyBits, 1)
		_, err := r.StoreBlockHeader(stale.Serialize())
		assert.ErrorIs(t, err, ErrInvalidTarget)

		h := mine(t, parent.BlockHash(), parent.Timestamp+600, want, 2)
		_, err = r.StoreBlockHeader(h.Serialize())
		require.NoError(t, err)
	})

	t.Run("on schedule", func(t *testing.T) {
		r, parent := retargetChain(t, params, 800)
		h := mine(t, parent.BlockHash(), parent.Timestamp+600, easyBits, 1)
		_, err := r.StoreBlockHeader(h.Serialize())
		require.NoError(t, err)
	})

	t.Run("capped at limit", func(t *testing.T) {
		p := params
		p.PowLimit = bitcoin.CompactToBig(0x2001ffff)
		p.PowLimitBits = 0x2001ffff
		r, parent := retargetChain(t, p, 8000)

		h := mine(t, parent.BlockHash(), parent.Timestamp+600, compact(p.PowLimit), 1)
		_, err := r.StoreBlockHeader(h.Serialize())
		require.NoError(t, err)
	})
}

func TestValidateRetargetWithoutIntervalStart(t *testing.T) {
	params := retargetParams()
	r, err := New(params)
	require.NoError(t, err)

	// The interval starting at height 0 is below the checkpoint.
	root := mine(t, chainhash.Hash{}, rootTime, easyBits, 0)
	require.NoError(t, r.Initialize(root.Serialize(), 2))
	h3 := mine(t, root.BlockHash(), rootTime+600, easyBits, 0)
	_, err = r.StoreBlockHeader(h3.Serialize())
	require.NoError(t, err)

	tooEasy := mine(t, h3.BlockHash(), rootTime+1200, 0x2009fff6, 1)
	_, err = r.StoreBlockHeader(tooEasy.Serialize())
	assert.ErrorIs(t, err, ErrInvalidTarget)

	tooHard := mine(t, h3.BlockHash(), rootTime+1200, 0x1f3fff00, 2)
	_, err = r.StoreBlockHeader(tooHard.Serialize())
	assert.ErrorIs(t, err, ErrInvalidTarget)

	ok := mine(t, h3.BlockHash(), rootTime+1200, 0x2003fffc, 3)
	height, err := r.StoreBlockHeader(ok.Serialize())
	require.NoError(t, err)
	assert.Equal(t, uint32(4), height)
}

func TestValidateMinDifficultyReduction(t *testing.T) {
	params := retargetParams()
	params.ReduceMinDifficulty = true
	params.MinDiffReductionTime = 1200

	r, err := New(params)
	require.NoError(t, err)
	root := mine(t, chainhash.Hash{}, rootTime, easyBits, 0)
	require.NoError(t, r.Initialize(root.Serialize(), 0))

	early := mine(t, root.BlockHash(), rootTime+600, regtestBits, 1)
	_, err = r.StoreBlockHeader(early.Serialize())
	assert.ErrorIs(t, err, ErrInvalidTarget)

	late := mine(t, root.BlockHash(), rootTime+1201, regtestBits, 2)
	_, err = r.StoreBlockHeader(late.Serialize())
	require.NoError(t, err)

	// After a minimum-difficulty block the last real target applies again.
	stillEasy := mine(t, late.BlockHash(), late.Timestamp+600, regtestBits, 3)
	_, err = r.StoreBlockHeader(stillEasy.Serialize())
	assert.ErrorIs(t, err, ErrInvalidTarget)

	restored := mine(t, late.BlockHash(), late.Timestamp+600, easyBits, 4)
	height, err := r.StoreBlockHeader(restored.Serialize())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), height)
}

func TestNewParams(t *testing.T) {
	mainnet := NewParams(&chaincfg.MainNetParams)
	assert.Equal(t, uint32(2016), mainnet.RetargetInterval)
	assert.Equal(t, int64(14*24*60*60), mainnet.TargetTimespan)
	assert.Equal(t, int64(4), mainnet.AdjustmentFactor)
	assert.Equal(t, uint32(0x1d00ffff), mainnet.PowLimitBits)
	assert.False(t, mainnet.NoRetargeting)

	for _, name := range []string{"mainnet", "testnet", "testnet3", "regtest", "signet", "simnet"} {
		p, err := ParamsForNetwork(name)
		require.NoError(t, err, name)
		assert.NotNil(t, p.PowLimit, name)
	}

	reg, err := ParamsForNetwork("regtest")
	require.NoError(t, err)
	assert.True(t, reg.NoRetargeting)

	_, err = ParamsForNetwork("litecoin")
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}
