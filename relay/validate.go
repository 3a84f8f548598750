package relay

import (
	"fmt"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitfsorg/btcrelay-go/bitcoin"
)

// validator applies the header rules that depend on chain context.
type validator struct {
	params Params
	store  *chainStore
}

// check validates h against the stored chain and returns its parent. Rules
// run in a fixed order: the parent must be known, the hash must meet the
// header's own target, then the target must follow the difficulty rules.
func (v *validator) check(h *bitcoin.BlockHeader, hash chainhash.Hash) (*ChainEntry, error) {
	parent, ok := v.store.lookup(h.PrevBlock)
	if !ok {
		return nil, fmt.Errorf("%w: parent %s", ErrOrphanBlock, h.PrevBlock)
	}
	if parent.Height == math.MaxUint32 {
		return nil, fmt.Errorf("%w: height overflow above %s", ErrMalformedInput, parent.Hash)
	}

	target := h.Target()
	if target.Sign() <= 0 || !bitcoin.VerifyProofOfWork(hash, target) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProofOfWork, hash)
	}

	if target.Cmp(v.params.PowLimit) > 0 {
		return nil, fmt.Errorf("%w: bits %08x above limit %08x", ErrInvalidTarget, h.Bits, v.params.PowLimitBits)
	}

	if err := v.checkTarget(h, parent); err != nil {
		return nil, err
	}
	return parent, nil
}

func (v *validator) checkTarget(h *bitcoin.BlockHeader, parent *ChainEntry) error {
	p := v.params
	height := parent.Height + 1

	if p.NoRetargeting {
		return expectBits(h.Bits, parent.Header.Bits, height)
	}

	if !p.isRetargetHeight(height) {
		if !p.ReduceMinDifficulty {
			return expectBits(h.Bits, parent.Header.Bits, height)
		}
		if int64(h.Timestamp) > int64(parent.Header.Timestamp)+p.MinDiffReductionTime {
			return expectBits(h.Bits, p.PowLimitBits, height)
		}
		bits, ok := v.lastNonMinimumBits(parent)
		if !ok {
			return v.checkBounded(h, parent)
		}
		return expectBits(h.Bits, bits, height)
	}

	if height < p.RetargetInterval {
		return v.checkBounded(h, parent)
	}
	first, ok := v.store.ancestor(parent, height-p.RetargetInterval)
	if !ok {
		return v.checkBounded(h, parent)
	}
	return expectBits(h.Bits, v.nextBits(parent, first), height)
}

// nextBits computes the target required at a retarget boundary from the
// time the last interval took.
func (v *validator) nextBits(parent, first *ChainEntry) uint32 {
	p := v.params
	minSpan := p.TargetTimespan / p.AdjustmentFactor
	maxSpan := p.TargetTimespan * p.AdjustmentFactor

	actual := int64(parent.Header.Timestamp) - int64(first.Header.Timestamp)
	actual = min(max(actual, minSpan), maxSpan)

	next := bitcoin.CompactToBig(parent.Header.Bits)
	next.Mul(next, big.NewInt(actual))
	next.Div(next, big.NewInt(p.TargetTimespan))
	if next.Cmp(p.PowLimit) > 0 {
		next.Set(p.PowLimit)
	}
	return bitcoin.BigToCompact(next)
}

// lastNonMinimumBits walks back from e to the last block that is either a
// retarget boundary or was not mined at minimum difficulty.
func (v *validator) lastNonMinimumBits(e *ChainEntry) (uint32, bool) {
	for !v.params.isRetargetHeight(e.Height) && e.Header.Bits == v.params.PowLimitBits {
		prev, ok := v.store.parentOf(e)
		if !ok {
			return 0, false
		}
		e = prev
	}
	return e.Header.Bits, true
}

// checkBounded is used when the blocks needed for an exact retarget are no
// longer stored. The target may move at most AdjustmentFactor either way.
func (v *validator) checkBounded(h *bitcoin.BlockHeader, parent *ChainEntry) error {
	if h.Bits == parent.Header.Bits {
		return nil
	}
	if v.params.ReduceMinDifficulty && h.Bits == v.params.PowLimitBits {
		return nil
	}

	factor := big.NewInt(v.params.AdjustmentFactor)
	old := bitcoin.CompactToBig(parent.Header.Bits)
	lo := new(big.Int).Div(old, factor)
	hi := new(big.Int).Mul(old, factor)

	target := h.Target()
	if target.Cmp(lo) < 0 || target.Cmp(hi) > 0 {
		return fmt.Errorf("%w: bits %08x outside bounds of parent %08x at height %d",
			ErrInvalidTarget, h.Bits, parent.Header.Bits, parent.Height+1)
	}
	return nil
}

func expectBits(got, want, height uint32) error {
	if got != want {
		return fmt.Errorf("%w: bits %08x, expected %08x at height %d", ErrInvalidTarget, got, want, height)
	}
	return nil
}
