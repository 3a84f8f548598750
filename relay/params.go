package relay

import (
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params are the consensus rules the header validator enforces.
type Params struct {
	Name string

	// Net is the btcd network definition the rules were derived from. It is
	// also used to decode payment addresses.
	Net *chaincfg.Params

	PowLimit     *big.Int
	PowLimitBits uint32

	// RetargetInterval is the number of blocks between difficulty
	// adjustments and TargetTimespan the time, in seconds, they should take.
	RetargetInterval uint32
	TargetTimespan   int64

	// AdjustmentFactor bounds a single retarget to [1/f, f] of the old target.
	AdjustmentFactor int64

	// NoRetargeting keeps the target fixed forever (regtest, simnet).
	NoRetargeting bool

	// ReduceMinDifficulty allows a minimum-difficulty block once
	// MinDiffReductionTime seconds have passed since its parent (testnet).
	ReduceMinDifficulty  bool
	MinDiffReductionTime int64
}

// NewParams derives relay parameters from btcd network parameters.
func NewParams(net *chaincfg.Params) Params {
	return Params{
		Name:                 net.Name,
		Net:                  net,
		PowLimit:             net.PowLimit,
		PowLimitBits:         net.PowLimitBits,
		RetargetInterval:     uint32(net.TargetTimespan / net.TargetTimePerBlock),
		TargetTimespan:       int64(net.TargetTimespan / time.Second),
		AdjustmentFactor:     net.RetargetAdjustmentFactor,
		NoRetargeting:        net.PoWNoRetargeting,
		ReduceMinDifficulty:  net.ReduceMinDifficulty,
		MinDiffReductionTime: int64(net.MinDiffReductionTime / time.Second),
	}
}

// ParamsForNetwork returns the parameters of a named network: mainnet,
// testnet, regtest, signet or simnet.
func ParamsForNetwork(name string) (Params, error) {
	switch name {
	case "mainnet":
		return NewParams(&chaincfg.MainNetParams), nil
	case "testnet", "testnet3":
		return NewParams(&chaincfg.TestNet3Params), nil
	case "regtest":
		return NewParams(&chaincfg.RegressionNetParams), nil
	case "signet":
		return NewParams(&chaincfg.SigNetParams), nil
	case "simnet":
		return NewParams(&chaincfg.SimNetParams), nil
	default:
		return Params{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
}

func (p Params) isRetargetHeight(height uint32) bool {
	return p.RetargetInterval > 0 && height%p.RetargetInterval == 0
}
