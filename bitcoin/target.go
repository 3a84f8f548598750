package bitcoin

import (
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Target is a proof-of-work target. On the wire it is the 4-byte compact
// form: three mantissa bytes (little-endian) followed by the exponent, the
// same bytes a header carries in its Bits field.
type Target struct {
	Value *big.Int
}

// NewTarget wraps v.
func NewTarget(v *big.Int) Target { return Target{Value: v} }

// Bits returns the compact encoding of t.
func (t Target) Bits() uint32 {
	if t.Value == nil {
		return 0
	}
	return BigToCompact(t.Value)
}

func (t Target) encode(f *Formatter) {
	f.buf = binary.LittleEndian.AppendUint32(f.buf, t.Bits())
}

func (t *Target) decode(p *Parser) error {
	b, err := p.next(4, "target")
	if err != nil {
		return err
	}
	t.Value = CompactToBig(binary.LittleEndian.Uint32(b))
	return nil
}

// CompactToBig expands compact bits into the target they represent. The
// exponent is the byte length of the target and the mantissa its three most
// significant bytes. Bit 23 of the mantissa is a sign bit, so a result may be
// negative; callers treat a non-positive target as invalid.
func CompactToBig(bits uint32) *big.Int {
	mantissa := bits & 0x007fffff
	negative := bits&0x00800000 != 0
	exponent := uint(bits >> 24)

	var n *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		n = big.NewInt(int64(mantissa))
	} else {
		n = big.NewInt(int64(mantissa))
		n.Lsh(n, 8*(exponent-3))
	}

	if negative {
		n = n.Neg(n)
	}
	return n
}

// BigToCompact returns the canonical compact encoding of n, truncating it
// to the precision the mantissa can hold. A mantissa whose top bit would be
// set is shifted into the next exponent so it never reads as negative.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	abs := new(big.Int).Abs(n)
	exponent := uint(len(abs.Bytes()))
	if exponent <= 3 {
		mantissa = uint32(abs.Uint64()) << (8 * (3 - exponent))
	} else {
		mantissa = uint32(abs.Rsh(abs, 8*(exponent-3)).Uint64())
	}

	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// VerifyProofOfWork reports whether hash, read as a little-endian 256-bit
// integer, does not exceed target.
func VerifyProofOfWork(hash chainhash.Hash, target *big.Int) bool {
	return HashToBig(hash).Cmp(target) <= 0
}

// HashToBig interprets a hash in internal byte order as a 256-bit
// little-endian integer.
func HashToBig(hash chainhash.Hash) *big.Int {
	var be [chainhash.HashSize]byte
	for i := range hash {
		be[chainhash.HashSize-1-i] = hash[i]
	}
	return new(big.Int).SetBytes(be[:])
}
