package bitcoin

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockHeaderSize is the size of a serialized block header in bytes.
const BlockHeaderSize = 80

// BlockHeader is an 80-byte Bitcoin block header.
type BlockHeader struct {
	Version    int32          // 4 bytes, little-endian
	PrevBlock  chainhash.Hash // 32 bytes, internal byte order
	MerkleRoot chainhash.Hash // 32 bytes, internal byte order
	Timestamp  uint32         // 4 bytes, little-endian (Unix timestamp)
	Bits       uint32         // 4 bytes, compact target
	Nonce      uint32         // 4 bytes, little-endian
}

// ParseBlockHeader decodes exactly BlockHeaderSize bytes.
func ParseBlockHeader(raw []byte) (*BlockHeader, error) {
	if len(raw) != BlockHeaderSize {
		return nil, fmt.Errorf("%w: header must be %d bytes, got %d", ErrMalformedInput, BlockHeaderSize, len(raw))
	}
	h := new(BlockHeader)
	if err := DecodeExact(raw, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Serialize returns the 80-byte wire encoding of h.
//
// Layout: version(4) | prevBlock(32) | merkleRoot(32) | timestamp(4) | bits(4) | nonce(4)
func (h *BlockHeader) Serialize() []byte {
	return Encode(h)
}

// BlockHash returns the double-SHA256 of the serialized header.
func (h *BlockHeader) BlockHash() chainhash.Hash {
	return DoubleHash(h.Serialize())
}

// Target returns the proof-of-work target encoded in Bits.
func (h *BlockHeader) Target() *big.Int {
	return CompactToBig(h.Bits)
}

// CheckProofOfWork reports whether the header hash does not exceed its own
// target. A non-positive target never passes.
func (h *BlockHeader) CheckProofOfWork() bool {
	target := h.Target()
	if target.Sign() <= 0 {
		return false
	}
	return VerifyProofOfWork(h.BlockHash(), target)
}

func (h *BlockHeader) encode(f *Formatter) {
	f.WriteInt32(h.Version)
	f.WriteHash(h.PrevBlock)
	f.WriteHash(h.MerkleRoot)
	f.WriteUint32(h.Timestamp)
	f.WriteUint32(h.Bits)
	f.WriteUint32(h.Nonce)
}

func (h *BlockHeader) decode(p *Parser) error {
	var err error
	if h.Version, err = p.ReadInt32(); err != nil {
		return err
	}
	if h.PrevBlock, err = p.ReadHash(); err != nil {
		return err
	}
	if h.MerkleRoot, err = p.ReadHash(); err != nil {
		return err
	}
	if h.Timestamp, err = p.ReadUint32(); err != nil {
		return err
	}
	if h.Bits, err = p.ReadUint32(); err != nil {
		return err
	}
	h.Nonce, err = p.ReadUint32()
	return err
}
