package bitcoin

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Parser reads wire-encoded values from a byte slice. Integers are
// little-endian unless the parser was switched with BigEndian.
type Parser struct {
	data  []byte
	pos   int
	order binary.ByteOrder
}

// NewParser returns a little-endian parser positioned at the start of data.
func NewParser(data []byte) *Parser {
	return &Parser{data: data, order: binary.LittleEndian}
}

// BigEndian switches integer decoding to big-endian byte order.
func (p *Parser) BigEndian() *Parser {
	p.order = binary.BigEndian
	return p
}

// Position returns the number of bytes consumed so far.
func (p *Parser) Position() int { return p.pos }

// Remaining returns the number of unread bytes.
func (p *Parser) Remaining() int { return len(p.data) - p.pos }

func (p *Parser) next(n int, what string) ([]byte, error) {
	if n < 0 || p.Remaining() < n {
		return nil, fmt.Errorf("%w: %s needs %d bytes at offset %d, have %d",
			ErrMalformedInput, what, n, p.pos, p.Remaining())
	}
	b := p.data[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

// ReadBytes returns a copy of the next n bytes.
func (p *Parser) ReadBytes(n int) ([]byte, error) {
	b, err := p.next(n, "bytes")
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadUint8 reads a single byte.
func (p *Parser) ReadUint8() (uint8, error) {
	b, err := p.next(1, "uint8")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a 2-byte unsigned integer.
func (p *Parser) ReadUint16() (uint16, error) {
	b, err := p.next(2, "uint16")
	if err != nil {
		return 0, err
	}
	return p.order.Uint16(b), nil
}

// ReadUint32 reads a 4-byte unsigned integer.
func (p *Parser) ReadUint32() (uint32, error) {
	b, err := p.next(4, "uint32")
	if err != nil {
		return 0, err
	}
	return p.order.Uint32(b), nil
}

// ReadInt32 reads a 4-byte two's complement integer.
func (p *Parser) ReadInt32() (int32, error) {
	v, err := p.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads an 8-byte unsigned integer.
func (p *Parser) ReadUint64() (uint64, error) {
	b, err := p.next(8, "uint64")
	if err != nil {
		return 0, err
	}
	return p.order.Uint64(b), nil
}

// ReadInt64 reads an 8-byte two's complement integer.
func (p *Parser) ReadInt64() (int64, error) {
	v, err := p.ReadUint64()
	return int64(v), err
}

// ReadHash reads a 32-byte hash in internal byte order.
func (p *Parser) ReadHash() (chainhash.Hash, error) {
	var h chainhash.Hash
	b, err := p.next(chainhash.HashSize, "hash")
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// ReadCompactUint reads a CompactUint. Non-minimal encodings are rejected.
func (p *Parser) ReadCompactUint() (uint64, error) {
	var c CompactUint
	if err := c.decode(p); err != nil {
		return 0, err
	}
	return uint64(c), nil
}

// ReadCount reads a CompactUint element count for a sequence whose elements
// occupy at least minSize bytes each. Counts the remaining input cannot
// satisfy are rejected before anything is allocated.
func (p *Parser) ReadCount(minSize int) (int, error) {
	n, err := p.ReadCompactUint()
	if err != nil {
		return 0, err
	}
	if minSize < 1 {
		minSize = 1
	}
	if n > uint64(p.Remaining()/minSize) {
		return 0, fmt.Errorf("%w: count %d exceeds remaining input", ErrMalformedInput, n)
	}
	return int(n), nil
}

// ReadVarBytes reads a CompactUint length followed by that many bytes.
func (p *Parser) ReadVarBytes() ([]byte, error) {
	n, err := p.ReadCount(1)
	if err != nil {
		return nil, err
	}
	return p.ReadBytes(n)
}
