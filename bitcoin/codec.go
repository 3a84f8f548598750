package bitcoin

import (
	"encoding/binary"
	"fmt"
)

// Encodable is implemented by every value the codec can format: CompactUint,
// BlockHeader, Transaction, MerkleProof and Target.
type Encodable interface {
	encode(f *Formatter)
}

// Decodable is implemented by pointers to every value the codec can parse.
type Decodable interface {
	decode(p *Parser) error
}

// Encode returns the wire encoding of v.
func Encode(v Encodable) []byte {
	f := NewFormatter()
	v.encode(f)
	return f.Bytes()
}

// Decode parses v from the start of data and returns the number of bytes
// consumed. Trailing bytes are left for the caller.
func Decode(data []byte, v Decodable) (int, error) {
	p := NewParser(data)
	if err := v.decode(p); err != nil {
		return 0, err
	}
	return p.Position(), nil
}

// DecodeExact parses v from data and rejects trailing bytes.
func DecodeExact(data []byte, v Decodable) error {
	n, err := Decode(data, v)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedInput, len(data)-n)
	}
	return nil
}

// CompactUint is Bitcoin's variable-length unsigned integer.
type CompactUint uint64

// Size returns the encoded length of c.
func (c CompactUint) Size() int {
	switch {
	case c < 0xfd:
		return 1
	case c < 1<<16:
		return 3
	case c < 1<<32:
		return 5
	default:
		return 9
	}
}

func (c CompactUint) encode(f *Formatter) {
	switch {
	case c < 0xfd:
		f.buf = append(f.buf, byte(c))
	case c < 1<<16:
		f.buf = append(f.buf, 0xfd)
		f.buf = binary.LittleEndian.AppendUint16(f.buf, uint16(c))
	case c < 1<<32:
		f.buf = append(f.buf, 0xfe)
		f.buf = binary.LittleEndian.AppendUint32(f.buf, uint32(c))
	default:
		f.buf = append(f.buf, 0xff)
		f.buf = binary.LittleEndian.AppendUint64(f.buf, uint64(c))
	}
}

// The payload of a CompactUint is always little-endian, whatever mode the
// parser is in.
func (c *CompactUint) decode(p *Parser) error {
	marker, err := p.ReadUint8()
	if err != nil {
		return err
	}

	var (
		v     uint64
		floor uint64
	)
	switch marker {
	case 0xfd:
		b, err := p.next(2, "compact uint")
		if err != nil {
			return err
		}
		v, floor = uint64(binary.LittleEndian.Uint16(b)), 0xfd
	case 0xfe:
		b, err := p.next(4, "compact uint")
		if err != nil {
			return err
		}
		v, floor = uint64(binary.LittleEndian.Uint32(b)), 1<<16
	case 0xff:
		b, err := p.next(8, "compact uint")
		if err != nil {
			return err
		}
		v, floor = binary.LittleEndian.Uint64(b), 1<<32
	default:
		*c = CompactUint(marker)
		return nil
	}

	if v < floor {
		return fmt.Errorf("%w: non-minimal compact uint 0x%x", ErrMalformedInput, v)
	}
	*c = CompactUint(v)
	return nil
}
