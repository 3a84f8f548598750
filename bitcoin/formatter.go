package bitcoin

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Formatter accumulates wire-encoded values. Integers are little-endian
// unless the formatter was switched with BigEndian.
type Formatter struct {
	buf   []byte
	order binary.AppendByteOrder
}

// NewFormatter returns an empty little-endian formatter.
func NewFormatter() *Formatter {
	return &Formatter{order: binary.LittleEndian}
}

// BigEndian switches integer encoding to big-endian byte order.
func (f *Formatter) BigEndian() *Formatter {
	f.order = binary.BigEndian
	return f
}

// Bytes returns the accumulated encoding.
func (f *Formatter) Bytes() []byte { return f.buf }

// Len returns the number of bytes written so far.
func (f *Formatter) Len() int { return len(f.buf) }

// WriteBytes appends raw bytes.
func (f *Formatter) WriteBytes(b []byte) { f.buf = append(f.buf, b...) }

// WriteUint8 appends a single byte.
func (f *Formatter) WriteUint8(v uint8) { f.buf = append(f.buf, v) }

// WriteUint16 appends a 2-byte unsigned integer.
func (f *Formatter) WriteUint16(v uint16) { f.buf = f.order.AppendUint16(f.buf, v) }

// WriteUint32 appends a 4-byte unsigned integer.
func (f *Formatter) WriteUint32(v uint32) { f.buf = f.order.AppendUint32(f.buf, v) }

// WriteInt32 appends a 4-byte two's complement integer.
func (f *Formatter) WriteInt32(v int32) { f.WriteUint32(uint32(v)) }

// WriteUint64 appends an 8-byte unsigned integer.
func (f *Formatter) WriteUint64(v uint64) { f.buf = f.order.AppendUint64(f.buf, v) }

// WriteInt64 appends an 8-byte two's complement integer.
func (f *Formatter) WriteInt64(v int64) { f.WriteUint64(uint64(v)) }

// WriteHash appends a 32-byte hash in internal byte order.
func (f *Formatter) WriteHash(h chainhash.Hash) { f.buf = append(f.buf, h[:]...) }

// WriteCompactUint appends v in its minimal CompactUint encoding.
func (f *Formatter) WriteCompactUint(v uint64) { CompactUint(v).encode(f) }

// WriteVarBytes appends a CompactUint length followed by b.
func (f *Formatter) WriteVarBytes(b []byte) {
	f.WriteCompactUint(uint64(len(b)))
	f.WriteBytes(b)
}
