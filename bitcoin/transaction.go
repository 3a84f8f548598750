package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// SerializeNoWitness is the serialization flag that suppresses witness
	// data regardless of what the inputs carry.
	SerializeNoWitness uint32 = 0x40000000

	// LockTimeThreshold separates block-height lock times (below) from
	// Unix-timestamp lock times (at or above).
	LockTimeThreshold uint32 = 500_000_000

	witnessMarker = 0x00
	witnessFlag   = 0x01

	// minimum encoded sizes, used to bound sequence counts
	minTxInSize  = 32 + 4 + 1 + 4
	minTxOutSize = 8 + 1
)

// LockTime is the final 4-byte field of a transaction. It is either a
// BlockHeightLock or a TimestampLock, never both.
type LockTime interface {
	Value() uint32
	isLockTime()
}

// BlockHeightLock locks a transaction until the given block height.
type BlockHeightLock uint32

// Value returns the raw field value.
func (l BlockHeightLock) Value() uint32 { return uint32(l) }
func (BlockHeightLock) isLockTime()     {}

// TimestampLock locks a transaction until the given Unix time.
type TimestampLock uint32

// Value returns the raw field value.
func (l TimestampLock) Value() uint32 { return uint32(l) }
func (TimestampLock) isLockTime()     {}

// NewLockTime classifies a raw lock time field.
func NewLockTime(v uint32) LockTime {
	if v < LockTimeThreshold {
		return BlockHeightLock(v)
	}
	return TimestampLock(v)
}

// OutPoint references an output of a previous transaction.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// IsNull reports whether the outpoint is the coinbase sentinel.
func (o OutPoint) IsNull() bool {
	return o.Index == 0xffffffff && o.Hash == (chainhash.Hash{})
}

// TxIn is a transaction input.
type TxIn struct {
	PrevOut  OutPoint
	Script   []byte
	Sequence uint32
	Witness  [][]byte
}

// TxOut is a transaction output.
type TxOut struct {
	Value  int64
	Script []byte
}

// Transaction is a Bitcoin transaction with optional segregated witness.
type Transaction struct {
	Version  int32
	Inputs   []TxIn
	Outputs  []TxOut
	LockTime LockTime

	// mode is applied when the transaction is encoded through the codec
	// entry point; zero means witness serialization.
	mode uint32
}

// ParseTransaction decodes a complete transaction, rejecting trailing bytes.
func ParseTransaction(raw []byte) (*Transaction, error) {
	tx := new(Transaction)
	if err := DecodeExact(raw, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// HasWitness reports whether any input carries witness data.
func (tx *Transaction) HasWitness() bool {
	for i := range tx.Inputs {
		if len(tx.Inputs[i].Witness) > 0 {
			return true
		}
	}
	return false
}

// IsCoinbase reports whether tx is a coinbase transaction.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PrevOut.IsNull()
}

// Serialize returns the encoding of tx under the given serialization flags.
// Witness data is written only when mode lacks SerializeNoWitness and at
// least one input has a witness.
func (tx *Transaction) Serialize(mode uint32) []byte {
	f := NewFormatter()
	tx.format(f, mode)
	return f.Bytes()
}

// SerializeNoWitness returns the legacy encoding used for the txid.
func (tx *Transaction) SerializeNoWitness() []byte {
	return tx.Serialize(SerializeNoWitness)
}

// TxID returns the double-SHA256 of the witness-stripped encoding.
func (tx *Transaction) TxID() chainhash.Hash {
	return DoubleHash(tx.SerializeNoWitness())
}

// WitnessHash returns the double-SHA256 of the full encoding. It equals
// TxID for transactions without witness data.
func (tx *Transaction) WitnessHash() chainhash.Hash {
	return DoubleHash(tx.Serialize(0))
}

// WithMode returns a shallow copy of tx that encodes under mode when passed
// to Encode.
func (tx *Transaction) WithMode(mode uint32) *Transaction {
	cp := *tx
	cp.mode = mode
	return &cp
}

func (tx *Transaction) encode(f *Formatter) {
	tx.format(f, tx.mode)
}

func (tx *Transaction) format(f *Formatter, mode uint32) {
	witness := mode&SerializeNoWitness == 0 && tx.HasWitness()

	f.WriteInt32(tx.Version)
	if witness {
		f.WriteUint8(witnessMarker)
		f.WriteUint8(witnessFlag)
	}

	f.WriteCompactUint(uint64(len(tx.Inputs)))
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		f.WriteHash(in.PrevOut.Hash)
		f.WriteUint32(in.PrevOut.Index)
		f.WriteVarBytes(in.Script)
		f.WriteUint32(in.Sequence)
	}

	f.WriteCompactUint(uint64(len(tx.Outputs)))
	for i := range tx.Outputs {
		f.WriteInt64(tx.Outputs[i].Value)
		f.WriteVarBytes(tx.Outputs[i].Script)
	}

	if witness {
		for i := range tx.Inputs {
			stack := tx.Inputs[i].Witness
			f.WriteCompactUint(uint64(len(stack)))
			for _, item := range stack {
				f.WriteVarBytes(item)
			}
		}
	}

	var lock uint32
	if tx.LockTime != nil {
		lock = tx.LockTime.Value()
	}
	f.WriteUint32(lock)
}

func (tx *Transaction) decode(p *Parser) error {
	var err error
	if tx.Version, err = p.ReadInt32(); err != nil {
		return err
	}

	witness := false
	if p.Remaining() >= 2 && p.data[p.pos] == witnessMarker {
		if p.data[p.pos+1] != witnessFlag {
			return fmt.Errorf("%w: unknown witness flag 0x%02x", ErrMalformedInput, p.data[p.pos+1])
		}
		p.pos += 2
		witness = true
	}

	nIn, err := p.ReadCount(minTxInSize)
	if err != nil {
		return err
	}
	tx.Inputs = make([]TxIn, nIn)
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		if in.PrevOut.Hash, err = p.ReadHash(); err != nil {
			return err
		}
		if in.PrevOut.Index, err = p.ReadUint32(); err != nil {
			return err
		}
		if in.Script, err = p.ReadVarBytes(); err != nil {
			return err
		}
		if in.Sequence, err = p.ReadUint32(); err != nil {
			return err
		}
	}

	nOut, err := p.ReadCount(minTxOutSize)
	if err != nil {
		return err
	}
	tx.Outputs = make([]TxOut, nOut)
	for i := range tx.Outputs {
		if tx.Outputs[i].Value, err = p.ReadInt64(); err != nil {
			return err
		}
		if tx.Outputs[i].Script, err = p.ReadVarBytes(); err != nil {
			return err
		}
	}

	if witness {
		for i := range tx.Inputs {
			n, err := p.ReadCount(1)
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}
			stack := make([][]byte, n)
			for j := range stack {
				if stack[j], err = p.ReadVarBytes(); err != nil {
					return err
				}
			}
			tx.Inputs[i].Witness = stack
		}
		if !tx.HasWitness() {
			return fmt.Errorf("%w: witness flag set without witness data", ErrMalformedInput)
		}
	}

	lock, err := p.ReadUint32()
	if err != nil {
		return err
	}
	tx.LockTime = NewLockTime(lock)
	return nil
}
