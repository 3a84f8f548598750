package relay

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/bitfsorg/btcrelay-go/bitcoin"
)

var (
	bucketRoot    = []byte("root")
	bucketHeaders = []byte("headers")

	keyRoot = []byte("root")
)

// openTimeout bounds the wait for another process's lock on the database.
const openTimeout = 5 * time.Second

// BoltJournal is a Journal backed by a bbolt database. Headers are keyed by
// a big-endian sequence number so a cursor returns them in append order.
type BoltJournal struct {
	db *bbolt.DB
}

// OpenBoltJournal opens or creates the journal database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltJournal(dbPath string) (*BoltJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("relay: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("relay: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRoot, bucketHeaders} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("relay: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("relay: create buckets: %w", err)
	}

	return &BoltJournal{db: db}, nil
}

// Open opens the bbolt journal at dbPath and returns a relay replayed from
// it. Closing the relay closes the journal.
func Open(params Params, dbPath string, opts ...Option) (*Relay, error) {
	j, err := OpenBoltJournal(dbPath)
	if err != nil {
		return nil, err
	}
	r, err := New(params, append(opts, WithJournal(j))...)
	if err != nil {
		_ = j.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the underlying database.
func (j *BoltJournal) Close() error { return j.db.Close() }

// AppendRoot stores the trusted root as its height followed by the header.
func (j *BoltJournal) AppendRoot(raw []byte, height uint32) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRoot)
		if b.Get(keyRoot) != nil {
			return ErrAlreadyInitialized
		}
		v := binary.BigEndian.AppendUint32(nil, height)
		return b.Put(keyRoot, append(v, raw...))
	})
}

// AppendHeader stores an accepted header under the next sequence number.
func (j *BoltJournal) AppendHeader(raw []byte) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHeaders)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("journal: next sequence: %w", err)
		}
		return b.Put(binary.BigEndian.AppendUint64(nil, seq), raw)
	})
}

// Replay calls fn with the root, then with every header in append order.
// Values are copied out of the transaction before fn sees them.
func (j *BoltJournal) Replay(fn func(Record) error) error {
	return j.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRoot).Get(keyRoot)
		if v == nil {
			return nil
		}
		if len(v) != 4+bitcoin.BlockHeaderSize {
			return fmt.Errorf("%w: root record is %d bytes", ErrCorruptJournal, len(v))
		}
		root := Record{
			Root:   true,
			Height: binary.BigEndian.Uint32(v[:4]),
			Raw:    append([]byte(nil), v[4:]...),
		}
		if err := fn(root); err != nil {
			return err
		}

		c := tx.Bucket(bucketHeaders).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := fn(Record{Raw: append([]byte(nil), v...)}); err != nil {
				return err
			}
		}
		return nil
	})
}

var _ Journal = (*BoltJournal)(nil)
