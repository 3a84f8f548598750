package relay

import (
	"sync"
)

// Record is one journaled write: the trusted root or an accepted header.
type Record struct {
	Root   bool
	Height uint32 // root only
	Raw    []byte
}

// Journal persists the raw inputs the relay accepted so its state can be
// rebuilt by replaying them in order. Only valid writes are appended.
type Journal interface {
	AppendRoot(raw []byte, height uint32) error
	AppendHeader(raw []byte) error
	Replay(fn func(Record) error) error
	Close() error
}

// MemoryJournal is an in-memory Journal.
type MemoryJournal struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryJournal returns an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// AppendRoot records the trusted root header.
func (j *MemoryJournal) AppendRoot(raw []byte, height uint32) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, Record{Root: true, Height: height, Raw: append([]byte(nil), raw...)})
	return nil
}

// AppendHeader records an accepted header.
func (j *MemoryJournal) AppendHeader(raw []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, Record{Raw: append([]byte(nil), raw...)})
	return nil
}

// Replay calls fn for every record in append order.
func (j *MemoryJournal) Replay(fn func(Record) error) error {
	j.mu.Lock()
	records := append([]Record(nil), j.records...)
	j.mu.Unlock()

	for _, r := range records {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of records.
func (j *MemoryJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// Close is a no-op.
func (j *MemoryJournal) Close() error { return nil }

var _ Journal = (*MemoryJournal)(nil)

type nopJournal struct{}

func (nopJournal) AppendRoot([]byte, uint32) error { return nil }
func (nopJournal) AppendHeader([]byte) error       { return nil }
func (nopJournal) Replay(func(Record) error) error { return nil }
func (nopJournal) Close() error                    { return nil }
