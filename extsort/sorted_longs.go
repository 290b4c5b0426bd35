package extsort

import (
	"encoding/binary"
	"io"
)

// Long is a u64 ordinal with the Item[Long] methods needed to back
// ExternalSortedLongs (C3). Natural ordering; duplicate values are
// permitted (spec.md §4.2: "semantically a sorted multiset").
type Long uint64

func (l *Long) Less(other *Long) bool { return *l < *other }
func (l *Long) EncodedSize() int      { return 8 }

func (l *Long) WriteTo(w io.Writer) (int64, error) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(*l))
	n, err := w.Write(buf[:])
	return int64(n), err
}

func (l *Long) ReadFrom(r io.Reader) (int64, error) {
	var buf [8]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return int64(n), err
	}
	*l = Long(binary.BigEndian.Uint64(buf[:]))
	return int64(n), nil
}

// LongSet is ExternalSortedLongs (C3): a Set[Long] under the hood,
// exposing a narrower, u64-typed API to callers (DuplicateMarker's
// duplicate-ordinal set, OutputWriter's peekable reader over it).
type LongSet struct {
	set *Set[Long, *Long]
}

// NewLongSet creates an ExternalSortedLongs with the given in-memory
// run capacity (in bytes of u64 ordinals).
func NewLongSet(tempDir, prefix string, memoryBudgetBytes int64) *LongSet {
	return &LongSet{set: NewSet[Long, *Long](tempDir, prefix, memoryBudgetBytes)}
}

// Insert adds an ordinal. Insertion is idempotent by value at the level
// of the resulting duplicate set's semantics (spec.md §3): inserting the
// same ordinal twice is harmless since the second pass only asks
// "does the next ordinal equal this one", and repeats are skipped.
func (s *LongSet) Insert(v uint64) error { return s.set.Insert(Long(v)) }

// Finish returns a PeekIterator yielding ordinals in non-decreasing
// order (spec.md §4.2, §5 "O(n) merge against the second pass").
func (s *LongSet) Finish() (*PeekIterator, error) {
	it, err := s.set.Finish()
	if err != nil {
		return nil, err
	}
	p := &PeekIterator{it: it}
	if err := p.advance(); err != nil {
		it.Close()
		return nil, err
	}
	return p, nil
}

// PeekIterator is the "single-step peekable iterator D" that spec.md
// §4.10 requires OutputWriter to walk alongside the second pass.
type PeekIterator struct {
	it      *Iterator[Long, *Long]
	current uint64
	valid   bool
}

func (p *PeekIterator) advance() error {
	v, ok, err := p.it.Next()
	if err != nil {
		return err
	}
	p.valid = ok
	if ok {
		p.current = uint64(v)
	}
	return nil
}

// Peek returns the next ordinal without consuming it, and false once
// exhausted.
func (p *PeekIterator) Peek() (uint64, bool) {
	return p.current, p.valid
}

// Advance consumes the peeked value and loads the next one.
func (p *PeekIterator) Advance() error {
	return p.advance()
}

// SkipTo discards peeked values strictly less than target, so that
// repeated ordinals collapse into a single match (spec.md §4.2: the
// second pass ignores extras).
func (p *PeekIterator) SkipTo(target uint64) error {
	for p.valid && p.current < target {
		if err := p.advance(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying run files.
func (p *PeekIterator) Close() error { return p.it.Close() }
