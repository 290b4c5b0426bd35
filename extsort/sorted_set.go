// Package extsort implements C2 (ExternalSortedSet[T]) and C3
// (ExternalSortedLongs): bounded-RAM, insert-only collections that spill
// to temp files once their in-memory buffer overflows and yield their
// contents back in comparator order via a k-way merge.
//
// The design mirrors the teacher's encoding/bampair disk-spill idiom
// (github.com/golang/snappy-compressed append logs under a run-scoped
// temp directory, cleaned up on every exit path) generalized from a
// single mate-shard format into a generic sorted-run format.
package extsort

import (
	"container/heap"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Item is the constraint satisfied by *T for a type usable in a Set[T].
// T carries the value; the pointer type implements ordering and the
// compact binary codec the run files are written in.
type Item[T any] interface {
	*T
	Less(other *T) bool
	EncodedSize() int
	WriteTo(w io.Writer) (int64, error)
	ReadFrom(r io.Reader) (int64, error)
}

// Set is the generic ExternalSortedSet[T] from spec.md §4.1. N (the
// in-memory run capacity) is fixed at construction from a memory
// fraction and sizeof(T), per §4.1 / §5.
type Set[T any, PT Item[T]] struct {
	tempDir  string
	prefix   string
	capacity int

	buf []T

	runFiles []string
	nextRun  int

	finished bool
}

// NewSet creates an ExternalSortedSet[T]. memoryBudgetBytes is the slice
// of heap this set may use for its in-memory run (spec.md §4.1: "a fixed
// fraction, ≈25%, of available heap, divided by sizeof(T)"); prefix
// disambiguates temp files from other instances sharing tempDir
// (spec.md §5, "instance-unique prefix").
func NewSet[T any, PT Item[T]](tempDir, prefix string, memoryBudgetBytes int64) *Set[T, PT] {
	var zero T
	itemSize := PT(&zero).EncodedSize()
	capacity := int(memoryBudgetBytes) / itemSize
	if capacity < 1 {
		capacity = 1
	}
	return &Set[T, PT]{
		tempDir:  tempDir,
		prefix:   prefix,
		capacity: capacity,
		buf:      make([]T, 0, capacity),
	}
}

// Insert appends item, spilling the current buffer to a temp file first
// if it is full.
func (s *Set[T, PT]) Insert(item T) error {
	if s.finished {
		log.Fatalf("extsort: Insert after Finish on %s", s.prefix)
	}
	s.buf = append(s.buf, item)
	if len(s.buf) >= s.capacity {
		return s.spill()
	}
	return nil
}

func (s *Set[T, PT]) spill() error {
	if len(s.buf) == 0 {
		return nil
	}
	sort.Slice(s.buf, func(i, j int) bool {
		return PT(&s.buf[i]).Less(&s.buf[j])
	})
	name := filepath.Join(s.tempDir, fmt.Sprintf("%s.run%05d", s.prefix, s.nextRun))
	s.nextRun++
	f, err := os.Create(name)
	if err != nil {
		return errors.E(err, "extsort: creating run file:", name)
	}
	w := snappy.NewBufferedWriter(f)
	for i := range s.buf {
		if _, err := PT(&s.buf[i]).WriteTo(w); err != nil {
			f.Close()
			os.Remove(name)
			return errors.E(err, "extsort: writing run file:", name)
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(name)
		return errors.E(err, "extsort: flushing run file:", name)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return errors.E(err, "extsort: closing run file:", name)
	}
	s.runFiles = append(s.runFiles, name)
	s.buf = s.buf[:0]
	log.Debug.Printf("extsort %s: spilled run %d (%d items)", s.prefix, s.nextRun-1, s.capacity)
	return nil
}

// Finish consumes all in-memory and on-disk runs and returns an iterator
// yielding T in comparator order exactly once. The Set must not be used
// again after Finish.
func (s *Set[T, PT]) Finish() (*Iterator[T, PT], error) {
	if s.finished {
		log.Fatalf("extsort: Finish called twice on %s", s.prefix)
	}
	s.finished = true
	sort.Slice(s.buf, func(i, j int) bool {
		return PT(&s.buf[i]).Less(&s.buf[j])
	})

	it := &Iterator[T, PT]{prefix: s.prefix}
	if len(s.buf) > 0 {
		it.sources = append(it.sources, &memSource[T, PT]{items: s.buf})
	}
	for _, name := range s.runFiles {
		fs, err := newFileSource[T, PT](name)
		if err != nil {
			it.Close()
			return nil, err
		}
		it.sources = append(it.sources, fs)
	}
	if err := it.init(); err != nil {
		it.Close()
		return nil, err
	}
	return it, nil
}

// run is a single sorted source of items, either the final in-memory
// buffer or a spilled run file.
type run[T any, PT Item[T]] interface {
	next() (T, bool, error)
	close() error
}

type memSource[T any, PT Item[T]] struct {
	items []T
	pos   int
}

func (m *memSource[T, PT]) next() (T, bool, error) {
	var zero T
	if m.pos >= len(m.items) {
		return zero, false, nil
	}
	v := m.items[m.pos]
	m.pos++
	return v, true, nil
}

func (m *memSource[T, PT]) close() error { return nil }

type fileSource[T any, PT Item[T]] struct {
	name   string
	f      *os.File
	reader *snappy.Reader
}

func newFileSource[T any, PT Item[T]](name string) (*fileSource[T, PT], error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.E(err, "extsort: opening run file:", name)
	}
	return &fileSource[T, PT]{name: name, f: f, reader: snappy.NewReader(f)}, nil
}

func (fs *fileSource[T, PT]) next() (T, bool, error) {
	var v T
	_, err := PT(&v).ReadFrom(fs.reader)
	if err == io.EOF {
		return v, false, nil
	}
	if err != nil {
		return v, false, errors.E(err, "extsort: reading run file:", fs.name)
	}
	return v, true, nil
}

func (fs *fileSource[T, PT]) close() error {
	err := fs.f.Close()
	os.Remove(fs.name)
	return err
}

// heapEntry is one element of the merge heap: the current head item of
// a source plus the source's index, so the heap is stable on ties
// (lowest source index wins, matching the deterministic, codec-stable
// tie-break spec.md §4.1 requires).
type heapEntry[T any] struct {
	item   T
	srcIdx int
}

type mergeHeap[T any, PT Item[T]] struct {
	entries []heapEntry[T]
}

func (h *mergeHeap[T, PT]) Len() int { return len(h.entries) }
func (h *mergeHeap[T, PT]) Less(i, j int) bool {
	a, b := &h.entries[i], &h.entries[j]
	if PT(&a.item).Less(&b.item) {
		return true
	}
	if PT(&b.item).Less(&a.item) {
		return false
	}
	return a.srcIdx < b.srcIdx
}
func (h *mergeHeap[T, PT]) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }
func (h *mergeHeap[T, PT]) Push(x interface{}) {
	h.entries = append(h.entries, x.(heapEntry[T]))
}
func (h *mergeHeap[T, PT]) Pop() interface{} {
	n := len(h.entries)
	e := h.entries[n-1]
	h.entries = h.entries[:n-1]
	return e
}

// Iterator yields items from a Set in comparator order exactly once.
type Iterator[T any, PT Item[T]] struct {
	prefix  string
	sources []run[T, PT]
	heap    mergeHeap[T, PT]
	started bool
	closed  bool
}

func (it *Iterator[T, PT]) init() error {
	heap.Init(&it.heap)
	for i, src := range it.sources {
		v, ok, err := src.next()
		if err != nil {
			return err
		}
		if ok {
			heap.Push(&it.heap, heapEntry[T]{item: v, srcIdx: i})
		}
	}
	it.started = true
	return nil
}

// Next returns the next item in order, or ok=false when exhausted.
func (it *Iterator[T, PT]) Next() (item T, ok bool, err error) {
	if it.heap.Len() == 0 {
		return item, false, nil
	}
	e := heap.Pop(&it.heap).(heapEntry[T])
	item, ok = e.item, true
	v, more, err := it.sources[e.srcIdx].next()
	if err != nil {
		return item, true, err
	}
	if more {
		heap.Push(&it.heap, heapEntry[T]{item: v, srcIdx: e.srcIdx})
	}
	return item, ok, nil
}

// Close releases all underlying run files. It is safe to call multiple
// times and must be called on every exit path (spec.md §3 "Lifecycles":
// temp files are deleted on all exit paths, including failure).
func (it *Iterator[T, PT]) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	var firstErr error
	for _, src := range it.sources {
		if err := src.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
