// Package matetable implements C4, MatePairTable: an external hash map
// that stashes one end of a pair's half-fingerprint until its mate
// arrives, keyed by (expected mate reference index, read-group:name),
// spilling a per-reference bucket to disk once it grows past an
// in-memory threshold; when the open-file-handle budget is reached, the
// oldest spill file's append handle is closed and reopened on the next
// spill of that bucket.
//
// The disk format is adapted from the teacher's
// encoding/bampair/disk_mate_shard.go: a snappy-compressed, length-
// prefixed append log per bucket. Unlike the teacher's batch
// load-entire-shard-then-query pattern (appropriate for its sharded,
// two-phase-per-shard architecture), entries here are looked up
// one at a time as the single coordinate-ordered scan proceeds, so a
// bucket's on-disk log is scanned and re-scanned, with returned keys
// tombstoned to make repeat scans cheap.
package matetable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/biogo/store/llrb"
	farm "github.com/dgryski/go-farm"
	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"

	"github.com/helicase-bio/markdup/fingerprint"
)

// refKey orders bucket reference ids in an llrb.Tree so the table can
// efficiently find and reclaim every bucket whose reference the
// coordinate scan has already passed (spec.md §4.3: "once the scan
// advances past a reference, any unretrieved entries ... are orphans").
type refKey int32

func (k refKey) Compare(other llrb.Comparable) int {
	o := other.(refKey)
	return int(k) - int(o)
}

// bucket holds the outstanding partial fingerprints expected to see
// their mate arrive on a single reference index.
type bucket struct {
	refID int32
	mem   map[string]fingerprint.Fingerprint

	spillPath string
	spillFile *os.File // open in append mode once spilling begins; may be nil
	tombstone map[string]struct{}
	bloom     *keyFilter // fast negative-lookup guard over spillPath's keys
	diskCount int        // entries written to spillPath not yet retrieved
}

// keyFilter is a small Bloom filter over the keys appended to a spilled
// bucket's log, so a Remove for a key that was never stashed on this
// reference (the common case once a bucket has many distinct read
// names) skips the disk scan entirely. Built with the same hash family
// the teacher uses to shard its in-memory kmer index
// (fusion/kmer_index.go's farm.Hash64WithSeed), using two independent
// seeds as the filter's two hash functions.
type keyFilter struct {
	bits []uint64
}

func newKeyFilter(expectedEntries int) *keyFilter {
	nbits := expectedEntries * 10
	if nbits < 64 {
		nbits = 64
	}
	return &keyFilter{bits: make([]uint64, (nbits+63)/64)}
}

func (f *keyFilter) positions(key string) (uint64, uint64) {
	n := uint64(len(f.bits)) * 64
	h1 := farm.Hash64WithSeed([]byte(key), 0) % n
	h2 := farm.Hash64WithSeed([]byte(key), 1) % n
	return h1, h2
}

func (f *keyFilter) set(pos uint64) { f.bits[pos/64] |= 1 << (pos % 64) }
func (f *keyFilter) get(pos uint64) bool { return f.bits[pos/64]&(1<<(pos%64)) != 0 }

func (f *keyFilter) Add(key string) {
	h1, h2 := f.positions(key)
	f.set(h1)
	f.set(h2)
}

// MightContain reports whether key may have been added. A false
// negative never occurs; false positives only cost an unnecessary scan.
func (f *keyFilter) MightContain(key string) bool {
	h1, h2 := f.positions(key)
	return f.get(h1) && f.get(h2)
}

// Table is MatePairTable (C4).
type Table struct {
	tempDir        string
	prefix         string
	spillThreshold int // per-bucket entry count that triggers a spill
	maxOpenFiles   int

	mu          sync.Mutex
	buckets     map[int32]*bucket
	activeRefs  llrb.Tree // refKey set, mirrors keys(buckets) for ordered reclaim
	openFiles   int
	lruOrder    []int32 // refIDs with an open append handle, oldest first
	orphanCount int
	orphanWarn  bool
}

// New creates a MatePairTable. spillThreshold bounds how many entries a
// bucket holds in memory before it is flushed to disk; maxOpenFiles
// bounds concurrently open spill-file handles across all buckets
// (spec.md §5 "file-handle budget").
func New(tempDir, prefix string, spillThreshold, maxOpenFiles int) *Table {
	return &Table{
		tempDir:        tempDir,
		prefix:         prefix,
		spillThreshold: spillThreshold,
		maxOpenFiles:   maxOpenFiles,
		buckets:        make(map[int32]*bucket),
	}
}

func (t *Table) bucketFor(refID int32) *bucket {
	b, ok := t.buckets[refID]
	if !ok {
		b = &bucket{refID: refID, mem: make(map[string]fingerprint.Fingerprint)}
		t.buckets[refID] = b
		t.activeRefs.Insert(refKey(refID))
	}
	return b
}

// Put stores partialFP, expected to be retrieved by a future Remove on
// expectedMateRef with the same key.
func (t *Table) Put(expectedMateRef int32, key string, partialFP fingerprint.Fingerprint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketFor(expectedMateRef)
	b.mem[key] = partialFP
	if len(b.mem) >= t.spillThreshold {
		if err := t.spill(b); err != nil {
			return err
		}
	}
	return nil
}

// Remove retrieves and deletes the entry stashed under (currentRef,
// key), returning ok=false if no such entry exists.
func (t *Table) Remove(currentRef int32, key string) (fingerprint.Fingerprint, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[currentRef]
	if !ok {
		return fingerprint.Fingerprint{}, false, nil
	}
	if fp, ok := b.mem[key]; ok {
		delete(b.mem, key)
		return fp, true, nil
	}
	if b.spillPath == "" {
		return fingerprint.Fingerprint{}, false, nil
	}
	fp, found, err := t.readFromDisk(b, key)
	if err != nil {
		return fingerprint.Fingerprint{}, false, err
	}
	return fp, found, nil
}

// Size returns the total number of outstanding entries, in-memory and
// on disk. It is O(buckets), used only for metrics/logging.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.buckets {
		n += len(b.mem) + b.diskCount
	}
	return n
}

// spill flushes b's in-memory entries to its on-disk append log, making
// room in the bucket's memory footprint. Must be called with t.mu held.
func (t *Table) spill(b *bucket) error {
	if b.spillFile == nil {
		if err := t.ensureOpenSlot(); err != nil {
			return err
		}
		name := b.spillPath
		if name == "" {
			name = filepath.Join(t.tempDir, fmt.Sprintf("%s.mate.ref%06d", t.prefix, b.refID))
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return errors.E(err, "matetable: opening spill file:", name)
		}
		b.spillPath = name
		b.spillFile = f
		// tombstone/bloom track keys already written to the on-disk log
		// across reopens (ensureOpenSlot evicts spillFile but leaves
		// these intact); only seed them the first time this bucket ever
		// spills, or a reopen after eviction would forget every key
		// already on disk and false-negative every later lookup.
		if b.tombstone == nil {
			b.tombstone = make(map[string]struct{})
		}
		if b.bloom == nil {
			b.bloom = newKeyFilter(t.spillThreshold)
		}
		t.openFiles++
		t.lruOrder = append(t.lruOrder, b.refID)
	}
	for key, fp := range b.mem {
		if err := appendEntry(b.spillFile, key, &fp); err != nil {
			return err
		}
		b.bloom.Add(key)
		b.diskCount++
	}
	b.mem = make(map[string]fingerprint.Fingerprint)
	log.Debug.Printf("matetable %s: spilled ref %d", t.prefix, b.refID)
	return nil
}

// ensureOpenSlot closes the oldest-opened spilled bucket's append
// handle if opening one more would exceed maxOpenFiles (spec.md §5:
// "the oldest non-active file is closed and lazily reopened on
// access"). Must be called with t.mu held.
func (t *Table) ensureOpenSlot() error {
	for t.openFiles >= t.maxOpenFiles && len(t.lruOrder) > 0 {
		victimRef := t.lruOrder[0]
		t.lruOrder = t.lruOrder[1:]
		if vb, ok := t.buckets[victimRef]; ok && vb.spillFile != nil {
			if err := vb.spillFile.Close(); err != nil {
				return errors.E(err, "matetable: closing spill file:", vb.spillPath)
			}
			vb.spillFile = nil
			t.openFiles--
		}
	}
	return nil
}

// readFromDisk scans b's on-disk log for key, tombstoning it on a hit
// so a future duplicate read_name collision in the same bucket (rare,
// but not impossible) does not return a stale entry twice.
func (t *Table) readFromDisk(b *bucket, key string) (fingerprint.Fingerprint, bool, error) {
	if _, already := b.tombstone[key]; already {
		return fingerprint.Fingerprint{}, false, nil
	}
	if b.bloom != nil && !b.bloom.MightContain(key) {
		return fingerprint.Fingerprint{}, false, nil
	}
	f, err := os.Open(b.spillPath)
	if err != nil {
		return fingerprint.Fingerprint{}, false, errors.E(err, "matetable: opening spill file for read:", b.spillPath)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var result fingerprint.Fingerprint
	found := false
	for {
		k, fp, err := readEntry(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fingerprint.Fingerprint{}, false, errors.E(err, "matetable: reading spill file:", b.spillPath)
		}
		if _, tomb := b.tombstone[k]; tomb {
			continue
		}
		if k == key {
			result = fp
			found = true
			b.tombstone[k] = struct{}{}
			b.diskCount--
			break
		}
	}
	return result, found, nil
}

// AdvancePast notifies the table that the coordinate scan has moved
// strictly past refID: every bucket for a reference index less than
// refID is now orphaned (its mate will never arrive) and is reclaimed.
// Reclaimed entries are logged as orphans but never fail the run
// (spec.md §4.8 "the MatePairTable is discarded (orphans are logged but
// do not fail the run)").
func (t *Table) AdvancePast(refID int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.activeRefs.Len() > 0 {
		min := t.activeRefs.Min()
		if min == nil {
			break
		}
		k := min.(refKey)
		if int32(k) >= refID {
			break
		}
		t.activeRefs.DeleteMin()
		if b, ok := t.buckets[int32(k)]; ok {
			t.orphanCount += len(b.mem) + b.diskCount
			if b.spillFile != nil {
				b.spillFile.Close()
				t.openFiles--
			}
			if b.spillPath != "" {
				os.Remove(b.spillPath)
			}
			delete(t.buckets, int32(k))
		}
		if !t.orphanWarn && t.orphanCount > 0 {
			log.Error.Printf("matetable %s: orphan mate(s) detected, mate never arrived for its reference", t.prefix)
			t.orphanWarn = true
		}
	}
}

// Close discards the table, removing every outstanding spill file. It
// must be called on every exit path (spec.md §3).
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, b := range t.buckets {
		t.orphanCount += len(b.mem) + b.diskCount
		if b.spillFile != nil {
			if err := b.spillFile.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if b.spillPath != "" {
			os.Remove(b.spillPath)
		}
	}
	t.buckets = make(map[int32]*bucket)
	return firstErr
}

// OrphanCount returns the number of entries reclaimed by AdvancePast
// plus Close without ever being retrieved by Remove.
func (t *Table) OrphanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.orphanCount
}

// appendEntry writes one (key, Fingerprint) record: a 4-byte key
// length, the key bytes, a 4-byte payload length, and the fixed-width
// fingerprint encoding, mirroring the length-prefixed framing of
// disk_mate_shard.go's add() but self-delimited per record rather than
// relying on a single streaming snappy writer, since entries here are
// interleaved with reads of the same file.
func appendEntry(w io.Writer, key string, fp *fingerprint.Fingerprint) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(key)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.E(err, "matetable: writing key length")
	}
	if _, err := io.WriteString(w, key); err != nil {
		return errors.E(err, "matetable: writing key")
	}
	compressed := snappy.Encode(nil, encodeFingerprint(fp))
	binary.BigEndian.PutUint32(hdr[:], uint32(len(compressed)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.E(err, "matetable: writing payload length")
	}
	if _, err := w.Write(compressed); err != nil {
		return errors.E(err, "matetable: writing payload")
	}
	return nil
}

func readEntry(r *bufio.Reader) (string, fingerprint.Fingerprint, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", fingerprint.Fingerprint{}, err
	}
	keyLen := binary.BigEndian.Uint32(hdr[:])
	keyBuf := make([]byte, keyLen)
	if _, err := io.ReadFull(r, keyBuf); err != nil {
		return "", fingerprint.Fingerprint{}, err
	}
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", fingerprint.Fingerprint{}, err
	}
	payloadLen := binary.BigEndian.Uint32(hdr[:])
	payloadBuf := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payloadBuf); err != nil {
		return "", fingerprint.Fingerprint{}, err
	}
	raw, err := snappy.Decode(nil, payloadBuf)
	if err != nil {
		return "", fingerprint.Fingerprint{}, err
	}
	fp, err := decodeFingerprint(raw)
	if err != nil {
		return "", fingerprint.Fingerprint{}, err
	}
	return string(keyBuf), fp, nil
}

func encodeFingerprint(fp *fingerprint.Fingerprint) []byte {
	var buf rawBuffer
	_, _ = fp.WriteTo(&buf)
	return buf.b
}

func decodeFingerprint(raw []byte) (fingerprint.Fingerprint, error) {
	var fp fingerprint.Fingerprint
	_, err := fp.ReadFrom(&rawBuffer{b: raw})
	return fp, err
}

// rawBuffer is a tiny io.Reader/io.Writer over a byte slice, avoiding a
// bytes.Buffer allocation for the common small fixed-size fingerprint
// payload.
type rawBuffer struct {
	b   []byte
	pos int
}

func (r *rawBuffer) Write(p []byte) (int, error) {
	r.b = append(r.b, p...)
	return len(p), nil
}

func (r *rawBuffer) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
