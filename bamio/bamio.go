// Package bamio adapts github.com/biogo/hts/{sam,bam} into the
// AlignedRecordStream / AlignedRecordHeader external collaborators
// spec.md §6 assumes already exist. It is the one package in this
// repository allowed to know about file formats; everything under
// markduplicates works against *sam.Record and *sam.Header directly,
// the way the teacher's own markduplicates package does
// (grailbio-bio/markduplicates/mark_duplicates.go takes a
// bamprovider.Provider and *sam.Record throughout).
package bamio

import (
	"io"
	"os"
	"strings"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/simd"
)

// Source is a reusable (re-openable) handle on one or more
// coordinate-sorted input files. The engine reads it twice (spec.md §6:
// "the stream is replayable"), so Open is called once per pass.
type Source struct {
	paths            []string
	decompressWorker int
}

// NewSource builds a Source over one or more input paths, merged by
// coordinate order when there is more than one (spec.md §6
// "input_paths: ordered list of alignment files (merged by
// input-order if multiple)" — coordinate merge, since downstream
// requires a single coordinate-sorted stream).
func NewSource(paths []string) *Source {
	return &Source{paths: paths, decompressWorker: 1}
}

// Stream is an open, single-use read cursor over a Source.
type Stream struct {
	header  *sam.Header
	closers []io.Closer
	next    func() (*sam.Record, error)
}

// Open opens (or reopens) the underlying file(s) for one pass.
func (s *Source) Open() (*Stream, error) {
	if len(s.paths) == 0 {
		return nil, errors.E("bamio: no input paths configured")
	}
	if len(s.paths) == 1 {
		return s.openSingle(s.paths[0])
	}
	return s.openMerged(s.paths)
}

func (s *Source) openSingle(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(err, "bamio: opening input:", path)
	}
	r, err := openReader(f, path, s.decompressWorker)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Stream{
		header:  r.Header(),
		closers: []io.Closer{f},
		next:    r.Read,
	}, nil
}

func (s *Source) openMerged(paths []string) (*Stream, error) {
	readers := make([]*bam.Reader, 0, len(paths))
	closers := make([]io.Closer, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll(closers)
			return nil, errors.E(err, "bamio: opening input:", path)
		}
		closers = append(closers, f)
		r, err := bam.NewReader(f, s.decompressWorker)
		if err != nil {
			closeAll(closers)
			return nil, errors.E(err, "bamio: reading header:", path)
		}
		readers = append(readers, r)
	}
	merger, err := bam.NewMerger(coordinateLess, readers...)
	if err != nil {
		closeAll(closers)
		return nil, errors.E(err, "bamio: merging inputs")
	}
	return &Stream{
		header:  merger.Header(),
		closers: closers,
		next:    merger.Read,
	}, nil
}

// coordinateLess orders records the way a coordinate-sorted merge must:
// unmapped records (ref == nil) sort last.
func coordinateLess(a, b *sam.Record) bool {
	aUnmapped := a.Ref == nil
	bUnmapped := b.Ref == nil
	if aUnmapped != bUnmapped {
		return bUnmapped
	}
	if aUnmapped {
		return false
	}
	if a.Ref.ID() != b.Ref.ID() {
		return a.Ref.ID() < b.Ref.ID()
	}
	return a.Pos < b.Pos
}

// openReader dispatches on file extension between the BAM binary reader
// and the plain-text SAM reader, so small test fixtures can be authored
// as .sam.
func openReader(f *os.File, path string, decompressWorker int) (recordReader, error) {
	if strings.HasSuffix(path, ".sam") {
		r, err := sam.NewReader(f)
		if err != nil {
			return nil, errors.E(err, "bamio: reading SAM header:", path)
		}
		return samReaderAdapter{r}, nil
	}
	r, err := bam.NewReader(f, decompressWorker)
	if err != nil {
		return nil, errors.E(err, "bamio: reading BAM header:", path)
	}
	return bamReaderAdapter{r}, nil
}

// recordReader unifies bam.Reader and sam.Reader's incompatible Read
// signatures (bam.Reader.Read returns io.EOF like an io.Reader of
// records; sam.Reader.Read does the same).
type recordReader interface {
	Header() *sam.Header
	Read() (*sam.Record, error)
}

type bamReaderAdapter struct{ r *bam.Reader }

func (a bamReaderAdapter) Header() *sam.Header        { return a.r.Header() }
func (a bamReaderAdapter) Read() (*sam.Record, error) { return a.r.Read() }

type samReaderAdapter struct{ r *sam.Reader }

func (a samReaderAdapter) Header() *sam.Header        { return a.r.Header() }
func (a samReaderAdapter) Read() (*sam.Record, error) { return a.r.Read() }

// Header returns the (possibly merged) input header.
func (s *Stream) Header() *sam.Header { return s.header }

// Read returns the next record, or io.EOF when the stream is exhausted.
func (s *Stream) Read() (*sam.Record, error) { return s.next() }

// Close releases every underlying file handle.
func (s *Stream) Close() error {
	return closeAll(s.closers)
}

func closeAll(closers []io.Closer) error {
	var firstErr error
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Sink is the OutputWriter's external collaborator: the single output
// alignment file (spec.md §6 "output_path: one output alignment
// file").
type Sink struct {
	f *os.File
	w *bam.Writer
}

// NewSink creates the output file and writes header immediately.
func NewSink(path string, header *sam.Header, compressWorker int) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.E(err, "bamio: creating output:", path)
	}
	w, err := bam.NewWriter(f, header, compressWorker)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.E(err, "bamio: writing output header:", path)
	}
	return &Sink{f: f, w: w}, nil
}

// Write emits one record.
func (s *Sink) Write(r *sam.Record) error {
	return s.w.Write(r)
}

// Close flushes and closes the output file.
func (s *Sink) Close() error {
	if err := s.w.Close(); err != nil {
		s.f.Close()
		return errors.E(err, "bamio: closing output writer")
	}
	return s.f.Close()
}

// UnclippedCoords returns the leading- and trailing-clip-adjusted
// alignment bounds (spec.md §6 "unclipped_start, unclipped_end"): the
// position the read would have started/ended at if its soft- and
// hard-clipped bases had aligned to the reference.
func UnclippedCoords(r *sam.Record) (start, end int) {
	start, end = r.Pos, r.End()
	for _, op := range r.Cigar {
		t := op.Type()
		if t != sam.CigarSoftClipped && t != sam.CigarHardClipped {
			break
		}
		start -= op.Len()
	}
	for i := len(r.Cigar) - 1; i >= 0; i-- {
		t := r.Cigar[i].Type()
		if t != sam.CigarSoftClipped && t != sam.CigarHardClipped {
			break
		}
		end += r.Cigar[i].Len()
	}
	return start, end
}

// FivePrimeUnclipped returns the unclipped coordinate of the read's 5'
// end: unclipped_start on the forward strand, unclipped_end on the
// reverse strand (spec.md §3 "the 5′-unclipped coordinate").
func FivePrimeUnclipped(r *sam.Record) int {
	start, end := UnclippedCoords(r)
	if r.Flags&sam.Reverse != 0 {
		return end
	}
	return start
}

// IsSecondaryOrSupplementary reports the filter condition applied at
// the very start of FingerprintBuilder's per-record loop (spec.md
// §4.8 step 1).
func IsSecondaryOrSupplementary(r *sam.Record) bool {
	return r.Flags&(sam.Secondary|sam.Supplementary) != 0
}

// ReadGroupID returns the record's RG tag value, if present.
func ReadGroupID(r *sam.Record) (string, bool) {
	aux, ok := r.Tag([]byte("RG"))
	if !ok {
		return "", false
	}
	v, ok := aux.Value().(string)
	return v, ok
}

// BaseQScore sums base qualities >= 15 via the same vectorized
// accumulator the teacher uses (grailbio-bio/markduplicates/helpers.go's
// baseQScore, simd.Accumulate8Greater(r.Qual, 14), i.e. "strictly
// greater than 14"). biogo/hts's Qual is already Phred+0 after
// UnmarshalSAM's -33 adjustment, matching the teacher's expectation.
// Unlike the teacher's int accumulator, this saturates to the maximum
// uint16 instead of wrapping (spec.md §9's documented overflow bug).
func BaseQScore(r *sam.Record) uint16 {
	sum := simd.Accumulate8Greater(r.Qual, 14)
	if sum > 0xFFFF {
		return 0xFFFF
	}
	return uint16(sum)
}
