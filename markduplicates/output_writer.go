package markduplicates

import (
	"fmt"
	"io"

	"github.com/biogo/hts/sam"

	"github.com/helicase-bio/markdup/bamio"
	"github.com/helicase-bio/markdup/extsort"
)

// OutputWriter is C11, the second pass: it re-reads the input stream a
// second time, flips the Duplicate flag against the sorted duplicate
// ordinal set, optionally drops flagged records, and tallies the final
// per-library counters (spec.md §4.10). The program-group record is
// chained onto the output header beforehand, by ChainProgramRecord.
type OutputWriter struct {
	header           *sam.Header
	metrics          *Metrics
	removeDuplicates bool
	ordinal          uint64
	lookup           func(*sam.Record) uint16
}

// NewOutputWriter constructs an OutputWriter bound to the (possibly
// PG-chained) output header.
func NewOutputWriter(header *sam.Header, metrics *Metrics, removeDuplicates bool) *OutputWriter {
	return &OutputWriter{header: header, metrics: metrics, removeDuplicates: removeDuplicates}
}

// ChainProgramRecord adds a PG record to header with the given base id,
// retrying with a numeric suffix on a name collision (spec.md §7
// ProgramRecordCollision is recoverable by disambiguation, not fatal),
// and returns the id actually used.
func ChainProgramRecord(header *sam.Header, baseID, command, version string) (string, error) {
	if baseID == "" {
		return "", nil
	}
	var prev string
	if progs := header.Progs(); len(progs) > 0 {
		prev = progs[len(progs)-1].UID()
	}
	id := baseID
	for attempt := 0; ; attempt++ {
		p := sam.NewProgram(id, baseID, command, prev, version)
		if err := header.AddProgram(p); err != nil {
			if attempt >= 1000 {
				return "", newError(ProgramRecordCollision, fmt.Sprintf("could not disambiguate program id %q", baseID), err)
			}
			id = fmt.Sprintf("%s.%d", baseID, attempt+1)
			continue
		}
		return id, nil
	}
}

// Run walks stream, consulting dup (in non-decreasing ordinal order)
// to flip the Duplicate flag, writes each surviving record to sink, and
// returns the number of ordinals assigned (secondary and supplementary
// records are written but not counted) — compared by Engine against
// FingerprintBuilder's count for the PassCountMismatch invariant
// (spec.md §4.12).
func (w *OutputWriter) Run(stream *bamio.Stream, dup *extsort.PeekIterator, sink *bamio.Sink) (recordCount uint64, err error) {
	for {
		rec, rerr := stream.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return w.ordinal, newError(InputDecodeError, "reading input record", rerr)
		}

		if bamio.IsSecondaryOrSupplementary(rec) {
			if err := w.writeIfKept(rec, sink, false); err != nil {
				return w.ordinal, err
			}
			continue
		}

		isDup, err := w.isDuplicateOrdinal(dup, w.ordinal)
		if err != nil {
			return w.ordinal, err
		}
		w.tally(rec, isDup)

		rec.Flags &^= sam.Duplicate
		if isDup {
			rec.Flags |= sam.Duplicate
		}
		if err := w.writeIfKept(rec, sink, isDup); err != nil {
			return w.ordinal, err
		}
		w.ordinal++
	}
	return w.ordinal, nil
}

func (w *OutputWriter) isDuplicateOrdinal(dup *extsort.PeekIterator, ordinal uint64) (bool, error) {
	if err := dup.SkipTo(ordinal); err != nil {
		return false, newError(TempIoError, "reading duplicate ordinal set", err)
	}
	next, ok := dup.Peek()
	if !ok || next != ordinal {
		return false, nil
	}
	if err := dup.Advance(); err != nil {
		return false, newError(TempIoError, "reading duplicate ordinal set", err)
	}
	return true, nil
}

func (w *OutputWriter) writeIfKept(rec *sam.Record, sink *bamio.Sink, isDup bool) error {
	if isDup && w.removeDuplicates {
		return nil
	}
	if err := sink.Write(rec); err != nil {
		return newError(TempIoError, "writing output record", err)
	}
	return nil
}

// tally updates the per-library running counters of spec.md §4.10. It
// counts PairsExamined/PairDuplicates once per end, since each mapped
// pair passes through here as two separate records; Metrics.HalvePairCounts
// divides both back down to a per-pair count once the whole pass is done.
func (w *OutputWriter) tally(rec *sam.Record, isDup bool) {
	libID, _ := w.libraryID(rec)
	lm := w.metrics.For(libID)

	if rec.Ref == nil {
		lm.Unmapped++
		return
	}

	paired := rec.Flags&sam.Paired != 0 && rec.Flags&sam.MateUnmapped == 0 && rec.MateRef != nil
	if paired {
		lm.PairsExamined++
		if isDup {
			lm.PairDuplicates++
		}
		return
	}
	lm.UnpairedExamined++
	if isDup {
		lm.UnpairedDuplicates++
	}
}

// libraryID is filled in by Engine via SetLibraryLookup before Run is
// called; declared here so tally can stay a method without threading an
// extra parameter through Run's hot loop.
func (w *OutputWriter) libraryID(rec *sam.Record) (uint16, bool) {
	if w.lookup == nil {
		return 0, false
	}
	return w.lookup(rec), true
}

// SetLibraryLookup installs the function OutputWriter.tally uses to map
// a record to its library id. Engine supplies library.IDForRecord bound
// to the run's header and registry.
func (w *OutputWriter) SetLibraryLookup(lookup func(*sam.Record) uint16) {
	w.lookup = lookup
}
