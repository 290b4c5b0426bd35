package markduplicates

import (
	"io"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/log"

	"github.com/helicase-bio/markdup/bamio"
	"github.com/helicase-bio/markdup/extsort"
	"github.com/helicase-bio/markdup/fingerprint"
	"github.com/helicase-bio/markdup/library"
	"github.com/helicase-bio/markdup/matetable"
	"github.com/helicase-bio/markdup/physloc"
)

// fpSet is the concrete ExternalSortedSet[Fingerprint] type used for
// both the pair-sorted and fragment-sorted sets of spec.md §3.
type fpSet = extsort.Set[fingerprint.Fingerprint, *fingerprint.Fingerprint]

// FingerprintBuilder is C9: the first pass. It reads a coordinate-sorted
// stream once, building fragment and paired Fingerprints and feeding
// them into the two ExternalSortedSets, following the algorithm of
// spec.md §4.8.
//
// The ordinal FingerprintBuilder assigns intentionally does NOT advance
// on secondary/supplementary records, matching the Glossary's
// definition of "ordinal" and OutputWriter's own counting rule
// (spec.md §4.10): spec.md §4.8 step 1 as literally written would
// instead advance the ordinal there too, which would desynchronize the
// two passes' ordinal sequences and make every run with any
// secondary/supplementary record fail PassCountMismatch. That reading
// is treated as the distillation's error, not a deliberate behavior to
// reproduce (unlike the flagged Open Questions in spec.md §9, this one
// contradicts the spec's own invariants elsewhere, so the Glossary and
// §4.10 govern).
type FingerprintBuilder struct {
	header   *sam.Header
	registry *library.Registry
	mates    *matetable.Table
	loc      *physloc.Parser // nil disables optical-location tagging

	pairSet *fpSet
	fragSet *fpSet

	assumeSorted bool
	ordinal      uint64

	haveLast bool
	lastRef  int32
	lastPos  int32
}

// NewFingerprintBuilder constructs a FingerprintBuilder. loc may be nil
// to disable physical-location parsing (spec.md §6 "read_name_regex:
// ... explicit 'none' disables optical analysis").
func NewFingerprintBuilder(header *sam.Header, registry *library.Registry, mates *matetable.Table, loc *physloc.Parser, pairSet, fragSet *fpSet, assumeSorted bool) *FingerprintBuilder {
	return &FingerprintBuilder{
		header:       header,
		registry:     registry,
		mates:        mates,
		loc:          loc,
		pairSet:      pairSet,
		fragSet:      fragSet,
		assumeSorted: assumeSorted,
	}
}

// Run drains stream, feeding pairSet and fragSet; it does not finish
// either set (Engine does that after Finish). It returns the total
// ordinal count processed (for the PassCountMismatch check in Engine).
func (b *FingerprintBuilder) Run(stream *bamio.Stream) (recordCount uint64, err error) {
	for {
		rec, rerr := stream.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return b.ordinal, newError(InputDecodeError, "reading input record", rerr)
		}
		if bamio.IsSecondaryOrSupplementary(rec) {
			continue
		}
		if rec.Ref == nil {
			// Sort guarantees the tail is pure-unmapped (spec.md §4.8
			// step 2); nothing left to fingerprint, but each record still
			// takes an ordinal so the count matches OutputWriter's.
			b.ordinal++
			continue
		}
		if err := b.checkSortOrder(rec); err != nil {
			return b.ordinal, err
		}
		if err := b.process(rec); err != nil {
			return b.ordinal, err
		}
		b.ordinal++
	}
	return b.ordinal, nil
}

func (b *FingerprintBuilder) checkSortOrder(rec *sam.Record) error {
	ref, pos := int32(rec.Ref.ID()), int32(rec.Pos)
	if b.haveLast {
		if ref < b.lastRef || (ref == b.lastRef && pos < b.lastPos) {
			if !b.assumeSorted {
				return newError(SortOrderViolation, "input is not coordinate-sorted", nil)
			}
			log.Error.Printf("markduplicates: out-of-order record at %d:%d (previous %d:%d), continuing because assume_sorted is set", ref, pos, b.lastRef, b.lastPos)
		}
		if ref != b.lastRef {
			b.mates.AdvancePast(ref)
		}
	}
	b.haveLast, b.lastRef, b.lastPos = true, ref, pos
	return nil
}

func (b *FingerprintBuilder) process(rec *sam.Record) error {
	libID := library.IDForRecord(b.registry, b.header, rec)
	rgOrdinal, _ := library.OrdinalForRecord(b.header, rec)

	var tile, x, y int16 = -1, -1, -1
	if b.loc != nil {
		if loc, ok := b.loc.Parse(rec.Name); ok {
			tile, x, y = int16(loc.Tile), int16(loc.X), int16(loc.Y)
		}
	}

	pos := int32(bamio.FivePrimeUnclipped(rec))
	reversed := rec.Flags&sam.Reverse != 0
	score := bamio.BaseQScore(rec)
	matePaired := rec.Flags&sam.Paired != 0 && rec.Flags&sam.MateUnmapped == 0 && rec.MateRef != nil

	frag := fingerprint.Fingerprint{
		LibraryID:    libID,
		R1Ref:        int32(rec.Ref.ID()),
		R1Pos:        pos,
		R2Ref:        fingerprint.NoRef,
		Orientation:  fingerprint.SingleOrientation(reversed),
		Score:        score,
		RGOrdinal:    rgOrdinal,
		Tile:         tile,
		X:            x,
		Y:            y,
		Ordinal1:     b.ordinal,
		PairedRecord: matePaired,
	}
	if err := b.fragSet.Insert(frag); err != nil {
		return newError(TempIoError, "inserting fragment fingerprint", err)
	}

	if !matePaired {
		return nil
	}

	rgID, _ := bamio.ReadGroupID(rec)
	key := rgID + ":" + rec.Name

	stashed, found, err := b.mates.Remove(int32(rec.Ref.ID()), key)
	if err != nil {
		return newError(TempIoError, "reading mate table", err)
	}
	if !found {
		half := fingerprint.Fingerprint{
			LibraryID:   libID,
			R1Ref:       int32(rec.Ref.ID()),
			R1Pos:       pos,
			R2Ref:       int32(rec.MateRef.ID()), // expected_mate_ref, overwritten at merge
			Orientation: fingerprint.SingleOrientation(reversed),
			Score:       score,
			RGOrdinal:   rgOrdinal,
			Tile:        tile,
			X:           x,
			Y:           y,
			Ordinal1:    b.ordinal,
		}
		if err := b.mates.Put(int32(rec.MateRef.ID()), key, half); err != nil {
			return newError(TempIoError, "writing mate table", err)
		}
		return nil
	}

	paired := mergePair(&stashed, libID, int32(rec.Ref.ID()), pos, reversed, score, b.ordinal, rgOrdinal, tile, x, y)
	if err := b.pairSet.Insert(paired); err != nil {
		return newError(TempIoError, "inserting paired fingerprint", err)
	}
	return nil
}

// mergePair implements spec.md §4.8 step 4's merge: order the stored
// end (A) and the current end (B) by (ref, pos), assign r1_*/r2_* and
// ordinal_1/ordinal_2 accordingly, compute the pair orientation, and
// sum scores (spec invariant F-1).
func mergePair(a *fingerprint.Fingerprint, libID uint16, bRef, bPos int32, bReversed bool, bScore uint16, bOrdinal uint64, rgOrdinal uint16, tile, x, y int16) fingerprint.Fingerprint {
	aReversed := a.Orientation == fingerprint.R

	aIsFirst := a.R1Ref < bRef || (a.R1Ref == bRef && a.R1Pos <= bPos)

	var out fingerprint.Fingerprint
	out.LibraryID = libID
	out.RGOrdinal = rgOrdinal
	out.Tile, out.X, out.Y = tile, x, y

	if aIsFirst {
		out.R1Ref, out.R1Pos = a.R1Ref, a.R1Pos
		out.R2Ref, out.R2Pos = bRef, bPos
		out.Ordinal1, out.Ordinal2 = a.Ordinal1, bOrdinal
		out.Orientation = fingerprint.PairOrientation(aReversed, bReversed)
	} else {
		out.R1Ref, out.R1Pos = bRef, bPos
		out.R2Ref, out.R2Pos = a.R1Ref, a.R1Pos
		out.Ordinal1, out.Ordinal2 = bOrdinal, a.Ordinal1
		out.Orientation = fingerprint.PairOrientation(bReversed, aReversed)
	}
	out.AddScore(a.Score)
	out.AddScore(bScore)
	return out
}

// Finish discards the mate table, logging its outstanding orphan count;
// the pair and fragment sets are left for the caller to finish (spec.md §4.8: "the MatePairTable
// is discarded (orphans are logged but do not fail the run)").
func (b *FingerprintBuilder) Finish() error {
	orphans := b.mates.Size()
	if err := b.mates.Close(); err != nil {
		return newError(TempIoError, "closing mate table", err)
	}
	if orphans > 0 {
		log.Error.Printf("markduplicates: %d orphan mate(s) at end of input", orphans)
	}
	return nil
}
