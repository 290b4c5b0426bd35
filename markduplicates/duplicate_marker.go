package markduplicates

import (
	"github.com/helicase-bio/markdup/extsort"
	"github.com/helicase-bio/markdup/fingerprint"
	"github.com/helicase-bio/markdup/optical"
)

// DuplicateMarker is C10: it streams the pair- and fragment-sorted sets
// produced by FingerprintBuilder, groups each into duplicate-class
// chunks, picks a winner per class by spec.md §4.9's rule (highest
// score, ties broken by lowest ordinal_1, grounded on the teacher's
// duplicateIndex.ChoosePrimary in
// grailbio-bio/markduplicates/duplicate_index.go), and emits every
// non-winner's ordinal(s) into the duplicate-ordinal set.
type DuplicateMarker struct {
	dupSet               *extsort.LongSet
	metrics              *Metrics
	opticalPixelDistance int
	skipOptical          bool
}

// NewDuplicateMarker constructs a DuplicateMarker.
func NewDuplicateMarker(dupSet *extsort.LongSet, metrics *Metrics, opticalPixelDistance int, skipOptical bool) *DuplicateMarker {
	return &DuplicateMarker{
		dupSet:               dupSet,
		metrics:              metrics,
		opticalPixelDistance: opticalPixelDistance,
		skipOptical:          skipOptical,
	}
}

// pairKey returns the grouping key of spec.md §4.9's pair pass.
func pairKey(f *fingerprint.Fingerprint) (uint16, int32, int32, fingerprint.Orientation, int32, int32) {
	return f.LibraryID, f.R1Ref, f.R1Pos, f.Orientation, f.R2Ref, f.R2Pos
}

// fragKey returns the grouping key of spec.md §4.9's fragment pass
// (note: r2_* is deliberately excluded).
func fragKey(f *fingerprint.Fingerprint) (uint16, int32, int32, fingerprint.Orientation) {
	return f.LibraryID, f.R1Ref, f.R1Pos, f.Orientation
}

// MarkPairs consumes the pair-sorted Fingerprint iterator, chunking by
// pairKey and applying spec.md §4.9's pair pass.
func (dm *DuplicateMarker) MarkPairs(it *extsort.Iterator[fingerprint.Fingerprint, *fingerprint.Fingerprint]) error {
	var chunk []fingerprint.Fingerprint
	flush := func() error { return dm.flushPairChunk(chunk) }

	for {
		fp, ok, err := it.Next()
		if err != nil {
			return newError(TempIoError, "reading pair-sorted set", err)
		}
		if !ok {
			break
		}
		if len(chunk) > 0 && pairKey(&chunk[0]) != pairKey(&fp) {
			if err := flush(); err != nil {
				return err
			}
			chunk = chunk[:0]
		}
		chunk = append(chunk, fp)
	}
	return flush()
}

func (dm *DuplicateMarker) flushPairChunk(chunk []fingerprint.Fingerprint) error {
	if len(chunk) < 2 {
		return nil
	}
	winner := chooseWinner(chunk)
	libMetrics := dm.metrics.For(chunk[0].LibraryID)
	for i := range chunk {
		if i == winner {
			continue
		}
		if err := dm.dupSet.Insert(chunk[i].Ordinal1); err != nil {
			return newError(TempIoError, "inserting duplicate ordinal", err)
		}
		if err := dm.dupSet.Insert(chunk[i].Ordinal2); err != nil {
			return newError(TempIoError, "inserting duplicate ordinal", err)
		}
	}
	// pair_duplicates/unpaired_duplicates are OutputWriter's sole
	// responsibility (spec.md §4.10); this pass only contributes the
	// optical tally below.

	if !dm.skipOptical {
		members := make([]optical.Member, len(chunk))
		for i, fp := range chunk {
			members[i] = optical.Member{ReadGroupOrdinal: fp.RGOrdinal, Tile: fp.Tile, X: fp.X, Y: fp.Y}
		}
		opticalCount := optical.CountOptical(members, dm.opticalPixelDistance)
		libMetrics.OpticalPairDuplicates += uint64(opticalCount)
	}
	return nil
}

// MarkFragments consumes the fragment-sorted Fingerprint iterator,
// chunking by fragKey and applying spec.md §4.9's fragment pass.
func (dm *DuplicateMarker) MarkFragments(it *extsort.Iterator[fingerprint.Fingerprint, *fingerprint.Fingerprint]) error {
	var chunk []fingerprint.Fingerprint
	flush := func() error { return dm.flushFragChunk(chunk) }

	for {
		fp, ok, err := it.Next()
		if err != nil {
			return newError(TempIoError, "reading fragment-sorted set", err)
		}
		if !ok {
			break
		}
		if len(chunk) > 0 && fragKey(&chunk[0]) != fragKey(&fp) {
			if err := flush(); err != nil {
				return err
			}
			chunk = chunk[:0]
		}
		chunk = append(chunk, fp)
	}
	return flush()
}

func (dm *DuplicateMarker) flushFragChunk(chunk []fingerprint.Fingerprint) error {
	if len(chunk) == 0 {
		return nil
	}
	containsPaired, containsUnpaired := false, false
	for _, fp := range chunk {
		if fp.PairedRecord {
			containsPaired = true
		} else {
			containsUnpaired = true
		}
	}
	if len(chunk) < 2 && !(containsPaired && containsUnpaired) {
		return nil
	}

	if containsPaired {
		// A paired member beats any fragment that only coincides at one
		// end; every unpaired member is a duplicate (spec.md §4.9).
		// unpaired_duplicates is tallied by OutputWriter (spec.md §4.10),
		// not here.
		for _, fp := range chunk {
			if !fp.PairedRecord {
				if err := dm.dupSet.Insert(fp.Ordinal1); err != nil {
					return newError(TempIoError, "inserting duplicate ordinal", err)
				}
			}
		}
		return nil
	}

	// Only fragments: pick the highest-score winner.
	winner := chooseWinner(chunk)
	for i, fp := range chunk {
		if i == winner {
			continue
		}
		if err := dm.dupSet.Insert(fp.Ordinal1); err != nil {
			return newError(TempIoError, "inserting duplicate ordinal", err)
		}
	}
	return nil
}

// chooseWinner implements spec invariant I4: the highest-score member
// wins; ties are broken by the lowest ordinal_1.
func chooseWinner(chunk []fingerprint.Fingerprint) int {
	best := 0
	for i := 1; i < len(chunk); i++ {
		if chunk[i].Score > chunk[best].Score {
			best = i
		} else if chunk[i].Score == chunk[best].Score && chunk[i].Ordinal1 < chunk[best].Ordinal1 {
			best = i
		}
	}
	return best
}
