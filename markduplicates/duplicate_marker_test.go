package markduplicates

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helicase-bio/markdup/extsort"
	"github.com/helicase-bio/markdup/fingerprint"
)

type fakeNamer struct{}

func (fakeNamer) Name(id uint16) string { return "lib" }

func drainLongs(t *testing.T, it *extsort.PeekIterator) []uint64 {
	t.Helper()
	var got []uint64
	for {
		v, ok := it.Peek()
		if !ok {
			break
		}
		got = append(got, v)
		assert.NoError(t, it.Advance())
	}
	return got
}

func newPairSet(t *testing.T) *fpSet {
	t.Helper()
	return extsort.NewSet[fingerprint.Fingerprint, *fingerprint.Fingerprint](t.TempDir(), "pairs", 1<<20)
}

func TestMarkPairsKeepsHighestScoreAsWinner(t *testing.T) {
	set := newPairSet(t)
	base := fingerprint.Fingerprint{LibraryID: 1, R1Ref: 0, R1Pos: 100, Orientation: fingerprint.FR, R2Ref: 0, R2Pos: 200}

	low := base
	low.Score, low.Ordinal1, low.Ordinal2 = 10, 1, 2
	high := base
	high.Score, high.Ordinal1, high.Ordinal2 = 50, 3, 4

	assert.NoError(t, set.Insert(low))
	assert.NoError(t, set.Insert(high))
	it, err := set.Finish()
	assert.NoError(t, err)
	defer it.Close()

	metrics := NewMetrics(fakeNamer{})
	dupSet := extsort.NewLongSet(t.TempDir(), "dups", 1<<20)
	dm := NewDuplicateMarker(dupSet, metrics, 100, true)
	assert.NoError(t, dm.MarkPairs(it))

	dupIt, err := dupSet.Finish()
	assert.NoError(t, err)
	defer dupIt.Close()

	got := drainLongs(t, dupIt)
	assert.Equal(t, []uint64{1, 2}, got) // low's ordinals marked, high's survive

	// pair_duplicates is OutputWriter's responsibility, not the marker's.
	lm := metrics.For(1)
	assert.EqualValues(t, 0, lm.PairDuplicates)
}

func TestMarkPairsSingleMemberChunkIsNeverDuplicate(t *testing.T) {
	set := newPairSet(t)
	fp := fingerprint.Fingerprint{LibraryID: 1, R1Ref: 0, R1Pos: 100, Orientation: fingerprint.FR, R2Ref: 0, R2Pos: 200, Ordinal1: 1, Ordinal2: 2}
	assert.NoError(t, set.Insert(fp))
	it, err := set.Finish()
	assert.NoError(t, err)
	defer it.Close()

	metrics := NewMetrics(fakeNamer{})
	dupSet := extsort.NewLongSet(t.TempDir(), "dups", 1<<20)
	dm := NewDuplicateMarker(dupSet, metrics, 100, true)
	assert.NoError(t, dm.MarkPairs(it))

	dupIt, err := dupSet.Finish()
	assert.NoError(t, err)
	defer dupIt.Close()
	assert.Empty(t, drainLongs(t, dupIt))
}

func TestMarkFragmentsPairedBeatsUnpaired(t *testing.T) {
	set := extsort.NewSet[fingerprint.Fingerprint, *fingerprint.Fingerprint](t.TempDir(), "frags", 1<<20)
	base := fingerprint.Fingerprint{LibraryID: 1, R1Ref: 0, R1Pos: 100, Orientation: fingerprint.F}

	unpaired := base
	unpaired.Ordinal1, unpaired.PairedRecord = 5, false
	paired := base
	paired.Ordinal1, paired.PairedRecord = 6, true

	assert.NoError(t, set.Insert(unpaired))
	assert.NoError(t, set.Insert(paired))
	it, err := set.Finish()
	assert.NoError(t, err)
	defer it.Close()

	metrics := NewMetrics(fakeNamer{})
	dupSet := extsort.NewLongSet(t.TempDir(), "dups", 1<<20)
	dm := NewDuplicateMarker(dupSet, metrics, 100, true)
	assert.NoError(t, dm.MarkFragments(it))

	dupIt, err := dupSet.Finish()
	assert.NoError(t, err)
	defer dupIt.Close()
	assert.Equal(t, []uint64{5}, drainLongs(t, dupIt))

	// unpaired_duplicates is OutputWriter's responsibility, not the marker's.
	lm := metrics.For(1)
	assert.EqualValues(t, 0, lm.UnpairedDuplicates)
}

func TestMarkFragmentsAllFragmentsPicksHighestScoreWinner(t *testing.T) {
	set := extsort.NewSet[fingerprint.Fingerprint, *fingerprint.Fingerprint](t.TempDir(), "frags", 1<<20)
	base := fingerprint.Fingerprint{LibraryID: 1, R1Ref: 0, R1Pos: 100, Orientation: fingerprint.F}

	a := base
	a.Ordinal1, a.Score = 1, 10
	b := base
	b.Ordinal1, b.Score = 2, 40

	assert.NoError(t, set.Insert(a))
	assert.NoError(t, set.Insert(b))
	it, err := set.Finish()
	assert.NoError(t, err)
	defer it.Close()

	metrics := NewMetrics(fakeNamer{})
	dupSet := extsort.NewLongSet(t.TempDir(), "dups", 1<<20)
	dm := NewDuplicateMarker(dupSet, metrics, 100, true)
	assert.NoError(t, dm.MarkFragments(it))

	dupIt, err := dupSet.Finish()
	assert.NoError(t, err)
	defer dupIt.Close()
	assert.Equal(t, []uint64{1}, drainLongs(t, dupIt)) // a loses, b wins
}

func TestChooseWinnerBreaksTiesOnLowestOrdinal(t *testing.T) {
	chunk := []fingerprint.Fingerprint{
		{Score: 20, Ordinal1: 5},
		{Score: 20, Ordinal1: 2},
		{Score: 10, Ordinal1: 1},
	}
	assert.Equal(t, 1, chooseWinner(chunk))
}
