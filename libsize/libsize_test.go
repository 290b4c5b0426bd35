package libsize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateSizeUndefinedWhenNoDuplicates(t *testing.T) {
	_, ok, err := EstimateSize(100, 100)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestEstimateSizeUndefinedWhenNoPairsExamined(t *testing.T) {
	_, ok, err := EstimateSize(0, 0)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestEstimateSizeReturnsPositiveSizeWithDuplicates(t *testing.T) {
	// 1000 pairs examined, 600 unique: substantial duplication.
	size, ok, err := EstimateSize(1000, 600)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, size, uint64(0))
}

func TestEstimateSizeSatisfiesLanderWatermanAtRoot(t *testing.T) {
	n, c := uint64(10000), uint64(4000)
	size, ok, err := EstimateSize(n, c)
	assert.NoError(t, err)
	assert.True(t, ok)

	// the estimate should be an approximate root of f(X)=c/X-1+exp(-n/X)
	x := float64(size)
	f := float64(c)/x - 1 + math.Exp(-float64(n)/x)
	assert.InDelta(t, 0, f, 1e-3)
}

func TestROIAtMultipleZeroLibrarySize(t *testing.T) {
	assert.Equal(t, 0.0, ROIAtMultiple(0, 1000, 2.0))
}

func TestROIAtMultipleIncreasesWithMultipleButSaturates(t *testing.T) {
	lib := uint64(5000)
	low := ROIAtMultiple(lib, 1000, 1.0)
	high := ROIAtMultiple(lib, 1000, 100.0)
	assert.Less(t, low, high)
	assert.Less(t, high, float64(lib)) // asymptotically approaches librarySize, never reaches it
}

func TestROIHistogramHasOneEntryPerWholeMultiple(t *testing.T) {
	hist := ROIHistogram(5000, 1000)
	assert.Len(t, hist, 100)
	assert.Equal(t, ROIAtMultiple(5000, 1000, 1.0), hist[0])
	assert.Equal(t, ROIAtMultiple(5000, 1000, 100.0), hist[99])
}
