package physloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFastFiveField(t *testing.T) {
	p, err := NewParser(DefaultRegexSentinel)
	assert.NoError(t, err)

	loc, ok := p.Parse("a:b:1101:5000:6000")
	// 5-field uses offsets 2,3,4
	assert.True(t, ok)
	assert.Equal(t, Location{Tile: 1101, X: 5000, Y: 6000}, loc)
}

func TestParseFastSevenField(t *testing.T) {
	p, err := NewParser(DefaultRegexSentinel)
	assert.NoError(t, err)

	loc, ok := p.Parse("INST:1:FLOWCELL:2:1101:5000:6000")
	assert.True(t, ok)
	assert.Equal(t, Location{Tile: 1101, X: 5000, Y: 6000}, loc)
}

func TestParseFastRejectsOtherFieldCounts(t *testing.T) {
	p, err := NewParser(DefaultRegexSentinel)
	assert.NoError(t, err)

	_, ok := p.Parse("a:b:c")
	assert.False(t, ok)
}

func TestRapidParseIntSkipsNonDigitsRatherThanStopping(t *testing.T) {
	// documented-vs-actual mismatch: "11a01" concatenates every digit
	// seen (1,1,0,1) instead of stopping at the first non-digit.
	n, ok := rapidParseInt("11a01")
	assert.True(t, ok)
	assert.Equal(t, 1101, n)
}

func TestRapidParseIntNoDigitsIsNotOK(t *testing.T) {
	_, ok := rapidParseInt("abc")
	assert.False(t, ok)
}

func TestParseRegexModeWithThreeGroups(t *testing.T) {
	p, err := NewParser(`(\d+):(\d+):(\d+)$`)
	assert.NoError(t, err)

	loc, ok := p.Parse("readA:1201:7000:8000")
	assert.True(t, ok)
	assert.Equal(t, Location{Tile: 1201, X: 7000, Y: 8000}, loc)
}

func TestParseRegexModeNoMatch(t *testing.T) {
	p, err := NewParser(`^XYZ(\d+):(\d+):(\d+)$`)
	assert.NoError(t, err)

	_, ok := p.Parse("readA:1:2:3")
	assert.False(t, ok)
}

func TestParseWarnsOnlyOncePerParser(t *testing.T) {
	p, err := NewParser(DefaultRegexSentinel)
	assert.NoError(t, err)

	// both calls fail to parse; warnOnce must not panic or double-fire.
	_, ok1 := p.Parse("a:b:c")
	_, ok2 := p.Parse("d:e:f")
	assert.False(t, ok1)
	assert.False(t, ok2)
}
