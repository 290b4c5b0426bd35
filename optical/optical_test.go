package optical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindDuplicatesFlagsCloseNeighbors(t *testing.T) {
	members := []Member{
		{ReadGroupOrdinal: 0, Tile: 1, X: 100, Y: 100},
		{ReadGroupOrdinal: 0, Tile: 1, X: 102, Y: 101}, // within distance 5 of first
		{ReadGroupOrdinal: 0, Tile: 1, X: 500, Y: 500}, // far away
	}
	sorted, isOptical := FindDuplicates(members, 5)
	assert.Len(t, sorted, 3)
	assert.Equal(t, []bool{false, true, false}, isOptical)
}

func TestFindDuplicatesIgnoresOtherReadGroupsAndTiles(t *testing.T) {
	members := []Member{
		{ReadGroupOrdinal: 0, Tile: 1, X: 100, Y: 100},
		{ReadGroupOrdinal: 1, Tile: 1, X: 100, Y: 100}, // different read group, same coords
		{ReadGroupOrdinal: 0, Tile: 2, X: 100, Y: 100}, // different tile, same coords
	}
	_, isOptical := FindDuplicates(members, 5)
	for _, f := range isOptical {
		assert.False(t, f)
	}
}

func TestFindDuplicatesSkipsNegativeTileMembers(t *testing.T) {
	members := []Member{
		{ReadGroupOrdinal: 0, Tile: -1, X: 100, Y: 100},
		{ReadGroupOrdinal: 0, Tile: -1, X: 101, Y: 100},
	}
	_, isOptical := FindDuplicates(members, 5)
	assert.Equal(t, []bool{false, false}, isOptical)
}

func TestCountOpticalCountsFlags(t *testing.T) {
	members := []Member{
		{ReadGroupOrdinal: 0, Tile: 1, X: 0, Y: 0},
		{ReadGroupOrdinal: 0, Tile: 1, X: 1, Y: 1},
		{ReadGroupOrdinal: 0, Tile: 1, X: 2, Y: 2},
	}
	n := CountOptical(members, 2)
	assert.Equal(t, 2, n)
}

func TestFindDuplicatesBreaksOnXDistanceNotJustCount(t *testing.T) {
	members := []Member{
		{ReadGroupOrdinal: 0, Tile: 1, X: 0, Y: 0},
		{ReadGroupOrdinal: 0, Tile: 1, X: 100, Y: 0}, // far beyond distance
		{ReadGroupOrdinal: 0, Tile: 1, X: 101, Y: 0}, // close to previous but not to first
	}
	_, isOptical := FindDuplicates(members, 5)
	assert.Equal(t, []bool{false, false, true}, isOptical)
}
