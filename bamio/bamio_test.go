package bamio

import (
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/assert"
)

func TestUnclippedCoordsExpandsBothEnds(t *testing.T) {
	rec := &sam.Record{
		Pos: 100,
		Cigar: sam.Cigar{
			sam.NewCigarOp(sam.CigarSoftClipped, 5),
			sam.NewCigarOp(sam.CigarMatch, 50),
			sam.NewCigarOp(sam.CigarHardClipped, 3),
		},
	}
	start, end := UnclippedCoords(rec)
	assert.Equal(t, 95, start)
	assert.Equal(t, 100+50+3, end)
}

func TestUnclippedCoordsNoClipping(t *testing.T) {
	rec := &sam.Record{
		Pos:   10,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 20)},
	}
	start, end := UnclippedCoords(rec)
	assert.Equal(t, 10, start)
	assert.Equal(t, 30, end)
}

func TestFivePrimeUnclippedForward(t *testing.T) {
	rec := &sam.Record{
		Pos: 100,
		Cigar: sam.Cigar{
			sam.NewCigarOp(sam.CigarSoftClipped, 5),
			sam.NewCigarOp(sam.CigarMatch, 50),
		},
	}
	assert.Equal(t, 95, FivePrimeUnclipped(rec))
}

func TestFivePrimeUnclippedReverse(t *testing.T) {
	rec := &sam.Record{
		Pos:   100,
		Flags: sam.Reverse,
		Cigar: sam.Cigar{
			sam.NewCigarOp(sam.CigarMatch, 50),
			sam.NewCigarOp(sam.CigarSoftClipped, 5),
		},
	}
	assert.Equal(t, 155, FivePrimeUnclipped(rec))
}

func TestIsSecondaryOrSupplementary(t *testing.T) {
	assert.True(t, IsSecondaryOrSupplementary(&sam.Record{Flags: sam.Secondary}))
	assert.True(t, IsSecondaryOrSupplementary(&sam.Record{Flags: sam.Supplementary}))
	assert.False(t, IsSecondaryOrSupplementary(&sam.Record{Flags: sam.Paired}))
}

func TestReadGroupID(t *testing.T) {
	rec := &sam.Record{}
	_, ok := ReadGroupID(rec)
	assert.False(t, ok)

	aux, err := sam.NewAux(sam.Tag{'R', 'G'}, "rg1")
	assert.NoError(t, err)
	rec.AuxFields = append(rec.AuxFields, aux)

	got, ok := ReadGroupID(rec)
	assert.True(t, ok)
	assert.Equal(t, "rg1", got)
}

func TestBaseQScoreSumsQualitiesAboveThreshold(t *testing.T) {
	rec := &sam.Record{Qual: []byte{20, 10, 30, 5, 15}}
	// 20 and 30 and 15 are > 14; 10 and 5 are not.
	assert.EqualValues(t, 65, BaseQScore(rec))
}

func TestBaseQScoreEmptyQual(t *testing.T) {
	rec := &sam.Record{Qual: nil}
	assert.EqualValues(t, 0, BaseQScore(rec))
}
