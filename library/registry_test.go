package library

import (
	"testing"
	"time"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/assert"
)

func TestIDForAssignsInsertionOrder(t *testing.T) {
	r := New()
	assert.EqualValues(t, Unknown, r.IDFor(""))

	a := r.IDFor("lib-a")
	b := r.IDFor("lib-b")
	again := r.IDFor("lib-a")

	assert.EqualValues(t, 1, a)
	assert.EqualValues(t, 2, b)
	assert.Equal(t, a, again)
}

func TestNameAndNames(t *testing.T) {
	r := New()
	r.IDFor("lib-a")
	r.IDFor("lib-b")

	assert.Equal(t, UnknownName, r.Name(Unknown))
	assert.Equal(t, "lib-a", r.Name(1))
	assert.Equal(t, UnknownName, r.Name(99)) // out of range

	assert.Equal(t, []string{UnknownName, "lib-a", "lib-b"}, r.Names())
}

func newTestHeader(t *testing.T) (*sam.Header, *sam.ReadGroup) {
	t.Helper()
	header, err := sam.NewHeader(nil, nil)
	assert.NoError(t, err)
	rg, err := sam.NewReadGroup("rg1", "", "", "libX", "", "", "", "", "", "", time.Time{}, 0)
	assert.NoError(t, err)
	assert.NoError(t, header.AddReadGroup(rg))
	return header, rg
}

func recordWithRG(t *testing.T, rgName string) *sam.Record {
	t.Helper()
	rec := &sam.Record{Name: "read1"}
	if rgName != "" {
		aux, err := sam.NewAux(sam.Tag{'R', 'G'}, rgName)
		assert.NoError(t, err)
		rec.AuxFields = append(rec.AuxFields, aux)
	}
	return rec
}

func TestIDForRecordResolvesLibraryThroughReadGroup(t *testing.T) {
	header, _ := newTestHeader(t)
	r := New()

	rec := recordWithRG(t, "rg1")
	id := IDForRecord(r, header, rec)
	assert.EqualValues(t, 1, id)
	assert.Equal(t, "libX", r.Name(id))
}

func TestIDForRecordUnknownWithoutReadGroupTag(t *testing.T) {
	header, _ := newTestHeader(t)
	r := New()

	rec := recordWithRG(t, "")
	assert.EqualValues(t, Unknown, IDForRecord(r, header, rec))
}

func TestIDForRecordUnknownWhenReadGroupUnmatched(t *testing.T) {
	header, _ := newTestHeader(t)
	r := New()

	rec := recordWithRG(t, "does-not-exist")
	assert.EqualValues(t, Unknown, IDForRecord(r, header, rec))
}

func TestOrdinalForRecordMatchesHeaderPosition(t *testing.T) {
	header, err := sam.NewHeader(nil, nil)
	assert.NoError(t, err)
	rg0, err := sam.NewReadGroup("rg0", "", "", "lib0", "", "", "", "", "", "", time.Time{}, 0)
	assert.NoError(t, err)
	rg1, err := sam.NewReadGroup("rg1", "", "", "lib1", "", "", "", "", "", "", time.Time{}, 0)
	assert.NoError(t, err)
	assert.NoError(t, header.AddReadGroup(rg0))
	assert.NoError(t, header.AddReadGroup(rg1))

	rec := recordWithRG(t, "rg1")
	ordinal, ok := OrdinalForRecord(header, rec)
	assert.True(t, ok)
	assert.EqualValues(t, 1, ordinal)
}

func TestOrdinalForRecordFalseWithoutTag(t *testing.T) {
	header, _ := newTestHeader(t)
	rec := recordWithRG(t, "")
	_, ok := OrdinalForRecord(header, rec)
	assert.False(t, ok)
}
