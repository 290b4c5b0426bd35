// Package library implements C5, LibraryRegistry: a run-scoped bijection
// between library name strings and small dense integer ids, grounded on
// the teacher's GetLibrary sentinel convention in
// grailbio-bio/markduplicates/helpers.go.
package library

import (
	"github.com/biogo/hts/sam"
)

// Unknown is the sentinel id for a record with no read-group or a
// read-group with no library name (spec.md §3: "library_id; 0 is
// reserved for a sentinel unknown library").
const Unknown uint16 = 0

// UnknownName is the label written into metrics rows for Unknown.
const UnknownName = "Unknown Library"

// Registry assigns library ids in first-seen order. It is not
// thread-safe; one Registry is owned by one engine run and must not be
// shared across goroutines (spec.md §9 "Global registries ... Do not
// make them process-wide singletons").
type Registry struct {
	idByName   map[string]uint16
	nameByID   []string // nameByID[0] is always UnknownName
}

// New creates an empty Registry with the Unknown sentinel pre-seeded at
// id 0.
func New() *Registry {
	return &Registry{
		idByName: make(map[string]uint16),
		nameByID: []string{UnknownName},
	}
}

// IDFor returns the library id for name, assigning a new dense id on
// first use (spec.md §4.4: "insertion-order assignment of dense u16
// ids").
func (r *Registry) IDFor(name string) uint16 {
	if name == "" {
		return Unknown
	}
	if id, ok := r.idByName[name]; ok {
		return id
	}
	id := uint16(len(r.nameByID))
	r.idByName[name] = id
	r.nameByID = append(r.nameByID, name)
	return id
}

// Name returns the library name for id, or UnknownName if id is out of
// range.
func (r *Registry) Name(id uint16) string {
	if int(id) >= len(r.nameByID) {
		return UnknownName
	}
	return r.nameByID[id]
}

// Names returns every registered library name in id order, including
// the Unknown sentinel at index 0.
func (r *Registry) Names() []string {
	out := make([]string, len(r.nameByID))
	copy(out, r.nameByID)
	return out
}

// IDForRecord implements the "library_id_for(read_record)" lookup of
// spec.md §4.4: obtain the read-group id tag from the record, look it
// up in the header, and return the library name's id; any absent step
// yields Unknown.
func IDForRecord(r *Registry, header *sam.Header, rec *sam.Record) uint16 {
	rg, ok := rec.Tag([]byte("RG"))
	if !ok {
		return Unknown
	}
	rgID, ok := rg.Value().(string)
	if !ok || rgID == "" {
		return Unknown
	}
	for _, hdrRG := range header.RGs() {
		if hdrRG.Name() == rgID {
			return r.IDFor(hdrRG.Library())
		}
	}
	return Unknown
}

// OrdinalForRecord returns the position of the record's read-group in
// the header's read-group list, used only by optical analysis
// (spec.md §3 "read_group_ordinal"). It returns 0, false if the record
// carries no read-group tag or the tag does not match a header entry.
func OrdinalForRecord(header *sam.Header, rec *sam.Record) (uint16, bool) {
	rg, ok := rec.Tag([]byte("RG"))
	if !ok {
		return 0, false
	}
	rgID, ok := rg.Value().(string)
	if !ok {
		return 0, false
	}
	for i, hdrRG := range header.RGs() {
		if hdrRG.Name() == rgID {
			return uint16(i), true
		}
	}
	return 0, false
}
