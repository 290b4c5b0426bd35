// Package fingerprint defines the geometric identity used to group
// aligned reads into duplicate equivalence classes.
//
// A Fingerprint never carries sequence, quality strings, or alignment
// detail beyond what is needed to decide whether two reads (or read
// pairs) arose from the same original molecule: a library id, the
// unclipped 5' coordinates of one or two ends, their relative strand
// orientation, a quality score used to pick a winner, and the physical
// flow-cell location used by optical-duplicate analysis.
package fingerprint

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Orientation is one of six distinct values. A pair value (FF, FR, RF,
// RR) names the strand of the coordinate-first end, then the strand of
// the coordinate-second end, so it is invariant under which input read
// happened to be "left" or "right" before ordering (spec invariant F-2).
// Single-end fragments use only the two single-strand values.
type Orientation uint8

const (
	F  Orientation = iota // forward, single fragment
	R                     // reverse, single fragment
	FF                    // coordinate-first forward, coordinate-second forward
	FR                    // coordinate-first forward, coordinate-second reverse
	RF                    // coordinate-first reverse, coordinate-second forward
	RR                    // coordinate-first reverse, coordinate-second reverse
)

func (o Orientation) String() string {
	switch o {
	case F:
		return "F"
	case R:
		return "R"
	case FF:
		return "FF"
	case FR:
		return "FR"
	case RF:
		return "RF"
	case RR:
		return "RR"
	default:
		return fmt.Sprintf("Orientation(%d)", uint8(o))
	}
}

// IsSingle reports whether o describes a single-end fragment.
func (o Orientation) IsSingle() bool { return o == F || o == R }

// SingleOrientation returns F or R for a fragment end given its strand.
func SingleOrientation(reversed bool) Orientation {
	if reversed {
		return R
	}
	return F
}

// PairOrientation returns the 2-bit orientation for a pair once the two
// ends have been ordered so that "left" is lexicographically first by
// (ref, pos).
func PairOrientation(leftReversed, rightReversed bool) Orientation {
	switch {
	case leftReversed && rightReversed:
		return RR
	case leftReversed:
		return RF
	case rightReversed:
		return FR
	default:
		return FF
	}
}

// NoRef is the sentinel reference index used for the second end of a
// single-end (fragment) fingerprint, and for an unavailable physical
// location coordinate.
const NoRef = -1

// Fingerprint is the value type described in spec.md §3. It is mutated
// only while a paired fingerprint is waiting for its mate in a
// MatePairTable; once sealed into an ExternalSortedSet it is never
// mutated again.
type Fingerprint struct {
	LibraryID   uint16
	R1Ref       int32
	R1Pos       int32
	R2Ref       int32 // NoRef for a fragment-only fingerprint
	R2Pos       int32
	Orientation Orientation
	Score       uint16
	RGOrdinal   uint16 // index of the read's read-group in the header's RG list
	Tile        int16  // -1 when unavailable
	X           int16
	Y           int16
	Ordinal1    uint64
	Ordinal2    uint64 // only meaningful when R2Ref != NoRef

	// PairedRecord is true iff the record this fragment fingerprint was
	// built from is paired with a mapped mate, independent of whether
	// that mate has arrived yet. It is carried only so the fragment
	// duplicate-marking pass (spec.md §4.9) can compute contains_paired
	// without a side table; it plays no role in ordering or in the
	// duplicate-class key.
	PairedRecord bool
}

// IsSingle reports whether f has only one mapped end.
func (f *Fingerprint) IsSingle() bool { return f.R2Ref == NoRef }

// Less implements the DuplicateMarker comparator from spec.md §4.9:
// lexicographic order on (library_id, r1_ref, r1_pos, orientation,
// r2_ref, r2_pos, ordinal_1, ordinal_2). Ties are broken on the ordinals
// so that iteration order is fully deterministic for identical inputs.
func (f *Fingerprint) Less(g *Fingerprint) bool {
	if f.LibraryID != g.LibraryID {
		return f.LibraryID < g.LibraryID
	}
	if f.R1Ref != g.R1Ref {
		return f.R1Ref < g.R1Ref
	}
	if f.R1Pos != g.R1Pos {
		return f.R1Pos < g.R1Pos
	}
	if f.Orientation != g.Orientation {
		return f.Orientation < g.Orientation
	}
	if f.R2Ref != g.R2Ref {
		return f.R2Ref < g.R2Ref
	}
	if f.R2Pos != g.R2Pos {
		return f.R2Pos < g.R2Pos
	}
	if f.Ordinal1 != g.Ordinal1 {
		return f.Ordinal1 < g.Ordinal1
	}
	return f.Ordinal2 < g.Ordinal2
}

// SamePairClass reports whether f and g share the key that makes two
// paired fingerprints duplicates of each other: library, both ends'
// coordinates, and orientation.
func (f *Fingerprint) SamePairClass(g *Fingerprint) bool {
	return f.LibraryID == g.LibraryID &&
		f.R1Ref == g.R1Ref && f.R1Pos == g.R1Pos &&
		f.Orientation == g.Orientation &&
		f.R2Ref == g.R2Ref && f.R2Pos == g.R2Pos
}

// SameFragmentClass reports whether f and g share the key that makes two
// fragment fingerprints duplicates of each other: library, the single
// end's coordinate, and orientation. r2 is deliberately excluded (spec
// §4.9 fragment pass).
func (f *Fingerprint) SameFragmentClass(g *Fingerprint) bool {
	return f.LibraryID == g.LibraryID &&
		f.R1Ref == g.R1Ref && f.R1Pos == g.R1Pos &&
		f.Orientation == g.Orientation
}

// AddScore saturates to the maximum uint16 rather than wrapping, per
// spec.md §9 (the source's 16-bit signed accumulator can overflow on
// long high-quality reads).
func (f *Fingerprint) AddScore(delta uint16) {
	if uint32(f.Score)+uint32(delta) > 0xFFFF {
		f.Score = 0xFFFF
		return
	}
	f.Score += delta
}

// encodedSize is the fixed wire size of a Fingerprint, used to size
// ExternalSortedSet's in-memory run buffer.
const encodedSize = 2 + 4 + 4 + 4 + 4 + 1 + 2 + 2 + 2 + 2 + 2 + 8 + 8 + 1

// EncodedSize returns the number of bytes WriteTo writes, satisfying the
// extsort.Item constraint so the external sorter can size its in-memory
// buffer from a compile-time constant, as spec.md §4.1/§5 require.
func (f *Fingerprint) EncodedSize() int { return encodedSize }

// WriteTo encodes f in a fixed-width binary form so that identical
// fingerprints always produce byte-identical encodings; DuplicateMarker
// relies on this for the deterministic tie-break codec-stable ordering
// spec.md §4.1 describes.
func (f *Fingerprint) WriteTo(w io.Writer) (int64, error) {
	var buf [encodedSize]byte
	binary.BigEndian.PutUint16(buf[0:2], f.LibraryID)
	binary.BigEndian.PutUint32(buf[2:6], uint32(f.R1Ref))
	binary.BigEndian.PutUint32(buf[6:10], uint32(f.R1Pos))
	binary.BigEndian.PutUint32(buf[10:14], uint32(f.R2Ref))
	binary.BigEndian.PutUint32(buf[14:18], uint32(f.R2Pos))
	buf[18] = byte(f.Orientation)
	binary.BigEndian.PutUint16(buf[19:21], f.Score)
	binary.BigEndian.PutUint16(buf[21:23], f.RGOrdinal)
	binary.BigEndian.PutUint16(buf[23:25], uint16(f.Tile))
	binary.BigEndian.PutUint16(buf[25:27], uint16(f.X))
	binary.BigEndian.PutUint16(buf[27:29], uint16(f.Y))
	binary.BigEndian.PutUint64(buf[29:37], f.Ordinal1)
	binary.BigEndian.PutUint64(buf[37:45], f.Ordinal2)
	if f.PairedRecord {
		buf[45] = 1
	}
	n, err := w.Write(buf[:])
	return int64(n), err
}

// ReadFrom decodes a Fingerprint previously written by WriteTo.
func (f *Fingerprint) ReadFrom(r io.Reader) (int64, error) {
	var buf [encodedSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return int64(n), err
	}
	f.LibraryID = binary.BigEndian.Uint16(buf[0:2])
	f.R1Ref = int32(binary.BigEndian.Uint32(buf[2:6]))
	f.R1Pos = int32(binary.BigEndian.Uint32(buf[6:10]))
	f.R2Ref = int32(binary.BigEndian.Uint32(buf[10:14]))
	f.R2Pos = int32(binary.BigEndian.Uint32(buf[14:18]))
	f.Orientation = Orientation(buf[18])
	f.Score = binary.BigEndian.Uint16(buf[19:21])
	f.RGOrdinal = binary.BigEndian.Uint16(buf[21:23])
	f.Tile = int16(binary.BigEndian.Uint16(buf[23:25]))
	f.X = int16(binary.BigEndian.Uint16(buf[25:27]))
	f.Y = int16(binary.BigEndian.Uint16(buf[27:29]))
	f.Ordinal1 = binary.BigEndian.Uint64(buf[29:37])
	f.Ordinal2 = binary.BigEndian.Uint64(buf[37:45])
	f.PairedRecord = buf[45] != 0
	return int64(n), nil
}

func (f *Fingerprint) String() string {
	return fmt.Sprintf("(lib=%d %d:%d-%d:%d %s score=%d ord=%d,%d)",
		f.LibraryID, f.R1Ref, f.R1Pos, f.R2Ref, f.R2Pos, f.Orientation, f.Score, f.Ordinal1, f.Ordinal2)
}
