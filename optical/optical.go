// Package optical implements C7, OpticalDuplicateFinder: given a
// cluster of fragments that are already known duplicates of one
// another by mapping geometry, flags which of them are optical
// duplicates of an earlier-ordered cluster member by flow-cell pixel
// proximity.
//
// The sort-then-sweep-with-early-break shape is grounded on the
// teacher's TileOpticalDetector.Detect in
// grailbio-bio/markduplicates/optical_detector.go, but spec.md §4.6
// prescribes a simpler pairwise sweep (no lane/primary-first batching)
// which this package follows exactly.
package optical

import "sort"

// Member is one input to the finder: a cluster member's physical
// location, keyed for sorting by the read-group ordinal, tile, x, and
// y a FingerprintBuilder already attached to its Fingerprint.
type Member struct {
	ReadGroupOrdinal uint16
	Tile             int16 // negative when unavailable
	X                int16
	Y                int16
}

// FindDuplicates flags every member that is an optical duplicate of an
// earlier member in the cluster, at pixel distance d. It sorts members
// in place (spec.md §9: "the optical-duplicate finder mutates the
// caller's list order"; callers must not rely on input order after this
// call) and returns a same-length slice of flags aligned to the
// post-sort order returned alongside it.
//
// Members whose Tile is negative never participate (spec.md B5) and are
// always false in the result, regardless of position.
func FindDuplicates(members []Member, d int) (sorted []Member, isOptical []bool) {
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.ReadGroupOrdinal != b.ReadGroupOrdinal {
			return a.ReadGroupOrdinal < b.ReadGroupOrdinal
		}
		if a.Tile != b.Tile {
			return a.Tile < b.Tile
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})

	isOptical = make([]bool, len(members))
	for i := range members {
		if members[i].Tile < 0 {
			continue
		}
		for j := i + 1; j < len(members); j++ {
			if members[j].ReadGroupOrdinal != members[i].ReadGroupOrdinal || members[j].Tile != members[i].Tile {
				break
			}
			dx := int(members[j].X) - int(members[i].X)
			if dx > d {
				break
			}
			dy := int(members[j].Y) - int(members[i].Y)
			if dy < 0 {
				dy = -dy
			}
			if dy <= d {
				isOptical[j] = true
			}
		}
	}
	return members, isOptical
}

// CountOptical is a convenience wrapper returning only the number of
// optical duplicates found, for callers (DuplicateMarker) that only
// need the per-library tally.
func CountOptical(members []Member, d int) int {
	_, flags := FindDuplicates(members, d)
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
