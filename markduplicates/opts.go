package markduplicates

import "fmt"

// Opts is the configuration struct for a single engine run (spec.md
// §6 "Configuration"). One Opts is built from command-line flags in
// cmd/markdup and passed through the whole pipeline, the way the
// teacher's own Opts (grailbio-bio/markduplicates/mark_duplicates.go)
// is built in cmd/doppelmark/main.go and threaded through Mark.
type Opts struct {
	// InputPaths are merged, in order, into one coordinate-sorted
	// stream if there is more than one.
	InputPaths []string
	// OutputPath is the single output alignment file.
	OutputPath string
	// MetricsPath is the file the per-library metrics table (and ROI
	// histogram) is written to.
	MetricsPath string

	// ProgramRecordID, if set, chains a new program-group record with
	// this base id onto the output header (suffixed on a collision). The
	// PG tags of the output records themselves are not rewritten.
	ProgramRecordID string

	RemoveDuplicates bool
	AssumeSorted     bool

	MaxFileHandles uint32

	// SortingCollectionRatio is the fraction of available heap the
	// external sorted sets may use in total (spec.md §4.1, §5).
	SortingCollectionRatio float64

	OpticalDuplicatePixelDistance uint32
	SkipOpticalDuplicates         bool

	// ReadNameRegex selects PhysicalLocationParser's mode: "" (the
	// default sentinel) enables fast colon-split mode; "none" disables
	// optical analysis outright; any other value is compiled as a
	// regular expression (spec.md §6).
	ReadNameRegex string

	// ScratchDir is the run-scoped temp directory backing C2/C3/C4
	// (spec.md §5 "owned exclusively by the engine instance").
	ScratchDir string

	// TotalMemoryBytes bounds the combined in-memory buffers of the two
	// ExternalSortedSets (spec.md §5 "memory budget").
	TotalMemoryBytes int64
}

// ReadNameRegexNone disables optical-duplicate physical-location
// parsing entirely.
const ReadNameRegexNone = "none"

// DefaultOpts returns an Opts with every field at its spec.md §6
// documented default.
func DefaultOpts() Opts {
	return Opts{
		RemoveDuplicates:              false,
		AssumeSorted:                  false,
		MaxFileHandles:                8000,
		SortingCollectionRatio:        0.25,
		OpticalDuplicatePixelDistance: 100,
		SkipOpticalDuplicates:         false,
		ReadNameRegex:                 "",
		TotalMemoryBytes:              1 << 30,
	}
}

// Validate checks opts for consistency, following the teacher's
// validate.go pattern of sequential, specific fmt.Errorf checks.
func Validate(opts *Opts) error {
	if len(opts.InputPaths) == 0 {
		return fmt.Errorf("you must specify at least one input file with --input")
	}
	if opts.OutputPath == "" {
		return fmt.Errorf("you must specify an output file with --output")
	}
	if opts.MetricsPath == "" {
		return fmt.Errorf("you must specify a metrics file with --metrics")
	}
	if opts.SortingCollectionRatio <= 0 || opts.SortingCollectionRatio > 1 {
		return fmt.Errorf("sorting-collection-ratio must be in (0, 1], got %v", opts.SortingCollectionRatio)
	}
	if opts.MaxFileHandles == 0 {
		return fmt.Errorf("max-file-handles must be non-zero")
	}
	if opts.ScratchDir == "" {
		return fmt.Errorf("scratch-dir must be set")
	}
	return nil
}
