// markdup marks (or removes) PCR and optical duplicates in a
// coordinate-sorted alignment file. See markduplicates.Engine for the
// algorithm.
package main

import (
	"flag"
	"strings"

	"github.com/grailbio/base/log"

	"github.com/helicase-bio/markdup/markduplicates"
)

var (
	input                = flag.String("input", "", "Input alignment filename(s), comma-separated, merged in order")
	output               = flag.String("output", "", "Output alignment filename")
	metrics              = flag.String("metrics", "", "Output metrics filename")
	programRecordID      = flag.String("program-record-id", "markdup", "Base id for the chained PG record; empty disables PG chaining")
	removeDuplicates     = flag.Bool("remove-duplicates", false, "remove duplicates instead of flagging them")
	assumeSorted         = flag.Bool("assume-sorted", false, "assume the input is coordinate-sorted instead of verifying it")
	maxFileHandles       = flag.Uint("max-file-handles", 8000, "maximum open mate-table spill files")
	sortingRatio         = flag.Float64("sorting-collection-ratio", 0.25, "fraction of the memory budget given to the external sorted sets")
	opticalDistance      = flag.Uint("optical-duplicate-pixel-distance", 100, "pixel distance threshold for optical duplicates")
	skipOptical          = flag.Bool("skip-optical-duplicates", false, "disable optical-duplicate analysis entirely")
	readNameRegex        = flag.String("read-name-regex", "", "regex with 3 capture groups (tile, x, y) for physical-location parsing; 'none' disables it, empty uses the fast built-in parser")
	scratchDir           = flag.String("scratch-dir", "/tmp", "directory for scratch files")
	totalMemoryBytes     = flag.Int64("total-memory-bytes", 1<<30, "memory budget for the external sorted sets")
)

func main() {
	flag.Parse()
	if flag.NArg() > 0 {
		log.Fatalf("unparsed flags, please check flag syntax: %q", strings.Join(flag.Args(), " "))
	}

	opts := markduplicates.DefaultOpts()
	if *input != "" {
		opts.InputPaths = strings.Split(*input, ",")
	}
	opts.OutputPath = *output
	opts.MetricsPath = *metrics
	opts.ProgramRecordID = *programRecordID
	opts.RemoveDuplicates = *removeDuplicates
	opts.AssumeSorted = *assumeSorted
	opts.MaxFileHandles = uint32(*maxFileHandles)
	opts.SortingCollectionRatio = *sortingRatio
	opts.OpticalDuplicatePixelDistance = uint32(*opticalDistance)
	opts.SkipOpticalDuplicates = *skipOptical
	opts.ReadNameRegex = *readNameRegex
	opts.ScratchDir = *scratchDir
	opts.TotalMemoryBytes = *totalMemoryBytes

	if err := markduplicates.New(opts).Run(); err != nil {
		log.Fatalf("markdup: %v", err)
	}
	log.Debug.Printf("markdup: done")
}
