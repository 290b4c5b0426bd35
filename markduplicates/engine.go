// Package markduplicates implements C9-C12 of the duplicate-marking
// engine: the two-pass fingerprint/mark/rewrite pipeline described in
// spec.md, built the way the teacher's own markduplicates package
// (grailbio-bio/markduplicates/mark_duplicates.go) structures a single
// exported Mark entry point around private per-phase collaborators.
package markduplicates

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/log"

	"github.com/helicase-bio/markdup/bamio"
	"github.com/helicase-bio/markdup/extsort"
	"github.com/helicase-bio/markdup/fingerprint"
	"github.com/helicase-bio/markdup/library"
	"github.com/helicase-bio/markdup/matetable"
	"github.com/helicase-bio/markdup/physloc"
)

// state is the engine's run state machine (spec.md §5).
type state int

const (
	stateInit state = iota
	statePass1
	stateMarked
	statePass2
	stateWritingMetrics
	stateDone
	stateFailed
)

// Engine is C12: it owns a run-scoped temp directory and drives
// FingerprintBuilder, DuplicateMarker and OutputWriter in sequence,
// following the teacher's Mark function's phase ordering but split into
// named collaborators instead of one long function body.
type Engine struct {
	opts  Opts
	state state
}

// New constructs an Engine for one run. Call Run exactly once.
func New(opts Opts) *Engine {
	return &Engine{opts: opts, state: stateInit}
}

// Run executes the full pipeline: validate options, open the input
// twice, build fingerprints, mark duplicates, rewrite output, and write
// the metrics file. Invalid options, a header without references, sort
// violations, temp-file failures and a pass-count mismatch are returned
// as a *Error carrying a spec.md §7 Kind; failures to open the input,
// create the output or write the metrics file are returned as the
// wrapped errors of bamio and Metrics.WriteFile, without a Kind.
func (e *Engine) Run() (err error) {
	if verr := Validate(&e.opts); verr != nil {
		e.state = stateFailed
		return newError(InputDecodeError, "invalid configuration", verr)
	}

	scratch, err := os.MkdirTemp(e.opts.ScratchDir, "markdup-")
	if err != nil {
		e.state = stateFailed
		return newError(TempIoError, "creating scratch directory", err)
	}
	defer func() {
		if rerr := os.RemoveAll(scratch); rerr != nil {
			log.Error.Printf("markduplicates: removing scratch directory %s: %v", scratch, rerr)
		}
	}()

	e.state = statePass1
	source := bamio.NewSource(e.opts.InputPaths)
	stream1, err := source.Open()
	if err != nil {
		e.state = stateFailed
		return err
	}
	header := stream1.Header()
	if len(header.Refs()) == 0 {
		stream1.Close()
		e.state = stateFailed
		return newError(MissingReferenceIndex, "input header declares no reference sequences", nil)
	}

	registry := library.New()
	mates := matetable.New(scratch, "mates", spillThreshold, int(e.opts.MaxFileHandles))

	var loc *physloc.Parser
	if e.opts.ReadNameRegex != ReadNameRegexNone && !e.opts.SkipOpticalDuplicates {
		loc, err = physloc.NewParser(e.opts.ReadNameRegex)
		if err != nil {
			stream1.Close()
			e.state = stateFailed
			return newError(InputDecodeError, "compiling read-name-regex", err)
		}
	}

	setBudget := int64(float64(e.opts.TotalMemoryBytes) * e.opts.SortingCollectionRatio / 2)
	pairSet := extsort.NewSet[fingerprint.Fingerprint, *fingerprint.Fingerprint](scratch, "pairs", setBudget)
	fragSet := extsort.NewSet[fingerprint.Fingerprint, *fingerprint.Fingerprint](scratch, "frags", setBudget)

	builder := NewFingerprintBuilder(header, registry, mates, loc, pairSet, fragSet, e.opts.AssumeSorted)
	pass1Count, err := builder.Run(stream1)
	stream1.Close()
	if err != nil {
		e.state = stateFailed
		return err
	}
	if err := builder.Finish(); err != nil {
		e.state = stateFailed
		return err
	}

	e.state = stateMarked
	pairIt, err := pairSet.Finish()
	if err != nil {
		e.state = stateFailed
		return newError(TempIoError, "finishing pair set", err)
	}
	defer pairIt.Close()
	fragIt, err := fragSet.Finish()
	if err != nil {
		e.state = stateFailed
		return newError(TempIoError, "finishing fragment set", err)
	}
	defer fragIt.Close()

	metrics := NewMetrics(registry)
	dupSet := extsort.NewLongSet(scratch, "dups", setBudget)
	marker := NewDuplicateMarker(dupSet, metrics, int(e.opts.OpticalDuplicatePixelDistance), e.opts.SkipOpticalDuplicates)
	if err := marker.MarkPairs(pairIt); err != nil {
		e.state = stateFailed
		return err
	}
	if err := marker.MarkFragments(fragIt); err != nil {
		e.state = stateFailed
		return err
	}

	dupIt, err := dupSet.Finish()
	if err != nil {
		e.state = stateFailed
		return newError(TempIoError, "finishing duplicate-ordinal set", err)
	}
	defer dupIt.Close()

	e.state = statePass2
	stream2, err := source.Open()
	if err != nil {
		e.state = stateFailed
		return err
	}
	defer stream2.Close()
	outHeader := stream2.Header()

	progID, err := ChainProgramRecord(outHeader, e.opts.ProgramRecordID, programCommandLine(), programVersion)
	if err != nil {
		e.state = stateFailed
		return err
	}
	if progID != "" {
		log.Debug.Printf("markduplicates: chained program record %s", progID)
	}

	sink, err := bamio.NewSink(e.opts.OutputPath, outHeader, 1)
	if err != nil {
		e.state = stateFailed
		return err
	}

	writer := NewOutputWriter(outHeader, metrics, e.opts.RemoveDuplicates)
	writer.SetLibraryLookup(func(rec *sam.Record) uint16 {
		return library.IDForRecord(registry, outHeader, rec)
	})
	pass2Count, err := writer.Run(stream2, dupIt, sink)
	closeErr := sink.Close()
	if err != nil {
		e.state = stateFailed
		return err
	}
	if closeErr != nil {
		e.state = stateFailed
		return newError(TempIoError, "closing output", closeErr)
	}

	if pass1Count != pass2Count {
		e.state = stateFailed
		return newError(PassCountMismatch, fmt.Sprintf("pass 1 processed %d records but pass 2 processed %d", pass1Count, pass2Count), nil)
	}

	e.state = stateWritingMetrics
	metrics.HalvePairCounts()
	if err := metrics.WriteFile(e.opts.MetricsPath); err != nil {
		e.state = stateFailed
		return err
	}

	e.state = stateDone
	return nil
}

// spillThreshold bounds the in-memory size (entry count) of a single
// MatePairTable bucket before it spills to disk (spec.md §4.3).
const spillThreshold = 100000

// programVersion is the value recorded in each chained PG record's VN
// field.
const programVersion = "1.0"

func programCommandLine() string {
	return filepath.Base(os.Args[0])
}
