package markduplicates

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineRunEndToEndMarksDuplicatePairs(t *testing.T) {
	dir := t.TempDir()
	input := writeSamFixture(t, dir, []string{
		// two identical pairs at the same coordinates: one is a PCR duplicate of the other.
		"readA\t99\tchr1\t100\t60\t10M\t=\t300\t210\tACGTACGTAC\tFFFFFFFFFF",
		"readB\t99\tchr1\t100\t60\t10M\t=\t300\t210\tACGTACGTAC\tFFFFFFFFFF",
		"readA\t147\tchr1\t300\t60\t10M\t=\t100\t-210\tACGTACGTAC\tFFFFFFFFFF",
		"readB\t147\tchr1\t300\t60\t10M\t=\t100\t-210\tACGTACGTAC\tFFFFFFFFFF",
	})

	opts := DefaultOpts()
	opts.InputPaths = []string{input}
	opts.OutputPath = filepath.Join(dir, "out.bam")
	opts.MetricsPath = filepath.Join(dir, "metrics.txt")
	opts.ScratchDir = dir
	opts.SkipOpticalDuplicates = true

	eng := New(opts)
	assert.NoError(t, eng.Run())
	assert.Equal(t, stateDone, eng.state)

	outInfo, err := os.Stat(opts.OutputPath)
	assert.NoError(t, err)
	assert.Greater(t, outInfo.Size(), int64(0))

	metricsBytes, err := os.ReadFile(opts.MetricsPath)
	assert.NoError(t, err)
	assert.Contains(t, string(metricsBytes), "LIBRARY\tUNPAIRED_READS_EXAMINED")

	// S1: two identical pairs -> pairs_examined=2, pair_duplicates=1,
	// percent_duplication=0.5 once PairsExamined/PairDuplicates are
	// halved back down to a per-pair count.
	row := findLibraryRow(t, string(metricsBytes))
	fields := strings.Split(row, "\t")
	assert.Equal(t, "2", fields[2])      // READ_PAIRS_EXAMINED
	assert.Equal(t, "1", fields[5])      // READ_PAIR_DUPLICATES
	assert.Equal(t, "0.500000", fields[7]) // PERCENT_DUPLICATION
}

// findLibraryRow returns the first per-library data row of the metrics
// file (the line right after the header).
func findLibraryRow(t *testing.T, metrics string) string {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(metrics))
	assert.True(t, scanner.Scan()) // header
	assert.True(t, scanner.Scan()) // first library row
	return scanner.Text()
}

func TestEngineRunFailsOnMissingInput(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOpts()
	opts.OutputPath = filepath.Join(dir, "out.bam")
	opts.MetricsPath = filepath.Join(dir, "metrics.txt")
	opts.ScratchDir = dir

	eng := New(opts)
	err := eng.Run()
	assert.Error(t, err)
}

func TestEngineRunFailsOnMissingReferenceIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.sam")
	assert.NoError(t, os.WriteFile(path, []byte("@HD\tVN:1.6\tSO:coordinate\n"), 0o644))

	opts := DefaultOpts()
	opts.InputPaths = []string{path}
	opts.OutputPath = filepath.Join(dir, "out.bam")
	opts.MetricsPath = filepath.Join(dir, "metrics.txt")
	opts.ScratchDir = dir

	eng := New(opts)
	err := eng.Run()
	assert.Error(t, err)
	merr, ok := err.(*Error)
	assert.True(t, ok)
	assert.Equal(t, MissingReferenceIndex, merr.Kind)
}
