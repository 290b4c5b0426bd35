// Package physloc implements C6, PhysicalLocationParser: extraction of
// flow-cell (tile, x, y) coordinates from Illumina-style read names,
// grounded on grailbio-bio/markduplicates/optical.go's ParseLocation but
// narrowed to the two-mode contract of spec.md §4.5 (fast colon-split
// vs. a caller-supplied regular expression).
package physloc

import (
	"regexp"
	"sync"

	"github.com/grailbio/base/log"
)

// Location is a parsed (tile, x, y) triple.
type Location struct {
	Tile int
	X    int
	Y    int
}

// DefaultRegexSentinel selects fast colon-split mode when passed as the
// regexSpec to NewParser (spec.md §6 "read_name_regex": "default
// sentinel enables fast colon-split mode").
const DefaultRegexSentinel = ""

// Parser implements the "parse(read_name, regex_spec) -> Option<(tile,
// x, y)>" contract of spec.md §4.5. One Parser is built per regex_spec
// and reused across the whole run so the regex compiles exactly once.
type Parser struct {
	fastMode bool
	re       *regexp.Regexp

	warnOnce sync.Once
}

// NewParser builds a Parser for regexSpec. Pass DefaultRegexSentinel for
// fast mode; any other non-empty string is compiled as a regular
// expression and must declare exactly three capture groups.
func NewParser(regexSpec string) (*Parser, error) {
	if regexSpec == DefaultRegexSentinel {
		return &Parser{fastMode: true}, nil
	}
	re, err := regexp.Compile(regexSpec)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() != 3 {
		log.Fatalf("physloc: read_name_regex %q must have exactly 3 capture groups, got %d", regexSpec, re.NumSubexp())
	}
	return &Parser{re: re}, nil
}

// Parse extracts (tile, x, y) from readName, or returns ok=false if the
// name does not match. A read name that fails to match emits exactly
// one warning per run (spec.md §4.5).
func (p *Parser) Parse(readName string) (loc Location, ok bool) {
	if p.fastMode {
		loc, ok = parseFast(readName)
	} else {
		loc, ok = p.parseRegex(readName)
	}
	if !ok {
		p.warnOnce.Do(func() {
			log.Error.Printf("physloc: could not parse physical location from read name %q; optical-duplicate detection for unparseable names is disabled", readName)
		})
	}
	return loc, ok
}

// parseFast implements the fast colon-split mode: split on ':'; a
// 5-field name uses offsets (2,3,4), a 7-field name uses offsets
// (4,5,6). Any other field count does not match.
func parseFast(readName string) (Location, bool) {
	fields := splitColon(readName)
	var tileIdx, xIdx, yIdx int
	switch len(fields) {
	case 5:
		tileIdx, xIdx, yIdx = 2, 3, 4
	case 7:
		tileIdx, xIdx, yIdx = 4, 5, 6
	default:
		return Location{}, false
	}
	tile, tileOK := rapidParseInt(fields[tileIdx])
	x, xOK := rapidParseInt(fields[xIdx])
	y, yOK := rapidParseInt(fields[yIdx])
	if !tileOK || !xOK || !yOK {
		return Location{}, false
	}
	return Location{Tile: tile, X: x, Y: y}, true
}

func (p *Parser) parseRegex(readName string) (Location, bool) {
	m := p.re.FindStringSubmatch(readName)
	if m == nil {
		return Location{}, false
	}
	tile, tileOK := rapidParseInt(m[1])
	x, xOK := rapidParseInt(m[2])
	y, yOK := rapidParseInt(m[3])
	if !tileOK || !xOK || !yOK {
		return Location{}, false
	}
	return Location{Tile: tile, X: x, Y: y}, true
}

func splitColon(s string) []string {
	var fields []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			fields = append(fields, s[start:i])
			start = i + 1
		}
	}
	fields = append(fields, s[start:])
	return fields
}

// rapidParseInt reproduces the source's documented-vs-actual mismatch
// (spec.md §9, Open Question): the comment there claims it stops at the
// first non-digit character, but the real implementation skips
// non-digit characters and concatenates every digit it sees. Match the
// behavior, not the comment. Returns ok=false only if the field
// contains no digits at all.
func rapidParseInt(field string) (int, bool) {
	n := 0
	sawDigit := false
	for i := 0; i < len(field); i++ {
		c := field[i]
		if c >= '0' && c <= '9' {
			n = n*10 + int(c-'0')
			sawDigit = true
		}
	}
	return n, sawDigit
}
