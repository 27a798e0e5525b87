// Package highlight marks search terms in rendered (ANSI-styled) text.
package highlight

import (
	"regexp"
	"sort"
	"strings"
)

var ansiCSI = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

type Result struct {
	Text      string
	Count     int
	LineIndex []int
}

// Terms splits a query into lower-cased, de-duplicated words, longest first
// so that overlapping terms prefer the longer match.
func Terms(query string) []string {
	seen := map[string]bool{}
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		if !seen[f] {
			seen[f] = true
			terms = append(terms, f)
		}
	}
	sort.SliceStable(terms, func(i, j int) bool { return len(terms[i]) > len(terms[j]) })
	return terms
}

// Matches reports whether every term of query occurs in s, ignoring case.
func Matches(s, query string) bool {
	terms := Terms(query)
	if len(terms) == 0 {
		return true
	}
	lower := strings.ToLower(s)
	for _, t := range terms {
		if !strings.Contains(lower, t) {
			return false
		}
	}
	return true
}

// ApplyANSI wraps every occurrence of any query term. Escape sequences are
// left intact and a match never spans one.
func ApplyANSI(input, query string, wrap func(string) string) Result {
	terms := Terms(query)
	if len(terms) == 0 {
		return Result{Text: input}
	}
	if wrap == nil {
		wrap = func(s string) string { return s }
	}

	var out strings.Builder
	var lineMatches []int
	total := 0
	for lineNo, line := range strings.Split(input, "\n") {
		if lineNo > 0 {
			out.WriteByte('\n')
		}
		count := 0
		pos := 0
		for _, esc := range ansiCSI.FindAllStringIndex(line, -1) {
			count += mark(&out, line[pos:esc[0]], terms, wrap)
			out.WriteString(line[esc[0]:esc[1]])
			pos = esc[1]
		}
		count += mark(&out, line[pos:], terms, wrap)
		if count > 0 {
			lineMatches = append(lineMatches, lineNo)
			total += count
		}
	}
	return Result{Text: out.String(), Count: total, LineIndex: lineMatches}
}

type span struct{ start, end int }

// mark writes plain with matches wrapped and returns the match count.
func mark(out *strings.Builder, plain string, terms []string, wrap func(string) string) int {
	if plain == "" {
		return 0
	}
	spans := findSpans(plain, terms)
	pos := 0
	for _, sp := range spans {
		out.WriteString(plain[pos:sp.start])
		out.WriteString(wrap(plain[sp.start:sp.end]))
		pos = sp.end
	}
	out.WriteString(plain[pos:])
	return len(spans)
}

// findSpans returns non-overlapping matches in order. strings.ToLower can
// change byte lengths for some runes, so matching only runs when the
// lower-cased text keeps the original length.
func findSpans(plain string, terms []string) []span {
	lower := strings.ToLower(plain)
	if len(lower) != len(plain) {
		return nil
	}
	taken := make([]bool, len(plain))
	var spans []span
	for _, t := range terms {
		start := 0
		for {
			rel := strings.Index(lower[start:], t)
			if rel < 0 {
				break
			}
			idx := start + rel
			end := idx + len(t)
			if !overlaps(taken, idx, end) {
				for i := idx; i < end; i++ {
					taken[i] = true
				}
				spans = append(spans, span{idx, end})
			}
			start = idx + 1
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

func overlaps(taken []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if taken[i] {
			return true
		}
	}
	return false
}
