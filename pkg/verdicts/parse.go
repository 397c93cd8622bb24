package verdicts

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

type decoder struct {
	name   string
	decode func(raw string) ([]Verdict, bool)
}

var objectPattern = regexp.MustCompile(`\{[^{}]*\}`)

// Parse extracts verdicts from a raw classifier response. It returns exactly
// expected entries: parsed results are matched positionally and the tail is
// padded with default not-flagged verdicts indexed sequentially from
// startIndex (1-based). Embedded index mismatches are logged, not fatal.
func Parse(raw string, expected int, source string, startIndex int, logger *slog.Logger) []Verdict {
	if expected <= 0 {
		return []Verdict{}
	}

	decoders := []decoder{
		{"line-format", decodeLineFormat},
		{"json", decodeJSON},
		{"balanced-array", decodeBalancedArray},
		{"completion-repair", decodeWithCompletion},
		{"object-salvage", decodeObjectSalvage},
	}

	var parsed []Verdict
	decoded := false
	for _, d := range decoders {
		if results, ok := d.decode(raw); ok {
			parsed = results
			decoded = true
			break
		}
	}

	if !decoded && logger != nil {
		logger.Warn(
			"unparseable classifier response, defaulting all entries",
			"source", source,
			"expected", expected,
			"length", len(raw),
		)
	}

	return normalize(parsed, expected, source, startIndex, logger)
}

// normalize enforces the exact-count contract: positional matching,
// over-count truncation, and default padding for any missing tail.
func normalize(parsed []Verdict, expected int, source string, startIndex int, logger *slog.Logger) []Verdict {
	results := make([]Verdict, expected)

	for pos := range results {
		want := startIndex + pos
		if pos < len(parsed) {
			v := parsed[pos]
			if v.Index != 0 && v.Index != want && logger != nil {
				logger.Warn(
					"verdict index mismatch, trusting position",
					"source", source,
					"embedded", v.Index,
					"expected", want,
				)
			}
			v.Index = want
			results[pos] = v
			continue
		}
		results[pos] = Verdict{Index: want}
	}

	if len(parsed) > expected && logger != nil {
		logger.Warn(
			"classifier returned extra entries",
			"source", source,
			"got", len(parsed),
			"expected", expected,
		)
	}

	return results
}

// decodeLineFormat handles the compact shape:
//
//	i:3
//	A:Y
//	B:N
//
// where A is the concerning flag and B the identifiable flag. Entries may
// arrive out of order; each carries its own index.
func decodeLineFormat(raw string) ([]Verdict, bool) {
	if !strings.Contains(raw, "i:") || !(strings.Contains(raw, "A:") || strings.Contains(raw, "B:")) {
		return nil, false
	}

	var results []Verdict
	var current *Verdict

	for line := range strings.Lines(raw) {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "i:"):
			if current != nil {
				results = append(results, *current)
			}
			idx, err := strconv.Atoi(strings.TrimSpace(line[2:]))
			if err != nil {
				current = nil
				continue
			}
			current = &Verdict{Index: idx}
		case strings.HasPrefix(line, "A:") && current != nil:
			current.Concerning = flag(line[2:])
		case strings.HasPrefix(line, "B:") && current != nil:
			current.Identifiable = flag(line[2:])
		}
	}
	if current != nil {
		results = append(results, *current)
	}

	if len(results) == 0 {
		return nil, false
	}

	// Entries carry explicit indices; restore document order before
	// positional matching.
	sortByIndex(results)
	return results, true
}

func decodeJSON(raw string) ([]Verdict, bool) {
	var results []Verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &results); err != nil {
		return nil, false
	}
	return results, true
}

// decodeBalancedArray extracts the first balanced [...] span. Depth tracking
// is string-aware so brackets inside quoted comment text do not confuse it.
func decodeBalancedArray(raw string) ([]Verdict, bool) {
	span, ok := balancedSpan(raw)
	if !ok {
		return nil, false
	}
	return decodeJSON(span)
}

// decodeWithCompletion appends closing braces/brackets inferred from an
// open/close count mismatch, then retries the parse. This recovers arrays
// truncated mid-object by an output token ceiling.
func decodeWithCompletion(raw string) ([]Verdict, bool) {
	start := strings.IndexByte(raw, '[')
	if start < 0 {
		return nil, false
	}

	fragment := raw[start:]

	// Trim back to the last complete object boundary before repairing.
	if cut := strings.LastIndexByte(fragment, '}'); cut >= 0 {
		fragment = fragment[:cut+1]
	}

	openBraces, openBrackets := openCounts(fragment)
	repaired := fragment +
		strings.Repeat("}", openBraces) +
		strings.Repeat("]", openBrackets)

	return decodeJSON(repaired)
}

// decodeObjectSalvage regex-extracts individual {...} objects as a last
// resort for responses too mangled for structural repair.
func decodeObjectSalvage(raw string) ([]Verdict, bool) {
	matches := objectPattern.FindAllString(raw, -1)

	var results []Verdict
	for _, m := range matches {
		var v Verdict
		if err := json.Unmarshal([]byte(m), &v); err == nil {
			results = append(results, v)
		}
	}

	if len(results) == 0 {
		return nil, false
	}
	return results, true
}

func balancedSpan(raw string) (string, bool) {
	start := strings.IndexByte(raw, '[')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(raw); i++ {
		ch := raw[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}

	return "", false
}

func openCounts(fragment string) (braces, brackets int) {
	inString := false
	escaped := false

	for i := 0; i < len(fragment); i++ {
		ch := fragment[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			braces++
		case '}':
			braces--
		case '[':
			brackets++
		case ']':
			brackets--
		}
	}

	return max(braces, 0), max(brackets, 0)
}

func flag(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "y")
}

func sortByIndex(results []Verdict) {
	slices.SortStableFunc(results, func(a, b Verdict) int {
		return a.Index - b.Index
	})
}
