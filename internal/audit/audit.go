// Package audit compares a chunk's input and output for content the
// transformation must not drop: short numeric references (footnote markers,
// article numbers) and structural heading lines. Both audits are pure
// functions over the two strings.
package audit

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// numberRe matches maximal digit runs; runs of 1-3 digits are the inline
// reference candidates (longer runs are years, amounts, identifiers).
var numberRe = regexp.MustCompile(`[0-9]+`)

// structuralKeywords are first words that mark a heading line regardless of
// casing. Drawn from the multilingual structural vocabulary of legal and
// treaty documents.
var structuralKeywords = map[string]struct{}{
	"article": {}, "artigo": {}, "articulo": {}, "artículo": {}, "art.": {},
	"section": {}, "seção": {}, "secção": {}, "sección": {},
	"chapter": {}, "capítulo": {}, "capitulo": {},
	"title": {}, "título": {}, "titulo": {},
	"part": {}, "parte": {},
	"annex": {}, "anexo": {},
	"appendix": {}, "apêndice": {}, "apéndice": {},
	"preamble": {}, "preâmbulo": {}, "preámbulo": {},
	"schedule": {}, "book": {}, "livro": {}, "libro": {},
}

// NumberAudit reports short numeric tokens whose occurrence count dropped
// between input and output.
type NumberAudit struct {
	// Candidates is the total number of candidate occurrences in the input.
	Candidates int
	// Lost is the total number of occurrences missing from the output.
	Lost int
	// LostValues lists each distinct value with a reduced count, in first-seen
	// input order.
	LostValues []string
	// LossRatio is Lost/Candidates, 0 when there are no candidates.
	LossRatio float64
}

// HeadingAudit reports candidate heading lines absent from the output.
type HeadingAudit struct {
	Candidates []string
	Lost       []string
}

// Report bundles both audits for one chunk.
type Report struct {
	Numbers  NumberAudit
	Headings HeadingAudit
}

// Clean reports whether no loss of any kind was detected.
func (r Report) Clean() bool {
	return r.Numbers.Lost == 0 && len(r.Headings.Lost) == 0
}

// Run executes both audits against a chunk's input and output.
func Run(input, output string) Report {
	input = norm.NFC.String(input)
	output = norm.NFC.String(output)
	return Report{
		Numbers:  Numbers(input, output),
		Headings: Headings(input, output),
	}
}

// Numbers extracts all 1-3 digit inline tokens from input and output and
// flags every value whose output count is below its input count.
func Numbers(input, output string) NumberAudit {
	before, order := countTokens(input)
	after, _ := countTokens(output)

	var a NumberAudit
	for _, n := range before {
		a.Candidates += n
	}
	for _, v := range order {
		if d := before[v] - after[v]; d > 0 {
			a.Lost += d
			a.LostValues = append(a.LostValues, v)
		}
	}
	if a.Candidates > 0 {
		a.LossRatio = float64(a.Lost) / float64(a.Candidates)
	}
	return a
}

func countTokens(text string) (map[string]int, []string) {
	counts := make(map[string]int)
	var order []string
	for _, tok := range numberRe.FindAllString(text, -1) {
		if len(tok) > 3 {
			continue
		}
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}
	return counts, order
}

// Headings extracts candidate heading lines from the input; a candidate is
// lost when it does not appear verbatim anywhere in the output.
func Headings(input, output string) HeadingAudit {
	var a HeadingAudit
	seen := make(map[string]struct{})
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if !isHeadingCandidate(line) {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		a.Candidates = append(a.Candidates, line)
		if !strings.Contains(output, line) {
			a.Lost = append(a.Lost, line)
		}
	}
	return a
}

// LastHeading returns the final heading candidate in text, or empty string.
// The phase runner uses it to maintain the rolling context summary.
func LastHeading(text string) string {
	lines := strings.Split(norm.NFC.String(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if isHeadingCandidate(line) {
			return line
		}
	}
	return ""
}

func isHeadingCandidate(line string) bool {
	if line == "" {
		return false
	}
	if len(line) >= 6 && isAllCaps(line) {
		return true
	}
	first, _, _ := strings.Cut(line, " ")
	_, ok := structuralKeywords[strings.ToLower(first)]
	return ok
}

// isAllCaps reports whether the line contains at least one letter and no
// lowercase letters.
func isAllCaps(line string) bool {
	hasLetter := false
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}
