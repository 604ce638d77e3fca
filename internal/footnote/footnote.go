// Package footnote normalizes the footnote-tag phase output. The provider
// emits lightweight [[FN_REF:N]] / [[FN_DEF:N]] markers; this package rewrites
// them into the final {{footnotenumberN}} / {{footnoteN}} tag scheme, collects
// definitions into a trailing footnotes section, and renumbers markers
// sequentially. All of it is local string work, no provider calls.
package footnote

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	refPattern     = regexp.MustCompile(`\[\[FN_REF:(\d{1,4})]]`)
	defLinePattern = regexp.MustCompile(`^\[\[FN_DEF:(\d{1,4})]]\s*(.*)$`)
	markerPattern  = regexp.MustCompile(`\{\{footnotenumber(\d+)\}\}(\d+)\{\{-footnotenumber\d+\}\}`)
	defTagPattern  = regexp.MustCompile(`\{\{footnote(\d+)\}\}(.*?)\{\{-footnote\d+\}\}`)
)

const (
	sectionStart = "{{footnotes_section}}"
	sectionEnd   = "{{-footnotes_section}}"
)

// Postprocess converts marker syntax into footnote tags: inline references
// become {{footnotenumberN}}N{{-footnotenumberN}}, definition lines are
// removed from the body and appended as a {{footnotes_section}} block sorted
// by footnote number.
func Postprocess(text string) string {
	var bodyLines []string
	type def struct {
		num     int
		content string
	}
	var defs []def

	for _, line := range strings.Split(text, "\n") {
		if m := defLinePattern.FindStringSubmatch(line); m != nil {
			num := atoiSafe(m[1])
			content := strings.TrimSpace(m[2])
			// OCR output often repeats the number at the start of the
			// definition line ("12 12 Text"); strip the duplicate.
			cleaned := strings.TrimSpace(strings.TrimPrefix(content, m[1]))
			if cleaned == "" {
				cleaned = content
			}
			defs = append(defs, def{num: num, content: cleaned})
			continue
		}
		bodyLines = append(bodyLines, refPattern.ReplaceAllStringFunc(line, func(ref string) string {
			num := refPattern.FindStringSubmatch(ref)[1]
			return fmt.Sprintf("{{footnotenumber%s}}%s{{-footnotenumber%s}}", num, num, num)
		}))
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].num < defs[j].num })

	parts := []string{strings.TrimRight(strings.Join(bodyLines, "\n"), "\n")}
	if len(defs) > 0 {
		block := []string{sectionStart}
		for _, d := range defs {
			block = append(block, fmt.Sprintf("{{footnote%d}}%s{{-footnote%d}}", d.num, d.content, d.num))
		}
		block = append(block, sectionEnd)
		parts = append(parts, strings.Join(block, "\n"))
	}

	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// Renumber rewrites footnote markers into a clean 1..N sequence in order of
// appearance, fixing gaps and duplicates left by per-chunk processing. Each
// definition tag follows its inline marker: the first inline occurrence of an
// original number decides the new number its definition carries, so the pair
// stays aligned even when references appear out of numeric order.
func Renumber(text string) string {
	n := 0
	assigned := make(map[string]int)
	text = markerPattern.ReplaceAllStringFunc(text, func(tag string) string {
		old := markerPattern.FindStringSubmatch(tag)[1]
		n++
		if _, ok := assigned[old]; !ok {
			assigned[old] = n
		}
		return fmt.Sprintf("{{footnotenumber%d}}%d{{-footnotenumber%d}}", n, n, n)
	})
	return defTagPattern.ReplaceAllStringFunc(text, func(tag string) string {
		m := defTagPattern.FindStringSubmatch(tag)
		num, ok := assigned[m[1]]
		if !ok {
			// Definition without any surviving inline reference keeps its
			// original number.
			return tag
		}
		return fmt.Sprintf("{{footnote%d}}%s{{-footnote%d}}", num, m[2], num)
	})
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
