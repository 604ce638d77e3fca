// Package review runs structural heuristics over the final tagged document:
// unbalanced tags, hierarchy violations, malformed markers. Issues feed a
// quality score shown to the caller; they never gate the pipeline.
package review

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity grades an issue.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Status bands the overall result.
type Status string

const (
	StatusPerfect   Status = "perfect"
	StatusExcellent Status = "excellent"
	StatusWarning   Status = "warning"
	StatusCritical  Status = "critical"
)

// Issue is one detected structural problem.
type Issue struct {
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Snippet    string   `json:"snippet,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Result is the full review outcome with its quality band and score.
type Result struct {
	Issues          []Issue  `json:"issues"`
	Status          Status   `json:"status"`
	Score           float64  `json:"score"`
	Recommendations []string `json:"recommendations,omitempty"`
}

var tagRe = regexp.MustCompile(`\{\{(-?)([a-z_]+[0-9]*)\}\}`)

// Run reviews a tagged document and scores it.
func Run(content string) Result {
	var issues []Issue
	issues = append(issues, checkBalancedTags(content)...)
	issues = append(issues, checkHierarchy(content)...)
	return assess(issues)
}

// checkBalancedTags walks every {{tag}} / {{-tag}} pair and flags close tags
// that don't match the innermost open tag, plus tags left open at the end.
func checkBalancedTags(content string) []Issue {
	var issues []Issue
	var stack []string
	for _, m := range tagRe.FindAllStringSubmatchIndex(content, -1) {
		closing := content[m[2]:m[3]] == "-"
		name := content[m[4]:m[5]]
		if closing {
			if len(stack) == 0 || stack[len(stack)-1] != name {
				issues = append(issues, Issue{
					Severity:   SeverityCritical,
					Message:    fmt.Sprintf("closing tag out of order: %s", name),
					Snippet:    snippet(content, m[0], m[1]),
					Suggestion: fmt.Sprintf("check nesting around {{-%s}}", name),
				})
				continue
			}
			stack = stack[:len(stack)-1]
			continue
		}
		stack = append(stack, name)
	}
	for _, leftover := range stack {
		issues = append(issues, Issue{
			Severity:   SeverityMajor,
			Message:    fmt.Sprintf("tag never closed: %s", leftover),
			Suggestion: fmt.Sprintf("add {{-%s}}", leftover),
		})
	}
	return issues
}

// checkHierarchy flags a paragraph tag appearing before any article tag.
func checkHierarchy(content string) []Issue {
	firstArticle := strings.Index(content, "{{article")
	firstParagraph := strings.Index(content, "{{paragraph")
	if firstParagraph == -1 {
		return nil
	}
	if firstArticle == -1 || firstParagraph < firstArticle {
		return []Issue{{
			Severity:   SeverityMajor,
			Message:    "paragraph tag appears before any article tag",
			Snippet:    snippet(content, firstParagraph, firstParagraph+20),
			Suggestion: "move the paragraph inside or after an article",
		}}
	}
	return nil
}

// assess maps an issue count to a quality band and score.
func assess(issues []Issue) Result {
	n := len(issues)
	switch {
	case n == 0:
		return Result{Status: StatusPerfect, Score: 100}
	case n <= 2:
		return Result{Issues: issues, Status: StatusExcellent, Score: max(70, 95-float64(n)*5)}
	case n <= 5:
		return Result{
			Issues:          issues,
			Status:          StatusWarning,
			Score:           max(40, 85-float64(n)*7),
			Recommendations: []string{"review tag formatting and hierarchy"},
		}
	default:
		return Result{
			Issues:          issues,
			Status:          StatusCritical,
			Score:           max(10, 60-float64(n)*4),
			Recommendations: []string{"reprocess the document with better extraction", "check tag closure"},
		}
	}
}

func snippet(content string, start, end int) string {
	lo := start - 30
	if lo < 0 {
		lo = 0
	}
	hi := end + 30
	if hi > len(content) {
		hi = len(content)
	}
	return content[lo:hi]
}
