package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_IdempotentOnIdenticalText(t *testing.T) {
	texts := []string{
		"",
		"plain text without anything auditable",
		"Article 1. Foo bar 12 text.\n\nSECTION TWO\n\nMore text 7.",
		"numbers 1 2 3 and year 2024 and id 123456",
	}
	for _, text := range texts {
		report := Run(text, text)
		assert.True(t, report.Clean(), "audit(x, x) must be clean for %q", text)
		assert.Zero(t, report.Numbers.Lost)
		assert.Empty(t, report.Headings.Lost)
	}
}

func TestNumbers_DetectsLostShortTokens(t *testing.T) {
	input := "see footnote 7 and article 12, also 7 again"
	output := "see footnote and article 12, also 7 again"

	a := Numbers(input, output)
	assert.Equal(t, 3, a.Candidates)
	assert.Equal(t, 1, a.Lost)
	assert.Equal(t, []string{"7"}, a.LostValues)
	assert.InDelta(t, 1.0/3.0, a.LossRatio, 1e-9)
}

func TestNumbers_IgnoresLongRuns(t *testing.T) {
	input := "in 2024 the amount was 150000"
	output := "the amount changed"

	a := Numbers(input, output)
	assert.Zero(t, a.Candidates, "4+ digit runs are not reference candidates")
	assert.Zero(t, a.Lost)
	assert.Zero(t, a.LossRatio)
}

func TestNumbers_CountsOccurrences(t *testing.T) {
	input := "5 and 5 and 5"
	output := "5"

	a := Numbers(input, output)
	assert.Equal(t, 3, a.Candidates)
	assert.Equal(t, 2, a.Lost)
	assert.Equal(t, []string{"5"}, a.LostValues)
}

func TestHeadings_AllCapsAndKeywordCandidates(t *testing.T) {
	input := "SECTION TWO\nArticle 5. Something\nplain line\nshort\nCAPS!"
	a := Headings(input, input)

	assert.Equal(t, []string{"SECTION TWO", "Article 5. Something"}, a.Candidates)
	assert.Empty(t, a.Lost)
}

func TestHeadings_LostWhenAbsentFromOutput(t *testing.T) {
	input := "CHAPTER ONE\n\nbody text\n\nANNEX III\nmore"
	output := "CHAPTER ONE\n\nbody text rewritten"

	a := Headings(input, output)
	assert.Equal(t, []string{"ANNEX III"}, a.Lost)
}

func TestHeadings_MultilingualKeywords(t *testing.T) {
	input := "Artigo 3. Disposições\nCapítulo II\nnada"
	a := Headings(input, "")

	require.Len(t, a.Candidates, 2)
	assert.Equal(t, a.Candidates, a.Lost)
}

func TestRun_ExampleScenario(t *testing.T) {
	// A corrective transform that drops both the short number and the heading
	// must be flagged for both.
	input := "SECTION TWO\n\nMore text 7."
	output := "More text."

	report := Run(input, output)
	assert.False(t, report.Clean())
	assert.Equal(t, 1, report.Numbers.Lost)
	assert.Equal(t, []string{"7"}, report.Numbers.LostValues)
	assert.Equal(t, []string{"SECTION TWO"}, report.Headings.Lost)

	// Fail-safe substitution of the original yields a clean final audit.
	final := Run(input, input)
	assert.True(t, final.Clean())
	assert.Zero(t, final.Numbers.LossRatio)
}

func TestRun_UnicodeNormalization(t *testing.T) {
	// Same text in NFD on one side and NFC on the other must not count as loss.
	nfd := "Capítulo 2\nbody" // í as i + combining acute
	nfc := "Capítulo 2\nbody"

	report := Run(nfd, nfc)
	assert.True(t, report.Clean())
}

func TestLastHeading(t *testing.T) {
	assert.Equal(t, "", LastHeading("no headings here"))
	assert.Equal(t, "SECTION TWO",
		LastHeading("Article 1. Intro\n\nbody\n\nSECTION TWO\n\ntrailing body"))
}
