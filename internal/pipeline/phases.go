// Package pipeline drives a document through the fixed phase sequence:
// extract, OCR fallback, clean, headline tagging, footnote tagging, content
// tagging. Chunks within a phase run strictly in order because each prompt
// carries the previous chunk's output as context.
package pipeline

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/doctag-cli/internal/footnote"
)

// Phase names in execution order. Extract and OCR are recorded in the session
// like any other phase so a resume can skip them too.
const (
	PhaseExtract     = "extract"
	PhaseOCR         = "ocr"
	PhaseClean       = "clean"
	PhaseHeadlineTag = "headline_tag"
	PhaseFootnoteTag = "footnote_tag"
	PhaseContentTag  = "content_tag"
)

// PhaseSpec describes one provider-backed transformation phase.
type PhaseSpec struct {
	Name         string   `yaml:"name"`
	Instructions string   `yaml:"instructions"`
	Model        string   `yaml:"model"`
	ChunkCount   int      `yaml:"chunk_count"`
	Temperature  *float64 `yaml:"temperature"`

	// Finalize post-processes the joined phase output locally, with no
	// provider call. Used by the footnote phase to turn reference markers
	// into tags and renumber them document-wide.
	Finalize func(string) string `yaml:"-"`
}

const cleanInstructions = `You are a document cleaning assistant. The input is raw text extracted from a scanned or digital document. Clean it:
- Remove page headers, page footers, and bare page numbers.
- Rejoin words hyphenated across line breaks.
- Merge lines that belong to the same paragraph; keep blank lines between paragraphs.
- Preserve every number, date, heading, and footnote marker exactly as written.
Return only the cleaned text. Do not summarize, translate, or comment.`

const headlineInstructions = `You are a document structure tagger. Wrap each structural heading in the text with tags, innermost content unchanged:
- {{title1}}...{{-title1}} for top-level headings (TITLE, BOOK, PART).
- {{title2}}...{{-title2}} for mid-level headings (CHAPTER, SECTION).
- {{title3}}...{{-title3}} for low-level headings (ARTICLE, ANNEX, APPENDIX, SCHEDULE).
Tag only lines that are headings. Every other line must be reproduced exactly as given, including numbers and footnote markers. Do not summarize.`

const footnoteInstructions = `You are a footnote tagger. Identify footnote references and footnote definitions in the text:
- Replace each in-text footnote reference N with the marker [[FN_REF:N]].
- Replace each footnote definition line ("N. text" at the foot of a page) with [[FN_DEF:N]] followed by the definition text.
Everything else, including all headings, tags, and numbers, must be reproduced exactly as given. Do not summarize.`

const contentInstructions = `You are a content tagger. Wrap the body content of the text with tags, leaving existing tags untouched:
- {{article}}...{{-article}} around each article body.
- {{paragraph}}...{{-paragraph}} around each paragraph inside an article.
- {{item}}...{{-item}} around enumerated items (a), (b), 1., 2. inside a paragraph.
Close every tag you open. Reproduce all text, numbers, and existing tags exactly as given. Do not summarize.`

// DefaultPhases returns the transform phase catalog with the given model and
// per-phase chunk count applied to every phase.
func DefaultPhases(model string, chunkCount int) []PhaseSpec {
	finalizeFootnotes := func(text string) string {
		return footnote.Renumber(footnote.Postprocess(text))
	}
	return []PhaseSpec{
		{Name: PhaseClean, Instructions: cleanInstructions, Model: model, ChunkCount: chunkCount},
		{Name: PhaseHeadlineTag, Instructions: headlineInstructions, Model: model, ChunkCount: chunkCount},
		{Name: PhaseFootnoteTag, Instructions: footnoteInstructions, Model: model, ChunkCount: chunkCount, Finalize: finalizeFootnotes},
		{Name: PhaseContentTag, Instructions: contentInstructions, Model: model, ChunkCount: chunkCount},
	}
}

type phaseFile struct {
	Phases []PhaseSpec `yaml:"phases"`
}

// LoadPhaseOverrides merges a YAML phase file over the defaults. Unknown phase
// names are rejected so a typo cannot silently drop an override. Empty fields
// keep the default.
func LoadPhaseOverrides(path string, defaults []PhaseSpec) ([]PhaseSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read phase file %s", path)
	}
	var pf phaseFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse phase file %s", path)
	}

	out := make([]PhaseSpec, len(defaults))
	copy(out, defaults)
	for _, ov := range pf.Phases {
		i := phaseIndex(out, ov.Name)
		if i < 0 {
			return nil, eris.Errorf("pipeline: unknown phase %q in %s", ov.Name, path)
		}
		if ov.Instructions != "" {
			out[i].Instructions = ov.Instructions
		}
		if ov.Model != "" {
			out[i].Model = ov.Model
		}
		if ov.ChunkCount > 0 {
			out[i].ChunkCount = ov.ChunkCount
		}
		if ov.Temperature != nil {
			out[i].Temperature = ov.Temperature
		}
	}
	return out, nil
}

func phaseIndex(specs []PhaseSpec, name string) int {
	for i := range specs {
		if specs[i].Name == name {
			return i
		}
	}
	return -1
}
