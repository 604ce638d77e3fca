package footnote

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostprocess_InlineReferences(t *testing.T) {
	in := "The treaty entered into force [[FN_REF:12]] in 1994."
	out := Postprocess(in)
	assert.Equal(t, "The treaty entered into force {{footnotenumber12}}12{{-footnotenumber12}} in 1994.", out)
}

func TestPostprocess_CollectsDefinitions(t *testing.T) {
	in := "Body text [[FN_REF:2]] continues.\n" +
		"[[FN_DEF:2]] OJ L 123, p. 45.\n" +
		"More body text."
	out := Postprocess(in)

	assert.Equal(t, "Body text {{footnotenumber2}}2{{-footnotenumber2}} continues.\nMore body text.\n\n"+
		"{{footnotes_section}}\n{{footnote2}}OJ L 123, p. 45.{{-footnote2}}\n{{-footnotes_section}}", out)
}

func TestPostprocess_SortsDefinitionsByNumber(t *testing.T) {
	in := "[[FN_DEF:3]] third\n[[FN_DEF:1]] first\nbody"
	out := Postprocess(in)

	first := "{{footnote1}}first{{-footnote1}}"
	third := "{{footnote3}}third{{-footnote3}}"
	assert.Less(t, strings.Index(out, first), strings.Index(out, third))
}

func TestPostprocess_StripsDuplicatedNumberInDefinition(t *testing.T) {
	// OCR output often repeats the number at the start of the line.
	out := Postprocess("[[FN_DEF:7]] 7 See annex.")
	assert.Contains(t, out, "{{footnote7}}See annex.{{-footnote7}}")
}

func TestPostprocess_NoMarkersPassThrough(t *testing.T) {
	in := "Plain text with numbers 1 2 3.\n\nSecond paragraph."
	assert.Equal(t, in, Postprocess(in))
}

func TestRenumber_SequentialInOrderOfAppearance(t *testing.T) {
	in := "a {{footnotenumber4}}4{{-footnotenumber4}} b {{footnotenumber9}}9{{-footnotenumber9}} c\n\n" +
		"{{footnotes_section}}\n" +
		"{{footnote4}}fourth{{-footnote4}}\n" +
		"{{footnote9}}ninth{{-footnote9}}\n" +
		"{{-footnotes_section}}"
	out := Renumber(in)

	assert.Contains(t, out, "a {{footnotenumber1}}1{{-footnotenumber1}} b {{footnotenumber2}}2{{-footnotenumber2}} c")
	assert.Contains(t, out, "{{footnote1}}fourth{{-footnote1}}")
	assert.Contains(t, out, "{{footnote2}}ninth{{-footnote2}}")
	assert.NotContains(t, out, "footnotenumber4")
}

func TestRenumber_OutOfOrderReferencesKeepDefinitionPairing(t *testing.T) {
	// Reference 9 appears before reference 4, but Postprocess sorted the
	// definitions numerically. Each definition must follow its reference's
	// new number, not its position in the section.
	in := "a {{footnotenumber9}}9{{-footnotenumber9}} b {{footnotenumber4}}4{{-footnotenumber4}} c\n\n" +
		"{{footnotes_section}}\n" +
		"{{footnote4}}fourth{{-footnote4}}\n" +
		"{{footnote9}}ninth{{-footnote9}}\n" +
		"{{-footnotes_section}}"
	out := Renumber(in)

	assert.Contains(t, out, "a {{footnotenumber1}}1{{-footnotenumber1}} b {{footnotenumber2}}2{{-footnotenumber2}} c")
	assert.Contains(t, out, "{{footnote1}}ninth{{-footnote1}}")
	assert.Contains(t, out, "{{footnote2}}fourth{{-footnote2}}")
}

func TestRenumber_OrphanDefinitionKeepsNumber(t *testing.T) {
	in := "no references here\n\n{{footnote7}}orphan note{{-footnote7}}"
	assert.Contains(t, Renumber(in), "{{footnote7}}orphan note{{-footnote7}}")
}

func TestRenumber_DuplicatesFromChunkSeams(t *testing.T) {
	// Two chunks can each emit footnote 1; renumbering makes them distinct.
	in := "x {{footnotenumber1}}1{{-footnotenumber1}} y {{footnotenumber1}}1{{-footnotenumber1}}"
	out := Renumber(in)
	assert.Contains(t, out, "{{footnotenumber1}}1{{-footnotenumber1}}")
	assert.Contains(t, out, "{{footnotenumber2}}2{{-footnotenumber2}}")
}

func TestPostprocessThenRenumber(t *testing.T) {
	in := "Intro [[FN_REF:5]] text.\n[[FN_DEF:5]] The only footnote."
	out := Renumber(Postprocess(in))

	assert.Contains(t, out, "Intro {{footnotenumber1}}1{{-footnotenumber1}} text.")
	assert.Contains(t, out, "{{footnote1}}The only footnote.{{-footnote1}}")
}
