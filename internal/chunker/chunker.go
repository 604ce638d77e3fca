// Package chunker splits a document into paragraph-respecting pieces and
// derives the adjacent-chunk context windows used to prompt each piece.
package chunker

import "strings"

// Separator is the paragraph boundary. Splitting on it and re-joining with it
// reconstructs the input byte for byte, which is the chunker's core guarantee.
const Separator = "\n\n"

// Split divides text into about desiredCount pieces, never breaking inside a
// paragraph. A single paragraph longer than the target budget becomes its own
// chunk unsplit. desiredCount <= 1 returns the whole text as one chunk.
func Split(text string, desiredCount int) []string {
	if desiredCount <= 1 || len(text) == 0 {
		return []string{text}
	}

	targetSize := (len(text) + desiredCount - 1) / desiredCount
	paragraphs := strings.Split(text, Separator)

	var chunks []string
	var cur strings.Builder
	inChunk := 0
	for _, para := range paragraphs {
		if inChunk > 0 && cur.Len()+len(Separator)+len(para) > targetSize {
			chunks = append(chunks, cur.String())
			cur.Reset()
			inChunk = 0
		}
		if inChunk > 0 {
			cur.WriteString(Separator)
		}
		cur.WriteString(para)
		inChunk++
	}
	chunks = append(chunks, cur.String())
	return chunks
}

// Join is the inverse of Split: concatenating the chunks with the paragraph
// separator reproduces the original phase input.
func Join(chunks []string) string {
	return strings.Join(chunks, Separator)
}
