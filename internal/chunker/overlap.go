package chunker

import "github.com/sells-group/doctag-cli/internal/model"

// DefaultOverlap is the context window size in runes carried from each
// adjacent chunk. Tunable heuristic, not an invariant.
const DefaultOverlap = 400

// PrevOverlap returns the last k runes of the preceding chunk's
// already-processed output, empty for the first chunk.
func PrevOverlap(processedPrev string, k int) string {
	r := []rune(processedPrev)
	if len(r) <= k {
		return processedPrev
	}
	return string(r[len(r)-k:])
}

// NextOverlap returns the first k runes of the following chunk's original,
// not-yet-processed input, empty for the last chunk.
func NextOverlap(nextInput string, k int) string {
	r := []rune(nextInput)
	if len(r) <= k {
		return nextInput
	}
	return string(r[:k])
}

// Build assembles the chunk list for one phase: content from the split plus
// the forward-looking overlap. The backward overlap depends on the previous
// chunk's output and is filled in by the phase runner as results arrive.
func Build(pieces []string, k int) []model.Chunk {
	chunks := make([]model.Chunk, len(pieces))
	for i, content := range pieces {
		chunks[i] = model.Chunk{Index: i, Content: content}
		if i+1 < len(pieces) {
			chunks[i].NextOverlap = NextOverlap(pieces[i+1], k)
		}
	}
	return chunks
}
