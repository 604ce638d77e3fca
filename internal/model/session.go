package model

import "time"

// ChunkResult is the recorded outcome of one chunk within a phase.
// Failed means every transform attempt failed and the original content was
// kept; FailSafe means a transform succeeded but could not be verified
// loss-free, so the original content was kept anyway.
type ChunkResult struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	Failed   bool   `json:"failed,omitempty"`
	FailSafe bool   `json:"fail_safe,omitempty"`
	Retried  bool   `json:"retried,omitempty"`
}

// PhaseState is the persisted per-phase record. EndTime zero means the phase
// is incomplete and resumes from len(ChunkResults).
type PhaseState struct {
	Name         string        `json:"name"`
	TotalChunks  int           `json:"total_chunks"`
	ChunkResults []ChunkResult `json:"chunk_results"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time,omitzero"`
}

// Done reports whether the phase has finished all its chunks.
func (p *PhaseState) Done() bool {
	return !p.EndTime.IsZero()
}

// Output joins the recorded chunk texts with the paragraph separator.
func (p *PhaseState) Output() string {
	if len(p.ChunkResults) == 0 {
		return ""
	}
	out := p.ChunkResults[0].Text
	for _, cr := range p.ChunkResults[1:] {
		out += "\n\n" + cr.Text
	}
	return out
}

// FailedChunks returns the indices that fell back to original content.
func (p *PhaseState) FailedChunks() []int {
	var idx []int
	for _, cr := range p.ChunkResults {
		if cr.Failed || cr.FailSafe {
			idx = append(idx, cr.Index)
		}
	}
	return idx
}

// Session is the resumable state of one document's run across all phases.
// It is updated after every chunk, so an interruption loses at most one
// in-flight chunk.
type Session struct {
	ID           string           `json:"id"`
	Document     DocumentIdentity `json:"document"`
	Phases       []PhaseState     `json:"phases"`
	CurrentPhase string           `json:"current_phase"`
	TotalElapsed time.Duration    `json:"total_elapsed"`
	Completed    bool             `json:"completed"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Phase returns the state for the named phase, or nil.
func (s *Session) Phase(name string) *PhaseState {
	for i := range s.Phases {
		if s.Phases[i].Name == name {
			return &s.Phases[i]
		}
	}
	return nil
}

// EnsurePhase returns the named phase, creating it with the given chunk total
// if it does not exist yet. A stale partial phase whose total no longer
// matches the freshly chunked input is restarted from scratch.
func (s *Session) EnsurePhase(name string, totalChunks int) *PhaseState {
	if p := s.Phase(name); p != nil {
		if p.Done() || p.TotalChunks == totalChunks {
			return p
		}
		p.TotalChunks = totalChunks
		p.ChunkResults = nil
		p.StartTime = time.Now().UTC()
		return p
	}
	s.Phases = append(s.Phases, PhaseState{
		Name:        name,
		TotalChunks: totalChunks,
		StartTime:   time.Now().UTC(),
	})
	return &s.Phases[len(s.Phases)-1]
}

// Result returns the joined output of a completed phase, or empty string.
func (s *Session) Result(phaseName string) string {
	p := s.Phase(phaseName)
	if p == nil || !p.Done() {
		return ""
	}
	return p.Output()
}
