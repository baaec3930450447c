package store

// EditSegmentText replaces the text of one segment of the current
// transcription and rebuilds the full text. It reports false when there is no
// transcription or no such segment.
func (s *Store) EditSegmentText(id, text string) bool {
	s.mu.Lock()
	if s.transcription == nil {
		s.mu.Unlock()
		return false
	}
	found := false
	for i := range s.transcription.Segments {
		if s.transcription.Segments[i].ID == id {
			s.transcription.Segments[i].Text = text
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return false
	}
	s.transcription.Rebuild()
	jobID := s.current
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeTranscription, JobID: jobID})
	return true
}
