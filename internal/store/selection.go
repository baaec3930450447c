package store

// ToggleSegmentSelection adds id to the selection or removes it if already
// present, and reports whether id is selected afterwards. Toggling twice
// restores the previous selection.
func (s *Store) ToggleSegmentSelection(id string) bool {
	s.mu.Lock()
	selected := true
	for i, sel := range s.selection {
		if sel == id {
			s.selection = append(s.selection[:i:i], s.selection[i+1:]...)
			selected = false
			break
		}
	}
	if selected {
		s.selection = append(s.selection, id)
	}
	jobID := s.current
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeSelection, JobID: jobID})
	return selected
}

// Selection returns the selected segment ids in selection order.
func (s *Store) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.selection...)
}
