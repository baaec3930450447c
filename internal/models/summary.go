package models

// SummaryStyle is the requested summary length.
type SummaryStyle string

const (
	SummaryShort  SummaryStyle = "short"
	SummaryMedium SummaryStyle = "medium"
	SummaryLong   SummaryStyle = "long"
)

// Valid reports whether s is a known style.
func (s SummaryStyle) Valid() bool {
	return s == SummaryShort || s == SummaryMedium || s == SummaryLong
}

// Summary is the rendered summary of the current transcription. Bullets are
// derived from Content for display only.
type Summary struct {
	ID              string       `json:"id"`
	TranscriptionID string       `json:"transcription_id"`
	Style           SummaryStyle `json:"style"`
	Content         string       `json:"content"`
	Bullets         []string     `json:"bullets"`
}

// Clone returns a deep copy of s.
func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}
	out := *s
	out.Bullets = append([]string(nil), s.Bullets...)
	return &out
}
