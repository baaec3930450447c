package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Segment is a timestamped span of transcript text. Start and End are seconds.
type Segment struct {
	ID         string          `json:"id"`
	Start      decimal.Decimal `json:"start"`
	End        decimal.Decimal `json:"end"`
	Text       string          `json:"text"`
	Speaker    string          `json:"speaker,omitempty"`
	Confidence float64         `json:"confidence"`
}

// Transcription is the transcript of one job. FullText always equals the
// space-joined segment texts.
type Transcription struct {
	ID       string    `json:"id"`
	JobID    string    `json:"job_id"`
	Segments []Segment `json:"segments"`
	FullText string    `json:"full_text"`
	Language string    `json:"language"`
}

// JoinSegments joins segment texts with single spaces, in order.
func JoinSegments(segments []Segment) string {
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	return strings.Join(texts, " ")
}

// Rebuild recomputes FullText from the segments.
func (t *Transcription) Rebuild() {
	t.FullText = JoinSegments(t.Segments)
}

// Clone returns a deep copy of t.
func (t *Transcription) Clone() *Transcription {
	if t == nil {
		return nil
	}
	out := *t
	out.Segments = append([]Segment(nil), t.Segments...)
	return &out
}
