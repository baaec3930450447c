package models

import "time"

// Role tells who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry of the Q&A thread of the current job.
type ChatMessage struct {
	ID                 string    `json:"id"`
	Role               Role      `json:"role"`
	Content            string    `json:"content"`
	Timestamp          time.Time `json:"timestamp"`
	ReferencedSegments []string  `json:"referenced_segments,omitempty"`
}

// Clone returns a copy that shares no slices with m.
func (m ChatMessage) Clone() ChatMessage {
	if m.ReferencedSegments != nil {
		m.ReferencedSegments = append([]string(nil), m.ReferencedSegments...)
	}
	return m
}
