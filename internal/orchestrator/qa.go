package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"scribeflow/internal/models"
	"scribeflow/internal/remote"
)

// FailedAnswer is the assistant message appended when a question fails.
const FailedAnswer = "Could not obtain an answer. Please try again."

// ChatRequest is a question about the current transcription.
type ChatRequest struct {
	Question          string
	IncludeTranscript bool
	// Attachment switches the request to multipart.
	Attachment *remote.Attachment
}

// SendChatMessage appends the question to the chat thread, asks the service
// and appends its answer. Any failure appends a single placeholder answer and
// is returned. Without a current job and transcription it does nothing.
func (s *Service) SendChatMessage(ctx context.Context, req ChatRequest) (*models.ChatMessage, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.New("question is empty")
	}
	job := s.store.CurrentJob()
	t := s.store.Transcription()
	if job == nil || t == nil {
		return nil, nil
	}
	selection := s.store.Selection()

	s.store.AppendMessage(job.ID, models.ChatMessage{Role: models.RoleUser, Content: req.Question})

	answer, err := s.ask(ctx, job.ID, req, t, selection)
	if err != nil {
		log.Printf("question on job %s failed: %v", job.ID, err)
		s.store.AppendMessage(job.ID, models.ChatMessage{Role: models.RoleAssistant, Content: FailedAnswer})
		return nil, err
	}

	msg := models.ChatMessage{Role: models.RoleAssistant, Content: answer}
	if len(selection) > 0 {
		msg.ReferencedSegments = selection
	}
	stored, _ := s.store.AppendMessage(job.ID, msg)
	return &stored, nil
}

func (s *Service) ask(ctx context.Context, jobID string, req ChatRequest, t *models.Transcription, selection []string) (string, error) {
	q := remote.QARequest{Question: req.Question, File: req.Attachment}
	switch {
	case req.Attachment != nil:
		if req.IncludeTranscript && len(selection) > 0 {
			q.Segments = selection
		}
	case req.IncludeTranscript:
		q.Context = t.FullText
	}

	created, err := s.remote.CreateQA(ctx, jobID, q)
	if err != nil {
		return "", fmt.Errorf("create qa: %w", err)
	}
	qaID := created.JobID
	if _, err := s.poll(ctx, jobID, qaID, nil); err != nil {
		return "", fmt.Errorf("qa job %s: %w", qaID, err)
	}
	answer, err := s.remote.Download(ctx, qaID, "txt")
	if err != nil {
		return "", fmt.Errorf("download answer: %w", err)
	}
	return answer, nil
}
