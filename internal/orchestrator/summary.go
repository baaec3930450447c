package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"scribeflow/internal/models"
)

const maxBullets = 4

// GenerateSummary asks the service for a summary of the current
// transcription. Without a current job and transcription it does nothing and
// returns nil.
func (s *Service) GenerateSummary(ctx context.Context, style models.SummaryStyle) (*models.Summary, error) {
	if style == "" {
		style = models.SummaryMedium
	}
	if !style.Valid() {
		return nil, fmt.Errorf("unknown summary style %q", style)
	}
	job := s.store.CurrentJob()
	t := s.store.Transcription()
	if job == nil || t == nil {
		return nil, nil
	}

	created, err := s.remote.CreateSummary(ctx, job.ID, style)
	if err != nil {
		return nil, fmt.Errorf("create summary: %w", err)
	}
	summaryID := created.JobID
	if _, err := s.poll(ctx, job.ID, summaryID, nil); err != nil {
		return nil, fmt.Errorf("summary job %s: %w", summaryID, err)
	}
	content, err := s.remote.Download(ctx, summaryID, "txt")
	if err != nil {
		return nil, fmt.Errorf("download summary: %w", err)
	}

	sum := &models.Summary{
		ID:              summaryID,
		TranscriptionID: t.ID,
		Style:           style,
		Content:         content,
		Bullets:         bullets(content),
	}
	if !s.store.SetSummary(job.ID, sum) {
		debugLog("orchestrator: summary %s arrived after job %s lost focus", summaryID, job.ID)
	}
	return sum, nil
}

// bullets returns the first non-blank lines of content, trimmed.
func bullets(content string) []string {
	out := make([]string, 0, maxBullets)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == maxBullets {
			break
		}
	}
	return out
}
