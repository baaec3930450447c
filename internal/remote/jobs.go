package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"scribeflow/internal/models"
)

// JobStatus fetches the current state of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*models.Job, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.jobURL(jobID, "status"), nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do("job status", req)
	if err != nil {
		return nil, err
	}
	job, err := decodeJob(body)
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}

// Transcription fetches the transcript of a ready transcription job.
func (c *Client) Transcription(ctx context.Context, jobID string) (*models.Transcription, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.jobURL(jobID, "transcription"), nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do("fetch transcription", req)
	if err != nil {
		return nil, err
	}
	return decodeTranscription(body, jobID)
}

// CreateSummary starts a summary job over the transcription of jobID.
func (c *Client) CreateSummary(ctx context.Context, jobID string, style models.SummaryStyle) (*Creation, error) {
	payload, err := json.Marshal(map[string]string{"style": string(style)})
	if err != nil {
		return nil, fmt.Errorf("encode summary request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.jobURL(jobID, "summary"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := c.do("create summary", req)
	if err != nil {
		return nil, err
	}
	return decodeCreation(body, "summary_job_id")
}

// QARequest is a question about the transcription of a job. Context is sent
// in the JSON form; Segments is sent in the multipart form.
type QARequest struct {
	Question string
	Context  string
	Segments []string
	File     *Attachment
}

// Attachment is a requirements document uploaded alongside a question.
type Attachment struct {
	Name string
	Data []byte
}

// CreateQA starts a question answering job. The request is multipart when a
// file is attached and JSON otherwise.
func (c *Client) CreateQA(ctx context.Context, jobID string, q QARequest) (*Creation, error) {
	var (
		buf         bytes.Buffer
		contentType string
	)
	if q.File != nil {
		writer := multipart.NewWriter(&buf)
		if err := writer.WriteField("question", q.Question); err != nil {
			return nil, fmt.Errorf("write question field: %w", err)
		}
		part, err := writer.CreateFormFile("requirement_file", filepath.Base(q.File.Name))
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(q.File.Data); err != nil {
			return nil, fmt.Errorf("write requirement file: %w", err)
		}
		if len(q.Segments) > 0 {
			ctxJSON, err := json.Marshal(map[string][]string{"segments": q.Segments})
			if err != nil {
				return nil, fmt.Errorf("encode qa context: %w", err)
			}
			if err := writer.WriteField("context", string(ctxJSON)); err != nil {
				return nil, fmt.Errorf("write context field: %w", err)
			}
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("close multipart: %w", err)
		}
		contentType = writer.FormDataContentType()
	} else {
		payload := struct {
			Question string `json:"question"`
			Context  string `json:"context,omitempty"`
		}{Question: q.Question, Context: q.Context}
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			return nil, fmt.Errorf("encode qa request: %w", err)
		}
		contentType = "application/json"
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.jobURL(jobID, "qa"), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	body, err := c.do("create qa", req)
	if err != nil {
		return nil, err
	}
	return decodeCreation(body, "qa_job_id")
}

// Download fetches a job artifact in the given format as text.
func (c *Client) Download(ctx context.Context, jobID, format string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.DownloadURL(jobID, format), nil)
	if err != nil {
		return "", err
	}
	body, err := c.do("download "+format, req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
