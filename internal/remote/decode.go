package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"scribeflow/internal/errs"
	"scribeflow/internal/models"
)

// The service is loose about key casing, so payloads are decoded into maps
// and each field is looked up under its known spellings.

var errMissingStatus = errors.New("job payload has no status")

func pick(obj map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if raw, ok := obj[k]; ok && len(raw) > 0 && string(raw) != "null" {
			return raw, true
		}
	}
	return nil, false
}

func pickString(obj map[string]json.RawMessage, keys ...string) string {
	raw, ok := pick(obj, keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// numeric ids
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func pickTime(obj map[string]json.RawMessage, keys ...string) (*time.Time, error) {
	s := pickString(obj, keys...)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("parse time %q", s)
}

// decodeJob maps a job payload onto models.Job. The status must be present and
// known; timestamps and progress are optional.
func decodeJob(raw json.RawMessage) (*models.Job, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	job := &models.Job{
		ID:     pickString(obj, "id", "job_id", "jobId"),
		Status: models.JobStatus(strings.ToLower(pickString(obj, "status"))),
		Error:  pickString(obj, "error", "error_message"),
	}
	if job.Status == "" {
		return nil, fmt.Errorf("decode job: %w", errMissingStatus)
	}
	if !job.Status.Valid() {
		return nil, fmt.Errorf("decode job: unknown status %q", job.Status)
	}
	if rawProgress, ok := pick(obj, "progress"); ok {
		var p float64
		if err := json.Unmarshal(rawProgress, &p); err == nil {
			v := int(p)
			job.Progress = &v
		}
	}
	created, err := pickTime(obj, "created_at", "createdAt")
	if err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if created != nil {
		job.CreatedAt = *created
	}
	completed, err := pickTime(obj, "completed_at", "completedAt")
	if err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	job.CompletedAt = completed
	if rawFile, ok := pick(obj, "audio_file", "audioFile"); ok {
		var fobj map[string]json.RawMessage
		if err := json.Unmarshal(rawFile, &fobj); err == nil {
			job.AudioFile.ID = pickString(fobj, "id")
			job.AudioFile.Name = pickString(fobj, "name", "filename")
			job.AudioFile.MimeType = pickString(fobj, "mime_type", "type")
			if rawSize, ok := pick(fobj, "size"); ok {
				_ = json.Unmarshal(rawSize, &job.AudioFile.Size)
			}
		}
	}
	return job, nil
}

// Creation is the envelope returned when a job is created.
type Creation struct {
	JobID string
	Job   *models.Job
}

// decodeCreation reads {<idKey>, status, job}. When the nested job is absent
// one is synthesized from the envelope. A creation without any job id is
// errs.ErrMissingJobID.
func decodeCreation(body []byte, idKey string) (*Creation, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode creation: %w", err)
	}
	out := &Creation{JobID: pickString(obj, idKey)}
	if rawJob, ok := pick(obj, "job"); ok {
		job, err := decodeJob(rawJob)
		if err != nil && !errors.Is(err, errMissingStatus) {
			return nil, err
		}
		if job != nil {
			out.Job = job
		}
	}
	if out.Job == nil {
		status := models.JobStatus(strings.ToLower(pickString(obj, "status")))
		if !status.Valid() {
			status = models.JobQueued
		}
		out.Job = &models.Job{ID: out.JobID, Status: status}
	}
	if out.JobID == "" {
		out.JobID = out.Job.ID
	}
	if out.Job.ID == "" {
		out.Job.ID = out.JobID
	}
	if out.JobID == "" {
		return nil, errs.ErrMissingJobID
	}
	return out, nil
}

// decodeTranscription maps a transcription payload. FullText is always
// rebuilt from the segments when there are any.
func decodeTranscription(body []byte, jobID string) (*models.Transcription, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode transcription: %w", err)
	}
	t := &models.Transcription{
		ID:       pickString(obj, "id", "transcription_id"),
		JobID:    pickString(obj, "job_id", "jobId"),
		FullText: pickString(obj, "full_text", "fullText", "text"),
		Language: pickString(obj, "language"),
	}
	if t.JobID == "" {
		t.JobID = jobID
	}
	if t.ID == "" {
		t.ID = t.JobID
	}
	var segments []map[string]json.RawMessage
	if raw, ok := pick(obj, "segments"); ok {
		if err := json.Unmarshal(raw, &segments); err != nil {
			return nil, fmt.Errorf("decode transcription segments: %w", err)
		}
	}
	t.Segments = make([]models.Segment, 0, len(segments))
	for i, s := range segments {
		seg := models.Segment{
			ID:      pickString(s, "id"),
			Text:    pickString(s, "text"),
			Speaker: pickString(s, "speaker"),
		}
		if seg.ID == "" {
			seg.ID = fmt.Sprintf("%d", i)
		}
		if raw, ok := pick(s, "start"); ok {
			if err := seg.Start.UnmarshalJSON(raw); err != nil {
				return nil, fmt.Errorf("decode segment %s start: %w", seg.ID, err)
			}
		}
		if raw, ok := pick(s, "end"); ok {
			if err := seg.End.UnmarshalJSON(raw); err != nil {
				return nil, fmt.Errorf("decode segment %s end: %w", seg.ID, err)
			}
		}
		if raw, ok := pick(s, "confidence", "score"); ok {
			_ = json.Unmarshal(raw, &seg.Confidence)
		}
		if seg.End.LessThan(seg.Start) {
			seg.End = seg.Start
		}
		t.Segments = append(t.Segments, seg)
	}
	if len(t.Segments) > 0 {
		t.Rebuild()
	}
	return t, nil
}
