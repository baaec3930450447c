// Package remotetest provides an in-process job service for tests.
package remotetest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// Upload records one received audio upload.
type Upload struct {
	Filename string
	Size     int64
	Fields   map[string]string
	Auth     string
}

// Question records one received question answering request.
type Question struct {
	JobID       string
	Multipart   bool
	Question    string
	Context     string
	FileName    string
	FileContent string
}

// Server is a scripted job service. Each job walks through its configured
// status sequence, one step per status request, and then stays on the last.
type Server struct {
	*httptest.Server

	mu             sync.Mutex
	statuses       map[string][]string
	failures       map[string]string
	transcriptions map[string]any
	downloads      map[string]string
	uploadBody     any
	summaryBody    any
	qaBody         any
	calls          []string
	uploads        []Upload
	questions      []Question
	summaryStyles  []string
}

// New starts a job service. Close it when done.
func New() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		statuses:       make(map[string][]string),
		failures:       make(map[string]string),
		transcriptions: make(map[string]any),
		downloads:      make(map[string]string),
		uploadBody:     gin.H{"job_id": "job-1", "status": "queued", "job": gin.H{"id": "job-1", "status": "queued"}},
		summaryBody:    gin.H{"summary_job_id": "sum-1", "job": gin.H{"id": "sum-1", "status": "queued"}},
		qaBody:         gin.H{"qa_job_id": "qa-1", "job": gin.H{"id": "qa-1", "status": "queued"}},
	}

	router := gin.New()
	router.Use(s.record)
	v1 := router.Group("/api/v1")
	v1.POST("/audio/upload", s.handleUpload)
	v1.GET("/jobs/:id/status", s.handleStatus)
	v1.GET("/jobs/:id/transcription", s.handleTranscription)
	v1.POST("/jobs/:id/summary", s.handleSummary)
	v1.POST("/jobs/:id/qa", s.handleQA)
	v1.GET("/jobs/:id/download", s.handleDownload)
	s.Server = httptest.NewServer(router)
	return s
}

// SetStatuses scripts the status sequence returned for jobID.
func (s *Server) SetStatuses(jobID string, statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[jobID] = statuses
}

// SetFailure sets the error text reported once jobID is failed.
func (s *Server) SetFailure(jobID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[jobID] = message
}

// SetTranscription sets the transcription payload of jobID.
func (s *Server) SetTranscription(jobID string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcriptions[jobID] = payload
}

// SetDownload sets the artifact served for jobID in format.
func (s *Server) SetDownload(jobID, format, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads[jobID+"|"+format] = body
}

// SetUploadResponse replaces the upload creation envelope.
func (s *Server) SetUploadResponse(body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadBody = body
}

// SetSummaryResponse replaces the summary creation envelope.
func (s *Server) SetSummaryResponse(body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaryBody = body
}

// SetQAResponse replaces the question answering creation envelope.
func (s *Server) SetQAResponse(body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qaBody = body
}

// Calls returns "METHOD /path" for every request received.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CountCalls returns how many received requests start with prefix.
func (s *Server) CountCalls(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Uploads returns the recorded uploads.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// Questions returns the recorded question answering requests.
func (s *Server) Questions() []Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Question(nil), s.questions...)
}

// SummaryStyles returns the styles of the recorded summary requests.
func (s *Server) SummaryStyles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.summaryStyles...)
}

func (s *Server) record(c *gin.Context) {
	s.mu.Lock()
	s.calls = append(s.calls, c.Request.Method+" "+c.Request.URL.Path)
	s.mu.Unlock()
	c.Next()
}

func (s *Server) handleUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	up := Upload{
		Filename: fh.Filename,
		Size:     fh.Size,
		Fields:   make(map[string]string),
		Auth:     c.GetHeader("Authorization"),
	}
	for k, v := range c.Request.MultipartForm.Value {
		if len(v) > 0 {
			up.Fields[k] = v[0]
		}
	}
	s.mu.Lock()
	s.uploads = append(s.uploads, up)
	body := s.uploadBody
	s.mu.Unlock()
	c.JSON(http.StatusCreated, body)
}

func (s *Server) handleStatus(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	seq, ok := s.statuses[id]
	if !ok || len(seq) == 0 {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	status := seq[0]
	if len(seq) > 1 {
		s.statuses[id] = seq[1:]
	}
	failure := s.failures[id]
	s.mu.Unlock()

	payload := gin.H{"id": id, "status": status, "created_at": "2024-05-01T10:00:00Z"}
	switch status {
	case "processing":
		payload["progress"] = 50
	case "failed":
		payload["error"] = failure
		payload["completed_at"] = "2024-05-01T10:05:00Z"
	case "ready":
		payload["completed_at"] = "2024-05-01T10:05:00Z"
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleTranscription(c *gin.Context) {
	s.mu.Lock()
	payload, ok := s.transcriptions[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcription not found"})
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleSummary(c *gin.Context) {
	var req struct {
		Style string `json:"style"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.summaryStyles = append(s.summaryStyles, req.Style)
	body := s.summaryBody
	s.mu.Unlock()
	c.JSON(http.StatusAccepted, body)
}

func (s *Server) handleQA(c *gin.Context) {
	q := Question{JobID: c.Param("id")}
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		q.Multipart = true
		q.Question = c.PostForm("question")
		q.Context = c.PostForm("context")
		if fh, err := c.FormFile("requirement_file"); err == nil {
			q.FileName = fh.Filename
			if f, err := fh.Open(); err == nil {
				data, _ := io.ReadAll(f)
				f.Close()
				q.FileContent = string(data)
			}
		}
	} else {
		var req struct {
			Question string `json:"question"`
			Context  string `json:"context"`
		}
		if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		q.Question = req.Question
		q.Context = req.Context
	}
	s.mu.Lock()
	s.questions = append(s.questions, q)
	body := s.qaBody
	s.mu.Unlock()
	c.JSON(http.StatusAccepted, body)
}

func (s *Server) handleDownload(c *gin.Context) {
	s.mu.Lock()
	body, ok := s.downloads[c.Param("id")+"|"+c.Query("format")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}
	c.String(http.StatusOK, body)
}
