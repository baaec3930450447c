package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"

	"scribeflow/internal/auth"
	"scribeflow/internal/config"
	"scribeflow/internal/events"
	"scribeflow/internal/models"
	"scribeflow/internal/orchestrator"
	"scribeflow/internal/remote"
	"scribeflow/internal/remote/remotetest"
	"scribeflow/internal/storage"
	"scribeflow/internal/store"
)

func TestHandlersEndToEndFlow(t *testing.T) {
	router, remoteSrv := newTestServer(t)
	remoteSrv.SetStatuses("job-1", "queued", "processing", "ready")
	remoteSrv.SetTranscription("job-1", transcriptionPayload())
	remoteSrv.SetStatuses("qa-1", "ready")
	remoteSrv.SetDownload("qa-1", "txt", "On Friday.")
	remoteSrv.SetStatuses("sum-1", "processing", "ready")
	remoteSrv.SetDownload("sum-1", "txt", "One\nTwo\n\nThree")

	authHeader := login(t, router, "alice", "alice-pass")

	// Upload streams progress and ends with the transcription.
	uploadResp := postMultipart(t, router, "/api/jobs/upload", nil, "file", "interview.mp3", bytes.Repeat([]byte{1}, 64*1024), authHeader)
	assertStatus(t, uploadResp, http.StatusOK)
	evts := parseSSE(t, uploadResp.Body.String())
	if len(evts) < 2 {
		t.Fatalf("expected several SSE events, got %d", len(evts))
	}
	if evts[0].Name != "progress" {
		t.Fatalf("expected first SSE event to be progress, got %s", evts[0].Name)
	}
	last := evts[len(evts)-1]
	if last.Name != "done" {
		t.Fatalf("expected last SSE event to be done, got %s: %s", last.Name, last.Data)
	}
	var done struct {
		Job           models.Job           `json:"job"`
		Transcription models.Transcription `json:"transcription"`
	}
	decodeJSON(t, []byte(last.Data), &done)
	if done.Job.ID != "job-1" || done.Job.Status != models.JobReady {
		t.Fatalf("unexpected job in done event: %+v", done.Job)
	}
	if done.Transcription.FullText != "alpha beta gamma delta epsilon" {
		t.Fatalf("unexpected transcript %q", done.Transcription.FullText)
	}

	// Select two segments.
	for _, id := range []string{"s2", "s4"} {
		resp := doJSONRequest(t, router, http.MethodPost, "/api/segments/"+id+"/toggle", nil, authHeader)
		assertStatus(t, resp, http.StatusOK)
	}

	// Ask a question.
	chatResp := doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{
		"question":           "When is the deadline?",
		"include_transcript": true,
	}, authHeader)
	assertStatus(t, chatResp, http.StatusOK)
	var chatBody struct {
		Message  models.ChatMessage   `json:"message"`
		Messages []models.ChatMessage `json:"messages"`
	}
	decodeJSON(t, chatResp.Body.Bytes(), &chatBody)
	if chatBody.Message.Content != "On Friday." {
		t.Fatalf("unexpected answer %q", chatBody.Message.Content)
	}
	if diff := cmp.Diff([]string{"s2", "s4"}, chatBody.Message.ReferencedSegments); diff != "" {
		t.Fatalf("referenced segments mismatch (-want +got):\n%s", diff)
	}
	if len(chatBody.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(chatBody.Messages))
	}

	// Summarize.
	sumResp := doJSONRequest(t, router, http.MethodPost, "/api/summary", map[string]string{"style": "short"}, authHeader)
	assertStatus(t, sumResp, http.StatusOK)
	var sumBody struct {
		Summary models.Summary `json:"summary"`
	}
	decodeJSON(t, sumResp.Body.Bytes(), &sumBody)
	if diff := cmp.Diff([]string{"One", "Two", "Three"}, sumBody.Summary.Bullets); diff != "" {
		t.Fatalf("bullets mismatch (-want +got):\n%s", diff)
	}

	// Edit a segment.
	editResp := doJSONRequest(t, router, http.MethodPut, "/api/segments/s1", map[string]string{"text": "ALPHA"}, authHeader)
	assertStatus(t, editResp, http.StatusOK)
	var editBody struct {
		Transcription models.Transcription `json:"transcription"`
	}
	decodeJSON(t, editResp.Body.Bytes(), &editBody)
	if editBody.Transcription.FullText != "ALPHA beta gamma delta epsilon" {
		t.Fatalf("unexpected edited transcript %q", editBody.Transcription.FullText)
	}

	// Export resolves a download location.
	exportResp := doJSONRequest(t, router, http.MethodGet, "/api/jobs/job-1/export?format=vtt", nil, authHeader)
	assertStatus(t, exportResp, http.StatusOK)
	var exportBody struct {
		URL string `json:"url"`
	}
	decodeJSON(t, exportResp.Body.Bytes(), &exportBody)
	if want := remoteSrv.URL + "/api/v1/jobs/job-1/download?format=vtt"; exportBody.URL != want {
		t.Fatalf("expected %s, got %s", want, exportBody.URL)
	}

	// Delete clears the workspace.
	delResp := doJSONRequest(t, router, http.MethodDelete, "/api/jobs/job-1", nil, authHeader)
	assertStatus(t, delResp, http.StatusNoContent)
	stateResp := doJSONRequest(t, router, http.MethodGet, "/api/state", nil, authHeader)
	assertStatus(t, stateResp, http.StatusOK)
	var snap store.Snapshot
	decodeJSON(t, stateResp.Body.Bytes(), &snap)
	if snap.CurrentJob != nil || snap.Transcription != nil || snap.Summary != nil || len(snap.Messages) != 0 || len(snap.Selection) != 0 {
		t.Fatalf("expected empty workspace after delete, got %+v", snap)
	}

	// Logout revokes the token.
	logoutResp := doJSONRequest(t, router, http.MethodPost, "/api/logout", nil, authHeader)
	assertStatus(t, logoutResp, http.StatusNoContent)
	afterResp := doJSONRequest(t, router, http.MethodGet, "/api/state", nil, authHeader)
	assertStatus(t, afterResp, http.StatusUnauthorized)
}

func TestRoutesRequireToken(t *testing.T) {
	router, _ := newTestServer(t)
	for _, path := range []string{"/api/state", "/api/jobs", "/api/settings", "/api/events"} {
		resp := doJSONRequest(t, router, http.MethodGet, path, nil, nil)
		assertStatus(t, resp, http.StatusUnauthorized)
	}
	resp := doJSONRequest(t, router, http.MethodPost, "/api/login", map[string]string{
		"username": "alice",
		"password": "wrong",
	}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestUpdateSettingsRequiresAdmin(t *testing.T) {
	router, _ := newTestServer(t)
	userHeader := login(t, router, "bob", "bob-pass")
	adminHeader := login(t, router, "alice", "alice-pass")

	body := map[string]any{"model": "whisper-small", "chunk_size": 10}
	resp := doJSONRequest(t, router, http.MethodPut, "/api/settings", body, userHeader)
	assertStatus(t, resp, http.StatusForbidden)

	resp = doJSONRequest(t, router, http.MethodPut, "/api/settings", body, adminHeader)
	assertStatus(t, resp, http.StatusOK)

	resp = doJSONRequest(t, router, http.MethodGet, "/api/settings", nil, userHeader)
	assertStatus(t, resp, http.StatusOK)
	var got models.Settings
	decodeJSON(t, resp.Body.Bytes(), &got)
	want := models.DefaultSettings()
	want.Model = "whisper-small"
	want.ChunkSize = 10
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("settings mismatch (-want +got):\n%s", diff)
	}

	// values are forwarded to the service as given
	resp = doJSONRequest(t, router, http.MethodPut, "/api/settings", map[string]any{"chunk_size": 0, "temperature": 1.5}, adminHeader)
	assertStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp.Body.Bytes(), &got)
	want.ChunkSize = 0
	want.Temperature = 1.5
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("settings mismatch (-want +got):\n%s", diff)
	}

	resp = doJSONRequest(t, router, http.MethodPut, "/api/settings", map[string]any{"chunk_size": "ten"}, adminHeader)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestUploadRejectedBeforeStreaming(t *testing.T) {
	router, remoteSrv := newTestServer(t)
	authHeader := login(t, router, "alice", "alice-pass")

	resp := postMultipart(t, router, "/api/jobs/upload", nil, "file", "notes.txt", []byte("hello"), authHeader)
	assertStatus(t, resp, http.StatusBadRequest)
	if ct := resp.Header().Get("Content-Type"); strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("rejected upload must not open a stream")
	}
	if calls := remoteSrv.Calls(); len(calls) != 0 {
		t.Fatalf("expected no remote calls, got %v", calls)
	}
}

func TestUploadFailureStreamsError(t *testing.T) {
	router, remoteSrv := newTestServer(t)
	remoteSrv.SetStatuses("job-1", "failed")
	remoteSrv.SetFailure("job-1", "unsupported codec")
	authHeader := login(t, router, "alice", "alice-pass")

	resp := postMultipart(t, router, "/api/jobs/upload", nil, "file", "a.wav", []byte("RIFF"), authHeader)
	assertStatus(t, resp, http.StatusOK)
	evts := parseSSE(t, resp.Body.String())
	last := evts[len(evts)-1]
	if last.Name != "error" {
		t.Fatalf("expected error event, got %s", last.Name)
	}
	var payload struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	}
	decodeJSON(t, []byte(last.Data), &payload)
	if payload.Status != http.StatusBadGateway || !strings.Contains(payload.Message, "unsupported codec") {
		t.Fatalf("unexpected error payload: %+v", payload)
	}

	jobsResp := doJSONRequest(t, router, http.MethodGet, "/api/jobs", nil, authHeader)
	var jobsBody struct {
		Jobs []models.Job `json:"jobs"`
	}
	decodeJSON(t, jobsResp.Body.Bytes(), &jobsBody)
	if len(jobsBody.Jobs) != 1 || jobsBody.Jobs[0].Status != models.JobFailed {
		t.Fatalf("expected one failed job, got %+v", jobsBody.Jobs)
	}
}

func TestUploadStreamsOnlyItsOwnJob(t *testing.T) {
	router, remoteSrv, st := newTestServerWithStore(t)
	remoteSrv.SetStatuses("job-1", "queued", "processing", "processing", "processing", "ready")
	remoteSrv.SetTranscription("job-1", transcriptionPayload())
	authHeader := login(t, router, "alice", "alice-pass")

	other := st.UpsertJob(models.Job{ID: "other", Status: models.JobProcessing})
	stop := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case <-stop:
				return
			default:
			}
			st.RefreshJob(other)
			time.Sleep(time.Millisecond)
		}
	}()

	resp := postMultipart(t, router, "/api/jobs/upload", nil, "file", "a.wav", []byte("RIFF"), authHeader)
	close(stop)
	<-finished
	assertStatus(t, resp, http.StatusOK)

	var jobEvents int
	for _, ev := range parseSSE(t, resp.Body.String()) {
		if ev.Name != "job" {
			continue
		}
		jobEvents++
		var payload struct {
			Job models.Job `json:"job"`
		}
		decodeJSON(t, []byte(ev.Data), &payload)
		if payload.Job.ID != "job-1" {
			t.Fatalf("upload stream carried job %q", payload.Job.ID)
		}
	}
	if jobEvents == 0 {
		t.Fatalf("expected job events for job-1")
	}
}

func TestChatAndSummaryNeedTranscription(t *testing.T) {
	router, remoteSrv := newTestServer(t)
	authHeader := login(t, router, "alice", "alice-pass")

	resp := doJSONRequest(t, router, http.MethodPost, "/api/summary", map[string]string{"style": "long"}, authHeader)
	assertStatus(t, resp, http.StatusConflict)
	resp = doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{"question": "hi"}, authHeader)
	assertStatus(t, resp, http.StatusConflict)
	resp = doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{"question": "  "}, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)
	resp = doJSONRequest(t, router, http.MethodPost, "/api/summary", map[string]string{"style": "epic"}, authHeader)
	assertStatus(t, resp, http.StatusBadRequest)
	if calls := remoteSrv.Calls(); len(calls) != 0 {
		t.Fatalf("expected no remote calls, got %v", calls)
	}
}

func TestChatFailureKeepsPlaceholder(t *testing.T) {
	router, remoteSrv := newTestServer(t)
	remoteSrv.SetStatuses("job-1", "ready")
	remoteSrv.SetTranscription("job-1", transcriptionPayload())
	remoteSrv.SetQAResponse(gin.H{"status": "queued"})
	authHeader := login(t, router, "alice", "alice-pass")

	uploadResp := postMultipart(t, router, "/api/jobs/upload", nil, "file", "a.mp3", []byte("ID3"), authHeader)
	assertStatus(t, uploadResp, http.StatusOK)

	resp := postMultipart(t, router, "/api/chat", map[string]string{
		"question":           "Covered?",
		"include_transcript": "true",
	}, "requirement_file", "req.txt", []byte("must ship by May"), authHeader)
	assertStatus(t, resp, http.StatusBadGateway)
	var body struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Messages) != 2 || body.Messages[1].Content != orchestrator.FailedAnswer {
		t.Fatalf("expected question and placeholder, got %+v", body.Messages)
	}
	questions := remoteSrv.Questions()
	if len(questions) != 1 || !questions[0].Multipart || questions[0].FileContent != "must ship by May" {
		t.Fatalf("unexpected question requests: %+v", questions)
	}
}

func TestProjectsAndEvents(t *testing.T) {
	router, _ := newTestServer(t)
	authHeader := login(t, router, "bob", "bob-pass")

	createResp := doJSONRequest(t, router, http.MethodPost, "/api/projects", nil, authHeader)
	assertStatus(t, createResp, http.StatusCreated)
	var created models.Project
	decodeJSON(t, createResp.Body.Bytes(), &created)
	if created.Name != "Project 2" {
		t.Fatalf("expected generated name Project 2, got %q", created.Name)
	}

	listResp := doJSONRequest(t, router, http.MethodGet, "/api/projects", nil, authHeader)
	var list struct {
		Projects []models.Project `json:"projects"`
		Current  models.Project   `json:"current"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &list)
	if len(list.Projects) != 2 || list.Current.ID != created.ID {
		t.Fatalf("unexpected projects: %+v", list)
	}

	first := list.Projects[0].ID
	if first == created.ID {
		first = list.Projects[1].ID
	}
	switchResp := doJSONRequest(t, router, http.MethodPost, "/api/projects/"+first+"/switch", nil, authHeader)
	assertStatus(t, switchResp, http.StatusOK)
	missingResp := doJSONRequest(t, router, http.MethodPost, "/api/projects/nope/switch", nil, authHeader)
	assertStatus(t, missingResp, http.StatusNotFound)

	evResp := doJSONRequest(t, router, http.MethodGet, "/api/events?since=0", nil, authHeader)
	assertStatus(t, evResp, http.StatusOK)
	var evBody struct {
		Events []events.Event `json:"events"`
	}
	decodeJSON(t, evResp.Body.Bytes(), &evBody)
	if len(evBody.Events) != 2 || evBody.Events[0].Kind != store.ChangeProjects {
		t.Fatalf("expected two project events, got %+v", evBody.Events)
	}

	evResp = doJSONRequest(t, router, http.MethodGet, fmt.Sprintf("/api/events?since=%d", evBody.Events[1].Seq), nil, authHeader)
	decodeJSON(t, evResp.Body.Bytes(), &evBody)
	if len(evBody.Events) != 0 {
		t.Fatalf("expected no newer events, got %+v", evBody.Events)
	}
	badResp := doJSONRequest(t, router, http.MethodGet, "/api/events?since=x", nil, authHeader)
	assertStatus(t, badResp, http.StatusBadRequest)
}

func TestUnknownJobRoutes(t *testing.T) {
	router, _ := newTestServer(t)
	authHeader := login(t, router, "alice", "alice-pass")

	assertStatus(t, doJSONRequest(t, router, http.MethodDelete, "/api/jobs/nope", nil, authHeader), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/jobs/nope/view", nil, authHeader), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, "/api/jobs/nope/export", nil, authHeader), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, router, http.MethodPut, "/api/segments/s1", map[string]string{"text": "x"}, authHeader), http.StatusNotFound)
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var evts []sseEvent
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		var evt sseEvent
		for _, line := range strings.Split(chunk, "\n") {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		evts = append(evts, evt)
	}
	return evts
}

func transcriptionPayload() gin.H {
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	segments := make([]gin.H, 0, len(words))
	for i, w := range words {
		segments = append(segments, gin.H{"id": fmt.Sprintf("s%d", i+1), "start": i, "end": i + 1, "text": w})
	}
	return gin.H{"id": "t-1", "language": "en", "segments": segments}
}

func newTestServer(t *testing.T) (*gin.Engine, *remotetest.Server) {
	t.Helper()
	router, remoteSrv, _ := newTestServerWithStore(t)
	return router, remoteSrv
}

func newTestServerWithStore(t *testing.T) (*gin.Engine, *remotetest.Server, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	authSvc := auth.NewService(db, nil, time.Hour)
	if err := authSvc.SyncAccounts(context.Background(), []config.AccountConfig{
		{Username: "alice", Password: "alice-pass", Role: config.RoleAdmin},
		{Username: "bob", Password: "bob-pass", Role: config.RoleUser},
	}); err != nil {
		t.Fatalf("sync accounts: %v", err)
	}

	remoteSrv := remotetest.New()
	t.Cleanup(remoteSrv.Close)

	st := store.New(models.DefaultSettings())
	bus := events.NewBus(100)
	bus.Attach(st)
	svc := orchestrator.New(st, remote.NewClient(remote.Config{BaseURL: remoteSrv.URL}), orchestrator.Options{
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  5 * time.Second,
	})
	t.Cleanup(svc.Close)

	handler := NewHandler(svc, authSvc, bus)
	router := gin.New()
	handler.RegisterRoutes(router)
	return router, remoteSrv, st
}

func login(t *testing.T, router *gin.Engine, username, password string) map[string]string {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPost, "/api/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Token string `json:"token"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Token == "" {
		t.Fatalf("expected token from login")
	}
	return map[string]string{"Authorization": "Bearer " + body.Token}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postMultipart(t *testing.T, router *gin.Engine, path string, fields map[string]string, fileField, fileName string, data []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := writer.CreateFormFile(fileField, fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
