package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"scribeflow/internal/auth"
	"scribeflow/internal/config"
	"scribeflow/internal/errs"
	"scribeflow/internal/events"
	"scribeflow/internal/models"
	"scribeflow/internal/orchestrator"
)

// Handler wires HTTP routes to the orchestrator service.
type Handler struct {
	svc  *orchestrator.Service
	auth *auth.Service
	bus  *events.Bus
	hub  *events.Hub
}

// NewHandler constructs a Handler instance.
func NewHandler(svc *orchestrator.Service, authService *auth.Service, bus *events.Bus) *Handler {
	return &Handler{
		svc:  svc,
		auth: authService,
		bus:  bus,
		hub:  events.NewHub(bus),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/login", h.login)

	authed := api.Group("")
	authed.Use(h.auth.Middleware())
	authed.POST("/logout", h.logout)
	authed.GET("/state", h.getState)

	authed.GET("/jobs", h.listJobs)
	authed.POST("/jobs/upload", h.uploadAudio)
	authed.DELETE("/jobs/:id", h.deleteJob)
	authed.POST("/jobs/:id/view", h.viewJob)
	authed.GET("/jobs/:id/export", h.exportJob)

	authed.POST("/summary", h.generateSummary)
	authed.POST("/chat", h.sendChat)
	authed.POST("/segments/:id/toggle", h.toggleSegment)
	authed.PUT("/segments/:id", h.editSegment)

	authed.GET("/projects", h.listProjects)
	authed.POST("/projects", h.createProject)
	authed.POST("/projects/:id/switch", h.switchProject)

	authed.GET("/settings", h.getSettings)
	authed.PUT("/settings", auth.RequireRole(config.RoleAdmin), h.updateSettings)

	authed.GET("/events", h.listEvents)
	authed.GET("/events/ws", h.streamEvents)
}

// statusFor maps workflow errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrUploadRejected):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrPollTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrMissingJobID),
		errors.Is(err, errs.ErrJobFailed),
		errors.Is(err, errs.ErrNetworkFailure):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	acc, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	token, err := h.auth.IssueToken(c.Request.Context(), acc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       acc.ID,
		"username": acc.Username,
		"role":     acc.Role,
		"token":    token,
	})
}

func (h *Handler) logout(c *gin.Context) {
	if token, ok := auth.AuthTokenFromContext(c); ok {
		_ = h.auth.RevokeToken(c.Request.Context(), token)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Store().Snapshot())
}

func (h *Handler) generateSummary(c *gin.Context) {
	var req struct {
		Style string `json:"style"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	style := models.SummaryStyle(strings.ToLower(strings.TrimSpace(req.Style)))
	if style != "" && !style.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "style must be short, medium or long"})
		return
	}
	sum, err := h.svc.GenerateSummary(c.Request.Context(), style)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if sum == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no transcription loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum})
}

func (h *Handler) sendChat(c *gin.Context) {
	var req orchestrator.ChatRequest
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req.Question = c.PostForm("question")
		req.IncludeTranscript, _ = strconv.ParseBool(c.PostForm("include_transcript"))
		if fh, err := c.FormFile("requirement_file"); err == nil {
			attachment, err := readAttachment(fh)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			req.Attachment = attachment
		}
	} else {
		var body struct {
			Question          string `json:"question"`
			IncludeTranscript bool   `json:"include_transcript"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.Question = body.Question
		req.IncludeTranscript = body.IncludeTranscript
	}
	if strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}

	msg, err := h.svc.SendChatMessage(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":    err.Error(),
			"messages": h.svc.Store().Messages(),
		})
		return
	}
	if msg == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no transcription loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  msg,
		"messages": h.svc.Store().Messages(),
	})
}

func (h *Handler) toggleSegment(c *gin.Context) {
	selected := h.svc.ToggleSelection(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{
		"selected":  selected,
		"selection": h.svc.Store().Selection(),
	})
}

func (h *Handler) editSegment(c *gin.Context) {
	var req struct {
		Text *string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	if !h.svc.EditSegmentText(c.Param("id"), *req.Text) {
		c.JSON(http.StatusNotFound, gin.H{"error": "segment not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcription": h.svc.Store().Transcription()})
}

func (h *Handler) listProjects(c *gin.Context) {
	st := h.svc.Store()
	c.JSON(http.StatusOK, gin.H{
		"projects": st.Projects(),
		"current":  st.CurrentProject(),
	})
}

func (h *Handler) createProject(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	project := h.svc.CreateProject(strings.TrimSpace(req.Name))
	c.JSON(http.StatusCreated, project)
}

func (h *Handler) switchProject(c *gin.Context) {
	if !h.svc.SwitchProject(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return
	}
	c.JSON(http.StatusOK, h.svc.Store().CurrentProject())
}

func (h *Handler) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Store().Settings())
}

func (h *Handler) updateSettings(c *gin.Context) {
	settings := h.svc.Store().Settings()
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.svc.UpdateSettings(settings)
	c.JSON(http.StatusOK, settings)
}

func sinceParam(c *gin.Context) (int64, bool) {
	raw := c.Query("since")
	if raw == "" {
		return 0, true
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
		return 0, false
	}
	return since, true
}

func (h *Handler) listEvents(c *gin.Context) {
	since, ok := sinceParam(c)
	if !ok {
		return
	}
	list := h.bus.Since(since)
	if list == nil {
		list = make([]events.Event, 0)
	}
	c.JSON(http.StatusOK, gin.H{"events": list})
}

func (h *Handler) streamEvents(c *gin.Context) {
	since, ok := sinceParam(c)
	if !ok {
		return
	}
	h.hub.Serve(c.Writer, c.Request, since)
}

// sseWriter serialises server-sent events from several goroutines.
type sseWriter struct {
	mu      sync.Mutex
	c       *gin.Context
	flusher http.Flusher
}

func newSSEWriter(c *gin.Context) (*sseWriter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	return &sseWriter{c: c, flusher: flusher}, true
}

func (w *sseWriter) send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.c.Writer, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
