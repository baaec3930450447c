package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"scribeflow/internal/audio"
	"scribeflow/internal/models"
	"scribeflow/internal/orchestrator"
	"scribeflow/internal/remote"
)

// maxAttachmentBytes bounds the requirement file sent along with a question.
const maxAttachmentBytes = 10 << 20

func (h *Handler) listJobs(c *gin.Context) {
	st := h.svc.Store()
	c.JSON(http.StatusOK, gin.H{
		"jobs":    st.Jobs(),
		"current": st.CurrentJob(),
	})
}

// uploadAudio streams upload progress, updates of the uploaded job and the
// final result as server-sent events.
func (h *Handler) uploadAudio(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := audio.New(fh.Filename, fh.Header.Get("Content-Type"), fh.Size, func() (io.ReadCloser, error) {
		return fh.Open()
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := audio.Validate(file); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	sse, ok := newSSEWriter(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	job, err := h.svc.UploadWithHooks(c.Request.Context(), file, orchestrator.UploadHooks{
		Progress: func(p int) {
			_ = sse.send("progress", gin.H{"percent": p})
		},
		Job: func(j models.Job) {
			_ = sse.send("job", gin.H{"job": j})
		},
	})
	if err != nil {
		_ = sse.send("error", gin.H{"message": err.Error(), "status": statusFor(err)})
		return
	}
	_ = sse.send("done", gin.H{
		"job":           job,
		"transcription": h.svc.Store().Transcription(),
	})
}

func (h *Handler) deleteJob(c *gin.Context) {
	if !h.svc.DeleteJob(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) viewJob(c *gin.Context) {
	ok, err := h.svc.ViewJob(c.Request.Context(), c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.svc.Store().Snapshot())
}

func (h *Handler) exportJob(c *gin.Context) {
	jobID := c.Param("id")
	if _, ok := h.svc.Store().Job(jobID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	format := c.DefaultQuery("format", "txt")
	if c.Query("open") == "true" {
		// hand the location to the configured deliverer as well
		url, err := h.svc.Export(jobID, format)
		if err != nil {
			status := http.StatusBadRequest
			if url != "" {
				status = http.StatusInternalServerError
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
		return
	}
	url, err := h.svc.ExportURL(jobID, format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func readAttachment(fh *multipart.FileHeader) (*remote.Attachment, error) {
	if fh.Size > maxAttachmentBytes {
		return nil, fmt.Errorf("requirement file is %d bytes, limit is %d", fh.Size, maxAttachmentBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open requirement file: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read requirement file: %w", err)
	}
	return &remote.Attachment{Name: fh.Filename, Data: data}, nil
}
