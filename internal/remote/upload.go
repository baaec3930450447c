package remote

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"

	"scribeflow/internal/errs"
	"scribeflow/internal/models"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// ProgressFunc receives upload progress as a percentage in [0, 100].
type ProgressFunc func(percent int)

// progressReader reports the share of total bytes read so far. Reported values
// only ever increase and never exceed 100.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	last  int
	fn    ProgressFunc
	mu    sync.Mutex
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.advance(int64(n))
	}
	return n, err
}

func (p *progressReader) advance(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.read += n
	if p.total <= 0 || p.fn == nil {
		return
	}
	pct := int(p.read * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	if pct > p.last {
		p.last = pct
		p.fn(pct)
	}
}

// Upload streams the audio file and the transcription settings to the service
// and returns the created transcription job.
func (c *Client) Upload(ctx context.Context, file models.AudioFile, settings models.Settings, onProgress ProgressFunc) (*Creation, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer src.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	// Write multipart in a goroutine so the pipe feeds the request body.
	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(file.Name)))
		header.Set("Content-Type", file.MimeType)
		part, err := writer.CreatePart(header)
		if err != nil {
			errCh <- fmt.Errorf("create form file: %w", err)
			pw.CloseWithError(err)
			return
		}
		body := &progressReader{r: src, total: file.Size, fn: onProgress}
		if _, err := io.Copy(part, body); err != nil {
			errCh <- fmt.Errorf("copy audio data: %w", err)
			pw.CloseWithError(err)
			return
		}
		_ = writer.WriteField("model", settings.Model)
		_ = writer.WriteField("language", settings.Language)
		_ = writer.WriteField("temperature", strconv.FormatFloat(settings.Temperature, 'f', -1, 64))
		_ = writer.WriteField("chunk_size", strconv.Itoa(settings.ChunkSize))
		_ = writer.WriteField("speaker_labels", strconv.FormatBool(settings.SpeakerLabels))

		errCh <- writer.Close()
	}()

	req, err := c.newRequest(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/audio/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := c.do("upload audio", req)
	if err != nil {
		return nil, err
	}
	if writeErr := <-errCh; writeErr != nil {
		return nil, &errs.RequestError{Op: "upload audio", Err: fmt.Errorf("multipart write: %w", writeErr)}
	}
	if onProgress != nil {
		onProgress(100)
	}
	return decodeCreation(body, "job_id")
}
