package orchestrator

import (
	"errors"
	"fmt"

	"github.com/pkg/browser"
)

// Export formats understood by the job service.
var exportFormats = map[string]bool{"txt": true, "srt": true, "vtt": true, "pdf": true}

// Deliverer hands a resolved download location to the user.
type Deliverer interface {
	Deliver(url string) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(url string) error

func (f DelivererFunc) Deliver(url string) error { return f(url) }

// BrowserDeliverer opens export URLs in the default browser.
var BrowserDeliverer Deliverer = DelivererFunc(browser.OpenURL)

// ExportURL resolves the download location of a job in format.
func (s *Service) ExportURL(jobID, format string) (string, error) {
	if jobID == "" {
		return "", errors.New("export: empty job id")
	}
	if !exportFormats[format] {
		return "", fmt.Errorf("export: unsupported format %q", format)
	}
	return s.remote.DownloadURL(jobID, format), nil
}

// Export resolves the download location and passes it to the configured
// deliverer.
func (s *Service) Export(jobID, format string) (string, error) {
	url, err := s.ExportURL(jobID, format)
	if err != nil {
		return "", err
	}
	if s.opts.Deliverer != nil {
		if err := s.opts.Deliverer.Deliver(url); err != nil {
			return url, fmt.Errorf("deliver export: %w", err)
		}
	}
	return url, nil
}
