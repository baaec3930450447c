package models

import (
	"errors"
	"io"
	"os"
)

// AudioFile is a local audio payload selected for upload. It is immutable once built.
type AudioFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mime_type"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Path        string `json:"-"`

	open func() (io.ReadCloser, error)
}

// NewAudioFile builds an AudioFile whose payload is produced by open.
func NewAudioFile(id, name, mimeType string, size int64, fingerprint string, open func() (io.ReadCloser, error)) AudioFile {
	return AudioFile{
		ID:          id,
		Name:        name,
		Size:        size,
		MimeType:    mimeType,
		Fingerprint: fingerprint,
		open:        open,
	}
}

// Open returns a fresh reader over the payload.
func (f AudioFile) Open() (io.ReadCloser, error) {
	if f.open != nil {
		return f.open()
	}
	if f.Path != "" {
		return os.Open(f.Path)
	}
	return nil, errors.New("audio file has no payload")
}
