// Package audio builds and validates the local audio payloads handed to the
// upload orchestrator.
package audio

import (
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"scribeflow/internal/errs"
	"scribeflow/internal/models"
)

// MaxUploadBytes is the largest payload accepted for upload.
const MaxUploadBytes = 200 << 20 // 200 MB

var allowedMimeTypes = map[string]struct{}{
	"audio/mpeg":  {},
	"audio/mp3":   {},
	"audio/wav":   {},
	"audio/x-wav": {},
	"audio/wave":  {},
	"audio/mp4":   {},
	"audio/x-m4a": {},
	"audio/ogg":   {},
}

var extMimeTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".m4a": "audio/mp4",
	".mp4": "audio/mp4",
	".ogg": "audio/ogg",
}

// Open builds an AudioFile from a file on disk. The payload is fingerprinted
// once; later reads reopen the path.
func Open(path string) (models.AudioFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.AudioFile{}, fmt.Errorf("stat audio file: %w", err)
	}
	if info.IsDir() {
		return models.AudioFile{}, errs.Rejected("%s is a directory", path)
	}
	name := filepath.Base(path)
	f, err := os.Open(path)
	if err != nil {
		return models.AudioFile{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()
	sum, err := Fingerprint(f)
	if err != nil {
		return models.AudioFile{}, err
	}
	file := models.NewAudioFile(uuid.NewString(), name, MimeTypeFor(name, ""), info.Size(), sum, func() (io.ReadCloser, error) {
		return os.Open(path)
	})
	file.Path = path
	return file, nil
}

// New builds an AudioFile over an arbitrary opener, e.g. a multipart upload.
// The fingerprint is computed from one pass over the payload.
func New(name, mimeType string, size int64, open func() (io.ReadCloser, error)) (models.AudioFile, error) {
	rc, err := open()
	if err != nil {
		return models.AudioFile{}, fmt.Errorf("open audio payload: %w", err)
	}
	sum, err := Fingerprint(rc)
	rc.Close()
	if err != nil {
		return models.AudioFile{}, err
	}
	return models.NewAudioFile(uuid.NewString(), filepath.Base(name), MimeTypeFor(name, mimeType), size, sum, open), nil
}

// Fingerprint returns the hex BLAKE3 digest of r.
func Fingerprint(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("fingerprint audio payload: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MimeTypeFor returns declared when it is a usable media type, otherwise the
// type implied by the file extension.
func MimeTypeFor(name, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := extMimeTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			return parsed
		}
	}
	return "application/octet-stream"
}

// Validate rejects oversized, empty or non-audio payloads.
func Validate(f models.AudioFile) error {
	if f.Size <= 0 {
		return errs.Rejected("%s is empty", f.Name)
	}
	if f.Size > MaxUploadBytes {
		return errs.Rejected("%s is %d bytes, limit is %d", f.Name, f.Size, MaxUploadBytes)
	}
	if _, ok := allowedMimeTypes[strings.ToLower(f.MimeType)]; !ok {
		return errs.Rejected("unsupported media type %q", f.MimeType)
	}
	return nil
}
