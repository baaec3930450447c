package models

// Settings are the recognized transcription options. They are opaque to the
// core and forwarded to the job service as-is.
type Settings struct {
	Model         string  `json:"model"`
	Language      string  `json:"language"`
	Temperature   float64 `json:"temperature"`
	ChunkSize     int     `json:"chunk_size"`
	SpeakerLabels bool    `json:"speaker_labels"`
}

// DefaultSettings mirrors the defaults the job service documents.
func DefaultSettings() Settings {
	return Settings{
		Model:         "whisper-large-v3",
		Language:      "auto",
		Temperature:   0.3,
		ChunkSize:     25,
		SpeakerLabels: true,
	}
}
