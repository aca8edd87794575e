package domain

import (
	"strings"
	"time"
)

// Fixed generation parameters for the Motion Lab video pipeline.
const (
	VideoModel     = "veo-3.1-fast-generate-preview"
	VideoMIMEType  = "video/mp4"
	Resolution     = "720p"
	AspectRatio    = "16:9"
	NumberOfVideos = 1
)

// GenerationRequest is the immutable input of a single run.
type GenerationRequest struct {
	Prompt string
	Locale string
	// RequestID correlates the run's events with the request that started it.
	RequestID string
}

// NewGenerationRequest trims the prompt and rejects empty ones.
func NewGenerationRequest(prompt, locale string) (GenerationRequest, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return GenerationRequest{}, NewJobError(KindInvalidRequest, "prompt is required", nil)
	}
	return GenerationRequest{Prompt: prompt, Locale: strings.TrimSpace(locale)}, nil
}

// JobHandle identifies one in-flight remote job.
type JobHandle string

// ArtifactRef points at the output of a finished remote job.
type ArtifactRef struct {
	URI      string
	MIMEType string
}

func (r ArtifactRef) IsZero() bool {
	return strings.TrimSpace(r.URI) == ""
}

// PollResult is the answer of a single status check.
type PollResult struct {
	Done     bool
	Artifact ArtifactRef
}

// StatusEvent is emitted to subscribers while a run progresses.
type StatusEvent struct {
	RunID     string    `json:"run_id"`
	RequestID string    `json:"request_id,omitempty"`
	Phase     JobState  `json:"phase"`
	Message   string    `json:"message"`
	Cosmetic  bool      `json:"cosmetic,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ArtifactResult is the successful outcome of a run.
type ArtifactResult struct {
	RunID      string
	Data       []byte
	MIMEType   string
	SourceURI  string
	StorageKey string
}

// Generation is the persisted record of a finished run.
type Generation struct {
	ID           string     `json:"id"`
	Prompt       string     `json:"prompt"`
	Locale       string     `json:"locale,omitempty"`
	State        JobState   `json:"state"`
	ErrorKind    ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StorageKey   string     `json:"storage_key,omitempty"`
	MIMEType     string     `json:"mime_type,omitempty"`
	Bytes        int64      `json:"bytes"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
