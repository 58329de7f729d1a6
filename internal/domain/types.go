package domain

import (
	"image"
	"time"

	"github.com/vbonduro/khanakya/internal/imaging"
)

// Source names where a run's image came from.
type Source string

const (
	SourceUpload Source = "upload"
	SourceCamera Source = "camera"
)

// Credential is the per-run API key. It is never stored or logged.
type Credential string

// String hides the key so it cannot leak through fmt or slog.
func (c Credential) String() string {
	if c == "" {
		return ""
	}
	return "[redacted]"
}

// Reveal returns the raw key for the model backend.
func (c Credential) Reveal() string {
	return string(c)
}

// Image is the single bitmap active for a run.
type Image struct {
	Source  Source
	Format  string
	Bitmap  image.Image
	Encoded *imaging.Encoded
}

// RunContext carries everything one run needs through both stages.
type RunContext struct {
	ID         string
	Credential Credential
	Image      *Image
}

// Run is a history row. It never holds the credential or image bytes.
type Run struct {
	ID          int64
	RunID       string
	Source      Source
	Detection   string
	Recipes     string
	ErrorStage  string
	ErrorText   string
	StartedAt   time.Time
	CompletedAt time.Time
}
