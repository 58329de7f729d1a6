package llm

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/vbonduro/khanakya/internal/imaging"
)

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("model returned no text")

// Model is a hosted multimodal language model. Backends hold no credential;
// the run's API key is passed on every call.
type Model interface {
	Generate(ctx context.Context, apiKey string, req Request) (string, error)
}

// Request is a single user message. A nil Image makes it text-only.
type Request struct {
	Prompt string
	Image  *imaging.Encoded
}

// HasImage reports whether the request is multimodal.
func (r Request) HasImage() bool {
	return r.Image != nil
}

// Truncate shortens error bodies echoed from upstream services.
func Truncate(body []byte, max int) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
