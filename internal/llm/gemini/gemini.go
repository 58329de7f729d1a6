package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/vbonduro/khanakya/internal/llm"
)

// Client talks to Google Gemini. The genai client is opened per call because
// the API key belongs to the run, not the process.
type Client struct {
	model   string
	timeout time.Duration
}

// NewClient returns a Gemini backend. A zero timeout leaves calls unbounded.
func NewClient(model string, timeout time.Duration) *Client {
	return &Client{model: model, timeout: timeout}
}

func buildParts(req llm.Request) []genai.Part {
	parts := make([]genai.Part, 0, 2)
	parts = append(parts, genai.Text(req.Prompt))
	if req.HasImage() {
		parts = append(parts, genai.ImageData("png", req.Image.PNG))
	}
	return parts
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

func (c *Client) Generate(ctx context.Context, apiKey string, req llm.Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	resp, err := client.GenerativeModel(c.model).GenerateContent(ctx, buildParts(req)...)
	if err != nil {
		return "", fmt.Errorf("failed to call gemini: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}
