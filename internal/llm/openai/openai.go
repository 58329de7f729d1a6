package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vbonduro/khanakya/internal/llm"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// request types mirror the Chat Completions API structure.
type request struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

// message.Content is either a plain string (text-only) or a []part.
type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type Client struct {
	model   string
	client  *http.Client
	baseURL string
}

func NewClient(baseURL, model string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		model:   model,
		client:  httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// buildMessages constructs a single user message. Multimodal requests carry
// the instruction text followed by the PNG data URI.
func buildMessages(req llm.Request) []message {
	if !req.HasImage() {
		return []message{{Role: "user", Content: req.Prompt}}
	}
	return []message{{
		Role: "user",
		Content: []part{
			{Type: "text", Text: req.Prompt},
			{Type: "image_url", ImageURL: &imageURL{URL: req.Image.DataURI()}},
		},
	}}
}

func (c *Client) Generate(ctx context.Context, apiKey string, req llm.Request) (string, error) {
	payload, err := json.Marshal(request{
		Model:    c.model,
		Messages: buildMessages(req),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call openai: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close openai response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		var apiErr errorResponse
		if json.Unmarshal(errBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("openai returned status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("openai returned status %d: %s", resp.StatusCode, llm.Truncate(errBody, 512))
	}

	var respBody response
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(respBody.Choices) == 0 || respBody.Choices[0].Message.Content == "" {
		return "", llm.ErrEmptyResponse
	}
	return respBody.Choices[0].Message.Content, nil
}
