package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vbonduro/khanakya/internal/llm"
)

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type Client struct {
	host   string
	model  string
	client *http.Client
}

func NewClient(host, model string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: httpClient,
	}
}

// Generate calls /api/generate. Ollama itself ignores the API key; it is sent
// as a bearer token so authenticating proxies in front of Ollama work.
func (c *Client) Generate(ctx context.Context, apiKey string, req llm.Request) (string, error) {
	body := generateRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		Stream: false,
	}
	if req.HasImage() {
		body.Images = []string{req.Image.Base64}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, llm.Truncate(errBody, 512))
	}

	var respBody struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if respBody.Response == "" {
		return "", llm.ErrEmptyResponse
	}

	return respBody.Response, nil
}
