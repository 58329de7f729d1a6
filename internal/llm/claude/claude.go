package claude

import (
	"context"
	"fmt"
	"net/http"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/khanakya/internal/llm"
)

// maxTokens bounds both stages; three recipes with steps fit well under it.
const maxTokens = 2048

type Client struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Claude backend. An empty baseURL uses the library default.
func NewClient(baseURL, model string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		model:      model,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// buildMessages constructs the Messages API payload. The image block, when
// present, precedes the instruction text.
func buildMessages(req llm.Request) []anthropic.Message {
	content := make([]anthropic.MessageContent, 0, 2)
	if req.HasImage() {
		content = append(content, anthropic.NewImageMessageContent(anthropic.MessageContentSource{
			Type:      "base64",
			MediaType: req.Image.MIMEType(),
			Data:      req.Image.Base64,
		}))
	}
	content = append(content, anthropic.NewTextMessageContent(req.Prompt))
	return []anthropic.Message{{Role: anthropic.RoleUser, Content: content}}
}

func (c *Client) newAPIClient(apiKey string) *anthropic.Client {
	opts := []anthropic.ClientOption{anthropic.WithHTTPClient(c.httpClient)}
	if c.baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(c.baseURL))
	}
	return anthropic.NewClient(apiKey, opts...)
}

func (c *Client) Generate(ctx context.Context, apiKey string, req llm.Request) (string, error) {
	resp, err := c.newAPIClient(apiKey).CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		Messages:  buildMessages(req),
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to call claude: %w", err)
	}

	text := resp.GetFirstContentText()
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}
