package backend

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vbonduro/khanakya/internal/config"
	"github.com/vbonduro/khanakya/internal/llm"
	"github.com/vbonduro/khanakya/internal/llm/claude"
	"github.com/vbonduro/khanakya/internal/llm/gemini"
	"github.com/vbonduro/khanakya/internal/llm/ollama"
	"github.com/vbonduro/khanakya/internal/llm/openai"
)

// New returns the model backend named by cfg.ModelBackend. The returned model
// holds no credential; every call supplies the run's key.
func New(cfg *config.Config, logger *slog.Logger) (llm.Model, error) {
	httpClient := &http.Client{Timeout: cfg.ModelTimeout}

	switch cfg.ModelBackend {
	case "openai", "":
		logger.Info("using OpenAI backend", "model", cfg.OpenAIModel, "base_url", cfg.OpenAIBaseURL)
		return openai.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIModel, httpClient), nil
	case "claude":
		logger.Info("using Claude backend", "model", cfg.ClaudeModel)
		return claude.NewClient(cfg.ClaudeBaseURL, cfg.ClaudeModel, httpClient), nil
	case "ollama":
		logger.Info("using Ollama backend", "model", cfg.OllamaModel, "host", cfg.OllamaHost)
		return ollama.NewClient(cfg.OllamaHost, cfg.OllamaModel, httpClient), nil
	case "gemini":
		logger.Info("using Gemini backend", "model", cfg.GeminiModel)
		return gemini.NewClient(cfg.GeminiModel, cfg.ModelTimeout), nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.ModelBackend)
	}
}
