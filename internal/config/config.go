package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vbonduro/khanakya/internal/prompt"
)

const (
	defaultMaxUploadBytes = 20 << 20
	defaultRatePerMinute  = 30
)

// Config is process-level configuration. It never carries a model credential;
// keys are supplied per run by the user.
type Config struct {
	ListenAddr      string
	ModelBackend    string
	OpenAIBaseURL   string
	OpenAIModel     string
	ClaudeBaseURL   string
	ClaudeModel     string
	OllamaHost      string
	OllamaModel     string
	GeminiModel     string
	Cuisine         string
	DetectionPrompt string
	RecipeTemplate  string
	ModelTimeout    time.Duration
	MaxUploadBytes  int64
	RateLimitPerMin int
	HistoryDBPath   string
	LogLevel        string
	LogFile         string
	ConfigFile      string
}

// fileConfig is the YAML overlay read from CONFIG_FILE. Empty fields leave the
// defaults in place; environment variables win over both.
type fileConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	ModelBackend    string `yaml:"model_backend"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	OpenAIModel     string `yaml:"openai_model"`
	ClaudeBaseURL   string `yaml:"claude_base_url"`
	ClaudeModel     string `yaml:"claude_model"`
	OllamaHost      string `yaml:"ollama_host"`
	OllamaModel     string `yaml:"ollama_model"`
	GeminiModel     string `yaml:"gemini_model"`
	Cuisine         string `yaml:"cuisine"`
	DetectionPrompt string `yaml:"detection_prompt"`
	RecipeTemplate  string `yaml:"recipe_template"`
	ModelTimeout    string `yaml:"model_timeout"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`
	RateLimitPerMin int    `yaml:"rate_limit_per_minute"`
	HistoryDBPath   string `yaml:"history_db_path"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:      ":8080",
		ModelBackend:    "openai",
		OpenAIBaseURL:   "https://api.openai.com/v1",
		OpenAIModel:     "gpt-4o-mini",
		ClaudeBaseURL:   "https://api.anthropic.com/v1",
		ClaudeModel:     "claude-3-5-sonnet-latest",
		OllamaHost:      "http://localhost:11434",
		OllamaModel:     "llava",
		GeminiModel:     "gemini-1.5-flash",
		Cuisine:         prompt.DefaultCuisine,
		DetectionPrompt: prompt.DefaultDetection,
		RecipeTemplate:  prompt.DefaultRecipeTemplate,
		MaxUploadBytes:  defaultMaxUploadBytes,
		RateLimitPerMin: defaultRatePerMinute,
		LogLevel:        "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	cfg.ConfigFile = getEnv("CONFIG_FILE", "")
	if cfg.ConfigFile != "" {
		if err := cfg.overlayFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.ModelBackend = strings.ToLower(getEnv("MODEL_BACKEND", cfg.ModelBackend))
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OpenAIModel = getEnv("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.ClaudeBaseURL = getEnv("CLAUDE_BASE_URL", cfg.ClaudeBaseURL)
	cfg.ClaudeModel = getEnv("CLAUDE_MODEL", cfg.ClaudeModel)
	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OllamaModel = getEnv("OLLAMA_MODEL", cfg.OllamaModel)
	cfg.GeminiModel = getEnv("GEMINI_MODEL", cfg.GeminiModel)
	cfg.Cuisine = getEnv("CUISINE", cfg.Cuisine)
	cfg.HistoryDBPath = getEnv("HISTORY_DB_PATH", cfg.HistoryDBPath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	if v := getEnv("MODEL_TIMEOUT", ""); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MODEL_TIMEOUT: %w", err)
		}
		cfg.ModelTimeout = d
	}
	if v := getEnv("MAX_UPLOAD_BYTES", ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid MAX_UPLOAD_BYTES %q", v)
		}
		cfg.MaxUploadBytes = n
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE %q", v)
		}
		cfg.RateLimitPerMin = n
	}

	switch cfg.ModelBackend {
	case "openai", "claude", "ollama", "gemini":
	default:
		return nil, fmt.Errorf("unknown MODEL_BACKEND %q", cfg.ModelBackend)
	}

	return cfg, nil
}

// Prompts builds the prompt set from the configured texts.
func (c *Config) Prompts() (*prompt.Set, error) {
	return prompt.New(c.DetectionPrompt, c.Cuisine, c.RecipeTemplate)
}

// HistoryEnabled reports whether runs should be written to a history database.
func (c *Config) HistoryEnabled() bool {
	return c.HistoryDBPath != ""
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&c.ListenAddr, fc.ListenAddr)
	setString(&c.ModelBackend, fc.ModelBackend)
	setString(&c.OpenAIBaseURL, fc.OpenAIBaseURL)
	setString(&c.OpenAIModel, fc.OpenAIModel)
	setString(&c.ClaudeBaseURL, fc.ClaudeBaseURL)
	setString(&c.ClaudeModel, fc.ClaudeModel)
	setString(&c.OllamaHost, fc.OllamaHost)
	setString(&c.OllamaModel, fc.OllamaModel)
	setString(&c.GeminiModel, fc.GeminiModel)
	setString(&c.Cuisine, fc.Cuisine)
	setString(&c.DetectionPrompt, fc.DetectionPrompt)
	setString(&c.RecipeTemplate, fc.RecipeTemplate)
	setString(&c.HistoryDBPath, fc.HistoryDBPath)

	if fc.ModelTimeout != "" {
		d, err := parseTimeout(fc.ModelTimeout)
		if err != nil {
			return fmt.Errorf("invalid model_timeout in config file: %w", err)
		}
		c.ModelTimeout = d
	}
	if fc.MaxUploadBytes > 0 {
		c.MaxUploadBytes = fc.MaxUploadBytes
	}
	if fc.RateLimitPerMin > 0 {
		c.RateLimitPerMin = fc.RateLimitPerMin
	}
	return nil
}

// parseTimeout accepts a Go duration. "0" disables the timeout.
func parseTimeout(s string) (time.Duration, error) {
	if s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}
