package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vbonduro/khanakya/internal/domain"
	"github.com/vbonduro/khanakya/internal/input"
	"github.com/vbonduro/khanakya/internal/llm"
	"github.com/vbonduro/khanakya/internal/prompt"
)

type Stage string

const (
	StageDetection  Stage = "detection"
	StageGeneration Stage = "generation"
)

// StageError reports a failed model call. It is terminal for the run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.label(), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to the user, including the underlying cause.
func (e *StageError) UserMessage() string {
	return fmt.Sprintf("%s failed: %v", capitalize(e.label()), e.Err)
}

func (e *StageError) label() string {
	switch e.Stage {
	case StageDetection:
		return "ingredient detection"
	case StageGeneration:
		return "recipe generation"
	default:
		return string(e.Stage)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Detector turns an image into the model's raw ingredient text.
type Detector struct {
	model   llm.Model
	prompts *prompt.Set
	logger  *slog.Logger
}

func NewDetector(model llm.Model, prompts *prompt.Set, logger *slog.Logger) *Detector {
	return &Detector{model: model, prompts: prompts, logger: logger}
}

// Detect sends the detection instruction and the encoded image. The answer is
// trimmed but otherwise returned exactly as the model produced it.
func (d *Detector) Detect(ctx context.Context, rc *domain.RunContext) (string, error) {
	if rc == nil || rc.Credential == "" {
		return "", input.ErrMissingCredential
	}
	if rc.Image == nil || rc.Image.Encoded == nil {
		return "", input.ErrMissingImage
	}

	d.logger.Info("ingredient detection started", "run_id", rc.ID, "source", rc.Image.Source, "png_bytes", len(rc.Image.Encoded.PNG))
	text, err := d.model.Generate(ctx, rc.Credential.Reveal(), llm.Request{
		Prompt: d.prompts.Detection(),
		Image:  rc.Image.Encoded,
	})
	if err != nil {
		return "", &StageError{Stage: StageDetection, Err: err}
	}
	text = strings.TrimSpace(text)
	d.logger.Info("ingredient detection complete", "run_id", rc.ID, "chars", len(text))
	return text, nil
}

// Generator turns detection text into the model's raw recipe text.
type Generator struct {
	model   llm.Model
	prompts *prompt.Set
	logger  *slog.Logger
}

func NewGenerator(model llm.Model, prompts *prompt.Set, logger *slog.Logger) *Generator {
	return &Generator{model: model, prompts: prompts, logger: logger}
}

// Generate renders the recipe prompt around detection and sends it text-only.
func (g *Generator) Generate(ctx context.Context, rc *domain.RunContext, detection string) (string, error) {
	if rc == nil || rc.Credential == "" {
		return "", input.ErrMissingCredential
	}

	p, err := g.prompts.Recipe(detection)
	if err != nil {
		return "", &StageError{Stage: StageGeneration, Err: err}
	}

	g.logger.Info("recipe generation started", "run_id", rc.ID, "cuisine", g.prompts.Cuisine())
	text, err := g.model.Generate(ctx, rc.Credential.Reveal(), llm.Request{Prompt: p})
	if err != nil {
		return "", &StageError{Stage: StageGeneration, Err: err}
	}
	g.logger.Info("recipe generation complete", "run_id", rc.ID, "chars", len(text))
	return text, nil
}
