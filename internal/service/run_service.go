package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vbonduro/khanakya/internal/domain"
	"github.com/vbonduro/khanakya/internal/input"
	"github.com/vbonduro/khanakya/internal/llm"
	"github.com/vbonduro/khanakya/internal/prompt"
)

// RunRecorder is the subset of store.RunStore that RunService requires.
type RunRecorder interface {
	Create(ctx context.Context, run *domain.Run) (*domain.Run, error)
	List(ctx context.Context, limit int) ([]*domain.Run, error)
}

// Observer is notified as each stage of a run finishes so front ends can show
// partial output. Detected is always called before generation starts.
type Observer interface {
	ImageReady(rc *domain.RunContext)
	Detected(rc *domain.RunContext, detection string)
	Generated(rc *domain.RunContext, recipes string)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) ImageReady(*domain.RunContext)        {}
func (NopObserver) Detected(*domain.RunContext, string)  {}
func (NopObserver) Generated(*domain.RunContext, string) {}

// Result is what a run produced. Detection is set even when generation failed.
type Result struct {
	RunID     string
	Source    domain.Source
	Detection string
	Recipes   string
}

type RunService struct {
	detector  *Detector
	generator *Generator
	prompts   *prompt.Set
	history   RunRecorder
	logger    *slog.Logger
}

// NewRunService wires both stages to the same model. history may be nil.
func NewRunService(model llm.Model, prompts *prompt.Set, history RunRecorder, logger *slog.Logger) *RunService {
	return &RunService{
		detector:  NewDetector(model, prompts, logger),
		generator: NewGenerator(model, prompts, logger),
		prompts:   prompts,
		history:   history,
		logger:    logger,
	}
}

// HistoryEnabled reports whether completed runs are being recorded.
func (s *RunService) HistoryEnabled() bool {
	return s.history != nil
}

// Cuisine is the regional cuisine recipes are requested for.
func (s *RunService) Cuisine() string {
	return s.prompts.Cuisine()
}

// Run executes detection then generation, halting at the first failure.
func (s *RunService) Run(ctx context.Context, rc *domain.RunContext, obs Observer) (*Result, error) {
	if rc == nil || rc.Credential == "" {
		return nil, input.ErrMissingCredential
	}
	if rc.Image == nil || rc.Image.Encoded == nil {
		return nil, input.ErrMissingImage
	}
	if obs == nil {
		obs = NopObserver{}
	}
	started := time.Now()
	result := &Result{RunID: rc.ID, Source: rc.Image.Source}

	obs.ImageReady(rc)

	detection, err := s.detector.Detect(ctx, rc)
	if err != nil {
		s.record(ctx, result, started, err)
		return result, err
	}
	result.Detection = detection
	obs.Detected(rc, detection)

	recipes, err := s.generator.Generate(ctx, rc, detection)
	if err != nil {
		s.record(ctx, result, started, err)
		return result, err
	}
	result.Recipes = recipes
	obs.Generated(rc, recipes)

	s.record(ctx, result, started, nil)
	return result, nil
}

// History lists recorded runs, newest first.
func (s *RunService) History(ctx context.Context, limit int) ([]*domain.Run, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.List(ctx, limit)
}

// record appends the run to history. Failures are logged and never surface to
// the user; only runs that reached a model call are recorded.
func (s *RunService) record(ctx context.Context, result *Result, started time.Time, runErr error) {
	if s.history == nil {
		return
	}

	run := &domain.Run{
		RunID:       result.RunID,
		Source:      result.Source,
		Detection:   result.Detection,
		Recipes:     result.Recipes,
		StartedAt:   started.UTC(),
		CompletedAt: time.Now().UTC(),
	}
	var stageErr *StageError
	switch {
	case errors.As(runErr, &stageErr):
		run.ErrorStage = string(stageErr.Stage)
		run.ErrorText = stageErr.Err.Error()
	case runErr != nil:
		return
	}

	if _, err := s.history.Create(ctx, run); err != nil {
		s.logger.Error("failed to record run", "run_id", result.RunID, "error", err)
	}
}
