package service

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/khanakya/internal/db"
	"github.com/vbonduro/khanakya/internal/domain"
	"github.com/vbonduro/khanakya/internal/imaging"
	"github.com/vbonduro/khanakya/internal/input"
	"github.com/vbonduro/khanakya/internal/llm"
	"github.com/vbonduro/khanakya/internal/prompt"
	"github.com/vbonduro/khanakya/internal/store"
)

// stubModel is a scripted llm.Model that records every request it receives.
type stubModel struct {
	mu         sync.Mutex
	detection  string
	recipes    string
	detectErr  error
	generErr   error
	requests   []llm.Request
	apiKeys    []string
	detectCall int
	generCall  int
}

func (m *stubModel) Generate(_ context.Context, apiKey string, req llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.apiKeys = append(m.apiKeys, apiKey)
	if req.HasImage() {
		m.detectCall++
		return m.detection, m.detectErr
	}
	m.generCall++
	return m.recipes, m.generErr
}

// recordingObserver logs the order of stage notifications.
type recordingObserver struct {
	events    []string
	detection string
	recipes   string
}

func (o *recordingObserver) ImageReady(*domain.RunContext) {
	o.events = append(o.events, "image")
}

func (o *recordingObserver) Detected(_ *domain.RunContext, detection string) {
	o.events = append(o.events, "detected")
	o.detection = detection
}

func (o *recordingObserver) Generated(_ *domain.RunContext, recipes string) {
	o.events = append(o.events, "generated")
	o.recipes = recipes
}

func testRunContext(t *testing.T) *domain.RunContext {
	t.Helper()
	enc, err := imaging.Encode(image.NewGray(image.Rect(0, 0, 2, 2)))
	require.NoError(t, err)
	return &domain.RunContext{
		ID:         "run-test",
		Credential: "sk-test",
		Image:      &domain.Image{Source: domain.SourceUpload, Format: "png", Encoded: enc},
	}
}

func newTestService(model llm.Model, history RunRecorder) *RunService {
	return NewRunService(model, prompt.MustDefault(), history, slog.Default())
}

func TestRunServiceRunSuccess(t *testing.T) {
	model := &stubModel{detection: "  tomato, onion, rice\n", recipes: "1. Tomato Rice\n"}
	svc := newTestService(model, nil)
	obs := &recordingObserver{}

	result, err := svc.Run(context.Background(), testRunContext(t), obs)
	require.NoError(t, err)
	assert.Equal(t, "tomato, onion, rice", result.Detection)
	assert.Equal(t, "1. Tomato Rice\n", result.Recipes)
	assert.Equal(t, domain.SourceUpload, result.Source)
	assert.Equal(t, []string{"image", "detected", "generated"}, obs.events)

	require.Len(t, model.requests, 2)
	assert.True(t, model.requests[0].HasImage())
	assert.Equal(t, prompt.DefaultDetection, model.requests[0].Prompt)
	assert.False(t, model.requests[1].HasImage())
	assert.Equal(t, []string{"sk-test", "sk-test"}, model.apiKeys)
}

func TestRunServiceGenerationPromptContainsDetectionVerbatim(t *testing.T) {
	model := &stubModel{detection: "tomato, onion, rice", recipes: "ok"}
	svc := newTestService(model, nil)

	_, err := svc.Run(context.Background(), testRunContext(t), nil)
	require.NoError(t, err)
	require.Len(t, model.requests, 2)
	assert.Contains(t, model.requests[1].Prompt, "tomato, onion, rice")
}

func TestRunServiceDetectionTextIsNotParsed(t *testing.T) {
	raw := "Here you go: tomato; onion\n- rice"
	model := &stubModel{detection: raw, recipes: "ok"}
	svc := newTestService(model, nil)

	result, err := svc.Run(context.Background(), testRunContext(t), nil)
	require.NoError(t, err)
	assert.Equal(t, raw, result.Detection)
	assert.Contains(t, model.requests[1].Prompt, raw)
}

func TestRunServiceDetectionFailureSkipsGeneration(t *testing.T) {
	model := &stubModel{detectErr: errors.New("network unreachable")}
	svc := newTestService(model, nil)
	obs := &recordingObserver{}

	result, err := svc.Run(context.Background(), testRunContext(t), obs)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageDetection, stageErr.Stage)
	assert.Contains(t, stageErr.UserMessage(), "Ingredient detection failed")
	assert.Contains(t, stageErr.UserMessage(), "network unreachable")

	assert.Equal(t, 0, model.generCall)
	assert.Empty(t, result.Detection)
	assert.Empty(t, result.Recipes)
	assert.Equal(t, []string{"image"}, obs.events)
}

func TestRunServiceGenerationFailureKeepsDetection(t *testing.T) {
	model := &stubModel{detection: "paneer, spinach", generErr: errors.New("quota exceeded")}
	svc := newTestService(model, nil)
	obs := &recordingObserver{}

	result, err := svc.Run(context.Background(), testRunContext(t), obs)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageGeneration, stageErr.Stage)
	assert.Contains(t, stageErr.UserMessage(), "Recipe generation failed")

	// Detection was shown before the generation error surfaced.
	assert.Equal(t, []string{"image", "detected"}, obs.events)
	assert.Equal(t, "paneer, spinach", obs.detection)
	assert.Equal(t, "paneer, spinach", result.Detection)
	assert.Empty(t, result.Recipes)
	assert.Equal(t, 1, model.generCall)
}

func TestRunServiceMissingCredentialMakesNoCalls(t *testing.T) {
	model := &stubModel{detection: "x", recipes: "y"}
	svc := newTestService(model, nil)

	obs := &recordingObserver{}
	rc := testRunContext(t)
	rc.Credential = ""
	_, err := svc.Run(context.Background(), rc, obs)
	assert.ErrorIs(t, err, input.ErrMissingCredential)
	assert.Empty(t, model.requests)
	assert.Empty(t, obs.events)

	_, err = svc.Run(context.Background(), nil, obs)
	assert.ErrorIs(t, err, input.ErrMissingCredential)
	assert.Empty(t, model.requests)
	assert.Empty(t, obs.events)
}

func TestRunServiceMissingImageMakesNoCalls(t *testing.T) {
	model := &stubModel{detection: "x", recipes: "y"}
	svc := newTestService(model, nil)

	tests := []struct {
		name  string
		image *domain.Image
	}{
		{"no image", nil},
		{"not encoded", &domain.Image{Source: domain.SourceCamera}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			rc := testRunContext(t)
			rc.Image = tt.image

			result, err := svc.Run(context.Background(), rc, obs)
			assert.ErrorIs(t, err, input.ErrMissingImage)
			assert.Nil(t, result)
			assert.Empty(t, obs.events)
			assert.Empty(t, model.requests)
		})
	}
}

func TestRunServiceNoRetry(t *testing.T) {
	model := &stubModel{detectErr: errors.New("503")}
	svc := newTestService(model, nil)

	_, err := svc.Run(context.Background(), testRunContext(t), nil)
	require.Error(t, err)
	assert.Equal(t, 1, model.detectCall)
}

func TestRunServiceRecordsHistory(t *testing.T) {
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	runs := store.NewRunStore(d)
	model := &stubModel{detection: "okra", recipes: "Bhindi Masala"}
	svc := newTestService(model, runs)
	assert.True(t, svc.HistoryEnabled())

	_, err = svc.Run(context.Background(), testRunContext(t), nil)
	require.NoError(t, err)

	history, err := svc.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "run-test", history[0].RunID)
	assert.Equal(t, "okra", history[0].Detection)
	assert.Equal(t, "Bhindi Masala", history[0].Recipes)
	assert.Empty(t, history[0].ErrorStage)
}

func TestRunServiceRecordsFailedStage(t *testing.T) {
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	runs := store.NewRunStore(d)
	model := &stubModel{detection: "okra", generErr: errors.New("boom")}
	svc := newTestService(model, runs)

	_, err = svc.Run(context.Background(), testRunContext(t), nil)
	require.Error(t, err)

	history, err := runs.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "generation", history[0].ErrorStage)
	assert.Equal(t, "boom", history[0].ErrorText)
	assert.Equal(t, "okra", history[0].Detection)
}

func TestRunServiceHistoryDisabled(t *testing.T) {
	svc := newTestService(&stubModel{}, nil)
	assert.False(t, svc.HistoryEnabled())

	runs, err := svc.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Nil(t, runs)
}

// failingRecorder always fails so tests can check history errors stay internal.
type failingRecorder struct{}

func (failingRecorder) Create(context.Context, *domain.Run) (*domain.Run, error) {
	return nil, errors.New("disk full")
}

func (failingRecorder) List(context.Context, int) ([]*domain.Run, error) {
	return nil, errors.New("disk full")
}

func TestRunServiceHistoryFailureIsNotFatal(t *testing.T) {
	model := &stubModel{detection: "okra", recipes: "Bhindi"}
	svc := newTestService(model, failingRecorder{})

	result, err := svc.Run(context.Background(), testRunContext(t), nil)
	require.NoError(t, err)
	assert.Equal(t, "Bhindi", result.Recipes)
}

func TestStageErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := &StageError{Stage: StageDetection, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ingredient detection failed: cause", err.Error())
}
