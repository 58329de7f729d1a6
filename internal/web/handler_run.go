package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"

	"github.com/vbonduro/khanakya/internal/domain"
	"github.com/vbonduro/khanakya/internal/input"
	"github.com/vbonduro/khanakya/internal/service"
)

// maxFormMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const maxFormMemory = 8 << 20

var errUploadTooLarge = errors.New("upload too large")

// runPage is the data shared by the index and result pages.
type runPage struct {
	Title          string
	ActiveNav      string
	HistoryEnabled bool
	Cuisine        string
	Warning        string
	ImageURI       template.URL
	Detection      string
	Recipes        string
	Error          string
}

func (s *Server) newRunPage() *runPage {
	return &runPage{
		ActiveNav:      "run",
		HistoryEnabled: s.service.HistoryEnabled(),
		Cuisine:        s.service.Cuisine(),
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.renderPage(w, http.StatusOK, s.newRunPage(),
		"base.html", "pages/index.html", "partials/run_form.html", "partials/run_output.html",
	); err != nil {
		s.logger.Error("render page failed", "error", err)
	}
}

// readRunForm parses the multipart run form and acquires the run inputs.
func (s *Server) readRunForm(w http.ResponseWriter, r *http.Request) (*domain.RunContext, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errUploadTooLarge
		}
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}

	upload, err := formSource(r, "upload", s.logger)
	if err != nil {
		return nil, err
	}
	camera, err := formSource(r, "camera", s.logger)
	if err != nil {
		return nil, err
	}

	return input.Acquire(r.FormValue("api_key"), upload, camera)
}

// formSource reads one optional file field. A missing field yields nil.
func formSource(r *http.Request, field string, logger *slog.Logger) (*input.Source, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", field, err)
	}
	defer closeWithLog(file, field+" file", logger)

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", field, err)
	}
	return &input.Source{Filename: header.Filename, Data: data}, nil
}

// formErrorStatus maps an acquisition error to its HTTP status and message.
func formErrorStatus(err error) (int, string) {
	if errors.Is(err, errUploadTooLarge) {
		return http.StatusRequestEntityTooLarge, "The image is too large."
	}
	if msg := input.UserMessage(err); msg != "" {
		return http.StatusBadRequest, msg
	}
	return http.StatusBadRequest, "The form could not be read."
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	page := s.newRunPage()
	page.Title = "Recipes"

	rc, err := s.readRunForm(w, r)
	if err != nil {
		status, msg := formErrorStatus(err)
		page.Warning = msg
		if err := s.renderPage(w, status, page,
			"base.html", "pages/index.html", "partials/run_form.html", "partials/run_output.html",
		); err != nil {
			s.logger.Error("render page failed", "error", err)
		}
		return
	}
	page.ImageURI = template.URL(rc.Image.Encoded.DataURI())

	// Use a detached context so that a model call, once issued, completes or
	// fails on its own even if the client navigates away.
	result, err := s.service.Run(context.WithoutCancel(r.Context()), rc, nil)
	status := http.StatusOK
	if result != nil {
		page.Detection = result.Detection
		page.Recipes = result.Recipes
	}
	if err != nil {
		status = http.StatusBadGateway
		page.Error = runErrorMessage(err)
		s.logger.Error("run failed", "run_id", rc.ID, "error", err)
	}

	if err := s.renderPage(w, status, page,
		"base.html", "pages/result.html", "partials/run_form.html", "partials/run_output.html",
	); err != nil {
		s.logger.Error("render page failed", "error", err)
	}
}

// runErrorMessage is the user-facing text for a failed run.
func runErrorMessage(err error) string {
	var stageErr *service.StageError
	if errors.As(err, &stageErr) {
		return stageErr.UserMessage()
	}
	if msg := input.UserMessage(err); msg != "" {
		return msg
	}
	return "Something went wrong: " + err.Error()
}

// sseObserver forwards stage results to the client as server-sent events.
type sseObserver struct {
	w      io.Writer
	flush  func()
	logger *slog.Logger
}

func newSSEObserver(w http.ResponseWriter, logger *slog.Logger) *sseObserver {
	o := &sseObserver{w: w, flush: func() {}, logger: logger}
	if f, ok := w.(http.Flusher); ok {
		o.flush = f.Flush
	}
	return o
}

func (o *sseObserver) send(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.Error("encode sse event failed", "event", event, "error", err)
		return
	}
	if _, err := fmt.Fprintf(o.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		o.logger.Warn("write sse event failed", "event", event, "error", err)
		return
	}
	o.flush()
}

func (o *sseObserver) ImageReady(rc *domain.RunContext) {
	o.send("image", map[string]string{"run_id": rc.ID, "data_uri": rc.Image.Encoded.DataURI()})
}

func (o *sseObserver) Detected(_ *domain.RunContext, detection string) {
	o.send("detected", map[string]string{"text": detection})
}

func (o *sseObserver) Generated(_ *domain.RunContext, recipes string) {
	o.send("recipes", map[string]string{"text": recipes})
}

// handleStreamRun accepts the same form as handleRun but responds with an SSE
// stream: image, detected, recipes (or error), then done. Detected ingredients
// reach the client while recipe generation is still running.
func (s *Server) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	rc, err := s.readRunForm(w, r)
	if err != nil {
		status, msg := formErrorStatus(err)
		http.Error(w, msg, status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	obs := newSSEObserver(w, s.logger)
	if _, err := s.service.Run(context.WithoutCancel(r.Context()), rc, obs); err != nil {
		s.logger.Error("stream run failed", "run_id", rc.ID, "error", err)
		payload := map[string]string{"message": runErrorMessage(err)}
		var stageErr *service.StageError
		if errors.As(err, &stageErr) {
			payload["stage"] = string(stageErr.Stage)
		}
		obs.send("error", payload)
	}
	obs.send("done", map[string]string{"run_id": rc.ID})
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
