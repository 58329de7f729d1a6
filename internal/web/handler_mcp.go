package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"github.com/vbonduro/khanakya/internal/input"
	"github.com/vbonduro/khanakya/internal/service"
)

const suggestRecipesTool = "suggest_recipes"

// SuggestRecipesParams are the arguments of the suggest_recipes tool. Images
// are base64 text; a data: URI prefix is accepted and ignored.
type SuggestRecipesParams struct {
	APIKey       string `json:"api_key" description:"Hosted model API key for this run"`
	ImageBase64  string `json:"image_base64,omitempty" description:"Uploaded JPEG or PNG image, base64 encoded"`
	Filename     string `json:"filename,omitempty" description:"Original file name of the uploaded image"`
	CameraBase64 string `json:"camera_base64,omitempty" description:"Camera frame, used when image_base64 is empty"`
}

// SuggestRecipesResult is the JSON carried in the tool's text content.
type SuggestRecipesResult struct {
	RunID     string `json:"run_id"`
	Detection string `json:"detection"`
	Recipes   string `json:"recipes,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleMCP serves MCP tool calls over plain HTTP.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	var request protocol.CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	switch request.Name {
	case suggestRecipesTool:
	default:
		http.Error(w, fmt.Sprintf("Unknown tool: %s", request.Name), http.StatusNotFound)
		return
	}

	var params SuggestRecipesParams
	if err := extractParams(&request, &params); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	upload, err := decodeToolImage(params.ImageBase64, params.Filename)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	camera, err := decodeToolImage(params.CameraBase64, "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rc, err := input.Acquire(params.APIKey, upload, camera)
	if err != nil {
		_, msg := formErrorStatus(err)
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	out := SuggestRecipesResult{RunID: rc.ID}
	result, runErr := s.service.Run(context.WithoutCancel(r.Context()), rc, nil)
	if result != nil {
		out.Detection = result.Detection
		out.Recipes = result.Recipes
	}
	if runErr != nil {
		s.logger.Error("tool run failed", "run_id", rc.ID, "error", runErr)
		out.Error = runErrorMessage(runErr)
		var stageErr *service.StageError
		if errors.As(runErr, &stageErr) {
			out.Stage = string(stageErr.Stage)
		}
	}

	toolResult, err := createJSONResponse(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	toolResult.IsError = runErr != nil

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toolResult); err != nil {
		s.logger.Error("failed to encode tool response", "error", err)
	}
}

// extractParams converts the request's argument map into target.
func extractParams(req *protocol.CallToolRequest, target any) error {
	raw, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

func decodeToolImage(b64, filename string) (*input.Source, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, nil
	}
	if strings.HasPrefix(b64, "data:") {
		if i := strings.IndexByte(b64, ','); i >= 0 {
			b64 = b64[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid image encoding: %w", err)
	}
	return &input.Source{Filename: filename, Data: data}, nil
}

func createJSONResponse(data any) (*protocol.CallToolResult, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(raw),
			},
		},
	}, nil
}
