package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/trove/internal/config"
	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db     *sql.DB
	cfg    *config.Config
	runner ops.Runner
}

// NewHandlers creates a new Handlers instance. runner may be nil.
func NewHandlers(db *sql.DB, cfg *config.Config, runner ops.Runner) *Handlers {
	return &Handlers{db: db, cfg: cfg, runner: runner}
}

// Request types for each tool

// CaptureRequest represents the arguments for item_capture.
type CaptureRequest struct {
	URL     string `json:"url"`
	Process bool   `json:"process,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// FetchRequest represents the arguments for item_fetch.
type FetchRequest struct {
	ID                string `json:"id"`
	IncludeTranscript *bool  `json:"include_transcript,omitempty"`
	UserID            string `json:"user_id,omitempty"`
}

// ListRequest represents the arguments for item_list.
type ListRequest struct {
	Status string `json:"status,omitempty"`
	Domain string `json:"domain,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// ProcessRequest represents the arguments for item_process.
type ProcessRequest struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`
}

// ContainerListRequest represents the arguments for container_list.
type ContainerListRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// CaptureResult is the item_capture response. Process is set when the
// workflow ran inline.
type CaptureResult struct {
	*ops.CaptureOutput
	Process *ops.ProcessOutput `json:"process,omitempty"`
}

// userID picks the request's user, falling back to the configured one.
func (h *Handlers) userID(requested string) string {
	if u := strings.TrimSpace(requested); u != "" {
		return u
	}
	return h.cfg.UserID
}

// HandleCapture handles the item_capture tool call.
func (h *Handlers) HandleCapture(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaptureRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Process && h.runner == nil {
		return errorResult(errors.NewInvalidRequest("processing is not configured")), nil
	}

	userID := h.userID(input.UserID)
	captured, err := ops.Capture(ctx, h.db, ops.CaptureInput{UserID: userID, URL: input.URL})
	if err != nil {
		return errorResult(err), nil
	}

	result := CaptureResult{CaptureOutput: captured}
	if input.Process {
		processed, err := ops.Process(ctx, h.db, h.runner, ops.ProcessInput{UserID: userID, ID: captured.ID})
		if err != nil {
			return errorResult(err), nil
		}
		result.Process = processed
		if it, err := db.GetItem(ctx, h.db, userID, captured.ID); err == nil {
			result.Status = it.Status
		}
	}

	return successResult(result)
}

// HandleFetch handles the item_fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Fetch(ctx, h.db, ops.FetchInput{
		UserID:            h.userID(input.UserID),
		ID:                input.ID,
		IncludeTranscript: input.IncludeTranscript,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleList handles the item_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(ctx, h.db, ops.ListInput{
		UserID: h.userID(input.UserID),
		Status: input.Status,
		Domain: input.Domain,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleProcess handles the item_process tool call.
func (h *Handlers) HandleProcess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProcessRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Process(ctx, h.db, h.runner, ops.ProcessInput{
		UserID: h.userID(input.UserID),
		ID:     input.ID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleContainerList handles the container_list tool call.
func (h *Handlers) HandleContainerList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ContainerListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListContainers(ctx, h.db, ops.ListContainersInput{UserID: h.userID(input.UserID)})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var troveErr *errors.TroveError
	if stderrors.As(err, &troveErr) {
		message := troveErr.Message
		// Keep context added by wrapping, e.g. "process: NOT_FOUND: ..."
		if prefix := strings.TrimSuffix(err.Error(), troveErr.Error()); prefix != err.Error() && prefix != "" {
			message = prefix + message
		}
		errorObj := map[string]any{
			"code":    troveErr.Code,
			"message": message,
			"status":  troveErr.Status,
		}
		if troveErr.Code != errors.ErrInternal && troveErr.Details != nil {
			errorObj["details"] = troveErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
