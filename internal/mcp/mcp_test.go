package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/trove/internal/config"
	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/workflow"
)

// testSetup creates a temporary database and config for testing.
func testSetup(t *testing.T) (*sql.DB, *config.Config, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.UserID = "u1"

	cleanup := func() {
		database.Close()
	}

	return database, cfg, cleanup
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// processingRunner marks every item it sees processed without classification.
type processingRunner struct {
	db     *sql.DB
	events []workflow.Event
}

func (r *processingRunner) Run(ctx context.Context, ev workflow.Event) (*workflow.Outcome, error) {
	r.events = append(r.events, ev)
	if err := db.SaveResults(ctx, r.db, ev.UserID, ev.ItemID, db.Results{}); err != nil {
		return nil, err
	}
	return &workflow.Outcome{Status: workflow.OutcomeProcessed, Attempts: 1}, nil
}

func capture(t *testing.T, h *Handlers, url string) string {
	t.Helper()
	result, err := h.HandleCapture(context.Background(), makeRequest(map[string]any{"url": url}))
	if err != nil {
		t.Fatalf("HandleCapture error: %v", err)
	}
	return parseOutput(t, result)["id"].(string)
}

func TestHandleCapture(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()
	h := NewHandlers(database, cfg, nil)
	ctx := context.Background()

	t.Run("new url", func(t *testing.T) {
		result, err := h.HandleCapture(ctx, makeRequest(map[string]any{
			"url": "https://github.com/ggml-org/llama.cpp",
		}))
		if err != nil {
			t.Fatalf("HandleCapture error: %v", err)
		}
		output := parseOutput(t, result)
		if output["status"] != "pending" {
			t.Errorf("status = %v, want pending", output["status"])
		}
		if output["source_kind"] != string(item.SourceCodeRepo) {
			t.Errorf("source_kind = %v, want %s", output["source_kind"], item.SourceCodeRepo)
		}
		if output["duplicate"] != false {
			t.Errorf("duplicate = %v, want false", output["duplicate"])
		}
	})

	t.Run("duplicate url", func(t *testing.T) {
		result, _ := h.HandleCapture(ctx, makeRequest(map[string]any{
			"url": "https://github.com/ggml-org/llama.cpp",
		}))
		output := parseOutput(t, result)
		if output["duplicate"] != true {
			t.Errorf("duplicate = %v, want true", output["duplicate"])
		}
	})

	t.Run("invalid url", func(t *testing.T) {
		result, _ := h.HandleCapture(ctx, makeRequest(map[string]any{"url": "ftp://example.com/file"}))
		if !result.IsError {
			t.Fatal("expected error for ftp url")
		}
		assertErrorCode(t, result, "INVALID_REQUEST")
	})

	t.Run("wrong argument type", func(t *testing.T) {
		result, _ := h.HandleCapture(ctx, makeRequest(map[string]any{"url": 42}))
		assertErrorCode(t, result, "INVALID_REQUEST")
	})

	t.Run("process without runner", func(t *testing.T) {
		result, _ := h.HandleCapture(ctx, makeRequest(map[string]any{
			"url":     "https://example.com/unprocessed",
			"process": true,
		}))
		assertErrorCode(t, result, "INVALID_REQUEST")
	})
}

func TestHandleCapture_ProcessInline(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()
	runner := &processingRunner{db: database}
	h := NewHandlers(database, cfg, runner)

	result, err := h.HandleCapture(context.Background(), makeRequest(map[string]any{
		"url":     "https://example.com/article",
		"process": true,
	}))
	if err != nil {
		t.Fatalf("HandleCapture error: %v", err)
	}
	output := parseOutput(t, result)
	if output["status"] != "processed" {
		t.Errorf("status = %v, want processed", output["status"])
	}
	processed, ok := output["process"].(map[string]any)
	if !ok {
		t.Fatalf("process = %v, want object", output["process"])
	}
	if processed["status"] != workflow.OutcomeProcessed {
		t.Errorf("process.status = %v, want %s", processed["status"], workflow.OutcomeProcessed)
	}
	if len(runner.events) != 1 || runner.events[0].UserID != "u1" {
		t.Errorf("runner events = %+v, want one event for u1", runner.events)
	}
}

func TestHandleFetch(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()
	h := NewHandlers(database, cfg, nil)
	ctx := context.Background()
	id := capture(t, h, "https://example.com/a")

	t.Run("by id", func(t *testing.T) {
		result, err := h.HandleFetch(ctx, makeRequest(map[string]any{"id": id}))
		if err != nil {
			t.Fatalf("HandleFetch error: %v", err)
		}
		output := parseOutput(t, result)
		if output["id"] != id {
			t.Errorf("id = %v, want %s", output["id"], id)
		}
		if output["source_url"] != "https://example.com/a" {
			t.Errorf("source_url = %v", output["source_url"])
		}
		if _, ok := output["containers"].([]any); !ok {
			t.Errorf("containers = %v, want array", output["containers"])
		}
	})

	t.Run("other user", func(t *testing.T) {
		result, _ := h.HandleFetch(ctx, makeRequest(map[string]any{"id": id, "user_id": "u2"}))
		assertErrorCode(t, result, "NOT_FOUND")
	})

	t.Run("missing id", func(t *testing.T) {
		result, _ := h.HandleFetch(ctx, makeRequest(map[string]any{}))
		assertErrorCode(t, result, "INVALID_REQUEST")
	})

	t.Run("unknown id", func(t *testing.T) {
		result, _ := h.HandleFetch(ctx, makeRequest(map[string]any{"id": "01NOPE"}))
		assertErrorCode(t, result, "NOT_FOUND")
	})
}

func TestHandleList(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()
	h := NewHandlers(database, cfg, nil)
	ctx := context.Background()

	for _, u := range []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"} {
		capture(t, h, u)
	}

	t.Run("paginated", func(t *testing.T) {
		result, err := h.HandleList(ctx, makeRequest(map[string]any{"limit": 2}))
		if err != nil {
			t.Fatalf("HandleList error: %v", err)
		}
		output := parseOutput(t, result)
		items := output["items"].([]any)
		if len(items) != 2 {
			t.Errorf("items count = %d, want 2", len(items))
		}
		pagination := output["pagination"].(map[string]any)
		if pagination["has_more"] != true {
			t.Errorf("has_more = %v, want true", pagination["has_more"])
		}
		if pagination["total"] != float64(3) {
			t.Errorf("total = %v, want 3", pagination["total"])
		}
	})

	t.Run("status filter", func(t *testing.T) {
		result, _ := h.HandleList(ctx, makeRequest(map[string]any{"status": "processed"}))
		output := parseOutput(t, result)
		if items := output["items"].([]any); len(items) != 0 {
			t.Errorf("processed items = %d, want 0", len(items))
		}
	})

	t.Run("invalid status", func(t *testing.T) {
		result, _ := h.HandleList(ctx, makeRequest(map[string]any{"status": "archived"}))
		assertErrorCode(t, result, "INVALID_REQUEST")
	})
}

func TestHandleProcess(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()
	runner := &processingRunner{db: database}
	h := NewHandlers(database, cfg, runner)
	ctx := context.Background()
	id := capture(t, h, "https://example.com/a")

	result, err := h.HandleProcess(ctx, makeRequest(map[string]any{"id": id}))
	if err != nil {
		t.Fatalf("HandleProcess error: %v", err)
	}
	output := parseOutput(t, result)
	if output["status"] != workflow.OutcomeProcessed || output["attempts"] != float64(1) {
		t.Errorf("output = %v, want processed after 1 attempt", output)
	}

	stored, err := db.GetItem(ctx, database, "u1", id)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if stored.Status != item.StatusProcessed {
		t.Errorf("stored status = %s, want processed", stored.Status)
	}

	result, _ = h.HandleProcess(ctx, makeRequest(map[string]any{"id": "01NOPE"}))
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestHandleContainerList(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()
	h := NewHandlers(database, cfg, nil)
	ctx := context.Background()

	for i, name := range []string{"Local LLMs", "Home Lab"} {
		c := &item.Container{
			ID:        fmt.Sprintf("01CONT000%d", i),
			UserID:    "u1",
			Name:      name,
			NameNorm:  item.Normalize(name),
			CreatedAt: 1000,
		}
		if err := db.InsertContainer(ctx, database, c); err != nil {
			t.Fatalf("InsertContainer failed: %v", err)
		}
	}

	result, err := h.HandleContainerList(ctx, makeRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("HandleContainerList error: %v", err)
	}
	containers := parseOutput(t, result)["containers"].([]any)
	if len(containers) != 2 {
		t.Fatalf("containers count = %d, want 2", len(containers))
	}
	first := containers[0].(map[string]any)
	if first["name"] != "Home Lab" {
		t.Errorf("first container = %v, want Home Lab (sorted by name)", first["name"])
	}

	result, _ = h.HandleContainerList(ctx, makeRequest(map[string]any{"user_id": "u2"}))
	if others := parseOutput(t, result)["containers"].([]any); len(others) != 0 {
		t.Errorf("other user containers = %d, want 0", len(others))
	}
}

func TestServerRegistration(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	s := NewServer(database, cfg, "test", &processingRunner{db: database})
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"item_capture",
		"item_fetch",
		"item_list",
		"item_process",
		"container_list",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithoutRunner(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	tools := NewServer(database, cfg, "test", nil).ListTools()
	if len(tools) != 4 {
		t.Errorf("registered tool count = %d, want 4", len(tools))
	}
	if _, ok := tools["item_process"]; ok {
		t.Error("item_process should not be registered without a runner")
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	cfg.DisabledTools = []string{"item_process", "item_process", "container_list"}
	tools := NewServer(database, cfg, "test", &processingRunner{db: database}).ListTools()

	// Duplicates are ignored
	if len(tools) != 3 {
		t.Errorf("registered tool count = %d, want 3", len(tools))
	}
	for _, name := range []string{"item_process", "container_list"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	cfg.DisabledTools = AllToolNames()
	tools := NewServer(database, cfg, "test", nil).ListTools()

	if len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  int
	}{
		{"all known", []string{"item_list", "item_process"}, 0},
		{"one unknown", []string{"item_list", "item_delete"}, 1},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateDisabledTools(tt.input); len(got) != tt.want {
				t.Errorf("ValidateDisabledTools(%v) = %v, want %d unknown", tt.input, got, tt.want)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != len(toolRegistry) {
		t.Errorf("AllToolNames() returned %d names, want %d", len(names), len(toolRegistry))
	}
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			t.Errorf("AllToolNames() returned unknown tool %q", name)
		}
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrappedErr := fmt.Errorf("items[2]: %w", errors.NewInvalidRequest("id is required"))

	errObj := errorObject(t, errorResult(wrappedErr))
	if errObj["code"] != string(errors.ErrInvalidRequest) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrInvalidRequest)
	}
	msg := errObj["message"].(string)
	if !strings.Contains(msg, "items[2]") || !strings.Contains(msg, "id is required") {
		t.Errorf("message should keep wrapper context, got: %s", msg)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	errObj := errorObject(t, errorResult(errors.NewNotFound("item", "abc")))
	if errObj["code"] != string(errors.ErrNotFound) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

func TestErrorResult_PlainErrorIsInternal(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom")))
	if errObj["code"] != "INTERNAL" || errObj["message"] != "an internal error occurred" {
		t.Errorf("error = %v, want generic INTERNAL", errObj)
	}
}

// Helper functions

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func errorObject(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in payload: %v", payload)
	}
	return errObj
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if !result.IsError {
		t.Errorf("expected error %s, got success: %v", expectedCode, extractErrorMessage(result))
		return
	}
	if code := errorObject(t, result)["code"]; code != expectedCode {
		t.Errorf("got error code %v, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}

func TestDecode_RejectsUnknownArguments(t *testing.T) {
	if _, err := decode[FetchRequest](makeRequest(map[string]any{"id": "a", "workspace": "x"})); err == nil {
		t.Error("expected unknown argument to be rejected")
	}
	got, err := decode[ListRequest](makeRequest(map[string]any{"limit": 5, "status": "pending"}))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Limit != 5 || got.Status != "pending" {
		t.Errorf("decoded = %+v, want limit 5 status pending", got)
	}
}
