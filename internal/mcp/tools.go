package mcp

import "github.com/mark3labs/mcp-go/mcp"

var userIDOption = mcp.WithString("user_id",
	mcp.Description("Owner of the items. Defaults to the configured user."),
)

var captureToolDef = mcp.NewTool("item_capture",
	mcp.WithDescription("Save a URL for later. Returns the pending item, or the existing one if the URL was already captured."),
	mcp.WithString("url",
		mcp.Required(),
		mcp.Description("http(s) URL to capture"),
	),
	mcp.WithBoolean("process",
		mcp.Description("Run the processing workflow before returning"),
	),
	userIDOption,
)

var fetchToolDef = mcp.NewTool("item_fetch",
	mcp.WithDescription("Fetch one captured item with its classification, entities, and containers."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Item ID"),
	),
	mcp.WithBoolean("include_transcript",
		mcp.Description("Include the extracted transcript (default true)"),
	),
	userIDOption,
	mcp.WithReadOnlyHintAnnotation(true),
)

var listToolDef = mcp.NewTool("item_list",
	mcp.WithDescription("List captured items, newest first."),
	mcp.WithString("status",
		mcp.Description("Filter by status"),
		mcp.Enum("pending", "processing", "processed", "failed"),
	),
	mcp.WithString("domain",
		mcp.Description("Filter by classified domain"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Page size (default 20, max 100)"),
	),
	mcp.WithNumber("offset",
		mcp.Description("Items to skip"),
	),
	userIDOption,
	mcp.WithReadOnlyHintAnnotation(true),
)

var processToolDef = mcp.NewTool("item_process",
	mcp.WithDescription("Run the processing workflow for a captured item and wait for the outcome."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Item ID"),
	),
	userIDOption,
)

var containerListToolDef = mcp.NewTool("container_list",
	mcp.WithDescription("List the user's containers with their item counts."),
	userIDOption,
	mcp.WithReadOnlyHintAnnotation(true),
)
