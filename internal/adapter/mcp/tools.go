package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/ReviewForge/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.arbitrationQueueTool(),
		s.documentSummaryTool(),
		s.assertionSummaryTool(),
		s.conflictOverviewTool(),
		s.lockSnapshotTool(),
	)
}

func (s *Server) arbitrationQueueTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("arbitration_queue",
		mcplib.WithDescription("List assertion lifecycles awaiting arbitration, newest activity first"),
		mcplib.WithString("document_id", mcplib.Description("Restrict the queue to one document")),
		mcplib.WithBoolean("include_pending", mcplib.Description("Also list pending and uncertain lifecycles")),
		mcplib.WithNumber("limit", mcplib.Description("Maximum number of items")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleArbitrationQueue}
}

func (s *Server) documentSummaryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("document_summary",
		mcplib.WithDescription("Evaluate every assertion lifecycle of a document"),
		mcplib.WithString("document_id", mcplib.Required(), mcplib.Description("The document to evaluate")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleDocumentSummary}
}

func (s *Server) assertionSummaryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("assertion_summary",
		mcplib.WithDescription("Evaluate one assertion lifecycle, including its full action history"),
		mcplib.WithString("document_id", mcplib.Required(), mcplib.Description("The document holding the assertion")),
		mcplib.WithString("assertion_key", mcplib.Required(), mcplib.Description("Lifecycle key or any alias of it")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleAssertionSummary}
}

func (s *Server) conflictOverviewTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("conflict_overview",
		mcplib.WithDescription("Count conflicting lifecycles per document"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleConflictOverview}
}

func (s *Server) lockSnapshotTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lock_snapshot",
		mcplib.WithDescription("Show which reviewers currently hold which documents"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleLockSnapshot}
}

func toolResultJSON(v any, what string) *mcplib.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal "+what, err)
	}
	return mcplib.NewToolResultText(string(data))
}

func stringArg(req mcplib.CallToolRequest, name string) string { //nolint:gocritic // hugeParam: mcp-go handler signature
	v, _ := req.GetArguments()[name].(string)
	return strings.TrimSpace(v)
}

func (s *Server) handleArbitrationQueue(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Arbitration == nil {
		return mcplib.NewToolResultError("arbitration service not configured"), nil
	}
	args := req.GetArguments()
	opts := service.DefaultQueueOptions()
	opts.DocumentID = stringArg(req, "document_id")
	opts.IncludePending, _ = args["include_pending"].(bool)
	if n, ok := args["limit"].(float64); ok && n > 0 {
		opts.Limit = int(n)
	}
	res, err := s.deps.Arbitration.Queue(ctx, opts)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to load arbitration queue", err), nil
	}
	return toolResultJSON(res, "queue"), nil
}

func (s *Server) handleDocumentSummary(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Consensus == nil {
		return mcplib.NewToolResultError("consensus service not configured"), nil
	}
	doc := stringArg(req, "document_id")
	if doc == "" {
		return mcplib.NewToolResultError("document_id is required"), nil
	}
	evs, err := s.deps.Consensus.DocumentSummary(ctx, doc)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to evaluate %s", doc), err), nil
	}
	return toolResultJSON(evs, "summary"), nil
}

func (s *Server) handleAssertionSummary(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Consensus == nil {
		return mcplib.NewToolResultError("consensus service not configured"), nil
	}
	doc, key := stringArg(req, "document_id"), stringArg(req, "assertion_key")
	if doc == "" || key == "" {
		return mcplib.NewToolResultError("document_id and assertion_key are required"), nil
	}
	ev, err := s.deps.Consensus.AssertionSummary(ctx, doc, key)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to evaluate %s in %s", key, doc), err), nil
	}
	return toolResultJSON(ev, "summary"), nil
}

func (s *Server) handleConflictOverview(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Consensus == nil {
		return mcplib.NewToolResultError("consensus service not configured"), nil
	}
	ov, err := s.deps.Consensus.ConflictOverview(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to build conflict overview", err), nil
	}
	return toolResultJSON(ov, "overview"), nil
}

func (s *Server) handleLockSnapshot(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Locks == nil {
		return mcplib.NewToolResultError("assignment service not configured"), nil
	}
	return toolResultJSON(s.deps.Locks.Snapshot(ctx), "locks"), nil
}
