package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const conflictsURI = "reviewforge://conflicts/overview"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			conflictsURI,
			"Conflict Overview",
			mcplib.WithResourceDescription("Conflicting assertion lifecycles per document"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleConflictsResource,
	)
}

func (s *Server) handleConflictsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	text := `{"error":"consensus service not configured"}`
	if s.deps.Consensus != nil {
		ov, err := s.deps.Consensus.ConflictOverview(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(ov)
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
