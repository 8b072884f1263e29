// Package mcpserver exposes the analytics capability registry as a Model
// Context Protocol server, so external MCP hosts (editors, other agents) can
// query the trade database through the same audited dispatcher the chat
// loop uses.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetmill/sweetmill/internal/agent"
	"github.com/sweetmill/sweetmill/pkg/provider/llm"
)

// Server adapts the capability registry to the MCP protocol.
type Server struct {
	srv        *mcpsdk.Server
	dispatcher *agent.Dispatcher
	log        *slog.Logger
}

// New creates an MCP server publishing every capability the dispatcher
// offers. A nil logger falls back to slog.Default.
func New(dispatcher *agent.Dispatcher, version string, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	srv := mcpsdk.NewServer(
		&mcpsdk.Implementation{Name: "sweetmill", Version: version},
		nil,
	)
	s := &Server{srv: srv, dispatcher: dispatcher, log: log}

	for _, def := range dispatcher.Tools() {
		if err := s.register(def); err != nil {
			return nil, fmt.Errorf("mcpserver: register %q: %w", def.Name, err)
		}
	}
	return s, nil
}

// register publishes a single capability as an MCP tool. The registry keeps
// parameter schemas as plain maps, so they go through a JSON round-trip into
// the SDK's schema type.
func (s *Server) register(def llm.ToolDefinition) error {
	schema, err := schemaFromMap(def.Parameters)
	if err != nil {
		return err
	}

	name := def.Name
	s.srv.AddTool(
		&mcpsdk.Tool{
			Name:        name,
			Description: def.Description,
			InputSchema: schema,
		},
		func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			call := llm.ToolCall{
				ID:        "mcp",
				Name:      name,
				Arguments: string(req.Params.Arguments),
			}
			payload, entry := s.dispatcher.Dispatch(ctx, call)
			s.log.Debug("mcp tool served",
				"tool", name, "status", entry.Status, "duration", entry.Duration)

			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: payload}},
				IsError: entry.Status != "ok",
			}, nil
		},
	)
	return nil
}

// Run serves MCP requests over transport until ctx is cancelled. Blocking.
func (s *Server) Run(ctx context.Context, transport mcpsdk.Transport) error {
	s.log.Info("mcp server ready", "transport", fmt.Sprintf("%T", transport))
	if err := s.srv.Run(ctx, transport); err != nil {
		return fmt.Errorf("mcpserver: run: %w", err)
	}
	return nil
}

// schemaFromMap converts a registry parameter schema into the SDK schema
// type.
func schemaFromMap(m map[string]any) (*jsonschema.Schema, error) {
	if m == nil {
		m = map[string]any{"type": "object"}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return &schema, nil
}
