package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"

	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// mountMCP exposes the MCP Surface (§4.3) as an SSE transport under /mcp,
// the same server.NewSSEServer shape other_examples/...codeloom's MCP
// server uses, generalised from a standalone process to a subtree mounted
// on the shared router. InvokeTool dispatches through the same Code Host
// path direct service invocation and agent tool calls use.
func mountMCP(r chi.Router, d Deps) {
	invoker := newToolInvoker(d.CodeHost, d.Metrics)
	invoke := func(toolName string, args map[string]any) (any, error) {
		svc, ok := d.Registry.Services.GetByName(toolName)
		if !ok {
			return nil, uxerr.New(uxerr.UnknownService, toolName)
		}
		return invoker.InvokeTool(context.Background(), svc, uuid.NewString(), args)
	}

	mcpServer := d.MCP.NewServer(d.ServerName, d.ServerVersion, invoke)
	sseHandler := server.NewSSEServer(mcpServer, server.WithBaseURL("/mcp"))

	r.Mount("/mcp", http.StripPrefix("/mcp", sseHandler))
}
