// Package mcpsurface exposes the registry's active services as a read-only
// Model Context Protocol view (§4.3): grouped, name-sorted lists of tools,
// resources, and prompts in canonical MCP shape, recomputed lazily from the
// registry rather than cached. Grounded on the mark3labs/mcp-go server
// subpackage's registration shape (server.NewMCPServer, mcp.Tool,
// mcp.ToolInputSchema), as used server-side in the retrieval pack's
// codeloom/engram MCP servers; the teacher only exercises the library's
// client side (pkg/tool/mcptoolset), so the registration idiom here is
// learned from those sibling files rather than copied from hector.
package mcpsurface

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/uxmcp/uxmcp/pkg/registry"
)

// Surface recomputes the MCP view from the registry on every call; there is
// no cache to invalidate when services are created, activated, or deleted.
type Surface struct {
	registry *registry.Registry
}

func New(r *registry.Registry) *Surface {
	return &Surface{registry: r}
}

// ConnectionInfo is the configuration endpoint's payload: connection
// metadata for external MCP clients.
type ConnectionInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	ProtocolVersion string `json:"protocol_version"`
	ToolCount     int    `json:"tool_count"`
	ResourceCount int    `json:"resource_count"`
	PromptCount   int    `json:"prompt_count"`
}

// Tools returns every active KindTool service as an mcp.Tool, sorted by
// name. input_schema is synthesised from the service's param list when the
// service has no explicit InputSchema declared.
func (s *Surface) Tools() []mcp.Tool {
	services := activeOfKind(s.registry, registry.KindTool)
	tools := make([]mcp.Tool, 0, len(services))
	for _, svc := range services {
		tools = append(tools, mcp.Tool{
			Name:        svc.Name,
			Description: svc.Description,
			InputSchema: inputSchemaFor(svc),
		})
	}
	return tools
}

// Resource is the canonical MCP shape for a read-only resource entry.
type Resource struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	URI         string         `json:"uri"`
	MimeType    string         `json:"mime_type,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
}

// Resources returns every active KindResource service, sorted by name.
func (s *Surface) Resources() []Resource {
	services := activeOfKind(s.registry, registry.KindResource)
	out := make([]Resource, 0, len(services))
	for _, svc := range services {
		out = append(out, Resource{
			Name:         svc.Name,
			Description:  svc.Description,
			URI:          svc.Route,
			MimeType:     svc.MimeType,
			OutputSchema: svc.OutputSchema,
		})
	}
	return out
}

// Prompt is the canonical MCP shape for a reusable prompt template entry.
type Prompt struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Arguments   []string `json:"arguments,omitempty"`
}

// Prompts returns every active KindPrompt service, sorted by name.
func (s *Surface) Prompts() []Prompt {
	services := activeOfKind(s.registry, registry.KindPrompt)
	out := make([]Prompt, 0, len(services))
	for _, svc := range services {
		out = append(out, Prompt{
			Name:        svc.Name,
			Description: svc.Description,
			Arguments:   svc.PromptArgs,
		})
	}
	return out
}

// Connection returns configuration metadata for external MCP clients.
func (s *Surface) Connection(serverName, serverVersion string) ConnectionInfo {
	return ConnectionInfo{
		Name:            serverName,
		Version:         serverVersion,
		ProtocolVersion: "2024-11-05",
		ToolCount:       len(activeOfKind(s.registry, registry.KindTool)),
		ResourceCount:   len(activeOfKind(s.registry, registry.KindResource)),
		PromptCount:     len(activeOfKind(s.registry, registry.KindPrompt)),
	}
}

// NewServer assembles a mark3labs/mcp-go server pre-loaded with the current
// active tool catalogue, for stdio or SSE transports. Since the surface is
// a recomputed-lazily view and mcp-go's registration is call-and-forget
// (no live re-sync hook), callers that need the view to track registry
// mutations should call NewServer again rather than reuse a stale instance.
func (s *Surface) NewServer(name, version string, invoke func(toolName string, args map[string]any) (any, error)) *server.MCPServer {
	mcpServer := server.NewMCPServer(name, version, server.WithToolCapabilities(true))
	for _, svc := range activeOfKind(s.registry, registry.KindTool) {
		svc := svc
		mcpServer.AddTool(mcp.Tool{
			Name:        svc.Name,
			Description: svc.Description,
			InputSchema: inputSchemaFor(svc),
		}, toolHandler(svc.Name, invoke))
	}
	return mcpServer
}

func toolHandler(name string, invoke func(string, map[string]any) (any, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := invoke(name, request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(payload)}},
		}, nil
	}
}

// inputSchemaFor synthesises a JSON-Schema-shaped mcp.ToolInputSchema from
// a service's declared param list when the service has no explicit
// InputSchema; an explicit InputSchema is translated as-is.
func inputSchemaFor(svc *registry.Service) mcp.ToolInputSchema {
	if svc.InputSchema != nil {
		return schemaFromMap(svc.InputSchema)
	}
	properties := make(map[string]any, len(svc.Params))
	var required []string
	for _, p := range svc.Params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func schemaFromMap(m map[string]any) mcp.ToolInputSchema {
	schema := mcp.ToolInputSchema{Type: "object"}
	if t, ok := m["type"].(string); ok {
		schema.Type = t
	}
	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = props
	}
	if req, ok := m["required"].([]string); ok {
		schema.Required = req
	} else if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if rs, ok := r.(string); ok {
				schema.Required = append(schema.Required, rs)
			}
		}
	}
	return schema
}

// activeOfKind filters the registry's service list to one kind and Active
// state, then sorts by name — the only ordering guarantee §4.3 promises.
func activeOfKind(r *registry.Registry, kind registry.Kind) []*registry.Service {
	all := r.ListServices()
	out := make([]*registry.Service, 0, len(all))
	for _, svc := range all {
		if svc.Kind == kind && svc.Active {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
