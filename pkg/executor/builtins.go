package executor

import (
	"context"
	"fmt"

	"github.com/uxmcp/uxmcp/pkg/completion"
	"github.com/uxmcp/uxmcp/pkg/memory"
)

// builtinMemoryTools are injected for every agent with memory_enabled set,
// letting the model decide when to recall or persist something mid-turn
// rather than relying solely on the executor's own preface/turn writes
// (§4.4: "three built-in tools are always available when memory is
// enabled").
func builtinMemoryTools() []completion.ToolSpec {
	return []completion.ToolSpec{
		{
			Name:        "memory_search",
			Description: "Search this agent's stored memories for content relevant to a query.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "what to search for"},
					"k":     map[string]any{"type": "integer", "description": "max results", "default": 5},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "memory_store",
			Description: "Persist a fact or piece of knowledge to this agent's long-term memory.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content":    map[string]any{"type": "string", "description": "the text to remember"},
					"importance": map[string]any{"type": "number", "description": "0-1 importance; defaults to 0.7 for explicit stores"},
				},
				"required": []string{"content"},
			},
		},
		{
			Name:        "memory_analyze",
			Description: "Report summary statistics about this agent's stored memories (count, average importance, age range).",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

type builtinFunc func(ctx context.Context, mem *memory.Subsystem, agentID string, args map[string]any) (any, error)

func builtinHandler(name string) (builtinFunc, bool) {
	switch name {
	case "memory_search":
		return memorySearchHandler, true
	case "memory_store":
		return memoryStoreHandler, true
	case "memory_analyze":
		return memoryAnalyzeHandler, true
	default:
		return nil, false
	}
}

func memorySearchHandler(ctx context.Context, mem *memory.Subsystem, agentID string, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	k := 5
	if v, ok := args["k"].(float64); ok && v > 0 {
		k = int(v)
	}
	hits, err := mem.Search(ctx, agentID, query, k, memory.Filters{})
	if err != nil {
		return nil, err
	}
	results := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		results = append(results, map[string]any{
			"content":      h.Record.Content,
			"content_type": string(h.Record.ContentType),
			"importance":   h.Record.Importance,
			"score":        h.Score,
			"created_at":   h.Record.CreatedAt,
		})
	}
	return map[string]any{"results": results}, nil
}

func memoryStoreHandler(ctx context.Context, mem *memory.Subsystem, agentID string, args map[string]any) (any, error) {
	content, _ := args["content"].(string)
	importance := memory.ImportanceExplicitStore
	if v, ok := args["importance"].(float64); ok {
		importance = v
	}
	rec, err := mem.Store(ctx, agentID, content, memory.ContentStoredKnowledge, importance, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": rec.ID, "stored": true}, nil
}

func memoryAnalyzeHandler(ctx context.Context, mem *memory.Subsystem, agentID string, _ map[string]any) (any, error) {
	stats, err := mem.Stats(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"count":              stats.Count,
		"average_importance": stats.AverageImportance,
		"oldest":             stats.OldestCreatedAt,
		"newest":             stats.NewestCreatedAt,
		"summary":            fmt.Sprintf("%d memories, average importance %.2f", stats.Count, stats.AverageImportance),
	}, nil
}
