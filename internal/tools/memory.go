package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neotalk/edge-ai/internal/agent"
	"github.com/neotalk/edge-ai/internal/memory"
	"github.com/neotalk/edge-ai/pkg/models"
)

// RegisterMemoryTools adds memory.search and memory.store.
func RegisterMemoryTools(registry *agent.ToolRegistry, mem *memory.Store) {
	registry.Register(&agent.ToolFunc{
		ToolName:        "memory.search",
		ToolDescription: "Search long-term memory for relevant entries.",
		ToolParameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"limit": {"type": "integer"}
			},
			"required": ["query"]
		}`),
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			limit := 5
			if n, ok := args["limit"].(float64); ok && n > 0 {
				limit = int(n)
			}
			results := mem.Search(query, limit)
			out := make([]map[string]any, 0, len(results))
			for _, entry := range results {
				out = append(out, map[string]any{
					"id":         entry.ID,
					"type":       entry.MemoryType,
					"content":    entry.Content,
					"importance": entry.Importance,
				})
			}
			data, err := json.Marshal(out)
			return string(data), err
		},
	})

	registry.Register(&agent.ToolFunc{
		ToolName:        "memory.store",
		ToolDescription: "Store a fact in long-term memory.",
		ToolParameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"content": {"type": "string"},
				"memory_type": {"type": "string"},
				"keywords": {"type": "array", "items": {"type": "string"}},
				"importance": {"type": "integer", "minimum": 0, "maximum": 100}
			},
			"required": ["content"]
		}`),
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			content, _ := args["content"].(string)
			if content == "" {
				return "", fmt.Errorf("content is required")
			}
			entry := models.MemoryEntry{
				MemoryType: "fact",
				Content:    content,
				Source:     "agent",
				Importance: 50,
			}
			if mt, ok := args["memory_type"].(string); ok && mt != "" {
				entry.MemoryType = mt
			}
			if imp, ok := args["importance"].(float64); ok {
				entry.Importance = int(imp)
			}
			if raw, ok := args["keywords"].([]any); ok {
				for _, kw := range raw {
					if s, ok := kw.(string); ok {
						entry.Keywords = append(entry.Keywords, s)
					}
				}
			}
			id, err := mem.Save(entry)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("stored as %s", id), nil
		},
	})
}
