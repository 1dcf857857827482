package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dawn/internal/session"
	"dawn/internal/tool"
)

// Embedder is the minimal slice of embeddings.Provider the search tool
// needs, accepted as an interface so this package does not require callers
// to depend on the concrete embeddings provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Collaborator wires an [Index] and an [Embedder] together behind the
// direct-callback tool contract, so the LLM-Tool Orchestrator can surface
// semantic memory the same way it surfaces any other tool.
type Collaborator struct {
	index    Index
	embedder Embedder
	topK     int
	enabled  func() bool
}

// NewCollaborator returns a Collaborator over index and embedder. enabled is
// re-evaluated on every [tool.Registry.Refresh] call and gates whether the
// memory_search tool is currently surfaced (SPEC_FULL.md's memory.enabled
// configuration switch); a nil enabled means "always available".
func NewCollaborator(index Index, embedder Embedder, topK int, enabled func() bool) *Collaborator {
	if topK <= 0 {
		topK = 5
	}
	return &Collaborator{index: index, embedder: embedder, topK: topK, enabled: enabled}
}

// SearchTool returns the memory_search [tool.Definition] backed by c.
func (c *Collaborator) SearchTool() tool.Definition {
	return tool.Definition{
		Name:        "memory_search",
		Description: "Search prior conversation history by meaning, not just keywords, to recall context from earlier sessions.",
		Style:       tool.StyleDirectCallback,
		Device:      tool.DeviceGetter,
		Parameters: []tool.Parameter{
			{Name: "query", Description: "What to recall.", Type: tool.ParamString, Required: true, Routing: tool.RouteValue},
		},
		Callback:  c.search,
		Available: c.enabled,
	}
}

func (c *Collaborator) search(ctx context.Context, action, value string) (string, bool, error) {
	if strings.TrimSpace(value) == "" {
		return "", false, fmt.Errorf("memory_search: empty query")
	}

	cc, _ := session.FromContext(ctx)
	userID := cc.SessionID
	if userID == "" {
		userID = session.LocalSessionID
	}

	vec, err := c.embedder.Embed(ctx, value)
	if err != nil {
		return "", false, fmt.Errorf("memory_search: embed query: %w", err)
	}

	results, err := c.index.Search(ctx, userID, vec, c.topK, Filter{})
	if err != nil {
		return "", false, fmt.Errorf("memory_search: search: %w", err)
	}
	if len(results) == 0 {
		return "No related memories found.", true, nil
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r.Chunk.Content)
	}
	return b.String(), true, nil
}
