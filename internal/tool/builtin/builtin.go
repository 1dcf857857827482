// Package builtin provides the two tool definitions config.Config itself
// gates (search and shutdown), following the same direct-callback,
// Available-predicate shape internal/memory.Collaborator uses for
// memory_search.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dawn/internal/tool"
)

// SearchTool returns the "search" tool definition. endpoint is called as
// GET <endpoint>?q=<query>, expecting a JSON array of result strings;
// available reports whether a search endpoint is currently configured
// (config.Config.Search.Endpoint non-empty).
func SearchTool(client *http.Client, endpoint func() string) tool.Definition {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return tool.Definition{
		Name:        "search",
		Description: "Search the web for current information.",
		Style:       tool.StyleDirectCallback,
		Device:      tool.DeviceGetter,
		UsesNetwork: true,
		Parameters: []tool.Parameter{
			{Name: "query", Description: "What to search for.", Type: tool.ParamString, Required: true, Routing: tool.RouteValue},
		},
		Callback: func(ctx context.Context, action, value string) (string, bool, error) {
			return runSearch(ctx, client, endpoint(), value)
		},
		Available: func() bool { return endpoint() != "" },
	}
}

func runSearch(ctx context.Context, client *http.Client, endpoint, query string) (string, bool, error) {
	if strings.TrimSpace(query) == "" {
		return "", false, fmt.Errorf("search: empty query")
	}
	if endpoint == "" {
		return "", false, fmt.Errorf("search: no search endpoint configured")
	}

	u := endpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false, fmt.Errorf("search: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("search: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("search: endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", false, fmt.Errorf("search: read response: %w", err)
	}

	var results []string
	if err := json.Unmarshal(body, &results); err != nil {
		return "", false, fmt.Errorf("search: decode response: %w", err)
	}
	if len(results) == 0 {
		return "No results found.", true, nil
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, r)
	}
	return b.String(), true, nil
}

// ShutdownTool returns the "shutdown" tool definition. The call's value
// argument must equal passphrase() exactly, or it fails without effect.
// onShutdown is invoked (in a new goroutine, after the callback returns a
// success result) to let the caller run its own graceful-shutdown sequence
// rather than os.Exit-ing from inside a tool callback.
func ShutdownTool(passphrase func() string, onShutdown func()) tool.Definition {
	return tool.Definition{
		Name:          "shutdown",
		Description:   "Shut down the assistant server. Requires the configured passphrase.",
		Style:         tool.StyleDirectCallback,
		Device:        tool.DeviceTrigger,
		SkipFollowup:  true,
		DefaultRemote: false,
		Parameters: []tool.Parameter{
			{Name: "passphrase", Description: "The shutdown passphrase.", Type: tool.ParamString, Required: true, Routing: tool.RouteValue},
		},
		Callback: func(ctx context.Context, action, value string) (string, bool, error) {
			want := passphrase()
			if want == "" || value != want {
				return "Shutdown request denied: incorrect passphrase.", true, nil
			}
			if onShutdown != nil {
				go onShutdown()
			}
			return "Shutting down.", true, nil
		},
		Available: func() bool { return passphrase() != "" },
	}
}
