package mcp

import (
	"context"
	"testing"
)

func TestTransport_IsValid(t *testing.T) {
	cases := map[Transport]bool{
		TransportStdio:          true,
		TransportStreamableHTTP: true,
		Transport("carrier-pigeon"): false,
		Transport(""):               false,
	}
	for tr, want := range cases {
		if got := tr.IsValid(); got != want {
			t.Errorf("Transport(%q).IsValid() = %v, want %v", tr, got, want)
		}
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in       string
		wantExe  string
		wantArgs []string
	}{
		{"", "", nil},
		{"/bin/foo", "/bin/foo", nil},
		{"/bin/foo --bar baz", "/bin/foo", []string{"--bar", "baz"}},
	}
	for _, tt := range tests {
		exe, args := splitCommand(tt.in)
		if exe != tt.wantExe {
			t.Errorf("splitCommand(%q) exe = %q, want %q", tt.in, exe, tt.wantExe)
		}
		if len(args) != len(tt.wantArgs) {
			t.Fatalf("splitCommand(%q) args = %v, want %v", tt.in, args, tt.wantArgs)
		}
		for i := range args {
			if args[i] != tt.wantArgs[i] {
				t.Errorf("splitCommand(%q) args[%d] = %q, want %q", tt.in, i, args[i], tt.wantArgs[i])
			}
		}
	}
}

func TestSchemaToMap(t *testing.T) {
	if m := schemaToMap(nil); m["type"] != "object" {
		t.Errorf("expected default object schema for nil, got %v", m)
	}

	direct := map[string]any{"type": "object", "properties": map[string]any{"q": map[string]any{"type": "string"}}}
	if m := schemaToMap(direct); m["type"] != "object" {
		t.Errorf("expected passthrough of a map[string]any schema, got %v", m)
	}

	type strukt struct {
		Type string `json:"type"`
	}
	if m := schemaToMap(strukt{Type: "object"}); m["type"] != "object" {
		t.Errorf("expected round-trip via JSON for a struct schema, got %v", m)
	}
}

func TestExecuteTool_UnknownToolReturnsError(t *testing.T) {
	h := New()
	if _, err := h.ExecuteTool(context.Background(), "does-not-exist", "{}"); err == nil {
		t.Fatal("expected an error for an unregistered tool")
	}
}

func TestTools_EmptyHostReturnsEmptySlice(t *testing.T) {
	h := New()
	tools := h.Tools()
	if tools == nil {
		t.Fatal("expected a non-nil empty slice")
	}
	if len(tools) != 0 {
		t.Fatalf("expected 0 tools, got %d", len(tools))
	}
}

func TestClose_EmptyHostSucceeds(t *testing.T) {
	h := New()
	if err := h.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
