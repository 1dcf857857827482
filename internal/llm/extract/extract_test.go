package extract

import (
	"testing"
)

func TestFromTagsExtractsSingleCommand(t *testing.T) {
	text := `Sure. <command>{"device":"weather","action":"today","value":"Paris"}</command>`
	res := FromTags(text)
	if len(res.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(res.Calls))
	}
	if res.Calls[0].Name != "weather" {
		t.Fatalf("expected device name weather, got %q", res.Calls[0].Name)
	}
	if res.Calls[0].ID != "" {
		t.Fatalf("shape A calls must have empty id, got %q", res.Calls[0].ID)
	}
}

func TestFromTagsSkipsMalformedRegionsAndKeepsRest(t *testing.T) {
	text := `Before <command>not json</command> middle <command>{"device":"lights","action":"on"}</command> after`
	res := FromTags(text)
	if len(res.Calls) != 1 {
		t.Fatalf("expected 1 call (malformed region skipped), got %d", len(res.Calls))
	}
	if res.Calls[0].Name != "lights" {
		t.Fatalf("expected lights, got %q", res.Calls[0].Name)
	}
	if res.RemainingText != "Before  middle  after" {
		t.Fatalf("unexpected remaining text: %q", res.RemainingText)
	}
}

func TestFromTagsNoCommandsReturnsOriginalText(t *testing.T) {
	res := FromTags("just plain text")
	if len(res.Calls) != 0 {
		t.Fatalf("expected no calls, got %d", len(res.Calls))
	}
	if res.RemainingText != "just plain text" {
		t.Fatalf("expected unchanged text, got %q", res.RemainingText)
	}
}

func TestFromOpenAIResponseEmitsVerbatim(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"tool_calls":[
		{"id":"call_1","type":"function","function":{"name":"switch_llm","arguments":"{\"target\":\"claude\"}"}}
	]}}]}`)
	calls, err := FromOpenAIResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Name != "switch_llm" {
		t.Fatalf("unexpected call: %+v", calls[0])
	}
	if calls[0].Arguments != `{"target":"claude"}` {
		t.Fatalf("unexpected arguments: %q", calls[0].Arguments)
	}
}

func TestFromOpenAIResponsePreservesOrder(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"tool_calls":[
		{"id":"a","function":{"name":"first","arguments":"{}"}},
		{"id":"b","function":{"name":"second","arguments":"{}"}}
	]}}]}`)
	calls, err := FromOpenAIResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 2 || calls[0].Name != "first" || calls[1].Name != "second" {
		t.Fatalf("unexpected order: %+v", calls)
	}
}

func TestFromClaudeResponseExtractsToolUseBlocks(t *testing.T) {
	raw := []byte(`{"content":[
		{"type":"text","text":"let me check"},
		{"type":"tool_use","id":"toolu_X","name":"viewing","input":{"query":"what do you see?"}}
	]}`)
	calls, err := FromClaudeResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ID != "toolu_X" || calls[0].Name != "viewing" {
		t.Fatalf("unexpected call: %+v", calls[0])
	}
	if calls[0].Arguments != `{"query":"what do you see?"}` {
		t.Fatalf("unexpected arguments: %q", calls[0].Arguments)
	}
}

func TestStreamAccumulatorAssemblesFragmentsInOrder(t *testing.T) {
	acc := NewStreamAccumulator()
	acc.Add(0, "call_1", "switch_llm", `{"targ`)
	acc.Add(0, "", "", `et":"claude"}`)
	acc.Add(1, "call_2", "weather", `{}`)

	calls := acc.Finish()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Arguments != `{"target":"claude"}` {
		t.Fatalf("unexpected first call: %+v", calls[0])
	}
	if calls[1].Name != "weather" {
		t.Fatalf("unexpected second call: %+v", calls[1])
	}
}
