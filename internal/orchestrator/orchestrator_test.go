package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"dawn/internal/llm"
	"dawn/internal/session"
	"dawn/internal/tool"
	"dawn/internal/tool/executor"
)

type fakeRegistry struct {
	defs map[string]tool.Definition
}

func (f *fakeRegistry) Find(name string) (tool.Definition, error) {
	d, ok := f.defs[name]
	if !ok {
		return tool.Definition{}, tool.ErrNotFound
	}
	return d, nil
}

func (f *fakeRegistry) ForEachEnabled(visit func(tool.Definition) bool) {
	for _, d := range f.defs {
		if !visit(d) {
			return
		}
	}
}

type scriptedProvider struct {
	responses []llm.CompletionResponse
	call      int
}

func (p *scriptedProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return nil, nil
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	r := p.responses[p.call]
	p.call++
	return &r, nil
}

func (p *scriptedProvider) CountTokens(messages []llm.Message) (int, error) { return 0, nil }
func (p *scriptedProvider) Capabilities() llm.ModelCapabilities             { return llm.ModelCapabilities{} }

func TestRunTurnNoToolsFinishesImmediately(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.CompletionResponse{
		{Content: "hello there"},
	}}
	reg := &fakeRegistry{defs: map[string]tool.Definition{}}
	exec := executor.New(nil, nil)
	o := New(provider, reg, exec, ShapeOpenAI)

	mgr := session.New()
	sess := mgr.Create("s1")
	sess.AddMessage(llm.Message{Role: llm.RoleUser, Content: "hi"})

	res, err := o.RunTurn(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ResponseText != "hello there" {
		t.Fatalf("unexpected response: %q", res.ResponseText)
	}
}

func TestRunTurnSkipFollowupUsesToolTextDirectly(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"target": "claude"})
	provider := &scriptedProvider{responses: []llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "switch_llm", Arguments: string(args)}}},
	}}
	reg := &fakeRegistry{defs: map[string]tool.Definition{
		"switch_llm": {
			Name:         "switch_llm",
			Style:        tool.StyleDirectCallback,
			Device:       tool.DeviceGetter,
			SkipFollowup: true,
			Callback: func(ctx context.Context, action, value string) (string, bool, error) {
				return "switched to claude", true, nil
			},
		},
	}}
	exec := executor.New(nil, nil)
	o := New(provider, reg, exec, ShapeOpenAI)

	mgr := session.New()
	sess := mgr.Create("s2")
	sess.AddMessage(llm.Message{Role: llm.RoleUser, Content: "switch to claude"})

	res, err := o.RunTurn(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ResponseText != "switched to claude" {
		t.Fatalf("unexpected response: %q", res.ResponseText)
	}
	if provider.call != 1 {
		t.Fatalf("expected no follow-up completion call, provider called %d times", provider.call)
	}
}

func TestRunTurnIssuesFollowupWhenNoSkipFlag(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"device": "weather", "action": "today", "value": "Paris"})
	provider := &scriptedProvider{responses: []llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "weather", Arguments: string(args)}}},
		{Content: "It's sunny in Paris today."},
	}}
	reg := &fakeRegistry{defs: map[string]tool.Definition{
		"weather": {
			Name:   "weather",
			Style:  tool.StyleDirectCallback,
			Device: tool.DeviceGetter,
			Callback: func(ctx context.Context, action, value string) (string, bool, error) {
				return "sunny in " + value, true, nil
			},
		},
	}}
	exec := executor.New(nil, nil)
	o := New(provider, reg, exec, ShapeOpenAI)

	mgr := session.New()
	sess := mgr.Create("s3")
	sess.AddMessage(llm.Message{Role: llm.RoleUser, Content: "weather in paris?"})

	res, err := o.RunTurn(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ResponseText != "It's sunny in Paris today." {
		t.Fatalf("unexpected response: %q", res.ResponseText)
	}
	if provider.call != 2 {
		t.Fatalf("expected a follow-up completion call, provider called %d times", provider.call)
	}
}

func TestRunTurnTagShapeExtractsAndRespondsWithFollowup(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.CompletionResponse{
		{Content: `Sure. <command>{"device":"weather","action":"today","value":"Paris"}</command>`},
		{Content: "It's sunny in Paris."},
	}}
	reg := &fakeRegistry{defs: map[string]tool.Definition{
		"weather": {
			Name:   "weather",
			Style:  tool.StyleDirectCallback,
			Device: tool.DeviceGetter,
			Callback: func(ctx context.Context, action, value string) (string, bool, error) {
				return "sunny in " + value, true, nil
			},
		},
	}}
	exec := executor.New(nil, nil)
	o := New(provider, reg, exec, ShapeTag)

	mgr := session.New()
	sess := mgr.Create("s4")
	sess.AddMessage(llm.Message{Role: llm.RoleUser, Content: "weather in paris?"})

	res, err := o.RunTurn(context.Background(), sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ResponseText != "It's sunny in Paris." {
		t.Fatalf("unexpected response: %q", res.ResponseText)
	}
}

func TestRunTurnAbortsOnCancelledContext(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.CompletionResponse{{Content: "never reached"}}}
	reg := &fakeRegistry{defs: map[string]tool.Definition{}}
	exec := executor.New(nil, nil)
	o := New(provider, reg, exec, ShapeOpenAI)

	mgr := session.New()
	sess := mgr.Create("s5")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.RunTurn(ctx, sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Aborted {
		t.Fatalf("expected Aborted=true for pre-cancelled context")
	}
}
