// Package orchestrator drives the tool-execution loop during one
// conversation turn: stream a completion, extract any tool calls, dispatch
// them through the Command Executor in order, fold results back into
// history in the calling provider's native shape, and decide whether a
// follow-up synthesis call is needed.
//
// The per-turn tool-execution loop follows a snapshot-under-lock,
// release-before-I/O pattern: take what's needed under the session's lock,
// then do blocking I/O without holding it. Tool declarations span the full
// three-style executor rather than a single tool set. The iteration
// bookkeeping (a cap of [MaxToolIterations] rounds per turn) is grounded on
// the pack's clawinfra-evoclaw tool-loop (ToolLoop, max iterations); there
// is no per-turn error limit.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"dawn/internal/llm"
	"dawn/internal/llm/extract"
	"dawn/internal/session"
	"dawn/internal/tool"
	"dawn/internal/tool/executor"
)

// MaxToolIterations bounds how many extract-dispatch-followup rounds a
// single turn may take, guarding against a model that keeps requesting
// tools indefinitely.
const MaxToolIterations = 8

// Shape selects how tool declarations are offered to the model and how
// tool results are folded back into history, per SPEC_FULL.md §4.6.
type Shape string

const (
	ShapeOpenAI Shape = "openai"
	ShapeClaude Shape = "claude"
	ShapeTag    Shape = "tag"
)

// tagFollowupPrefix is prepended to tag-shape tool result injections so the
// next model turn knows to narrate the data rather than echo it raw.
const tagFollowupPrefix = "Speak this information naturally to the user:"

// Lookup resolves tool calls and enumerates the tools currently available to
// be offered to a model. Implemented by [tool.Registry]; accepted as an
// interface here so the orchestrator does not need to depend on the
// registry's concrete type.
type Lookup interface {
	Find(name string) (tool.Definition, error)

	// ForEachEnabled calls visit once per currently-enabled tool, in a
	// stable order, stopping early if visit returns false.
	ForEachEnabled(visit func(tool.Definition) bool)
}

// Orchestrator runs conversation turns for a single provider/session pair.
// Safe for concurrent use across different sessions; a single session's
// turns must not be run concurrently (SPEC_FULL.md §5: strict FIFO within a
// session), which the caller — not this type — is responsible for enforcing.
type Orchestrator struct {
	provider llm.Provider
	registry Lookup
	exec     *executor.Executor

	// defaultShape is used for a session whose [session.LLMConfig.ToolMode]
	// is empty or "none" — every other session derives its shape per turn
	// from its own configuration (see resolveShape).
	defaultShape Shape
}

// New returns an Orchestrator that drives turns against provider, resolving
// tool calls through registry and dispatching them via exec. defaultShape is
// the fallback used for sessions that have not configured a tool mode; a
// session that has one configures its own shape per turn instead (see
// resolveShape).
func New(provider llm.Provider, registry Lookup, exec *executor.Executor, defaultShape Shape) *Orchestrator {
	return &Orchestrator{provider: provider, registry: registry, exec: exec, defaultShape: defaultShape}
}

// resolveShape picks the shape to use for one turn from sess's configured
// tool mode, falling back to o.defaultShape when the session has not set
// one (SPEC_FULL.md §4.6: tool declaration shape tracks tools_mode, not a
// process-wide constant).
func (o *Orchestrator) resolveShape(sess *session.Session) Shape {
	cfg := sess.LLMConfig()
	switch cfg.ToolMode {
	case "tagged":
		return ShapeTag
	case "native":
		if isClaudeProvider(cfg.Provider) {
			return ShapeClaude
		}
		return ShapeOpenAI
	default:
		return o.defaultShape
	}
}

// isClaudeProvider reports whether providerName names an Anthropic/Claude
// backend, which uses the tool_result content-block shape rather than
// OpenAI's role:"tool" message shape.
func isClaudeProvider(providerName string) bool {
	p := strings.ToLower(providerName)
	return strings.Contains(p, "claude") || strings.Contains(p, "anthropic")
}

// toolDefinitions enumerates the registry's currently-enabled tools into the
// form a [llm.Provider] expects on [llm.CompletionRequest.Tools].
func (o *Orchestrator) toolDefinitions() []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	o.registry.ForEachEnabled(func(d tool.Definition) bool {
		defs = append(defs, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  parameterSchema(d.Parameters),
		})
		return true
	})
	return defs
}

// parameterSchema renders a tool's declared parameters as a JSON Schema
// object, the shape every provider in internal/llmprovider expects for a
// tool's Parameters field.
func parameterSchema(params []tool.Parameter) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]any{"type": jsonSchemaType(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Type == tool.ParamEnum {
			prop["enum"] = p.EnumValues
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// jsonSchemaType maps a [tool.ParamType] to its JSON Schema "type" value.
// Enum parameters are strings constrained by an "enum" array.
func jsonSchemaType(t tool.ParamType) string {
	switch t {
	case tool.ParamInteger:
		return "integer"
	case tool.ParamNumber:
		return "number"
	case tool.ParamBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// TurnResult is the user-visible outcome of one conversation turn.
type TurnResult struct {
	// ResponseText is what should be shown/spoken to the user.
	ResponseText string

	// Aborted is true if ctx was cancelled mid-turn; history is intact up
	// to the last committed step and ResponseText is empty.
	Aborted bool
}

// RunTurn executes one conversation turn against sess: send history,
// extract and dispatch any tool calls (sequentially, in order), append
// results in the orchestrator's native shape, and either finish immediately
// (no tools, or a skip-followup result) or issue a synthesis follow-up call.
func (o *Orchestrator) RunTurn(ctx context.Context, sess *session.Session) (TurnResult, error) {
	shape := o.resolveShape(sess)

	for iter := 0; iter < MaxToolIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return TurnResult{Aborted: true}, nil
		}

		history := sess.History()
		req := llm.CompletionRequest{Messages: history}
		if iter == 0 && shape != ShapeTag {
			// The initial call declares tools natively; the synthesis
			// follow-up issued on a later iteration does not (SPEC_FULL.md
			// §4.6 step 6: "no tools needed for the synthesis").
			req.Tools = o.toolDefinitions()
		}
		resp, err := o.provider.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return TurnResult{Aborted: true}, nil
			}
			return TurnResult{}, fmt.Errorf("orchestrator: completion call: %w", err)
		}

		calls := resp.ToolCalls
		if len(calls) == 0 {
			var text string
			var tagCalls []llm.ToolCall
			if shape == ShapeTag {
				tr := extract.FromTags(resp.Content)
				tagCalls = tr.Calls
				text = tr.RemainingText
			} else {
				text = resp.Content
			}

			if len(tagCalls) == 0 {
				sess.AddMessage(llm.Message{Role: llm.RoleAssistant, Content: text})
				return TurnResult{ResponseText: text}, nil
			}
			calls = tagCalls
		}

		sess.AddMessage(llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: calls})

		results, skipFollowup, visionText, err := o.runTools(ctx, sess, calls, shape)
		if err != nil {
			return TurnResult{Aborted: true}, nil
		}

		if skipFollowup {
			return TurnResult{ResponseText: concatenate(results)}, nil
		}

		_ = visionText
		// Loop again: history now carries the assistant call + tool
		// results; the next iteration's Complete call is the synthesis
		// follow-up, which omits Tools (see the iter==0 guard above).
	}

	return TurnResult{}, fmt.Errorf("orchestrator: exceeded %d tool iterations", MaxToolIterations)
}

// runTools dispatches each call through the executor in order, appending
// results to sess in the orchestrator's native shape. Returns the results,
// whether any result requested skip-followup, and whether a vision payload
// was carried; no result built here carries one, so visionCarried is
// always false.
func (o *Orchestrator) runTools(ctx context.Context, sess *session.Session, calls []llm.ToolCall, shape Shape) (results []llm.ToolResult, skipFollowup bool, visionCarried bool, err error) {
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return results, false, false, err
		}

		def, lookupErr := o.registry.Find(call.Name)
		if lookupErr != nil {
			results = append(results, llm.ToolResult{ToolCallID: call.ID, Name: call.Name, Success: false, Text: lookupErr.Error()})
			continue
		}

		args, decodeErr := decodeArguments(call.Arguments)
		if decodeErr != nil {
			results = append(results, llm.ToolResult{ToolCallID: call.ID, Name: call.Name, Success: false, Text: decodeErr.Error()})
			continue
		}

		cc := session.CommandContext{SessionID: sess.ID()}
		cmdCtx := session.WithCommandContext(ctx, cc)

		cmdRes, execErr := o.exec.Dispatch(cmdCtx, def, args, 0)
		if execErr != nil {
			slog.Info("orchestrator: tool execution failed", "tool", call.Name, "error", execErr)
			results = append(results, llm.ToolResult{ToolCallID: call.ID, Name: call.Name, Success: false, Text: execErr.Error()})
			continue
		}

		tr := llm.ToolResult{
			ToolCallID:    call.ID,
			Name:          call.Name,
			Success:       cmdRes.Success,
			Text:          cmdRes.ResultText,
			ShouldRespond: cmdRes.ShouldRespond,
			SkipFollowup:  cmdRes.SkipFollowup,
		}
		if tr.SkipFollowup {
			skipFollowup = true
		}
		results = append(results, tr)
	}

	o.appendResults(sess, results, shape)
	return results, skipFollowup, visionCarried, nil
}

// appendResults folds results into sess's history in shape's native form
// (SPEC_FULL.md §4.6 step 4).
func (o *Orchestrator) appendResults(sess *session.Session, results []llm.ToolResult, shape Shape) {
	switch shape {
	case ShapeOpenAI:
		for _, r := range results {
			sess.AddMessage(llm.Message{Role: llm.RoleTool, ToolCallID: r.ToolCallID, Content: r.Text})
		}
	case ShapeClaude:
		// Claude wants every result from this round folded into a single
		// user-role message, one tool_result block per call, rather than
		// OpenAI's one-message-per-result shape. llm.Message has no
		// structured multi-block content field, so the ordered list is
		// rendered as one tagged block per result inside that message's
		// text.
		if len(results) == 0 {
			return
		}
		var b strings.Builder
		for i, r := range results {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "<tool_result tool_call_id=%q>%s</tool_result>", r.ToolCallID, r.Text)
		}
		sess.AddMessage(llm.Message{Role: llm.RoleUser, Content: b.String()})
	case ShapeTag:
		sess.AddMessage(llm.Message{Role: llm.RoleSystem, Content: tagFollowupPrefix + " " + concatenate(results)})
	}
}

func concatenate(results []llm.ToolResult) string {
	var out string
	for i, r := range results {
		if i > 0 {
			out += "\n"
		}
		out += r.Text
	}
	return out
}

func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("orchestrator: decode tool call arguments: %w", err)
	}
	return m, nil
}
