// Package extract implements the Tool-Call Extractor: it normalizes the
// three shapes a model response can carry tool invocations in into a
// canonical []llm.ToolCall list.
//
// Shape B's streaming-fragment accumulation keys a map[int]*llm.ToolCall by
// delta index, the same accumulator shape internal/llmprovider/openai uses.
// Shape A's tag scanning uses a regex-pattern-table style generalized from
// "one pattern triggers one action" to "scan for all occurrences of one
// pattern, each producing a call".
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"dawn/internal/llm"
)

// MaxCalls bounds the number of tool calls returned from a single
// extraction pass, regardless of shape. Guards against a pathological or
// malicious response driving unbounded tool execution.
const MaxCalls = 32

var tagPattern = regexp.MustCompile(`(?s)<command>(.*?)</command>`)

// TagResult is the outcome of extracting shape-A inline tagged calls from
// model text.
type TagResult struct {
	// Calls is the ordered list of extracted tool calls, each with an empty
	// ID (shape A carries no native correlation id).
	Calls []llm.ToolCall

	// RemainingText is the input with every <command>...</command> region
	// removed, preserved so the caller can still feed spoken/displayed text
	// to the user or to TTS.
	RemainingText string
}

// tagPayload is the JSON shape inside a <command>...</command> region.
type tagPayload struct {
	Device string `json:"device"`
	Action string `json:"action"`
	Value  string `json:"value,omitempty"`
}

// FromTags scans text for <command>{...}</command> regions (shape A).
// Malformed regions (invalid JSON, or missing "device") are logged and
// skipped rather than aborting the whole extraction; text outside tags is
// preserved in RemainingText with the tags themselves stripped.
func FromTags(text string) TagResult {
	locs := tagPattern.FindAllStringSubmatchIndex(text, -1)
	if locs == nil {
		return TagResult{RemainingText: text}
	}

	var calls []llm.ToolCall
	var remaining bytes.Buffer
	cursor := 0

	for _, loc := range locs {
		fullStart, fullEnd := loc[0], loc[1]
		bodyStart, bodyEnd := loc[2], loc[3]

		remaining.WriteString(text[cursor:fullStart])
		cursor = fullEnd

		if len(calls) >= MaxCalls {
			continue
		}

		body := text[bodyStart:bodyEnd]
		var payload tagPayload
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			slog.Warn("extract: malformed <command> region skipped", "error", err, "body", body)
			continue
		}
		if payload.Device == "" {
			slog.Warn("extract: <command> region missing device field, skipped", "body", body)
			continue
		}

		args, err := json.Marshal(payload)
		if err != nil {
			// Marshaling a just-unmarshaled struct cannot fail; kept for
			// symmetry with the error-handling convention elsewhere.
			continue
		}
		calls = append(calls, llm.ToolCall{
			Name:      payload.Device,
			Arguments: string(args),
		})
	}
	remaining.WriteString(text[cursor:])

	return TagResult{Calls: calls, RemainingText: strings.TrimSpace(remaining.String())}
}

// openAIToolCall is the subset of an OpenAI-style tool_calls array element
// the extractor needs.
type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIChoice struct {
	Message struct {
		ToolCalls []openAIToolCall `json:"tool_calls"`
	} `json:"message"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
}

// FromOpenAIResponse extracts shape B: a parsed JSON response carrying
// choices[0].message.tool_calls. Calls are emitted verbatim, in array
// order, with id, name, and raw arguments string preserved.
func FromOpenAIResponse(raw []byte) ([]llm.ToolCall, error) {
	var resp openAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("extract: decode openai-shape response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	raws := resp.Choices[0].Message.ToolCalls
	calls := make([]llm.ToolCall, 0, len(raws))
	for _, tc := range raws {
		if len(calls) >= MaxCalls {
			break
		}
		calls = append(calls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return calls, nil
}

// claudeBlock is one element of a Claude-style content array.
type claudeBlock struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type claudeResponse struct {
	Content []claudeBlock `json:"content"`
}

// FromClaudeResponse extracts shape C: a parsed JSON response whose content
// array contains type=="tool_use" blocks. input is re-serialized to a JSON
// string for transport into the executor, since the executor's Dispatch
// takes a decoded argument object rather than requiring callers to
// pre-serialize — re-encoding here keeps [llm.ToolCall.Arguments] uniform
// across all three shapes.
func FromClaudeResponse(raw []byte) ([]llm.ToolCall, error) {
	var resp claudeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("extract: decode claude-shape response: %w", err)
	}

	var calls []llm.ToolCall
	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		if len(calls) >= MaxCalls {
			break
		}
		args, err := json.Marshal(block.Input)
		if err != nil {
			return nil, fmt.Errorf("extract: re-encode tool_use input for block %q: %w", block.ID, err)
		}
		calls = append(calls, llm.ToolCall{
			ID:        block.ID,
			Name:      block.Name,
			Arguments: string(args),
		})
	}
	return calls, nil
}

// StreamAccumulator incrementally assembles shape-B tool-call fragments
// delivered across multiple streaming chunks, keyed by delta index the same
// way internal/llmprovider/openai accumulates streamed tool calls.
type StreamAccumulator struct {
	byIndex map[int]*llm.ToolCall
	order   []int
}

// NewStreamAccumulator returns an empty accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{byIndex: make(map[int]*llm.ToolCall)}
}

// Add folds one streamed fragment (identified by its provider-assigned
// index) into the accumulator. id and name may be empty on continuation
// fragments; argsFragment is appended to whatever has accumulated so far
// for that index.
func (a *StreamAccumulator) Add(index int, id, name, argsFragment string) {
	tc, ok := a.byIndex[index]
	if !ok {
		tc = &llm.ToolCall{}
		a.byIndex[index] = tc
		a.order = append(a.order, index)
	}
	if id != "" {
		tc.ID = id
	}
	if name != "" {
		tc.Name = name
	}
	tc.Arguments += argsFragment
}

// Finish returns the accumulated calls in the order their index was first
// seen (which, for every provider in the pack, matches the order the model
// chose to emit them in).
func (a *StreamAccumulator) Finish() []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.byIndex[idx])
	}
	return out
}
