// Package llm defines the canonical message and tool-call shapes shared by
// the Tool-Call Extractor, the LLM-Tool Orchestrator, and the provider
// adapters in internal/llmprovider.
//
// DAWN's core owns both the provider-facing and the orchestrator-facing
// side of these types, so they live in one package rather than split across
// two — same field shapes, one source of truth.
package llm

// Role identifies who produced a [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a conversation's history.
type Message struct {
	Role Role

	// Content is the message text. Empty for an assistant message that
	// consists solely of tool calls.
	Content string

	// Name is an optional participant name.
	Name string

	// ToolCalls holds any tool invocations this (assistant) message requests.
	ToolCalls []ToolCall

	// ToolCallID identifies, for a Role==RoleTool message, which ToolCall
	// this message is the result of.
	ToolCallID string

	// VisionPayload carries inline image bytes produced by a tool result
	// (e.g. a viewing/camera tool) that must accompany the next model call.
	// Session-isolated: it travels with the specific message it belongs to
	// rather than living in a single shared "pending vision" slot.
	VisionPayload *VisionPayload
}

// VisionPayload is inline binary image data attached to a tool result.
type VisionPayload struct {
	ContentType string // e.g. "image/jpeg"
	Data        []byte
}

// ToolCall is a single tool invocation as normalized by the Tool-Call
// Extractor, regardless of which of the three input shapes it came from.
type ToolCall struct {
	// ID is the provider-assigned correlation id. Empty for shape-A
	// (inline tagged JSON) calls, which have no native id.
	ID string

	// Name is the tool's canonical or alias name (the extractor does not
	// resolve aliases; that is the Registry's job).
	Name string

	// Arguments is the JSON-encoded argument object, verbatim from the
	// model, or re-encoded from a parsed shape for uniform downstream
	// handling.
	Arguments string
}

// ToolResult is the outcome of executing one [ToolCall], in canonical form
// ready to be appended back into the conversation.
type ToolResult struct {
	ToolCallID string
	Name       string

	Success bool
	Text    string

	// ShouldRespond mirrors executor.CommandResult.ShouldRespond: whether
	// the result should be surfaced to the user at all.
	ShouldRespond bool

	// SkipFollowup mirrors executor.CommandResult.SkipFollowup: whether the
	// orchestrator should treat Text as the final answer instead of issuing
	// a synthesis follow-up call.
	SkipFollowup bool

	// VisionPayload holds inline image data a tool (e.g. a sync-wait
	// "viewing" tool) returned instead of text. Neither the executor nor the
	// orchestrator populates it, and nothing attaches it to the follow-up
	// call.
	VisionPayload *VisionPayload
}

// ToolDefinition describes a tool as offered to a model in its native
// tool-schema format.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// ModelCapabilities describes what a provider's underlying model supports.
type ModelCapabilities struct {
	ContextWindow       int
	MaxOutputTokens     int
	SupportsToolCalling bool
	SupportsVision      bool
	SupportsStreaming   bool
}
