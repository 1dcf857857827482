package llm

import "context"

// Usage holds token accounting returned by an LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything a [Provider] needs to produce a
// response. At minimum Messages must be non-empty.
type CompletionRequest struct {
	Messages     []Message
	Tools        []ToolDefinition
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	Text         string
	FinishReason string
	ToolCalls    []ToolCall
}

// CompletionResponse is returned by a non-streaming completion.
type CompletionResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Provider is the abstraction over any LLM backend: StreamCompletion /
// Complete / CountTokens / Capabilities, built on this package's unified
// Message and ToolCall types.
//
// Implementations must be safe for concurrent use and must propagate
// context cancellation promptly.
type Provider interface {
	// StreamCompletion returns a channel emitting Chunk values as they
	// arrive, closed by the implementation when generation finishes or ctx
	// is cancelled. Errors after the channel opens surface as a Chunk with
	// FinishReason "error"; the returned error is non-nil only for failures
	// that prevent the stream from starting.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete waits for the full response; a convenience wrapper for
	// callers that do not need incremental output.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the token cost of messages in this provider's
	// tokenisation scheme.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}
