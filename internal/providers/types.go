// Package providers implements the model-calling abstraction AgentUse's
// execution core drives. Wire-protocol details are intentionally thin here:
// the specification delegates provider framing to "a model-calling library"
// and treats it as an external collaborator — this package is that library's
// stand-in, built in the shape the teacher codebase uses it in.
package providers

import "context"

// Provider is the interface all LLM providers must implement.
type Provider interface {
	// Chat sends messages to the LLM and returns a response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and streams response chunks via callback.
	// Returns the final accumulated response after streaming ends.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// ChatRequest contains the input for a Chat/ChatStream call.
type ChatRequest struct {
	Messages []Message
	Tools    []ToolDefinition
	Model    string
	Options  map[string]any
}

// Well-known option keys threaded through Options.
const (
	OptMaxTokens   = "max_tokens"
	OptTemperature = "temperature"
)

// ChatResponse is the result from an LLM call.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // "stop", "tool_calls", "length"
	Usage        *Usage
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	TextDelta string
	Done      bool
}

// Message represents one entry in the model-facing conversation. Per the
// data model, content is either a plain string (Content) or an ordered
// sequence of parts; providers that need the part-level detail (tool calls,
// tool results) read ToolCalls/ToolCallID directly rather than walking parts,
// since wire framing is this package's private concern.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string // set when Role == "tool"
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// Usage tracks token consumption for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
