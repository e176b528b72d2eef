package llm

import "context"

// Client is the interface that LLM providers implement.
type Client interface {
	// Chat sends a chat completion request. tools may be nil to force a
	// plain text answer.
	Chat(ctx context.Context, model string, messages []Message, tools []ToolDefinition) (*ChatResponse, error)
}
