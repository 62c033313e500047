package models

// Roles accepted in a chat conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single conversational message in the unified schema.
type Message struct {
	Role    string
	Content string
}

// ChatRequest is the canonical representation of a chat completion sent upstream.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ChatResponse captures the first candidate of a provider response.
type ChatResponse struct {
	ID           string
	Message      Message
	Usage        Usage
	FinishReason string
}

// Usage records token accounting information.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Model identifies a known model with provider metadata.
type Model struct {
	ID       string
	Provider string
	APIStyle string
}
