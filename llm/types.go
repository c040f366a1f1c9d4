package llm

import (
	"fmt"
	"time"
)

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message represents a single message in a conversation. Messages are
// immutable once appended to a session's history.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Usage represents token usage reported by the server for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse is the result of a non-streaming completion.
type ChatResponse struct {
	Content      string
	Usage        Usage
	Model        string
	ID           string
	FinishReason string
	Latency      time.Duration
}

// ChatOptions carries per-call overrides. The zero value means: client
// default model, server default sampling, retries enabled with
// DefaultMaxRetries.
type ChatOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	TopP        *float64
	Stop        []string

	// MaxRetries is the number of retries after the first attempt.
	// Zero means DefaultMaxRetries; use DisableRetry for fail-fast.
	MaxRetries int

	// DisableRetry makes the call fail on the first error. Streaming
	// calls behave this way regardless.
	DisableRetry bool
}

// validateMessages checks the caller-supplied message list before any
// transport call is made.
func validateMessages(messages []Message) error {
	if len(messages) == 0 {
		return NewValidationError("messages", "at least one message is required")
	}
	for i, m := range messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return NewValidationError("messages", fmt.Sprintf("unknown message role %q at index %d", m.Role, i))
		}
	}
	return nil
}
