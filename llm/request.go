package llm

import (
	"github.com/samber/lo"
)

// wireMessage is a message in the provider's wire format.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the wire payload for POST /chat/completions.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// chatCompletion is the wire shape of a non-streaming response. Message
// is a pointer on purpose: a choice without a message object is a parse
// error, while a message whose content is JSON null (or empty) is an
// accepted empty reply. Providers differ here and the distinction is
// deliberate.
type chatCompletion struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message *struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// chatStreamChunk is the wire shape of one streamed SSE data frame.
type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// buildChatRequest renders messages and options into the wire payload.
func buildChatRequest(model string, messages []Message, opts *ChatOptions, stream bool) chatRequest {
	req := chatRequest{
		Model: model,
		Messages: lo.Map(messages, func(m Message, _ int) wireMessage {
			return wireMessage{Role: string(m.Role), Content: m.Content}
		}),
		Stream: stream,
	}
	if opts != nil {
		req.Temperature = opts.Temperature
		req.MaxTokens = opts.MaxTokens
		req.TopP = opts.TopP
		req.Stop = opts.Stop
	}
	return req
}
