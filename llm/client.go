package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the endpoint used when none is configured. Any
// OpenAI-compatible server (LM Studio, vLLM, llama.cpp, proxies) works
// by pointing BaseURL at it.
const DefaultBaseURL = "https://api.openai.com/v1"

// Client talks to an OpenAI-compatible chat completion endpoint.
//
// A Client is stateless and safe for concurrent use; conversation state
// lives in Session values created via NewSession.
type Client struct {
	httpc   Doer
	baseURL string
	apiKey  string
	model   string
	logger  zerolog.Logger
	exec    *executor
}

// NewClient creates a Client. apiKey is required. If baseURL is empty
// the official endpoint is used; model is the default for calls that
// don't override it.
func NewClient(apiKey, baseURL, model string, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, NewValidationError("api_key", "api key is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	logger = logger.With().Str("component", "llm").Logger()
	return &Client{
		httpc:   defaultTransport(),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		logger:  logger,
		exec:    newExecutor(logger),
	}, nil
}

// SetTransport replaces the HTTP transport. Call before issuing
// requests; intended for custom clients and tests.
func (c *Client) SetTransport(d Doer) {
	c.httpc = d
}

// Chat sends a non-streaming completion request and returns the parsed
// reply. Transient failures (transport errors, 429, 5xx) are retried
// under the options' policy; everything else surfaces after a single
// attempt.
func (c *Client) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*ChatResponse, error) {
	model, err := c.resolveModel(opts)
	if err != nil {
		return nil, err
	}
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(buildChatRequest(model, messages, opts, false))
	if err != nil {
		return nil, NewValidationError("messages", fmt.Sprintf("cannot encode request: %v", err))
	}

	start := time.Now()
	resp, err := c.exec.execute(ctx, policyFromOptions(opts), func(ctx context.Context) (*http.Response, error) {
		return c.post(ctx, payload, false)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewCancelledError("request cancelled", ctx.Err())
		}
		return nil, NewNetworkError("failed to read response body", err)
	}

	out, err := parseCompletion(raw)
	if err != nil {
		return nil, err
	}
	out.Latency = time.Since(start)
	if out.Model == "" {
		out.Model = model
	}

	c.logger.Debug().
		Str("model", out.Model).
		Int("prompt_tokens", out.Usage.PromptTokens).
		Int("completion_tokens", out.Usage.CompletionTokens).
		Dur("latency", out.Latency).
		Msg("Chat completion finished")
	return out, nil
}

// StreamChat sends a streaming completion request and returns the delta
// stream. Streaming never retries: a request that may already be billed
// or partially emitted is unsafe to reissue, so the first error wins.
// The caller must Close the returned stream.
func (c *Client) StreamChat(ctx context.Context, messages []Message, opts *ChatOptions) (*Stream, error) {
	model, err := c.resolveModel(opts)
	if err != nil {
		return nil, err
	}
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(buildChatRequest(model, messages, opts, true))
	if err != nil {
		return nil, NewValidationError("messages", fmt.Sprintf("cannot encode request: %v", err))
	}

	resp, err := c.exec.execute(ctx, streamPolicy, func(ctx context.Context) (*http.Response, error) {
		return c.post(ctx, payload, true)
	})
	if err != nil {
		return nil, err
	}
	return newStream(ctx, resp.Body), nil
}

func (c *Client) resolveModel(opts *ChatOptions) (string, error) {
	model := c.model
	if opts != nil && opts.Model != "" {
		model = opts.Model
	}
	if model == "" {
		return "", NewValidationError("model", "model is required")
	}
	return model, nil
}

// post issues one attempt. A fresh body reader is built per attempt so
// retries never resend a half-consumed buffer.
func (c *Client) post(ctx context.Context, payload []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return c.httpc.Do(req)
}

// parseCompletion validates the structure of a buffered completion body.
// A missing message object is a parse error, while content that is JSON
// null or the empty string is an accepted empty reply; providers differ
// here and the tolerance is intentional.
func parseCompletion(raw []byte) (*ChatResponse, error) {
	var wire chatCompletion
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, NewParseError("malformed completion response", raw, err)
	}
	if len(wire.Choices) == 0 {
		return nil, NewParseError("completion response has no choices", raw, nil)
	}
	choice := wire.Choices[0]
	if choice.Message == nil {
		return nil, NewParseError("completion choice has no message", raw, nil)
	}
	return &ChatResponse{
		Content: choice.Message.Content,
		Usage: Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
		Model:        wire.Model,
		ID:           wire.ID,
		FinishReason: choice.FinishReason,
	}, nil
}
