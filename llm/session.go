package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// SessionOptions configures a new conversation session.
type SessionOptions struct {
	// System is the system prompt. It can only be set here; the
	// session presents it as the logical first message on every call.
	System string

	// Initial seeds the history with user/assistant messages.
	Initial []Message

	// Options apply to every call the session makes.
	Options *ChatOptions
}

// Session owns an ordered message history and a single-flight gate.
// At most one operation may be in flight; concurrent calls are rejected
// with a concurrency error rather than queued. History is mutated only
// by the session's own methods; History returns an independent copy.
type Session struct {
	client *Client
	opts   *ChatOptions
	logger zerolog.Logger

	mu      sync.Mutex
	busy    bool
	system  string
	history []Message
}

// NewSession creates a conversation session bound to the client.
func (c *Client) NewSession(opts SessionOptions) (*Session, error) {
	for i, m := range opts.Initial {
		switch m.Role {
		case RoleUser, RoleAssistant:
		case RoleSystem:
			return nil, NewValidationError("initial",
				"system prompt belongs in SessionOptions.System, not in the seeded history")
		default:
			return nil, NewValidationError("initial",
				fmt.Sprintf("unknown message role %q at index %d", m.Role, i))
		}
	}
	s := &Session{
		client: c,
		opts:   opts.Options,
		logger: c.logger.With().Str("component", "session").Logger(),
		system: opts.System,
	}
	s.history = append(s.history, opts.Initial...)
	return s, nil
}

// Send appends a user message, runs a completion over the full history,
// and appends the assistant reply. On failure the user message stays in
// history (it was genuinely sent) and no assistant message is added; the
// session returns to idle on every path.
func (s *Session) Send(ctx context.Context, content string) (string, error) {
	if err := s.acquire("send"); err != nil {
		return "", err
	}
	defer s.release()

	s.append(NewUserMessage(content))
	resp, err := s.client.Chat(ctx, s.snapshot(), s.opts)
	if err != nil {
		return "", err
	}
	s.append(NewAssistantMessage(resp.Content))
	return resp.Content, nil
}

// SendStream appends a user message and returns the reply as a delta
// stream. The session stays busy until the stream ends or is closed; the
// concatenated deltas are committed as one assistant message only when
// the stream completes cleanly. The caller must Close the stream.
func (s *Session) SendStream(ctx context.Context, content string) (*SessionStream, error) {
	if err := s.acquire("sendStream"); err != nil {
		return nil, err
	}

	s.append(NewUserMessage(content))
	stream, err := s.client.StreamChat(ctx, s.snapshot(), s.opts)
	if err != nil {
		s.release()
		return nil, err
	}
	return &SessionStream{session: s, stream: stream}, nil
}

// AddMessage appends a user or assistant message without calling the
// server. The system role is rejected explicitly: system prompts are
// only settable at session construction.
func (s *Session) AddMessage(role MessageRole, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return NewConcurrencyError("addMessage")
	}
	switch role {
	case RoleUser, RoleAssistant:
	case RoleSystem:
		return NewValidationError("role", "system prompt can only be set when the session is created")
	default:
		return NewValidationError("role", fmt.Sprintf("unknown message role %q", role))
	}
	s.history = append(s.history, Message{Role: role, Content: content})
	return nil
}

// Clear truncates the history, preserving the system prompt.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return NewConcurrencyError("clear")
	}
	s.history = nil
	return nil
}

// ClearAll truncates the history and discards the system prompt.
func (s *Session) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return NewConcurrencyError("clearAll")
	}
	s.history = nil
	s.system = ""
	return nil
}

// History returns a fresh copy of the conversation, system message
// first. Mutating the returned slice never affects the session.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked()
}

func (s *Session) historyLocked() []Message {
	out := make([]Message, 0, len(s.history)+1)
	if s.system != "" {
		out = append(out, NewSystemMessage(s.system))
	}
	return append(out, s.history...)
}

func (s *Session) snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked()
}

func (s *Session) append(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, m)
}

// acquire transitions idle to busy, rejecting on contention.
func (s *Session) acquire(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return NewConcurrencyError(op)
	}
	s.busy = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// SessionStream adapts a Stream so that the accumulated reply is merged
// into the session history on a well-defined success transition. An
// erroring or abandoned stream commits nothing, but already-yielded
// deltas remain delivered to the consumer.
type SessionStream struct {
	session *Session
	stream  *Stream
	acc     strings.Builder
	settled bool
}

// Next advances to the next content delta.
func (ss *SessionStream) Next() bool {
	if ss.stream.Next() {
		ss.acc.WriteString(ss.stream.Text())
		return true
	}
	ss.settle()
	return false
}

// Text returns the delta produced by the last successful Next.
func (ss *SessionStream) Text() string {
	return ss.stream.Text()
}

// Err returns the terminal error, or nil after a clean end of stream.
func (ss *SessionStream) Err() error {
	return ss.stream.Err()
}

// Close releases the stream and the session's single-flight gate.
func (ss *SessionStream) Close() error {
	err := ss.stream.Close()
	ss.settle()
	return err
}

// settle runs exactly once per stream: commit on success, then return
// the session to idle regardless of outcome.
func (ss *SessionStream) settle() {
	if ss.settled {
		return
	}
	ss.settled = true
	if ss.stream.completed() {
		ss.session.append(NewAssistantMessage(ss.acc.String()))
	} else if err := ss.stream.Err(); err != nil {
		ss.session.logger.Debug().Err(err).Msg("Stream ended without commit")
	}
	ss.session.release()
}
