package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testSession(t *testing.T, handler http.HandlerFunc, opts SessionOptions) *Session {
	t.Helper()
	client, _ := testClient(t, handler)
	session, err := client.NewSession(opts)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return session
}

func echoHandler(reply string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionJSON(`"` + reply + `"`)))
	}
}

func rolesOf(history []Message) []MessageRole {
	roles := make([]MessageRole, len(history))
	for i, m := range history {
		roles[i] = m.Role
	}
	return roles
}

func TestSessionSendAppendsBothMessages(t *testing.T) {
	session := testSession(t, echoHandler("Fine, thanks."), SessionOptions{System: "Be brief."})

	reply, err := session.Send(context.Background(), "How are you?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "Fine, thanks." {
		t.Errorf("unexpected reply %q", reply)
	}

	history := session.History()
	want := []MessageRole{RoleSystem, RoleUser, RoleAssistant}
	if len(history) != len(want) {
		t.Fatalf("expected %d messages, got %v", len(want), history)
	}
	for i, role := range want {
		if history[i].Role != role {
			t.Errorf("position %d: expected role %s, got %s", i, role, history[i].Role)
		}
	}
}

func TestSessionClearPreservesSystemPrompt(t *testing.T) {
	session := testSession(t, echoHandler("ok"), SessionOptions{System: "Be brief."})

	for _, prompt := range []string{"Hello", "How are you?"} {
		if _, err := session.Send(context.Background(), prompt); err != nil {
			t.Fatalf("Send(%q): %v", prompt, err)
		}
	}
	if err := session.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	history := session.History()
	if len(history) != 1 || history[0].Role != RoleSystem || history[0].Content != "Be brief." {
		t.Errorf("expected history == [system \"Be brief.\"], got %v", history)
	}
}

func TestSessionClearAllDropsSystemPrompt(t *testing.T) {
	session := testSession(t, echoHandler("ok"), SessionOptions{System: "Be brief."})
	if err := session.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if history := session.History(); len(history) != 0 {
		t.Errorf("expected empty history, got %v", history)
	}
}

func TestSessionSendFailureKeepsUserMessage(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	session := testSession(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(completionJSON(`"ok"`)))
	}, SessionOptions{})

	if _, err := session.Send(context.Background(), "Hello"); err == nil {
		t.Fatal("expected Send to fail")
	}

	history := session.History()
	if len(history) != 1 || history[0].Role != RoleUser {
		t.Fatalf("expected only the user message to persist, got %v", history)
	}

	// The gate must be back to idle: a subsequent Send succeeds.
	fail.Store(false)
	if _, err := session.Send(context.Background(), "Again"); err != nil {
		t.Fatalf("expected session to be idle after a failure, got %v", err)
	}
}

func TestSessionRejectsConcurrentSend(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	session := testSession(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-unblock
		_, _ = w.Write([]byte(completionJSON(`"slow"`)))
	}, SessionOptions{})

	done := make(chan error, 1)
	go func() {
		_, err := session.Send(context.Background(), "first")
		done <- err
	}()
	<-started

	// Rejected synchronously, without waiting for the first call.
	begin := time.Now()
	_, err := session.Send(context.Background(), "second")
	if !IsConcurrencyError(err) {
		t.Errorf("expected concurrency error, got %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 100*time.Millisecond {
		t.Errorf("expected synchronous rejection, took %v", elapsed)
	}
	if err := session.AddMessage(RoleUser, "nope"); !IsConcurrencyError(err) {
		t.Errorf("expected AddMessage to be rejected while busy, got %v", err)
	}
	if err := session.Clear(); !IsConcurrencyError(err) {
		t.Errorf("expected Clear to be rejected while busy, got %v", err)
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("first Send failed: %v", err)
	}
}

func TestSessionSendStreamCommitsOnSuccess(t *testing.T) {
	session := testSession(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
				"data: [DONE]\n\n"))
	}, SessionOptions{})

	stream, err := session.SendStream(context.Background(), "Hi")
	if err != nil {
		t.Fatalf("SendStream: %v", err)
	}
	for stream.Next() {
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	_ = stream.Close()

	history := session.History()
	want := []MessageRole{RoleUser, RoleAssistant}
	if len(history) != 2 || history[0].Role != want[0] || history[1].Role != want[1] {
		t.Fatalf("expected user+assistant history, got %v", rolesOf(history))
	}
	if history[1].Content != "Hello" {
		t.Errorf("expected committed reply to be the concatenated deltas, got %q", history[1].Content)
	}
}

func TestSessionSendStreamFailureCommitsNothing(t *testing.T) {
	var calls atomic.Int64
	session := testSession(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(
				"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n" +
					"data: {broken\n\n"))
			return
		}
		_, _ = w.Write([]byte(completionJSON(`"ok"`)))
	}, SessionOptions{})

	stream, err := session.SendStream(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("SendStream: %v", err)
	}
	var got string
	for stream.Next() {
		got += stream.Text()
	}
	if got != "Hi" {
		t.Errorf("expected yielded deltas to stand, got %q", got)
	}
	var llmErr *Error
	if !errors.As(stream.Err(), &llmErr) || llmErr.Type != ErrorTypeParse {
		t.Fatalf("expected parse error, got %v", stream.Err())
	}
	_ = stream.Close()

	history := session.History()
	if len(history) != 1 || history[0].Role != RoleUser {
		t.Fatalf("expected only the user message, got %v", rolesOf(history))
	}

	// Busy released despite the failure.
	if _, err := session.Send(context.Background(), "again"); err != nil {
		t.Fatalf("expected session idle after stream failure, got %v", err)
	}
}

func TestSessionSendStreamAbandonedCommitsNothing(t *testing.T) {
	session := testSession(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n" +
				"data: [DONE]\n\n"))
	}, SessionOptions{})

	stream, err := session.SendStream(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("SendStream: %v", err)
	}
	if !stream.Next() {
		t.Fatal("expected one delta")
	}
	// Abandon before exhaustion.
	_ = stream.Close()

	history := session.History()
	if len(history) != 1 || history[0].Role != RoleUser {
		t.Fatalf("expected no assistant commit for an abandoned stream, got %v", rolesOf(history))
	}
	if err := session.AddMessage(RoleUser, "still idle?"); err != nil {
		t.Fatalf("expected session idle after Close, got %v", err)
	}
}

func TestSessionAddMessage(t *testing.T) {
	session := testSession(t, echoHandler("ok"), SessionOptions{System: "sys"})

	if err := session.AddMessage(RoleUser, "u"); err != nil {
		t.Fatalf("AddMessage(user): %v", err)
	}
	if err := session.AddMessage(RoleAssistant, "a"); err != nil {
		t.Fatalf("AddMessage(assistant): %v", err)
	}

	err := session.AddMessage(RoleSystem, "nope")
	var llmErr *Error
	if !errors.As(err, &llmErr) || llmErr.Type != ErrorTypeValidation {
		t.Fatalf("expected validation error for system role, got %v", err)
	}
	// The system rejection is distinct from a generic bad-role error.
	if !strings.Contains(llmErr.Message, "session is created") {
		t.Errorf("expected a system-specific rejection message, got %q", llmErr.Message)
	}

	if err := session.AddMessage("robot", "x"); err == nil {
		t.Error("expected unknown role to be rejected")
	}
}

func TestSessionHistoryIsDefensiveCopy(t *testing.T) {
	session := testSession(t, echoHandler("ok"), SessionOptions{System: "sys"})
	if err := session.AddMessage(RoleUser, "original"); err != nil {
		t.Fatal(err)
	}

	history := session.History()
	history[0] = NewUserMessage("mutated")
	history[1].Content = "mutated"

	fresh := session.History()
	if fresh[0].Role != RoleSystem || fresh[0].Content != "sys" {
		t.Error("mutating the returned copy must not affect the session")
	}
	if fresh[1].Content != "original" {
		t.Error("mutating the returned copy must not affect stored messages")
	}
}

func TestSessionSeededHistory(t *testing.T) {
	client, _ := testClient(t, echoHandler("ok"))
	session, err := client.NewSession(SessionOptions{
		System:  "sys",
		Initial: []Message{NewUserMessage("earlier"), NewAssistantMessage("reply")},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	history := session.History()
	if len(history) != 3 || history[0].Role != RoleSystem {
		t.Fatalf("expected system-first seeded history, got %v", rolesOf(history))
	}

	if _, err := client.NewSession(SessionOptions{Initial: []Message{NewSystemMessage("sneaky")}}); err == nil {
		t.Error("expected system message in seeded history to be rejected")
	}
}

func TestSessionStreamRejectedWhileBusy(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	session := testSession(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-unblock
		_, _ = w.Write([]byte(completionJSON(`"slow"`)))
	}, SessionOptions{})

	go func() {
		_, _ = session.Send(context.Background(), "first")
	}()
	<-started
	defer close(unblock)

	if _, err := session.SendStream(context.Background(), "second"); !IsConcurrencyError(err) {
		t.Errorf("expected concurrency error before any suspension, got %v", err)
	}
}

func TestSessionHistoryReadableWhileBusy(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	session := testSession(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-unblock
		_, _ = w.Write([]byte(completionJSON(`"ok"`)))
	}, SessionOptions{System: "sys"})

	go func() {
		_, _ = session.Send(context.Background(), "hi")
	}()
	<-started
	defer close(unblock)

	if history := session.History(); len(history) < 1 {
		t.Error("expected a readable history snapshot while busy")
	}
}
