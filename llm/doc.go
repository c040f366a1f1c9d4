// Package llm is a client for OpenAI-compatible chat completion APIs.
//
// The package is organized around three cooperating pieces:
//
//  1. A resilient request executor that classifies failures into a closed
//     taxonomy (Error/ErrorType) and retries transient ones with bounded
//     exponential backoff, honoring context cancellation at every wait.
//
//  2. An incremental SSE decoder (Stream) that turns a streaming response
//     body into a forward-only sequence of content deltas.
//
//  3. A single-flight conversation Session that owns an ordered message
//     history and keeps it consistent across success, failure, and
//     cancellation.
//
// # Usage
//
//	client, err := llm.NewClient(apiKey, "", "gpt-4o-mini", logger)
//	if err != nil { ... }
//
//	resp, err := client.Chat(ctx, []llm.Message{
//	    llm.NewUserMessage("Hello!"),
//	}, nil)
//
// Streaming:
//
//	stream, err := client.StreamChat(ctx, msgs, nil)
//	if err != nil { ... }
//	defer stream.Close()
//	for stream.Next() {
//	    fmt.Print(stream.Text())
//	}
//	if err := stream.Err(); err != nil { ... }
//
// Sessions keep history for you and reject concurrent use rather than
// queueing it:
//
//	session, _ := client.NewSession(llm.SessionOptions{System: "Be brief."})
//	reply, err := session.Send(ctx, "Hello!")
//
// All failures surface as *Error values; use errors.As or the Is*
// predicates to branch on the failure kind.
package llm
