package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
)

// readChunkSize is how many bytes one underlying read may deliver.
const readChunkSize = 4096

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// Stream is a lazy, forward-only sequence of content deltas decoded from
// an SSE response body. It is finite (it ends on the [DONE] sentinel or
// end-of-stream) and not restartable: once Next has returned false it
// keeps returning false.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	ctx  context.Context
	body io.ReadCloser

	carry    []byte // partial line held over between reads
	chunk    []byte
	text     string
	err      *Error
	done     bool
	finished bool // reached [DONE] or EOF, as opposed to closed early

	closeOnce sync.Once
	closeErr  error
}

func newStream(ctx context.Context, body io.ReadCloser) *Stream {
	return &Stream{
		ctx:   ctx,
		body:  body,
		chunk: make([]byte, readChunkSize),
	}
}

// Next advances to the next non-empty content delta. It returns false
// when the stream ends, errors, or is cancelled; Err distinguishes the
// cases. Deltas yielded before a failure remain delivered; partial
// output is never retracted.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	for {
		// Decode every complete line already buffered before
		// touching the network again.
		for {
			idx := bytes.IndexByte(s.carry, '\n')
			if idx < 0 {
				break
			}
			line := s.carry[:idx]
			s.carry = s.carry[idx+1:]

			delta, terminal, err := decodeFrame(line)
			if err != nil {
				s.fail(err)
				return false
			}
			if terminal {
				s.finish()
				return false
			}
			// Empty deltas are valid no-op frames; never yield them.
			if delta != "" {
				s.text = delta
				return true
			}
		}

		// The cancellation check happens before every read so a
		// cancelled consumer never blocks on the socket.
		if err := s.ctx.Err(); err != nil {
			s.fail(NewCancelledError("stream cancelled", err))
			return false
		}

		n, err := s.body.Read(s.chunk)
		if n > 0 {
			s.carry = append(s.carry, s.chunk[:n]...)
		}
		switch {
		case err == nil:
		case err == io.EOF:
			// Whatever partial frame remains in carry is discarded;
			// a frame without its newline never arrived whole.
			s.finish()
			return false
		case s.ctx.Err() != nil:
			s.fail(NewCancelledError("stream cancelled", s.ctx.Err()))
			return false
		default:
			s.fail(NewNetworkError("stream read failed", err))
			return false
		}
	}
}

// Text returns the delta produced by the last successful Next.
func (s *Stream) Text() string {
	return s.text
}

// Err returns the terminal error, or nil after a clean end of stream.
func (s *Stream) Err() error {
	if s.err == nil {
		return nil
	}
	return s.err
}

// Close releases the underlying body. It is safe to call multiple times
// and after the stream has already ended; the body is closed exactly
// once across all exit paths.
func (s *Stream) Close() error {
	s.done = true
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// completed reports whether the stream was exhausted without error.
// A stream abandoned via Close before its terminal frame is not
// completed.
func (s *Stream) completed() bool {
	return s.finished && s.err == nil
}

func (s *Stream) finish() {
	s.finished = true
	_ = s.Close()
}

func (s *Stream) fail(err *Error) {
	s.err = err
	s.done = true
	_ = s.Close()
}

// decodeFrame decodes one SSE line. It returns the content delta (may be
// empty), whether the frame terminates the stream, and a parse error for
// a data frame whose payload is malformed JSON. Blank lines, comment
// lines, and non-data fields are ignored.
func decodeFrame(line []byte) (string, bool, *Error) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) == 0 || line[0] == ':' {
		return "", false, nil
	}
	if !bytes.HasPrefix(line, dataPrefix) {
		return "", false, nil
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if bytes.Equal(payload, doneSentinel) {
		return "", true, nil
	}

	var chunk chatStreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		// A corrupt frame mid-stream cannot be recovered by reading
		// on; the framing itself is untrustworthy from here.
		return "", false, NewParseError("malformed stream frame", payload, err)
	}
	if len(chunk.Choices) == 0 {
		return "", false, nil
	}
	return chunk.Choices[0].Delta.Content, false, nil
}
