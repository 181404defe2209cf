// ABOUTME: Generator abstraction over streaming text completion backends
// ABOUTME: Token-at-a-time pull interface, io.EOF marks normal exhaustion

package generate

import "context"

// Generator produces a streaming completion for a user message.
type Generator interface {
	// Generate opens a token stream for the given user message. The caller
	// must Close the stream when done with it.
	Generate(ctx context.Context, userMessage string) (Stream, error)
}

// Stream yields completion tokens one at a time. Recv returns io.EOF when
// the completion is finished and any other error when it broke mid-stream.
type Stream interface {
	Recv() (string, error)
	Close() error
}
