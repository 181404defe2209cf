// ABOUTME: Scripted Generator for tests and offline development
// ABOUTME: Replays a fixed token list, optionally failing partway through

package generate

import (
	"context"
	"io"
	"time"
)

// Scripted is a Generator that replays a fixed sequence of tokens. If Err is
// set, the stream returns it after Tokens are exhausted instead of io.EOF,
// simulating a backend that dies mid-generation. If FailOpen is set, Generate
// itself fails.
type Scripted struct {
	Tokens   []string
	Err      error
	FailOpen error
	Delay    time.Duration // optional per-token delay
}

func (s *Scripted) Generate(ctx context.Context, _ string) (Stream, error) {
	if s.FailOpen != nil {
		return nil, s.FailOpen
	}
	return &scriptedStream{ctx: ctx, tokens: s.Tokens, err: s.Err, delay: s.Delay}, nil
}

type scriptedStream struct {
	ctx    context.Context
	tokens []string
	err    error
	delay  time.Duration
	pos    int
}

func (s *scriptedStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.tokens) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	token := s.tokens[s.pos]
	s.pos++
	return token, nil
}

func (s *scriptedStream) Close() error { return nil }
