// Package generate abstracts the streaming text completion backend.
//
// The worker only needs a pull loop: open a stream, Recv tokens until io.EOF
// or an error, Close. OpenAIGenerator is the production backend; Scripted
// replays canned tokens for tests.
package generate
