// Package chat is the orchestration layer between transport and storage.
//
// Submit performs the dispatch handshake: validate, write the user turn
// completed and the assistant turn pending under a fresh task id, enqueue,
// and hand the task id back so the caller can attach to the live stream.
// Relay is the listener side: connected handshake, forwarded broker events,
// one terminal event, close.
package chat
