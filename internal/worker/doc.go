// Package worker consumes generation tasks and streams results outward.
//
// For each task the runner opens a completion stream, publishes every token
// on the task's broadcast topic, and mirrors it into the assistant turn
// record, finishing with exactly one terminal event. Failures at any point
// publish an error event and mark the turn failed with partial content kept.
package worker
