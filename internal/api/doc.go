// Package api is the HTTP front door: REST for conversation CRUD and message
// submission, SSE for live generation streams, plus health and metrics.
package api
