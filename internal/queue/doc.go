// Package queue dispatches generation work from the API server to workers.
//
// It wraps asynq with this system's policy baked in: one task type
// (chat:generate), one queue, caller-chosen task ids so the id can be handed
// to the client before the worker starts, and no automatic retries, since a
// failed generation is surfaced to the user rather than silently rerun.
package queue
