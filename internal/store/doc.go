// Package store provides durable persistence for conversations and turns.
//
// # Overview
//
// The store is the authoritative record of what a generation task produced.
// The broadcast channel gives listeners a best-effort live view; the store is
// what survives reconnects and restarts.
//
// # Entities
//
// A Conversation owns an ordered collection of Turns. A Turn is a single
// message: user turns are written once with status completed, assistant turns
// are created pending and then driven through the lifecycle by the worker:
//
//	pending -> processing -> streaming -> completed
//	        \------------------------\-> failed
//
// An empty completion may finalize straight from processing. Transitions
// outside the table are rejected with ErrInvalidTransition, so a
// crashed or duplicate worker cannot silently rewind a terminal turn.
//
// # Implementations
//
// Two interchangeable implementations exist: SQLiteStore (modernc.org/sqlite,
// the default) and PostgresStore (pgx pool, for multi-process deployments).
// Every operation is individually atomic; there are no cross-turn
// transactions. Any turn create or update bumps the parent conversation's
// updated_at, which drives the "most recently active" list ordering.
//
// Not-found is a normal outcome for lookups and is reported as ErrNotFound,
// never as a panic or an opaque driver error.
package store
