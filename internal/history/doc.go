// Package history keeps the per-thread conversation history that gives
// follow-up questions their context.
//
// # Model
//
// A History is an ordered slice of Messages for one thread id. Each Message
// has a role (user or assistant) and content blocks; the relay always writes
// exactly one text block per message, which is also the wire shape the agent
// API expects in its "messages" array.
//
// # Retention
//
// Every backend enforces the same sliding window via Trim: after an append
// the oldest messages are dropped until at most MaxMessages remain. If the
// window would start on an assistant message, that message is dropped too so
// the history still opens with a user turn.
//
// There is no eviction of whole threads. Inactive threads stay until the
// process exits (memory) or forever (persistent backends).
//
// # Backends
//
//   - memory:   process-wide map guarded by a RWMutex (default)
//   - sqlite:   modernc.org/sqlite, one row per message
//   - bolt:     go.etcd.io/bbolt, one key per thread holding JSON
//   - postgres: jackc/pgx/v5 pool, one row per message
//
// Use Open to build the backend named in configuration:
//
//	store, err := history.Open(ctx, history.Options{Backend: "sqlite", Path: "relay.db"})
//
// # Concurrency
//
// Store methods are safe for concurrent use. Two appends racing on the same
// thread id are not merged: each backend applies its read-trim-write as a
// unit, so the last append to commit decides the stored window. Callers that
// need ordered same-thread round trips serialize them (see relay.Session).
package history
