// ABOUTME: Package api serves the relay over HTTP for scripts and other tools
// ABOUTME: JSON and server-sent-event endpoints on a chi router, optionally on a tailnet

// Package api exposes relay sessions over HTTP.
//
// Routes:
//
//	GET  /health               liveness, always public
//	POST /api/ask              one round trip; JSON, or SSE with Accept: text/event-stream
//	GET  /api/threads/{id}     stored history for a thread
//	GET  /api/agents           the agent catalog
//
// When a token verifier is configured every /api route requires a bearer
// JWT, and /api/ask additionally requires the "ask" scope.
//
// The streaming form of /api/ask emits "progress" events as the agent
// reports status, then exactly one "result" event carrying the same body
// the JSON form returns.
package api
