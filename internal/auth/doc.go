// Package auth provides bearer-token authentication for the relay's HTTP API.
//
// # Tokens
//
// Tokens are HS256 JWTs signed with server.jwt_secret (at least 32 bytes).
// Each carries the issuer "coven-relay", a subject naming the caller, an
// expiry and optional scopes:
//
//	v, err := auth.NewJWTVerifier([]byte(secret))
//	token, err := v.Generate("ops-dashboard", 24*time.Hour, "ask")
//
// A token with no scopes may call every endpoint.
//
// # Middleware
//
// HTTPAuthMiddleware verifies the Authorization header and stores the
// Principal in the request context. RequireScope narrows a route further:
//
//	r.Use(auth.HTTPAuthMiddleware(v, logger))
//	r.With(auth.RequireScope("ask")).Post("/api/ask", h.ask)
//
// Handlers read the caller with FromContext.
package auth
