// Package server hosts the creator-analytics API from a single HTTP server.
//
// The server builds a consistent middleware chain of request identification,
// rate limiting, CORS, security headers, metrics, and logging so handlers all
// share common protections and instrumentation. Authentication is not part of
// the chain: each handler validates its own bearer token.
package server
