// Package api hosts the HTTP handlers that front the creator-analytics
// REST API.
//
// The handlers assembled on Handler coordinate request validation, bearer
// token authentication, and response shaping while delegating persistence to
// a storage.Repository implementation and credit accounting to a
// credits.Ledger, both injected at construction time. The package does not
// reach for globals or singletons and expects callers to supply fully
// configured dependencies.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced rate limiting, CORS, security headers, metrics, and
// request logging. New routes should preserve that contract by avoiding
// duplicate concerns and leaning on the middleware guarantees established in
// the server stack.
package api
