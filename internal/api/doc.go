// Package api hosts the HTTP handlers that front the dashboard REST API.
//
// The handlers assembled by Handler validate operator input, shape responses,
// and delegate all media work to the composer, cascade orchestrator, and
// recording controller injected at construction time. Engine credentials never
// leave the engine client; handlers only ever deal in dashboard sessions.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced authentication, rate limiting, metrics, and logging
// concerns. New routes should preserve that contract by avoiding duplicate
// validation and by leaning on the middleware guarantees established in the
// server stack.
package api
