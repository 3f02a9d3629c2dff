// Package server hosts the dashboard API from a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// security headers, CORS, metrics, rate limiting, auth, and audit so handlers
// all share common protections and instrumentation.
package server
