// Package api implements the HTTP API and WebSocket server for reverie-core.
//
// This package provides:
//   - The experiment endpoints under /epitome/, answering with the
//     {"code", "message", "data"} envelope the simulation UI expects
//   - WebSocket groups carrying the output of running experiments
//   - Run history, audit trail and health endpoints under /api/v1
//   - Prometheus metrics exposition
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Optional JWT bearer authentication
//
// # Architecture
//
// Handlers validate input and delegate to the experiment launcher, the
// lifecycle service and the directory store. The Hub is both the
// WebSocket server and the local output relay: the launcher publishes each
// output line to the Hub, which pushes it to every client connected to
// ws/experiment/<target>/.
//
// # Security
//
// With no JWT secret configured the API is open, as the simulation UI has
// always used it. With a secret, every route except health and WebSocket
// verifies a presented bearer token, and security.jwt.required makes one
// mandatory. An expired token is answered with envelope code 9009.
package api
