// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/search and /v1/search/stream for synchronous searches.
//   - POST, GET, and DELETE on /v1/jobs for background jobs.
//
// Every JSON response uses the envelope {"success", "message", "data"}.
package api
