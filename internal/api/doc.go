// Package api hosts the operator HTTP server that runs next to a collection
// job. Routes:
//   - GET /healthz and /readyz for liveness and store readiness.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for runs seen by this process.
package api
