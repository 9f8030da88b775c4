// Package api hosts the HTTP server, middleware, and REST handlers for serve
// mode. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to submit a download job, GET /v1/jobs/{job_id} and
//     /v1/jobs/{job_id}/dumps to follow it.
//   - GET /v1/modules to list the input modules.
package api
