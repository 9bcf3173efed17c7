// Package api hosts the HTTP server, middleware, and REST handlers for the
// download service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and /v1/jobs/batch for submission.
//   - GET /v1/jobs/{job_id} and /v1/status for progress.
//   - GET and PATCH /v1/config for runtime settings.
package api
