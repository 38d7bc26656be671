// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET / and /read for the embedded control and reader pages.
//   - POST /v1/pipeline/{start,stop,reset} and GET /v1/pipeline/status for
//     control of the crawl loop.
//   - GET /v1/chapters and /v1/chapters/{number} for stored chapter fragments.
//   - GET /v1/errors for the persisted error log.
//   - GET /v1/runs and /v1/runs/{run_id} for run history via the
//     RunRepository interface.
package api
