// Package api hosts the optional status server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for a live snapshot of the current harvest run.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/sites for run
//     history via the RunRepository interface.
package api
