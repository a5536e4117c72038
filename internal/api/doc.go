// Package api hosts the HTTP server for job submission and polling.
// Routes:
//   - POST /v1/jobs submits a search and returns its id.
//   - GET /v1/jobs/{job_id} and GET /v1/jobs?owner= read job snapshots.
//   - DELETE /v1/jobs/{job_id} removes a job that is not running.
//   - GET /v1/jobs/{job_id}/export downloads a completed job as csv, json or xlsx.
//   - POST /v1/jobs/{job_id}/exports archives an export in the blob store.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
package api
