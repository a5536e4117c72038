// Package progress provides the lifecycle events search jobs emit while they
// run, plus a non-blocking hub that batches those events on a background
// goroutine and fans them out to pluggable sinks such as structured logs or
// Prometheus collectors. The hub is observational only: job state lives in the
// job store, and a dropped event never changes a job outcome.
package progress
