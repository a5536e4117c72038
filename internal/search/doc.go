// Package search holds the shared vocabulary of the places search-job engine:
// jobs, places, progress snapshots, and the interfaces that connect the
// provider, walker, orchestrator, stores, and API layers.
package search
