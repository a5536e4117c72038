// Package sinks implements concrete progress consumers: a structured log sink
// and a Prometheus sink tracking job starts, completions, and run time.
package sinks
