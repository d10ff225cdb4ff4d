// Package sinks implements progress consumers: structured logs, Prometheus
// collectors on a caller-supplied registry, and a run repository.
package sinks
