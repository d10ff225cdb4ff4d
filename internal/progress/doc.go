// Package progress carries harvest milestones (run, site, page and image
// events) from workers to pluggable sinks. Emit never blocks; a background
// goroutine batches events and fans them out to Prometheus, logs or a run
// repository.
package progress
