// Package progress provides the event primitives and the non-blocking hub that
// the dispatcher and workers use to report harvest progress. Events are batched
// on a background goroutine and fanned out to pluggable sinks such as Prometheus
// metrics or structured logs.
package progress
