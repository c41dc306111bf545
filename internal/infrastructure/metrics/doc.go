// Package metrics exposes the Prometheus collector used by the pregelflow
// runtime (executor, scheduler, and checkpoint stores). Every collector owns
// a private registry, so tests and embedded executors never collide on
// registration; flowgraph-server serves the default collector on /metrics.
package metrics
