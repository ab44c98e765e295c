/*
Package metrics exposes Prometheus gauges/counters/histograms for every
engine (persistence, committer, subscription, sandbox, cache, search)
plus a Collector that polls a StatsSource on a fixed interval, and an
HTTP health/readiness/liveness checker independent of Prometheus.

# Usage

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/healthz", metrics.HealthHandler())
	http.HandleFunc("/readyz", metrics.ReadyHandler())

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CommitDuration, "committed")

	metrics.RegisterComponent("raft", true, "")
	metrics.RegisterComponent("persistence", true, "")

Readiness requires "raft", "persistence", and "api" to all be
registered healthy; liveness only reports the process is running.
*/
package metrics
