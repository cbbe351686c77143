// Package metric provides the gateway's Prometheus registry, the shared
// gateway metrics and the HTTP server exposing them.
//
// NewMetricsRegistry registers the gateway metrics (transport status, publish
// and receive counters, registration outcomes and attempts, batch outcomes,
// sampler counters, cache writes, component health) together with the Go
// runtime collectors. Components that own extra metrics, such as sample queues
// and the publish pool, add them with MetricsRegistry.Register.
//
// Every Record method tolerates a nil *Metrics, so components can be built
// without a registry in tests.
//
//	registry := metric.NewMetricsRegistry()
//	srv := metric.NewServer(":9090", "/metrics", registry, monitor)
//	go srv.Run(ctx)
package metric
