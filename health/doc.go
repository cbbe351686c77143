// Package health tracks the health of gateway components.
//
// The gateway reports three components: "transport", "dcc" and "cache". The
// transport's on-disconnect hook marks it unhealthy, a failed cache write marks
// the cache degraded, and registration failures mark the DCC unhealthy.
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("transport", "connected")
//	monitor.Update("dcc", health.FromError("dcc", err))
//	overall := monitor.AggregateHealth("liota-gateway")
//
// Error messages are sanitized before they are stored, so broker URLs, file
// paths and credentials never reach the /health endpoint.
package health
