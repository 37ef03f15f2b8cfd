// Package metrics defines the agent's Prometheus metrics and health
// endpoints.
//
// All metrics are registered against the default registry at package init
// and exposed through Handler. Counters and histograms are updated inline
// by the owning components; point-in-time gauges (task counts by status,
// zone counts, open sessions) are sampled from the store by Collector on a
// fixed interval. HealthHandler and ReadyHandler serve the component health
// map that long-running components keep current through UpdateComponent.
package metrics
