/*
Package observability provides Prometheus metrics for notebook executions.

Metrics are driven by domain.LifecycleHooks, so any orchestrator that accepts
hooks can be observed without knowing about Prometheus.
*/
package observability
