// Package config loads coordinator configuration from TOML with
// environment overrides.
//
// Example agentcoord.toml:
//
//	max_workers = 8
//	max_retries = 3
//	assignment_strategy = "capability_aware"
//	admission_timeout = "50ms"
//	task_timeout = "2m"
//	orchestrator_deadline = "30s"
//
//	[heartbeat]
//	interval = "5s"
//	offline_after_misses = 3
//	remove_after_misses = 12
//
//	[nats]
//	url = "nats://localhost:4222"
//
//	[[agents]]
//	id = "sql-1"
//	capabilities = ["sql"]
//
// Any scalar can be overridden with an AGENTCOORD_ variable named after its
// key, e.g. AGENTCOORD_MAX_WORKERS or AGENTCOORD_HEARTBEAT_INTERVAL.
package config
