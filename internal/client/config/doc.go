// Package config loads runtime configuration for the finderid CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see Defaults).
//  2. Optional config file given with -c/--config. Files ending in .yaml or
//     .yml are read as YAML, anything else as JSON.
//  3. Command-line flags registered by (*Config).BindFlags, which override
//     earlier values.
//
// # File schema
//
// Durations use timex.Duration, so they can be strings like "30s" or
// integer nanoseconds:
//
//	server_addr: 127.0.0.1:50051
//	realtime_url: ws://127.0.0.1:8080/realtime
//	cache_dsn: /home/me/.finderid/cache.db
//	online_check_interval: 30s
//	pending_poll_interval: 5s
//	max_attempts: 0
//	log_level: info
//
// Note: This package does not read environment variables directly; use the
// config file or flags to configure values.
package config
