// Package config loads runtime configuration for the vaultsync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON or YAML file selected with -c/--config or VAULTSYNC_CONFIG.
//  3. Command-line flags registered on the CLI root command by BindFlags.
//
// # File schema
//
// Durations accept strings like "3s" or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "server_http_addr": "http://127.0.0.1:8080",
//	  "db_path": "vaultsync.db",
//	  "namespace": "notes",
//	  "time_slot_width": "24h",
//	  "write_timeout": "10s"
//	}
package config
