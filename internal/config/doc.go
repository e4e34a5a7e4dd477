// Package config handles configuration loading for espfleet.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults. The fleet inventory
// (which devices exist, which agents to spawn) lives in a separate TOML file
// loaded with LoadInventory.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ESPFLEET_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/espfleet/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${ESPFLEET_DB_PATH}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	orchestrator:
//	  health_check_interval: "10s"
//	device:
//	  ping_timeout: "5s"
//	  command_timeout: "10s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Orchestrator settings:
//
//	orchestrator:
//	  health_check_interval: "10s"
//	  scheduler_max_concurrent: 10
//	  result_cache_size: 1024
//
// Router scoring weights (all-zero means built-in defaults):
//
//	router:
//	  availability_weight: 0.5
//	  success_rate_weight: 0.3
//	  recency_weight: 0.2
//
// Device HTTP timing:
//
//	device:
//	  ping_timeout: "5s"
//	  command_timeout: "10s"
//
// Database (empty path disables the persistent ledger):
//
//	database:
//	  path: "/var/lib/espfleet/fleet.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Fleet Inventory
//
// The inventory file uses TOML array-of-tables blocks:
//
//	[[device]]
//	id = "esp32-lab-1"
//	name = "bench unit"
//	address = "10.0.0.31"
//	capabilities = ["wifi", "lora"]
//
//	[[agent]]
//	type = "frequency"
//	count = 2
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/espfleet/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
