// Package config handles configuration loading for the localsync engine.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; embedders that
// configure the engine programmatically start from Default().
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	remote:
//	  token: "${RENTFOLD_API_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	persistence:
//	  save_interval: "30s"
//	  idle_budget: "5s"
//	  throttle_window: "1m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Local database:
//
//	database:
//	  name: "rentfold"
//	  data_dir: "/var/lib/rentfold"
//	  multi_tenant: true
//
// Fallback storage backends:
//
//	storage:
//	  file_area_dir: "/var/lib/rentfold/files"
//	  badger_dir: "/var/lib/rentfold/badger"
//	  level_dir: "/var/lib/rentfold/level"
//	  level_quota: 4194304
//
// Persistence timing:
//
//	persistence:
//	  save_interval: "30s"
//	  idle_budget: "5s"
//	  throttle_window: "1m"
//	  reparse: false
//
// Remote system of record:
//
//	remote:
//	  base_url: "https://api.example.com"
//	  token: "${RENTFOLD_API_TOKEN}"
//	  tenant_id: "tenant-1"
//	  page_size: 500
//	  page_yield: "10ms"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Database name and data directory presence
//   - Tenant identifier presence in multi-tenant mode
//   - Token presence whenever a remote base URL is configured
//   - Duration format validity
//   - Non-negative quotas and page sizes
package config
