// Package config handles configuration loading for support-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${SUPPORT_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # Websocket and REST API
//
// Database (sqlite for single instance, postgres for shared deployments):
//
//	database:
//	  driver: "sqlite"
//	  path: "/var/lib/support-gateway/gateway.db"
//	  # driver: "postgres"
//	  # url: "${DATABASE_URL}"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${SUPPORT_JWT_SECRET}"  # Required
//
// Chat behavior:
//
//	chat:
//	  store_timeout: "5s"    # Per-operation database deadline
//	  history_limit: 50      # Messages replayed on join
//	  send_queue_size: 64    # Per-connection outbound buffer
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "support-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
// Logging and metrics:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.Load("/etc/support-gateway/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
