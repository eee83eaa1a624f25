// Package config handles configuration loading for scribe-gateway.
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
//	github:
//	  token: "${GITHUB_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/scribe/gateway.db"
//
// Remote repositories:
//
//	github:
//	  token: "${GITHUB_TOKEN}"
//	  docs_owner: "acme"
//	  docs_repo: "product-docs"
//	  code_owner: "acme"
//	  code_repo: "product-api"
//	  base_branch: "main"
//
// Shared secrets:
//
//	auth:
//	  admin_secret: "${SCRIBE_ADMIN_SECRET}"
//	  webhook_secret: "${SCRIBE_WEBHOOK_SECRET}"
//
// Demo behavior:
//
//	demo:
//	  access_level: "medium"  # high (auto-commit) or medium (review-first)
//	  delay_unit: "1s"        # scales the simulated analysis delays
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "scribe-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
