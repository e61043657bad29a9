// Package config loads, validates and watches the gateway configuration.
//
// The file is YAML. Values may reference the environment with ${VAR} or
// ${VAR:-default}; "$$" yields a literal dollar sign. Decoding happens over
// DefaultConfig, so omitted fields keep their defaults, and unknown fields
// are rejected.
//
//	server:
//	  port: 8080
//	services:
//	  orders:
//	    baseUrl: http://orders:8080
//	    timeout: 10
//	    protocols: [REST, GraphQL]
//	resilience:
//	  retry:
//	    maxAttempts: 3
//	    retryOnNotFound: true
//	  circuitBreaker:
//	    maxFailures: 5
//	    timeout: 30s
//
// Watcher re-reads the file on change, validates it, and hands the new
// configuration to a callback; invalid files are logged and ignored so the
// running configuration stays in effect.
package config
