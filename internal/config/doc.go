// Package config provides centralized configuration management for storehub.
// It handles loading configuration from multiple sources, validation, and provides
// a type-safe API for accessing configuration values throughout the application.
//
// # Configuration Sources
//
// Configuration is layered; later sources override earlier ones:
//
//	1. Default values (Default())
//	2. Configuration file (YAML, STOREHUB_CONFIG_FILE or ./config.yaml)
//	3. Environment variables, including a local .env file
//
// # Environment Variables
//
// All environment variables follow the pattern STOREHUB_<SECTION>_<FIELD>:
//
//	STOREHUB_SERVER_PORT=8080
//	STOREHUB_SESSION_BACKEND=redis
//	STOREHUB_SESSION_SECRET=code
//	STOREHUB_REDIS_ADDR=localhost:6379
//	STOREHUB_CHAT_REQUIRE_JOIN=true
//	STOREHUB_BROADCAST_ENABLED=false
//
// # Validation
//
// Load rejects configurations that could not start a working hub: an unknown
// session backend, a backend without its connection settings, a ping period
// that is not shorter than the pong wait, and so on.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Testing
//
// Tests can use Default() directly; it needs no environment variables or
// external resources and selects the in-memory session backend.
package config
