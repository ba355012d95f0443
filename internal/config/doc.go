// Package config handles configuration loading, parsing, and validation
// from various sources (environment variables, files). It provides type-safe
// access to application settings needed by different components while keeping
// configuration details separate from business logic.
//
// Every key can be set through an ASSAY_ prefixed environment variable where
// dots become underscores, e.g. token.ttl_minutes is ASSAY_TOKEN_TTL_MINUTES.
package config
