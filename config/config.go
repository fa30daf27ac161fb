// Package config holds the proxy configuration and its validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("config validation failed with %d errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Config represents the proxy configuration
type Config struct {
	// Host and Port are the listen address of the proxy itself.
	Host string
	Port int

	// UpstreamBaseURL is the root of the legacy SCIM service.
	UpstreamBaseURL string
	// UpstreamTimeout bounds each upstream request.
	UpstreamTimeout time.Duration
	// UpstreamPageSize is the page size used when pulling from the upstream.
	UpstreamPageSize int
	// UpstreamMaxConnections caps the connection pool to the upstream.
	UpstreamMaxConnections int
	// UpstreamNativePatch forwards PATCH requests verbatim instead of
	// translating them into read-modify-write.
	UpstreamNativePatch bool

	// CacheTTL and CacheMaxEntries bound the response cache. A TTL of zero
	// disables caching.
	CacheTTL        time.Duration
	CacheMaxEntries int

	// MaxFilterComplexity bounds accepted filter expressions by AST node
	// count.
	MaxFilterComplexity int
	// FilterFetchMultiplier scales the requested count into an upstream
	// fetch budget for filtered listings.
	FilterFetchMultiplier int
	// MaxFilterFetchSize caps the fetch budget.
	MaxFilterFetchSize int

	// Workers sizes the runtime for the serving workload.
	Workers int

	// LogLevel and LogFormat configure logging (debug, info, warn, error;
	// json or console).
	LogLevel  string
	LogFormat string
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Host:                   "0.0.0.0",
		Port:                   8000,
		UpstreamTimeout:        30 * time.Second,
		UpstreamPageSize:       100,
		UpstreamMaxConnections: 100,
		CacheTTL:               300 * time.Second,
		CacheMaxEntries:        1000,
		MaxFilterComplexity:    50,
		FilterFetchMultiplier:  20,
		MaxFilterFetchSize:     2000,
		Workers:                4,
		LogLevel:               "info",
		LogFormat:              "json",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errors ValidationErrors

	if c.Port < 1 || c.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "port",
			Message: fmt.Sprintf("port %d is out of range: must be between 1 and 65535", c.Port),
		})
	}

	if c.UpstreamBaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "upstreamBaseURL",
			Message: "upstream base URL cannot be empty",
		})
	} else {
		parsedURL, err := url.Parse(c.UpstreamBaseURL)
		if err != nil {
			errors = append(errors, ValidationError{
				Field:   "upstreamBaseURL",
				Message: fmt.Sprintf("invalid URL format: %v", err),
			})
		} else {
			if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
				errors = append(errors, ValidationError{
					Field:   "upstreamBaseURL",
					Message: fmt.Sprintf("invalid URL scheme '%s': must be http or https", parsedURL.Scheme),
				})
			}
			if parsedURL.Host == "" {
				errors = append(errors, ValidationError{
					Field:   "upstreamBaseURL",
					Message: "URL must include a host (e.g., http://localhost:9000)",
				})
			}
		}
	}

	if c.UpstreamTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "upstreamTimeout",
			Message: "upstream timeout must be positive",
		})
	}

	if c.UpstreamPageSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "upstreamPageSize",
			Message: "upstream page size must be at least 1",
		})
	}

	if c.UpstreamMaxConnections < 1 {
		errors = append(errors, ValidationError{
			Field:   "upstreamMaxConnections",
			Message: "upstream max connections must be at least 1",
		})
	}

	if c.CacheTTL < 0 {
		errors = append(errors, ValidationError{
			Field:   "cacheTTL",
			Message: "cache TTL cannot be negative",
		})
	}

	if c.CacheMaxEntries < 0 {
		errors = append(errors, ValidationError{
			Field:   "cacheMaxEntries",
			Message: "cache max entries cannot be negative",
		})
	}

	if c.MaxFilterComplexity < 1 {
		errors = append(errors, ValidationError{
			Field:   "maxFilterComplexity",
			Message: "max filter complexity must be at least 1",
		})
	}

	if c.FilterFetchMultiplier < 1 {
		errors = append(errors, ValidationError{
			Field:   "filterFetchMultiplier",
			Message: "filter fetch multiplier must be at least 1",
		})
	}

	if c.MaxFilterFetchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "maxFilterFetchSize",
			Message: "max filter fetch size must be at least 1",
		})
	}

	if c.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "workers",
			Message: "workers must be at least 1",
		})
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error", "":
	default:
		errors = append(errors, ValidationError{
			Field:   "logLevel",
			Message: fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel),
		})
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "console", "":
	default:
		errors = append(errors, ValidationError{
			Field:   "logFormat",
			Message: fmt.Sprintf("invalid log format '%s': must be json or console", c.LogFormat),
		})
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

// ListenAddr returns the host:port the proxy binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CacheEnabled reports whether the response cache should be wired in.
func (c *Config) CacheEnabled() bool {
	return c.CacheTTL > 0 && c.CacheMaxEntries > 0
}
