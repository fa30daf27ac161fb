package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.UpstreamBaseURL = "http://localhost:9000"
	return cfg
}

func TestDefaultConfigValidatesWithUpstream(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing upstream", func(c *Config) { c.UpstreamBaseURL = "" }, "upstreamBaseURL"},
		{"bad upstream scheme", func(c *Config) { c.UpstreamBaseURL = "ftp://host" }, "upstreamBaseURL"},
		{"upstream without host", func(c *Config) { c.UpstreamBaseURL = "http://" }, "upstreamBaseURL"},
		{"port out of range", func(c *Config) { c.Port = 70000 }, "port"},
		{"zero port", func(c *Config) { c.Port = 0 }, "port"},
		{"non-positive timeout", func(c *Config) { c.UpstreamTimeout = 0 }, "upstreamTimeout"},
		{"zero page size", func(c *Config) { c.UpstreamPageSize = 0 }, "upstreamPageSize"},
		{"zero max connections", func(c *Config) { c.UpstreamMaxConnections = 0 }, "upstreamMaxConnections"},
		{"negative cache ttl", func(c *Config) { c.CacheTTL = -1 }, "cacheTTL"},
		{"zero complexity", func(c *Config) { c.MaxFilterComplexity = 0 }, "maxFilterComplexity"},
		{"zero multiplier", func(c *Config) { c.FilterFetchMultiplier = 0 }, "filterFetchMultiplier"},
		{"zero fetch size", func(c *Config) { c.MaxFilterFetchSize = 0 }, "maxFilterFetchSize"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "logLevel"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "logFormat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Port = 0
	cfg.Workers = 0

	err := cfg.Validate()
	require.Error(t, err)
	verrs, ok := err.(ValidationErrors)
	require.True(t, ok)
	assert.Len(t, verrs, 2)
	assert.True(t, strings.Contains(err.Error(), "2 errors"))
}

func TestCacheEnabled(t *testing.T) {
	cfg := validConfig()
	assert.True(t, cfg.CacheEnabled())

	cfg.CacheTTL = 0
	assert.False(t, cfg.CacheEnabled())

	cfg = validConfig()
	cfg.CacheMaxEntries = 0
	assert.False(t, cfg.CacheEnabled())
}

func TestListenAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 9090
	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddr())
}
