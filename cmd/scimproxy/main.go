// Command scimproxy runs the SCIM protocol-upgrading proxy: a SCIM 2.0
// front that adapts filtering, sorting, projection and PATCH onto a legacy
// upstream supporting only basic CRUD and paging.
package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/marcelom97/scimproxy"
	"github.com/marcelom97/scimproxy/config"
)

func main() {
	defaults := config.Default()

	app := &cli.App{
		Name:  "scimproxy",
		Usage: "SCIM 2.0 protocol-upgrading proxy for legacy SCIM services",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "listen host",
				Value:   defaults.Host,
				EnvVars: []string{"PROXY_HOST", "HOST"},
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "listen port",
				Value:   defaults.Port,
				EnvVars: []string{"PROXY_PORT", "PORT"},
			},
			&cli.StringFlag{
				Name:     "upstream-base-url",
				Usage:    "base URL of the legacy SCIM service",
				Required: true,
				EnvVars:  []string{"UPSTREAM_BASE_URL"},
			},
			&cli.DurationFlag{
				Name:    "upstream-timeout",
				Usage:   "timeout per upstream request",
				Value:   defaults.UpstreamTimeout,
				EnvVars: []string{"UPSTREAM_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "upstream-page-size",
				Usage:   "page size for upstream list requests",
				Value:   defaults.UpstreamPageSize,
				EnvVars: []string{"UPSTREAM_PAGE_SIZE"},
			},
			&cli.IntFlag{
				Name:    "upstream-max-connections",
				Usage:   "maximum pooled connections to the upstream",
				Value:   defaults.UpstreamMaxConnections,
				EnvVars: []string{"UPSTREAM_MAX_CONNECTIONS"},
			},
			&cli.BoolFlag{
				Name:    "upstream-native-patch",
				Usage:   "forward PATCH requests to the upstream instead of translating them",
				EnvVars: []string{"UPSTREAM_NATIVE_PATCH"},
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Usage:   "response cache TTL (0 disables caching)",
				Value:   defaults.CacheTTL,
				EnvVars: []string{"CACHE_TTL"},
			},
			&cli.IntFlag{
				Name:    "cache-max-entries",
				Usage:   "maximum response cache entries",
				Value:   defaults.CacheMaxEntries,
				EnvVars: []string{"CACHE_MAX_SIZE"},
			},
			&cli.IntFlag{
				Name:    "max-filter-complexity",
				Usage:   "maximum filter expression complexity",
				Value:   defaults.MaxFilterComplexity,
				EnvVars: []string{"MAX_FILTER_COMPLEXITY"},
			},
			&cli.IntFlag{
				Name:    "filter-fetch-multiplier",
				Usage:   "multiplier of the requested count used as the upstream fetch budget",
				Value:   defaults.FilterFetchMultiplier,
				EnvVars: []string{"FILTER_FETCH_MULTIPLIER"},
			},
			&cli.IntFlag{
				Name:    "max-filter-fetch-size",
				Usage:   "hard cap on resources fetched per filtered request",
				Value:   defaults.MaxFilterFetchSize,
				EnvVars: []string{"MAX_FILTER_FETCH_SIZE"},
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "number of serving workers (sets GOMAXPROCS)",
				Value:   defaults.Workers,
				EnvVars: []string{"PROXY_WORKERS", "WORKERS"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error)",
				Value:   defaults.LogLevel,
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "log format (json, console)",
				Value:   defaults.LogFormat,
				EnvVars: []string{"LOG_FORMAT"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("scimproxy failed")
	}
}

func run(c *cli.Context) error {
	cfg := &config.Config{
		Host:                   c.String("host"),
		Port:                   c.Int("port"),
		UpstreamBaseURL:        c.String("upstream-base-url"),
		UpstreamTimeout:        c.Duration("upstream-timeout"),
		UpstreamPageSize:       c.Int("upstream-page-size"),
		UpstreamMaxConnections: c.Int("upstream-max-connections"),
		UpstreamNativePatch:    c.Bool("upstream-native-patch"),
		CacheTTL:               c.Duration("cache-ttl"),
		CacheMaxEntries:        c.Int("cache-max-entries"),
		MaxFilterComplexity:    c.Int("max-filter-complexity"),
		FilterFetchMultiplier:  c.Int("filter-fetch-multiplier"),
		MaxFilterFetchSize:     c.Int("max-filter-fetch-size"),
		Workers:                c.Int("workers"),
		LogLevel:               c.String("log-level"),
		LogFormat:              c.String("log-format"),
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	if cfg.Workers > 0 {
		runtime.GOMAXPROCS(cfg.Workers)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proxy := scimproxy.New(cfg, logger)
	if err := proxy.Initialize(); err != nil {
		return err
	}
	return proxy.Start(ctx)
}

func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if strings.EqualFold(format, "console") {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}
