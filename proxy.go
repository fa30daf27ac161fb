// Package scimproxy wires the SCIM protocol-upgrading proxy together: the
// upstream client, the response cache and the coordinator, behind one HTTP
// handler.
package scimproxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/marcelom97/scimproxy/cache"
	"github.com/marcelom97/scimproxy/config"
	"github.com/marcelom97/scimproxy/scim"
	"github.com/marcelom97/scimproxy/upstream"
)

// Proxy is a configured proxy instance.
type Proxy struct {
	cfg        *config.Config
	logger     zerolog.Logger
	server     *scim.Server
	httpServer *http.Server
}

// New creates a proxy from the configuration. Call Initialize before serving.
func New(cfg *config.Config, logger zerolog.Logger) *Proxy {
	return &Proxy{
		cfg:    cfg,
		logger: logger,
	}
}

// Initialize validates the configuration and builds the serving pipeline.
func (p *Proxy) Initialize() error {
	if err := p.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	client := upstream.NewClient(upstream.Config{
		BaseURL:        p.cfg.UpstreamBaseURL,
		Timeout:        p.cfg.UpstreamTimeout,
		MaxConnections: p.cfg.UpstreamMaxConnections,
	})

	var respCache scim.ResponseCache
	if p.cfg.CacheEnabled() {
		respCache = cache.New[*scim.UpstreamResponse](p.cfg.CacheMaxEntries, p.cfg.CacheTTL)
	}

	p.server = scim.NewServer(client, respCache, scim.ServerConfig{
		Pager: scim.PagerConfig{
			PageSize:            p.cfg.UpstreamPageSize,
			FetchMultiplier:     p.cfg.FilterFetchMultiplier,
			MaxFetchSize:        p.cfg.MaxFilterFetchSize,
			MaxFilterComplexity: p.cfg.MaxFilterComplexity,
		},
		NativePatch: p.cfg.UpstreamNativePatch,
	}, p.logger)

	p.logger.Info().
		Str("upstream", p.cfg.UpstreamBaseURL).
		Bool("cache", p.cfg.CacheEnabled()).
		Bool("native_patch", p.cfg.UpstreamNativePatch).
		Msg("proxy initialized")
	return nil
}

// Handler returns the proxy's HTTP handler with request logging attached.
func (p *Proxy) Handler() http.Handler {
	return RequestLogger(p.logger)(p.server)
}

// Start serves until the context is canceled, then shuts down gracefully.
func (p *Proxy) Start(ctx context.Context) error {
	if p.server == nil {
		if err := p.Initialize(); err != nil {
			return err
		}
	}

	p.httpServer = &http.Server{
		Addr:              p.cfg.ListenAddr(),
		Handler:           p.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		p.logger.Info().Str("addr", p.cfg.ListenAddr()).Msg("listening")
		errCh <- p.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p.logger.Info().Msg("shutting down")
		return p.httpServer.Shutdown(shutdownCtx)
	}
}
