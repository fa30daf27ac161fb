// Package upstream implements the HTTP client for the legacy SCIM service.
package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marcelom97/scimproxy/scim"
)

// Config holds the upstream connection settings.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxConnections int
}

// hopByHopHeaders are stripped before forwarding, per RFC 9110 section 7.6.1.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Client sends proxied requests to the upstream SCIM service over a pooled
// HTTP client. It implements scim.Upstream.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an upstream client.
func NewClient(cfg Config) *Client {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 100
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// Do sends a request to the upstream. Any HTTP response, success or failure,
// is returned with its status, headers and body so callers can pass failures
// through unchanged. Transport failures map to upstreamUnavailable; GET
// requests get one retry since they are idempotent.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body []byte, fwd http.Header) (*scim.UpstreamResponse, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	send := func() (*scim.UpstreamResponse, error) {
		var reader io.Reader
		if len(body) > 0 {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, scim.ErrInternalServer("failed to build upstream request")
		}
		c.setHeaders(req, fwd, len(body) > 0)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &scim.UpstreamResponse{
			StatusCode: resp.StatusCode,
			Header:     filterResponseHeaders(resp.Header),
			Body:       respBody,
		}, nil
	}

	var resp *scim.UpstreamResponse
	op := func() error {
		var err error
		resp, err = send()
		return err
	}

	var err error
	if method == http.MethodGet {
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
		err = backoff.Retry(op, policy)
	} else {
		err = op()
	}
	if err != nil {
		if scimErr, ok := err.(*scim.SCIMError); ok {
			return nil, scimErr
		}
		return nil, scim.ErrUpstreamUnavailable("upstream request failed: " + err.Error())
	}
	return resp, nil
}

// setHeaders copies forwardable request headers and fills in defaults.
func (c *Client) setHeaders(req *http.Request, fwd http.Header, hasBody bool) {
	for k, vals := range fwd {
		if isHopByHop(k) || strings.EqualFold(k, "Host") || strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", scim.ContentTypeSCIM)
	}
	if hasBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", scim.ContentTypeSCIM)
	}
	req.Header.Set("User-Agent", "scimproxy")
}

func filterResponseHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, k := range hopByHopHeaders {
		out.Del(k)
	}
	out.Del("Content-Length")
	return out
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
