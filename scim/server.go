package scim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

// UpstreamResponse is a raw upstream HTTP response. Non-2xx responses pass
// through to the client byte for byte.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Upstream sends a request to the legacy SCIM service. Transport failures
// return an error; HTTP-level failures return the response with its status.
type Upstream interface {
	Do(ctx context.Context, method, path string, query url.Values, body []byte, fwd http.Header) (*UpstreamResponse, error)
}

// UpstreamStatusError carries a non-2xx upstream response out of the list
// path so handlers can pass it through unchanged.
type UpstreamStatusError struct {
	Response *UpstreamResponse
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Response.StatusCode)
}

// ResponseCache caches upstream GET responses. GetOrFetch coalesces
// concurrent fetches for the same key; the fetch callback reports whether its
// result may be cached.
type ResponseCache interface {
	Key(method, path string, query url.Values, header http.Header) string
	GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (*UpstreamResponse, bool, error)) (*UpstreamResponse, error)
	InvalidatePrefix(path string)
}

// ServerConfig tunes the proxy coordinator.
type ServerConfig struct {
	Pager PagerConfig
	// NativePatch forwards PATCH requests to the upstream instead of
	// translating them into a read-modify-write cycle.
	NativePatch bool
}

// Server is the protocol-upgrading SCIM proxy: it accepts full SCIM 2.0
// requests and adapts filtering, sorting, projection, pagination and PATCH
// onto an upstream that only supports basic CRUD and paging.
type Server struct {
	upstream Upstream
	cache    ResponseCache
	pager    *Pager
	patcher  *PatchProcessor
	router   *httprouter.Router
	logger   zerolog.Logger
	cfg      ServerConfig
}

// NewServer creates the proxy coordinator. cache may be nil to disable
// response caching.
func NewServer(upstream Upstream, cache ResponseCache, cfg ServerConfig, logger zerolog.Logger) *Server {
	s := &Server{
		upstream: upstream,
		cache:    cache,
		patcher:  NewPatchProcessor(),
		router:   httprouter.New(),
		logger:   logger,
		cfg:      cfg,
	}
	s.pager = NewPager(listerFunc(s.listPage), cfg.Pager)
	s.setupRoutes()
	return s
}

// listerFunc adapts a function to the Lister interface.
type listerFunc func(ctx context.Context, resourceType string, startIndex, count int, fwd http.Header) (*ListResponse, error)

func (f listerFunc) ListPage(ctx context.Context, resourceType string, startIndex, count int, fwd http.Header) (*ListResponse, error) {
	return f(ctx, resourceType, startIndex, count, fwd)
}

// setupRoutes registers every endpoint both bare and under the /v2 prefix,
// which some SCIM clients hardcode.
func (s *Server) setupRoutes() {
	s.route(http.MethodGet, "/ServiceProviderConfig", s.handleServiceProviderConfig)
	s.route(http.MethodGet, "/ResourceTypes", s.handleResourceTypes)
	s.route(http.MethodGet, "/ResourceTypes/:id", s.handleResourceType)
	s.route(http.MethodGet, "/health", s.handleHealth)

	for _, rt := range []string{"Users", "Groups"} {
		rt := rt
		s.route(http.MethodGet, "/"+rt, func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
			s.handleList(w, r, rt)
		})
		s.route(http.MethodPost, "/"+rt, func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
			s.handleMutate(w, r, rt, "")
		})
		s.route(http.MethodGet, "/"+rt+"/:id", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			s.handleGet(w, r, rt, ps.ByName("id"))
		})
		s.route(http.MethodPut, "/"+rt+"/:id", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			s.handleMutate(w, r, rt, ps.ByName("id"))
		})
		s.route(http.MethodDelete, "/"+rt+"/:id", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			s.handleMutate(w, r, rt, ps.ByName("id"))
		})
		s.route(http.MethodPatch, "/"+rt+"/:id", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			s.handlePatch(w, r, rt, ps.ByName("id"))
		})
	}

	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, NewSCIMError(http.StatusNotFound, fmt.Sprintf("Resource %s not found", r.URL.Path), ""))
	})
	s.router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, ErrMethodNotAllowed(r.Method))
	})
}

func (s *Server) route(method, path string, handle httprouter.Handle) {
	s.router.Handle(method, path, handle)
	s.router.Handle(method, "/v2"+path, handle)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// cachedDo routes GET requests through the response cache; everything else
// goes straight to the upstream. Only 2xx responses are cached.
func (s *Server) cachedDo(ctx context.Context, method, path string, query url.Values, body []byte, fwd http.Header) (*UpstreamResponse, error) {
	if s.cache == nil || method != http.MethodGet {
		return s.upstream.Do(ctx, method, path, query, body, fwd)
	}
	key := s.cache.Key(method, path, query, fwd)
	return s.cache.GetOrFetch(ctx, key, func(ctx context.Context) (*UpstreamResponse, bool, error) {
		resp, err := s.upstream.Do(ctx, method, path, query, body, fwd)
		if err != nil {
			return nil, false, err
		}
		return resp, resp.StatusCode >= 200 && resp.StatusCode < 300, nil
	})
}

// listPage fetches one upstream page through the cache. The upstream only
// understands startIndex and count.
func (s *Server) listPage(ctx context.Context, resourceType string, startIndex, count int, fwd http.Header) (*ListResponse, error) {
	query := url.Values{
		"startIndex": {strconv.Itoa(startIndex)},
		"count":      {strconv.Itoa(count)},
	}
	resp, err := s.cachedDo(ctx, http.MethodGet, "/"+resourceType, query, nil, fwd)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamStatusError{Response: resp}
	}
	var list ListResponse
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, ErrUpstreamUnavailable("upstream returned a malformed list response")
	}
	return &list, nil
}

// writeUpstream passes an upstream response through unchanged.
func (s *Server) writeUpstream(w http.ResponseWriter, resp *UpstreamResponse) {
	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// writeError maps proxy errors onto the wire: upstream HTTP errors pass
// through, SCIM errors keep their envelope, anything else becomes a 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if statusErr, ok := err.(*UpstreamStatusError); ok {
		s.writeUpstream(w, statusErr.Response)
		return
	}
	if _, ok := err.(*SCIMError); !ok {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	WriteError(w, err)
}

// invalidate drops cached responses under the collection, covering both list
// pages and individual resources.
func (s *Server) invalidate(resourceType string) {
	if s.cache != nil {
		s.cache.InvalidatePrefix("/" + resourceType)
	}
}

func (s *Server) handleServiceProviderConfig(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	maxResults := s.cfg.Pager.withDefaults().MaxFetchSize
	WriteJSON(w, http.StatusOK, GetServiceProviderConfig(maxResults))
}

func (s *Server) handleResourceTypes(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	resourceTypes := GetResourceTypes()
	WriteJSON(w, http.StatusOK, ListResponse{
		Schemas:      []string{SchemaListResponse},
		TotalResults: len(resourceTypes),
		StartIndex:   1,
		ItemsPerPage: len(resourceTypes),
		Resources:    resourceTypeResources(resourceTypes),
	})
}

func (s *Server) handleResourceType(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	rt, ok := GetResourceType(ps.ByName("id"))
	if !ok {
		WriteError(w, NewSCIMError(http.StatusNotFound, fmt.Sprintf("ResourceType %s not found", ps.ByName("id")), ""))
		return
	}
	WriteJSON(w, http.StatusOK, rt)
}

func resourceTypeResources(types []ResourceType) []Resource {
	out := make([]Resource, 0, len(types))
	for _, rt := range types {
		raw, err := json.Marshal(rt)
		if err != nil {
			continue
		}
		var m Resource
		if err := json.Unmarshal(raw, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleList serves GET /Users and GET /Groups through the pager.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request, resourceType string) {
	params, err := ParseQueryParams(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	list, err := s.pager.List(r.Context(), resourceType, params, r.Header)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

// handleGet serves GET of a single resource, applying attribute projection
// to successful responses.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, resourceType, id string) {
	params, err := ParseQueryParams(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	resp, err := s.cachedDo(r.Context(), http.MethodGet, "/"+resourceType+"/"+id, nil, nil, r.Header)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.writeUpstream(w, resp)
		return
	}

	if len(params.Attributes) == 0 && len(params.ExcludedAttr) == 0 {
		s.writeUpstream(w, resp)
		return
	}
	var resource Resource
	if err := json.Unmarshal(resp.Body, &resource); err != nil {
		s.writeUpstream(w, resp)
		return
	}
	selector := NewAttributeSelector(params.Attributes, params.ExcludedAttr)
	WriteJSON(w, resp.StatusCode, selector.Apply(resource))
}

// handleMutate passes POST, PUT and DELETE through to the upstream and
// invalidates cached responses for the collection.
func (s *Server) handleMutate(w http.ResponseWriter, r *http.Request, resourceType, id string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, ErrInvalidSyntax("failed to read request body"))
		return
	}

	path := "/" + resourceType
	if id != "" {
		path += "/" + id
	}
	resp, err := s.upstream.Do(r.Context(), r.Method, path, r.URL.Query(), body, r.Header)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.invalidate(resourceType)
	}
	s.writeUpstream(w, resp)
}

// handlePatch translates PATCH into a read-modify-write cycle against the
// upstream, or forwards it verbatim when the upstream supports PATCH
// natively.
func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request, resourceType, id string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, ErrInvalidSyntax("failed to read request body"))
		return
	}

	var patch PatchOp
	if err := json.Unmarshal(body, &patch); err != nil {
		WriteError(w, ErrInvalidSyntax("invalid JSON in PATCH request"))
		return
	}

	path := "/" + resourceType + "/" + id

	if s.cfg.NativePatch {
		resp, err := s.upstream.Do(r.Context(), http.MethodPatch, path, nil, body, r.Header)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			s.invalidate(resourceType)
		}
		s.writeUpstream(w, resp)
		return
	}

	// The read bypasses the cache so the patch applies to current state.
	getResp, err := s.upstream.Do(r.Context(), http.MethodGet, path, nil, nil, r.Header)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if getResp.StatusCode < 200 || getResp.StatusCode >= 300 {
		s.writeUpstream(w, getResp)
		return
	}

	var resource Resource
	if err := json.Unmarshal(getResp.Body, &resource); err != nil {
		s.writeError(w, r, ErrUpstreamUnavailable("upstream returned a malformed resource"))
		return
	}

	if err := s.patcher.Apply(resource, &patch); err != nil {
		WriteError(w, err)
		return
	}

	updated, err := json.Marshal(resource)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	putResp, err := s.upstream.Do(r.Context(), http.MethodPut, path, nil, updated, r.Header)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if putResp.StatusCode >= 200 && putResp.StatusCode < 300 {
		s.invalidate(resourceType)
	}
	s.writeUpstream(w, putResp)
}
