package scim

import (
	"context"
	"net/http"
)

// Lister fetches one page of resources from the upstream. startIndex is
// 1-based. Implementations return an error for transport failures and for
// upstream HTTP errors; the latter carry the upstream response so handlers
// can pass it through.
type Lister interface {
	ListPage(ctx context.Context, resourceType string, startIndex, count int, fwd http.Header) (*ListResponse, error)
}

// Pager defaults.
const (
	DefaultPageSize        = 100
	DefaultFetchMultiplier = 20
	DefaultMaxFetchSize    = 2000
)

// PagerConfig tunes the fetch-enough loop.
type PagerConfig struct {
	// PageSize is the page size used for upstream requests.
	PageSize int
	// FetchMultiplier scales the requested count into a fetch budget.
	FetchMultiplier int
	// MaxFetchSize caps the fetch budget regardless of the requested count.
	MaxFetchSize int
	// MaxFilterComplexity bounds accepted filter expressions.
	MaxFilterComplexity int
}

func (c PagerConfig) withDefaults() PagerConfig {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.FetchMultiplier <= 0 {
		c.FetchMultiplier = DefaultFetchMultiplier
	}
	if c.MaxFetchSize <= 0 {
		c.MaxFetchSize = DefaultMaxFetchSize
	}
	if c.MaxFilterComplexity <= 0 {
		c.MaxFilterComplexity = DefaultMaxFilterComplexity
	}
	return c
}

// Pager adapts rich list queries onto an upstream that only pages. Unfiltered
// unsorted requests pass through; anything else pulls upstream pages until the
// requested window is satisfiable, a fetch budget is reached, or the upstream
// is exhausted.
type Pager struct {
	upstream Lister
	cfg      PagerConfig
}

// NewPager creates a pager over the upstream lister.
func NewPager(upstream Lister, cfg PagerConfig) *Pager {
	return &Pager{upstream: upstream, cfg: cfg.withDefaults()}
}

// List executes a SCIM list request.
func (p *Pager) List(ctx context.Context, resourceType string, params QueryParams, fwd http.Header) (*ListResponse, error) {
	selector := NewAttributeSelector(params.Attributes, params.ExcludedAttr)

	if params.Filter == "" && params.SortBy == "" {
		return p.passThrough(ctx, resourceType, params, selector, fwd)
	}

	var filter Filter
	if params.Filter != "" {
		parsed, err := NewFilterParserWithLimit(params.Filter, p.cfg.MaxFilterComplexity).Parse()
		if err != nil {
			return nil, err
		}
		filter = parsed
	}

	matches, err := p.collect(ctx, resourceType, params, filter, fwd)
	if err != nil {
		return nil, err
	}

	SortResources(matches, params.SortBy, params.SortOrder)

	start := params.StartIndex - 1
	var window []Resource
	if start < len(matches) {
		window = matches[start:min(start+params.Count, len(matches))]
	}

	return &ListResponse{
		Schemas:      []string{SchemaListResponse},
		TotalResults: len(matches),
		StartIndex:   params.StartIndex,
		ItemsPerPage: len(window),
		Resources:    selector.ApplyList(window),
	}, nil
}

// passThrough maps the request onto a single upstream page.
func (p *Pager) passThrough(ctx context.Context, resourceType string, params QueryParams, selector *AttributeSelector, fwd http.Header) (*ListResponse, error) {
	page, err := p.upstream.ListPage(ctx, resourceType, params.StartIndex, params.Count, fwd)
	if err != nil {
		return nil, err
	}
	if len(page.Schemas) == 0 {
		page.Schemas = []string{SchemaListResponse}
	}
	page.StartIndex = params.StartIndex
	page.ItemsPerPage = len(page.Resources)
	page.Resources = selector.ApplyList(page.Resources)
	return page, nil
}

// collect pulls upstream pages and evaluates the filter locally. Resources
// are deduplicated by id in case the upstream shifts pages between calls.
// With no sort requested the loop stops as soon as the window is satisfiable;
// a sort needs the full matched set so only budget and exhaustion stop it.
// The returned match count backs totalResults, which is exact only when the
// upstream was exhausted before the budget ran out.
func (p *Pager) collect(ctx context.Context, resourceType string, params QueryParams, filter Filter, fwd http.Header) ([]Resource, error) {
	budget := params.Count * p.cfg.FetchMultiplier
	if budget <= 0 || budget > p.cfg.MaxFetchSize {
		budget = p.cfg.MaxFetchSize
	}
	need := params.StartIndex - 1 + params.Count

	matches := []Resource{}
	seen := map[string]bool{}
	fetched := 0
	upstreamStart := 1

	for fetched < budget {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageSize := min(p.cfg.PageSize, budget-fetched)
		page, err := p.upstream.ListPage(ctx, resourceType, upstreamStart, pageSize, fwd)
		if err != nil {
			return nil, err
		}
		if len(page.Resources) == 0 {
			return matches, nil
		}

		for _, r := range page.Resources {
			fetched++
			if id, ok := r["id"].(string); ok && id != "" {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			if filter == nil || filter.Matches(r) {
				matches = append(matches, r)
			}
		}

		if len(page.Resources) < pageSize {
			return matches, nil
		}
		upstreamStart += len(page.Resources)
		if page.TotalResults > 0 && upstreamStart > page.TotalResults {
			return matches, nil
		}

		if params.SortBy == "" && params.Count > 0 && len(matches) >= need {
			return matches, nil
		}
	}
	return matches, nil
}
