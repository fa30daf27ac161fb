package scim

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLister serves pages from a slice and records each page request.
type fakeLister struct {
	resources []Resource
	calls     []int // startIndex of every page request
	cancel    context.CancelFunc
	err       error
}

func (f *fakeLister) ListPage(_ context.Context, _ string, startIndex, count int, _ http.Header) (*ListResponse, error) {
	f.calls = append(f.calls, startIndex)
	if f.err != nil {
		return nil, f.err
	}
	if f.cancel != nil {
		f.cancel()
	}

	total := len(f.resources)
	var page []Resource
	if start := startIndex - 1; start < total {
		end := min(start+count, total)
		page = f.resources[start:end]
	}
	return &ListResponse{
		Schemas:      []string{SchemaListResponse},
		TotalResults: total,
		StartIndex:   startIndex,
		ItemsPerPage: len(page),
		Resources:    page,
	}, nil
}

// seedUsers builds n users; every third one is active.
func seedUsers(n int) []Resource {
	out := make([]Resource, n)
	for i := range out {
		out[i] = Resource{
			"id":       fmt.Sprintf("u%03d", i+1),
			"userName": fmt.Sprintf("user%03d", i+1),
			"active":   (i+1)%3 == 0,
		}
	}
	return out
}

func TestPagerPassThrough(t *testing.T) {
	lister := &fakeLister{resources: seedUsers(25)}
	pager := NewPager(lister, PagerConfig{PageSize: 10})

	list, err := pager.List(context.Background(), "Users", QueryParams{StartIndex: 11, Count: 5}, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{11}, lister.calls)
	assert.Equal(t, 25, list.TotalResults)
	assert.Equal(t, 11, list.StartIndex)
	assert.Equal(t, 5, list.ItemsPerPage)
	require.Len(t, list.Resources, 5)
	assert.Equal(t, "u011", list.Resources[0]["id"])
}

func TestPagerFilteredStopsWhenWindowSatisfied(t *testing.T) {
	lister := &fakeLister{resources: seedUsers(100)}
	pager := NewPager(lister, PagerConfig{PageSize: 10, FetchMultiplier: 20, MaxFetchSize: 2000})

	list, err := pager.List(context.Background(), "Users", QueryParams{
		Filter:     "active eq true",
		StartIndex: 1,
		Count:      3,
	}, nil)
	require.NoError(t, err)

	// Three matches appear within the first page of ten.
	assert.Equal(t, []int{1}, lister.calls)
	require.Len(t, list.Resources, 3)
	assert.Equal(t, "u003", list.Resources[0]["id"])
	assert.Equal(t, "u006", list.Resources[1]["id"])
	assert.Equal(t, "u009", list.Resources[2]["id"])
	assert.Equal(t, 3, list.TotalResults)
}

func TestPagerFilteredSpansPages(t *testing.T) {
	lister := &fakeLister{resources: seedUsers(100)}
	pager := NewPager(lister, PagerConfig{PageSize: 10, FetchMultiplier: 20, MaxFetchSize: 2000})

	list, err := pager.List(context.Background(), "Users", QueryParams{
		Filter:     "active eq true",
		StartIndex: 4,
		Count:      4,
	}, nil)
	require.NoError(t, err)

	// The window needs seven matches, which takes three pages of ten.
	assert.Equal(t, []int{1, 11, 21}, lister.calls)
	require.Len(t, list.Resources, 4)
	assert.Equal(t, "u012", list.Resources[0]["id"])
	assert.Equal(t, 4, list.StartIndex)
}

func TestPagerFetchBudget(t *testing.T) {
	lister := &fakeLister{resources: seedUsers(100)}
	pager := NewPager(lister, PagerConfig{PageSize: 10, FetchMultiplier: 2, MaxFetchSize: 2000})

	// Budget is count*multiplier = 20 resources, so only two pages are read
	// even though more matches exist upstream.
	list, err := pager.List(context.Background(), "Users", QueryParams{
		Filter:     `userName sw "zzz"`,
		StartIndex: 1,
		Count:      10,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 11}, lister.calls)
	assert.Equal(t, 0, list.TotalResults)
	assert.Empty(t, list.Resources)
}

func TestPagerMaxFetchSizeCap(t *testing.T) {
	lister := &fakeLister{resources: seedUsers(100)}
	pager := NewPager(lister, PagerConfig{PageSize: 10, FetchMultiplier: 20, MaxFetchSize: 30})

	_, err := pager.List(context.Background(), "Users", QueryParams{
		Filter:     `userName sw "zzz"`,
		StartIndex: 1,
		Count:      10,
	}, nil)
	require.NoError(t, err)

	// count*multiplier would be 200 but the cap limits the scan to 30.
	assert.Equal(t, []int{1, 11, 21}, lister.calls)
}

func TestPagerStopsOnExhaustion(t *testing.T) {
	lister := &fakeLister{resources: seedUsers(15)}
	pager := NewPager(lister, PagerConfig{PageSize: 10, FetchMultiplier: 20, MaxFetchSize: 2000})

	list, err := pager.List(context.Background(), "Users", QueryParams{
		Filter:     "active eq true",
		StartIndex: 1,
		Count:      100,
	}, nil)
	require.NoError(t, err)

	// The second page is short, so the scan ends there.
	assert.Equal(t, []int{1, 11}, lister.calls)
	assert.Equal(t, 5, list.TotalResults)
	assert.Len(t, list.Resources, 5)
}

func TestPagerDeduplicatesByID(t *testing.T) {
	users := seedUsers(10)
	// Simulate a page shift: the second page repeats the last element of the
	// first.
	shifted := append(append([]Resource{}, users[:10]...), users[9])
	lister := &fakeLister{resources: shifted}
	pager := NewPager(lister, PagerConfig{PageSize: 10, FetchMultiplier: 20, MaxFetchSize: 2000})

	list, err := pager.List(context.Background(), "Users", QueryParams{
		Filter:     "userName pr",
		StartIndex: 1,
		Count:      100,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, list.TotalResults)
}

func TestPagerSortFetchesAllMatches(t *testing.T) {
	lister := &fakeLister{resources: seedUsers(30)}
	pager := NewPager(lister, PagerConfig{PageSize: 10, FetchMultiplier: 20, MaxFetchSize: 2000})

	list, err := pager.List(context.Background(), "Users", QueryParams{
		Filter:     "active eq true",
		StartIndex: 1,
		Count:      2,
		SortBy:     "userName",
		SortOrder:  "descending",
	}, nil)
	require.NoError(t, err)

	// A sorted result cannot stop at the first satisfiable window.
	assert.Equal(t, []int{1, 11, 21}, lister.calls)
	require.Len(t, list.Resources, 2)
	assert.Equal(t, "u030", list.Resources[0]["id"])
	assert.Equal(t, "u027", list.Resources[1]["id"])
	assert.Equal(t, 10, list.TotalResults)
}

func TestPagerSortWithoutFilter(t *testing.T) {
	lister := &fakeLister{resources: seedUsers(12)}
	pager := NewPager(lister, PagerConfig{PageSize: 10, FetchMultiplier: 20, MaxFetchSize: 2000})

	list, err := pager.List(context.Background(), "Users", QueryParams{
		StartIndex: 1,
		Count:      3,
		SortBy:     "userName",
		SortOrder:  "descending",
	}, nil)
	require.NoError(t, err)
	require.Len(t, list.Resources, 3)
	assert.Equal(t, "u012", list.Resources[0]["id"])
}

func TestPagerCountZeroReturnsTotalsOnly(t *testing.T) {
	lister := &fakeLister{resources: seedUsers(30)}
	pager := NewPager(lister, PagerConfig{PageSize: 10, FetchMultiplier: 20, MaxFetchSize: 2000})

	list, err := pager.List(context.Background(), "Users", QueryParams{
		Filter:     "active eq true",
		StartIndex: 1,
		Count:      0,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, list.TotalResults)
	assert.Empty(t, list.Resources)
	assert.Equal(t, 0, list.ItemsPerPage)
}

func TestPagerInvalidFilter(t *testing.T) {
	pager := NewPager(&fakeLister{}, PagerConfig{})

	_, err := pager.List(context.Background(), "Users", QueryParams{
		Filter:     `userName eq`,
		StartIndex: 1,
		Count:      10,
	}, nil)
	require.Error(t, err)
	scimErr, ok := err.(*SCIMError)
	require.True(t, ok)
	assert.Equal(t, ScimTypeInvalidFilter, scimErr.ScimType)
}

func TestPagerContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lister := &fakeLister{resources: seedUsers(100), cancel: cancel}
	pager := NewPager(lister, PagerConfig{PageSize: 10, FetchMultiplier: 20, MaxFetchSize: 2000})

	// The first page cancels the context, so the loop stops before the
	// second page request.
	_, err := pager.List(ctx, "Users", QueryParams{
		Filter:     `userName sw "zzz"`,
		StartIndex: 1,
		Count:      10,
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1}, lister.calls)
}
