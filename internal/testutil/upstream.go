// Package testutil provides an in-memory stand-in for the legacy upstream:
// basic CRUD plus startIndex/count paging, nothing else. Filters, sorting and
// projection parameters are ignored, which is exactly the behavior the proxy
// compensates for.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/marcelom97/scimproxy/scim"
)

// RecordedRequest is one request the fake upstream received.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// FakeUpstream is an http.Handler emulating a legacy SCIM service backed by
// ordered in-memory collections.
type FakeUpstream struct {
	mu        sync.Mutex
	resources map[string][]scim.Resource
	nextID    int
	requests  []RecordedRequest

	// FailStatus, when non-zero, makes every request fail with this status
	// and FailBody as the response body.
	FailStatus int
	FailBody   string
}

// NewFakeUpstream creates an empty fake upstream.
func NewFakeUpstream() *FakeUpstream {
	return &FakeUpstream{
		resources: map[string][]scim.Resource{},
		nextID:    1,
	}
}

// Seed appends resources to a collection, assigning ids to any without one.
func (f *FakeUpstream) Seed(collection string, resources ...scim.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range resources {
		if _, ok := r["id"]; !ok {
			r["id"] = f.allocID()
		}
		f.resources[collection] = append(f.resources[collection], r)
	}
}

func (f *FakeUpstream) allocID() string {
	id := strconv.Itoa(f.nextID)
	f.nextID++
	return id
}

// Requests returns a copy of the recorded requests.
func (f *FakeUpstream) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// RequestCount counts recorded requests matching method and path prefix.
func (f *FakeUpstream) RequestCount(method, pathPrefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Method == method && strings.HasPrefix(r.Path, pathPrefix) {
			n++
		}
	}
	return n
}

// Get returns a stored resource by id.
func (f *FakeUpstream) Get(collection, id string) (scim.Resource, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.resources[collection] {
		if r["id"] == id {
			return r, true
		}
	}
	return nil, false
}

// Len reports the size of a collection.
func (f *FakeUpstream) Len(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resources[collection])
}

func (f *FakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
	}

	f.mu.Lock()
	f.requests = append(f.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	failStatus, failBody := f.FailStatus, f.FailBody
	f.mu.Unlock()

	if failStatus != 0 {
		w.Header().Set("Content-Type", scim.ContentTypeSCIM)
		w.WriteHeader(failStatus)
		_, _ = w.Write([]byte(failBody))
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1:
		f.handleCollection(w, r, parts[0], body)
	case len(parts) == 2:
		f.handleResource(w, r, parts[0], parts[1], body)
	default:
		writeSCIMStatus(w, http.StatusNotFound, "not found")
	}
}

func (f *FakeUpstream) handleCollection(w http.ResponseWriter, r *http.Request, collection string, body []byte) {
	switch r.Method {
	case http.MethodGet:
		f.handleList(w, r, collection)
	case http.MethodPost:
		var resource scim.Resource
		if err := json.Unmarshal(body, &resource); err != nil {
			writeSCIMStatus(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		f.mu.Lock()
		if _, ok := resource["id"]; !ok {
			resource["id"] = f.allocID()
		}
		f.resources[collection] = append(f.resources[collection], resource)
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, resource)
	default:
		writeSCIMStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleList pages through the collection by startIndex and count, ignoring
// every other query parameter the way a legacy service would.
func (f *FakeUpstream) handleList(w http.ResponseWriter, r *http.Request, collection string) {
	startIndex, _ := strconv.Atoi(r.URL.Query().Get("startIndex"))
	if startIndex < 1 {
		startIndex = 1
	}
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count < 0 {
		count = 100
	}

	f.mu.Lock()
	all := f.resources[collection]
	total := len(all)
	var page []scim.Resource
	if start := startIndex - 1; start < total {
		end := start + count
		if end > total {
			end = total
		}
		page = append(page, all[start:end]...)
	}
	f.mu.Unlock()

	if page == nil {
		page = []scim.Resource{}
	}
	writeJSON(w, http.StatusOK, scim.ListResponse{
		Schemas:      []string{scim.SchemaListResponse},
		TotalResults: total,
		StartIndex:   startIndex,
		ItemsPerPage: len(page),
		Resources:    page,
	})
}

func (f *FakeUpstream) handleResource(w http.ResponseWriter, r *http.Request, collection, id string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := -1
	for i, res := range f.resources[collection] {
		if res["id"] == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		writeSCIMStatus(w, http.StatusNotFound, fmt.Sprintf("Resource %s not found", id))
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, f.resources[collection][idx])
	case http.MethodPut:
		var resource scim.Resource
		if err := json.Unmarshal(body, &resource); err != nil {
			writeSCIMStatus(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		resource["id"] = id
		f.resources[collection][idx] = resource
		writeJSON(w, http.StatusOK, resource)
	case http.MethodPatch:
		// A legacy upstream would not support PATCH; echoing the body lets
		// native-PATCH forwarding be observed in tests.
		writeJSON(w, http.StatusOK, scim.Resource{"id": id, "patched": true})
	case http.MethodDelete:
		f.resources[collection] = append(f.resources[collection][:idx], f.resources[collection][idx+1:]...)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeSCIMStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", scim.ContentTypeSCIM)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSCIMStatus(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, scim.Error{
		Schemas: []string{scim.SchemaError},
		Status:  strconv.Itoa(status),
		Detail:  detail,
	})
}
