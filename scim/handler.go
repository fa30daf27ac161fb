package scim

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ContentTypeSCIM is the SCIM media type used on every response.
const ContentTypeSCIM = "application/scim+json"

// DefaultListCount is the page size used when a list request omits count.
const DefaultListCount = 100

// WriteJSON writes a SCIM JSON response.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", ContentTypeSCIM)
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an error as a SCIM error envelope. Errors that are not
// SCIMError values become opaque 500 responses.
func WriteError(w http.ResponseWriter, err error) {
	scimErr, ok := err.(*SCIMError)
	if !ok {
		scimErr = ErrInternalServer("internal server error")
	}
	WriteJSON(w, scimErr.Status, Error{
		Schemas:  []string{SchemaError},
		Status:   strconv.Itoa(scimErr.Status),
		Detail:   scimErr.Detail,
		ScimType: scimErr.ScimType,
	})
}

// ParseQueryParams extracts the SCIM list parameters from a request.
// startIndex values below 1 are treated as 1 and negative counts as 0, per
// RFC 7644 section 3.4.2.4.
func ParseQueryParams(r *http.Request) (QueryParams, error) {
	q := r.URL.Query()
	params := QueryParams{
		Filter:     q.Get("filter"),
		StartIndex: 1,
		Count:      DefaultListCount,
		SortBy:     q.Get("sortBy"),
		SortOrder:  "ascending",
	}

	if raw := q.Get("startIndex"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return params, ErrInvalidValue(fmt.Sprintf("invalid startIndex %q", raw))
		}
		if n < 1 {
			n = 1
		}
		params.StartIndex = n
	}

	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return params, ErrInvalidValue(fmt.Sprintf("invalid count %q", raw))
		}
		if n < 0 {
			n = 0
		}
		params.Count = n
	}

	params.Attributes = splitAttrList(q.Get("attributes"))
	params.ExcludedAttr = splitAttrList(q.Get("excludedAttributes"))
	if len(params.Attributes) > 0 && len(params.ExcludedAttr) > 0 {
		return params, ErrInvalidValue("attributes and excludedAttributes are mutually exclusive")
	}

	if raw := q.Get("sortOrder"); raw != "" {
		order := strings.ToLower(raw)
		if order != "ascending" && order != "descending" {
			return params, ErrInvalidValue(fmt.Sprintf("invalid sortOrder %q", raw))
		}
		params.SortOrder = order
	}

	return params, nil
}

func splitAttrList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
