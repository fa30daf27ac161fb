package scim

// SCIM schema URNs used on the wire.
const (
	SchemaListResponse = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	SchemaError        = "urn:ietf:params:scim:api:messages:2.0:Error"
	SchemaPatchOp      = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	SchemaUser         = "urn:ietf:params:scim:schemas:core:2.0:User"
	SchemaGroup        = "urn:ietf:params:scim:schemas:core:2.0:Group"
)

// Resource is a SCIM resource as decoded JSON. The proxy is schema-agnostic:
// it never maps resources onto typed structs, so attributes the upstream
// returns survive round-trips exactly. Attribute names match
// case-insensitively but serialized key case is never rewritten.
type Resource = map[string]any

// ListResponse is the SCIM envelope for paginated results.
type ListResponse struct {
	Schemas      []string   `json:"schemas"`
	TotalResults int        `json:"totalResults"`
	StartIndex   int        `json:"startIndex"`
	ItemsPerPage int        `json:"itemsPerPage"`
	Resources    []Resource `json:"Resources"`
}

// Error is a SCIM error response body.
type Error struct {
	Schemas  []string `json:"schemas"`
	Status   string   `json:"status"`
	Detail   string   `json:"detail,omitempty"`
	ScimType string   `json:"scimType,omitempty"`
}

// PatchOp is a SCIM PATCH request body.
type PatchOp struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// PatchOperation is a single PATCH operation.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// QueryParams holds the SCIM query parameters of a list request.
type QueryParams struct {
	Filter       string
	Attributes   []string
	ExcludedAttr []string
	StartIndex   int
	Count        int
	SortBy       string
	SortOrder    string
}
