package scim

import (
	"fmt"
	"net/http"
)

// SCIM error types as defined in RFC 7644
const (
	ScimTypeInvalidFilter = "invalidFilter"
	ScimTypeInvalidPath   = "invalidPath"
	ScimTypeInvalidSyntax = "invalidSyntax"
	ScimTypeInvalidValue  = "invalidValue"
	ScimTypeMutability    = "mutability"
	ScimTypeNoTarget      = "noTarget"
	ScimTypeTooMany       = "tooMany"
)

// SCIMError represents a SCIM error
type SCIMError struct {
	Status   int
	Detail   string
	ScimType string
}

// Error implements the error interface
func (e *SCIMError) Error() string {
	return e.Detail
}

// NewSCIMError creates a new SCIM error
func NewSCIMError(status int, detail, scimType string) *SCIMError {
	return &SCIMError{
		Status:   status,
		Detail:   detail,
		ScimType: scimType,
	}
}

// Common SCIM errors
var (
	ErrInvalidFilter = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeInvalidFilter)
	}

	// ErrFilterTooComplex rejects filters whose node count exceeds the
	// configured complexity limit.
	ErrFilterTooComplex = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeTooMany)
	}

	ErrInvalidPath = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeInvalidPath)
	}

	ErrInvalidSyntax = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeInvalidSyntax)
	}

	ErrInvalidValue = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeInvalidValue)
	}

	ErrMutability = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeMutability)
	}

	ErrNoTarget = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadRequest, detail, ScimTypeNoTarget)
	}

	// ErrUpstreamUnavailable covers transport failures and timeouts talking
	// to the upstream service. Upstream HTTP errors are not wrapped in this:
	// they pass through with the original status and body.
	ErrUpstreamUnavailable = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusBadGateway, detail, "")
	}

	ErrInternalServer = func(detail string) *SCIMError {
		return NewSCIMError(http.StatusInternalServerError, detail, "")
	}

	ErrMethodNotAllowed = func(method string) *SCIMError {
		return NewSCIMError(http.StatusMethodNotAllowed, fmt.Sprintf("Method %s not allowed", method), "")
	}
)
