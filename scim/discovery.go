package scim

import "strings"

// Schema URNs for the discovery endpoints.
const (
	SchemaServiceProviderConfig = "urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"
	SchemaResourceType          = "urn:ietf:params:scim:schemas:core:2.0:ResourceType"
	SchemaEnterpriseUser        = "urn:ietf:params:scim:schemas:extension:enterprise:2.0:User"
)

// Supported is a discovery capability flag.
type Supported struct {
	Supported bool `json:"supported"`
}

// FilterSupported advertises filtering along with the maximum result window.
type FilterSupported struct {
	Supported  bool `json:"supported"`
	MaxResults int  `json:"maxResults"`
}

// AuthenticationScheme describes one supported authentication mechanism.
type AuthenticationScheme struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SpecURI     string `json:"specUri,omitempty"`
	Primary     bool   `json:"primary,omitempty"`
}

// ServiceProviderConfig is the /ServiceProviderConfig response body.
type ServiceProviderConfig struct {
	Schemas               []string               `json:"schemas"`
	DocumentationURI      string                 `json:"documentationUri,omitempty"`
	Patch                 Supported              `json:"patch"`
	Bulk                  BulkSupported          `json:"bulk"`
	Filter                FilterSupported        `json:"filter"`
	ChangePassword        Supported              `json:"changePassword"`
	Sort                  Supported              `json:"sort"`
	ETag                  Supported              `json:"etag"`
	AuthenticationSchemes []AuthenticationScheme `json:"authenticationSchemes"`
}

// BulkSupported advertises bulk operation limits.
type BulkSupported struct {
	Supported      bool `json:"supported"`
	MaxOperations  int  `json:"maxOperations"`
	MaxPayloadSize int  `json:"maxPayloadSize"`
}

// Meta is the metadata block attached to discovery documents.
type Meta struct {
	Location     string `json:"location"`
	ResourceType string `json:"resourceType"`
}

// SchemaExtension references a schema extension of a resource type.
type SchemaExtension struct {
	Schema   string `json:"schema"`
	Required bool   `json:"required"`
}

// ResourceType is one entry of the /ResourceTypes response.
type ResourceType struct {
	Schemas          []string          `json:"schemas"`
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Endpoint         string            `json:"endpoint"`
	Description      string            `json:"description,omitempty"`
	Schema           string            `json:"schema"`
	SchemaExtensions []SchemaExtension `json:"schemaExtensions,omitempty"`
	Meta             *Meta             `json:"meta,omitempty"`
}

// GetServiceProviderConfig describes the capabilities the proxy adds on top
// of the upstream: filtering, sorting and PATCH are handled here, so they are
// advertised regardless of what the upstream supports.
func GetServiceProviderConfig(maxResults int) ServiceProviderConfig {
	return ServiceProviderConfig{
		Schemas: []string{SchemaServiceProviderConfig},
		Patch:   Supported{Supported: true},
		Bulk:    BulkSupported{Supported: false},
		Filter: FilterSupported{
			Supported:  true,
			MaxResults: maxResults,
		},
		ChangePassword:        Supported{Supported: false},
		Sort:                  Supported{Supported: true},
		ETag:                  Supported{Supported: false},
		AuthenticationSchemes: []AuthenticationScheme{},
	}
}

// GetResourceTypes lists the resource types the proxy serves.
func GetResourceTypes() []ResourceType {
	return []ResourceType{
		{
			Schemas:     []string{SchemaResourceType},
			ID:          "User",
			Name:        "User",
			Endpoint:    "/Users",
			Description: "User Account",
			Schema:      SchemaUser,
			SchemaExtensions: []SchemaExtension{
				{Schema: SchemaEnterpriseUser, Required: false},
			},
			Meta: &Meta{
				Location:     "/v2/ResourceTypes/User",
				ResourceType: "ResourceType",
			},
		},
		{
			Schemas:     []string{SchemaResourceType},
			ID:          "Group",
			Name:        "Group",
			Endpoint:    "/Groups",
			Description: "Group",
			Schema:      SchemaGroup,
			Meta: &Meta{
				Location:     "/v2/ResourceTypes/Group",
				ResourceType: "ResourceType",
			},
		},
	}
}

// GetResourceType returns the resource type document with the given id.
func GetResourceType(id string) (ResourceType, bool) {
	for _, rt := range GetResourceTypes() {
		if strings.EqualFold(rt.ID, id) {
			return rt, true
		}
	}
	return ResourceType{}, false
}
