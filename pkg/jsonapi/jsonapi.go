// Package jsonapi builds JSON:API request documents
// (https://jsonapi.org) for provider APIs that speak the format.
package jsonapi

// ContentType is the JSON:API media type.
const ContentType = "application/vnd.api+json"

// Document is a JSON:API top-level document.
type Document struct {
	Data any  `json:"data,omitempty"`
	Meta Meta `json:"meta,omitempty"`
}

// Resource is a JSON:API resource object. ID is omitted when empty so
// the same type serves create requests, where the server assigns the
// id.
type Resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id,omitempty"`
	Attributes    map[string]any          `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
}

// ResourceIdentifier is a resource linkage, type and id only.
type ResourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Relationship links a resource to one or more others.
type Relationship struct {
	Data any `json:"data"` // ResourceIdentifier or []ResourceIdentifier
}

// Meta holds arbitrary document metadata.
type Meta map[string]any
