package jsonapi

// DocumentBuilder assembles a Document fluently.
type DocumentBuilder struct {
	doc Document
}

// NewDocument starts an empty document.
func NewDocument() *DocumentBuilder {
	return &DocumentBuilder{}
}

// DataResource sets a single resource as the primary data.
func (b *DocumentBuilder) DataResource(r Resource) *DocumentBuilder {
	b.doc.Data = r
	return b
}

// DataCollection sets a collection of resources as the primary data.
func (b *DocumentBuilder) DataCollection(resources []Resource) *DocumentBuilder {
	b.doc.Data = resources
	return b
}

// Meta adds a metadata entry to the document.
func (b *DocumentBuilder) Meta(key string, value any) *DocumentBuilder {
	if b.doc.Meta == nil {
		b.doc.Meta = make(Meta)
	}
	b.doc.Meta[key] = value
	return b
}

// Build returns the constructed Document.
func (b *DocumentBuilder) Build() Document {
	return b.doc
}

// ResourceBuilder assembles a Resource fluently.
type ResourceBuilder struct {
	resource Resource
}

// NewResource starts a resource of the given type. Pass an empty id
// for create requests.
func NewResource(resourceType, id string) *ResourceBuilder {
	return &ResourceBuilder{
		resource: Resource{Type: resourceType, ID: id},
	}
}

// Attr sets one attribute.
func (b *ResourceBuilder) Attr(key string, value any) *ResourceBuilder {
	if b.resource.Attributes == nil {
		b.resource.Attributes = make(map[string]any)
	}
	b.resource.Attributes[key] = value
	return b
}

// Attrs sets multiple attributes. The reserved "id" and "type" keys are
// skipped; those live at the resource's top level.
func (b *ResourceBuilder) Attrs(attrs map[string]any) *ResourceBuilder {
	for k, v := range attrs {
		if k == "id" || k == "type" {
			continue
		}
		b.Attr(k, v)
	}
	return b
}

// BelongsTo adds a to-one relationship. An empty id adds nothing.
func (b *ResourceBuilder) BelongsTo(name, relType, relID string) *ResourceBuilder {
	if relID == "" {
		return b
	}
	if b.resource.Relationships == nil {
		b.resource.Relationships = make(map[string]Relationship)
	}
	b.resource.Relationships[name] = Relationship{
		Data: ResourceIdentifier{Type: relType, ID: relID},
	}
	return b
}

// Build returns the constructed Resource.
func (b *ResourceBuilder) Build() Resource {
	return b.resource
}
