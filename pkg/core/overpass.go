package core

import (
	"fmt"
	"strings"

	"github.com/systemed/conflation/pkg/geo"
)

// OverpassBuilder provides a fluent interface for building Overpass API queries
type OverpassBuilder struct {
	outFormat string
	timeout   int
	bbox      *geo.BoundingBox
	elements  []ElementFilter
	recurse   bool
	meta      bool
}

// ElementFilter is one element type clause of the query.
type ElementFilter struct {
	ElementType string // "node", "way", "relation"
}

// NewOverpassBuilder creates a new builder with default settings
func NewOverpassBuilder() *OverpassBuilder {
	return &OverpassBuilder{
		outFormat: "xml",
		timeout:   25,
	}
}

// WithTimeout sets the query timeout
func (b *OverpassBuilder) WithTimeout(seconds int) *OverpassBuilder {
	b.timeout = seconds
	return b
}

// WithOutputFormat sets the output format
func (b *OverpassBuilder) WithOutputFormat(format string) *OverpassBuilder {
	b.outFormat = format
	return b
}

// WithBoundingBox restricts every element filter to bbox.
func (b *OverpassBuilder) WithBoundingBox(bbox geo.BoundingBox) *OverpassBuilder {
	b.bbox = &bbox
	return b
}

// WithNode adds a node clause
func (b *OverpassBuilder) WithNode() *OverpassBuilder {
	b.elements = append(b.elements, ElementFilter{ElementType: "node"})
	return b
}

// WithWay adds a way clause
func (b *OverpassBuilder) WithWay() *OverpassBuilder {
	b.elements = append(b.elements, ElementFilter{ElementType: "way"})
	return b
}

// WithRelation adds a relation clause
func (b *OverpassBuilder) WithRelation() *OverpassBuilder {
	b.elements = append(b.elements, ElementFilter{ElementType: "relation"})
	return b
}

// WithAll adds unfiltered node, way and relation clauses.
func (b *OverpassBuilder) WithAll() *OverpassBuilder {
	return b.WithNode().WithWay().WithRelation()
}

// RecurseDown also returns the nodes of matched ways and the members of
// matched relations, so the result is referentially complete.
func (b *OverpassBuilder) RecurseDown() *OverpassBuilder {
	b.recurse = true
	return b
}

// WithMeta asks for versions and other metadata needed for editing.
func (b *OverpassBuilder) WithMeta() *OverpassBuilder {
	b.meta = true
	return b
}

// Build generates the Overpass query string
func (b *OverpassBuilder) Build() string {
	var query strings.Builder

	fmt.Fprintf(&query, "[out:%s][timeout:%d];(", b.outFormat, b.timeout)
	for _, filter := range b.elements {
		query.WriteString(b.buildElementFilter(filter))
	}
	query.WriteString(");")

	if b.recurse {
		query.WriteString("(._;>;);")
	}
	if b.meta {
		query.WriteString("out meta;")
	} else {
		query.WriteString("out body;")
	}
	return query.String()
}

func (b *OverpassBuilder) buildElementFilter(filter ElementFilter) string {
	var elementQuery strings.Builder

	elementQuery.WriteString(filter.ElementType)
	if b.bbox != nil {
		// Overpass orders bbox as south,west,north,east.
		fmt.Fprintf(&elementQuery, "(%.7f,%.7f,%.7f,%.7f)",
			b.bbox.MinLat, b.bbox.MinLon, b.bbox.MaxLat, b.bbox.MaxLon)
	}
	elementQuery.WriteString(";")
	return elementQuery.String()
}
