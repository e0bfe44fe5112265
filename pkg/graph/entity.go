// Package graph holds the in-memory map model: nodes, ways and relations,
// the store that owns them, and the dirty tracking used to build uploads.
package graph

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/systemed/conflation/pkg/geo"
)

// ID identifies an entity within its kind. Positive values are known to the
// remote service; zero and negative values are local placeholders.
type ID int64

// IsPlaceholder reports whether the id was allocated locally.
func (id ID) IsPlaceholder() bool {
	return id <= 0
}

// Kind discriminates the three entity types.
type Kind int

const (
	KindNode Kind = iota
	KindWay
	KindRelation
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindWay:
		return "way"
	case KindRelation:
		return "relation"
	default:
		return "unknown"
	}
}

// OSMType returns the wire type name for the kind.
func (k Kind) OSMType() osm.Type {
	switch k {
	case KindWay:
		return osm.TypeWay
	case KindRelation:
		return osm.TypeRelation
	default:
		return osm.TypeNode
	}
}

// ParseKind converts a wire type name to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "node":
		return KindNode, true
	case "way":
		return KindWay, true
	case "relation":
		return KindRelation, true
	}
	return 0, false
}

// Tags maps tag keys to values.
type Tags map[string]string

// Has reports whether key is set to a non-empty value.
func (t Tags) Has(key string) bool {
	return t[key] != ""
}

// Clone returns a copy that can be mutated independently.
func (t Tags) Clone() Tags {
	c := make(Tags, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// OSM converts the tags to the wire representation, sorted by key.
func (t Tags) OSM() osm.Tags {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tags := make(osm.Tags, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, osm.Tag{Key: k, Value: t[k]})
	}
	return tags
}

// Proximity is the result of measuring an entity against a query point:
// the distance in meters and the closest point on the entity.
type Proximity struct {
	Distance float64      `json:"distance"`
	Location geo.Location `json:"location"`
}

// Entity is a node, way or relation. The set of implementations is closed.
type Entity interface {
	Kind() Kind
	ID() ID
	Version() int
	Tags() Tags
	Dirty() bool
	Parents() []Entity

	// DistanceFrom measures the entity against p. ok is false when the
	// entity has no usable geometry.
	DistanceFrom(p geo.Location) (prox Proximity, ok bool)
	IsArea() bool
	// Highlight returns the entity's geometry for display, or nil.
	Highlight() orb.Geometry
	// AppendTo serializes the entity into o under the given changeset.
	AppendTo(o *osm.OSM, changeset osm.ChangesetID)

	base() *element
}

// element is the state shared by every entity kind.
type element struct {
	id      ID
	version int
	tags    Tags
	dirty   bool
	parents []Entity
}

func newElement(id ID, version int, tags Tags) element {
	if tags == nil {
		tags = Tags{}
	}
	return element{id: id, version: version, tags: tags}
}

func (e *element) ID() ID { return e.id }
func (e *element) Version() int { return e.version }
func (e *element) Dirty() bool { return e.dirty }
func (e *element) base() *element { return e }

// Tags returns the live tag map. Mutate it through Store.SetTag.
func (e *element) Tags() Tags { return e.tags }

// Parents returns the ways and relations referencing this entity.
func (e *element) Parents() []Entity {
	out := make([]Entity, len(e.parents))
	copy(out, e.parents)
	return out
}

func (e *element) addParent(p Entity) {
	for _, existing := range e.parents {
		if existing == p {
			return
		}
	}
	e.parents = append(e.parents, p)
}

func (e *element) removeParent(p Entity) {
	for i, existing := range e.parents {
		if existing == p {
			e.parents = append(e.parents[:i], e.parents[i+1:]...)
			return
		}
	}
}

// wireVersion omits the version for entities the server has not seen.
func (e *element) wireVersion() int {
	if e.id.IsPlaceholder() {
		return 0
	}
	return e.version
}
