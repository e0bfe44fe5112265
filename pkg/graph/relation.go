package graph

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/systemed/conflation/pkg/geo"
)

// Member is a relation's reference to a node or way with a role.
// The referenced entity is owned by the Store, not the relation.
type Member struct {
	Entity Entity
	Role   string
}

// Relation groups nodes and ways under roles.
type Relation struct {
	element
	members []Member
}

// NewRelation creates a clean relation. Back-references are set when the
// relation is added to a Store.
func NewRelation(id ID, version int, tags Tags, members []Member) *Relation {
	return &Relation{element: newElement(id, version, tags), members: members}
}

func (r *Relation) Kind() Kind { return KindRelation }

// Members returns the relation's members in order.
func (r *Relation) Members() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

// Outer returns the first way with role "outer" of a multipolygon, or nil.
func (r *Relation) Outer() *Way {
	if r.tags["type"] != "multipolygon" {
		return nil
	}
	for _, m := range r.members {
		if m.Role != "outer" {
			continue
		}
		w, _ := m.Entity.(*Way)
		return w
	}
	return nil
}

// DistanceFrom delegates to the outer way. Relations without one are unmatched.
func (r *Relation) DistanceFrom(p geo.Location) (Proximity, bool) {
	outer := r.Outer()
	if outer == nil {
		return Proximity{}, false
	}
	return outer.DistanceFrom(p)
}

func (r *Relation) IsArea() bool {
	outer := r.Outer()
	return outer != nil && outer.IsClosed()
}

func (r *Relation) Highlight() orb.Geometry {
	outer := r.Outer()
	if outer == nil {
		return nil
	}
	g := outer.Highlight()
	if line, ok := g.(orb.LineString); ok && outer.IsClosed() {
		return orb.Polygon{orb.Ring(line)}
	}
	return g
}

func (r *Relation) AppendTo(o *osm.OSM, changeset osm.ChangesetID) {
	members := make(osm.Members, len(r.members))
	for i, m := range r.members {
		members[i] = osm.Member{
			Type: m.Entity.Kind().OSMType(),
			Ref:  int64(m.Entity.ID()),
			Role: m.Role,
		}
	}
	o.Relations = append(o.Relations, &osm.Relation{
		ID:          osm.RelationID(r.id),
		Version:     r.wireVersion(),
		ChangesetID: changeset,
		Visible:     true,
		Tags:        r.tags.OSM(),
		Members:     members,
	})
}
