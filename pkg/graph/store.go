package graph

import (
	"sort"

	"github.com/paulmach/osm"

	"github.com/systemed/conflation/pkg/geo"
)

// Store owns every entity of an editing session, keyed by id within kind.
// It is not safe for concurrent use; callers serialize access.
type Store struct {
	nodes     map[ID]*Node
	ways      map[ID]*Way
	relations map[ID]*Relation

	// placeholder is the last id handed out by NextPlaceholder
	placeholder ID
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		nodes:     make(map[ID]*Node),
		ways:      make(map[ID]*Way),
		relations: make(map[ID]*Relation),
	}
}

// NextPlaceholder returns a fresh negative id, lower than any returned before.
func (s *Store) NextPlaceholder() ID {
	s.placeholder--
	return s.placeholder
}

// Node returns the node with the given id, or nil.
func (s *Store) Node(id ID) *Node { return s.nodes[id] }

// Way returns the way with the given id, or nil.
func (s *Store) Way(id ID) *Way { return s.ways[id] }

// Relation returns the relation with the given id, or nil.
func (s *Store) Relation(id ID) *Relation { return s.relations[id] }

// Lookup finds an entity by kind and id.
func (s *Store) Lookup(kind Kind, id ID) (Entity, bool) {
	switch kind {
	case KindNode:
		if n, ok := s.nodes[id]; ok {
			return n, true
		}
	case KindWay:
		if w, ok := s.ways[id]; ok {
			return w, true
		}
	case KindRelation:
		if r, ok := s.relations[id]; ok {
			return r, true
		}
	}
	return nil, false
}

// Nodes returns all nodes in id order.
func (s *Store) Nodes() []*Node {
	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].id, out[j].id) })
	return out
}

// Ways returns all ways in id order.
func (s *Store) Ways() []*Way {
	out := make([]*Way, 0, len(s.ways))
	for _, w := range s.ways {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].id, out[j].id) })
	return out
}

// Relations returns all relations in id order.
func (s *Store) Relations() []*Relation {
	out := make([]*Relation, 0, len(s.relations))
	for _, r := range s.relations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].id, out[j].id) })
	return out
}

// Len returns the number of nodes, ways and relations held.
func (s *Store) Len() (nodes, ways, relations int) {
	return len(s.nodes), len(s.ways), len(s.relations)
}

// idLess orders server ids ascending, then placeholders in allocation order.
func idLess(a, b ID) bool {
	if a.IsPlaceholder() != b.IsPlaceholder() {
		return !a.IsPlaceholder()
	}
	if a.IsPlaceholder() {
		return a > b
	}
	return a < b
}

// Add inserts e, replacing any entity of the same kind and id, and records
// e as a parent of everything it references.
func (s *Store) Add(e Entity) {
	switch v := e.(type) {
	case *Node:
		s.nodes[v.id] = v
	case *Way:
		if old, ok := s.ways[v.id]; ok && old != v {
			s.unlink(old)
		}
		s.ways[v.id] = v
		s.link(v)
	case *Relation:
		if old, ok := s.relations[v.id]; ok && old != v {
			s.unlink(old)
		}
		s.relations[v.id] = v
		s.link(v)
	}
}

func (s *Store) link(e Entity) {
	switch v := e.(type) {
	case *Way:
		for _, n := range v.nodes {
			n.addParent(v)
		}
	case *Relation:
		for _, m := range v.members {
			m.Entity.base().addParent(v)
		}
	}
}

func (s *Store) unlink(e Entity) {
	switch v := e.(type) {
	case *Way:
		for _, n := range v.nodes {
			n.removeParent(v)
		}
	case *Relation:
		for _, m := range v.members {
			m.Entity.base().removeParent(v)
		}
	}
}

// MarkDirty flags e as locally modified.
func (s *Store) MarkDirty(e Entity) {
	e.base().dirty = true
}

// SetTag sets a tag on e and marks it dirty.
func (s *Store) SetTag(e Entity, key, value string) {
	b := e.base()
	b.tags[key] = value
	b.dirty = true
}

// DirtySet is the dirty subset of a store grouped by kind, each in id order.
type DirtySet struct {
	Nodes     []*Node
	Ways      []*Way
	Relations []*Relation
}

// Len returns the total number of dirty entities.
func (d DirtySet) Len() int {
	return len(d.Nodes) + len(d.Ways) + len(d.Relations)
}

// Entities returns the dirty entities in dependency order: nodes, ways, relations.
func (d DirtySet) Entities() []Entity {
	out := make([]Entity, 0, d.Len())
	for _, n := range d.Nodes {
		out = append(out, n)
	}
	for _, w := range d.Ways {
		out = append(out, w)
	}
	for _, r := range d.Relations {
		out = append(out, r)
	}
	return out
}

// Dirty collects the entities with unsaved changes.
func (s *Store) Dirty() DirtySet {
	var d DirtySet
	for _, n := range s.Nodes() {
		if n.dirty {
			d.Nodes = append(d.Nodes, n)
		}
	}
	for _, w := range s.Ways() {
		if w.dirty {
			d.Ways = append(d.Ways, w)
		}
	}
	for _, r := range s.Relations() {
		if r.dirty {
			d.Relations = append(d.Relations, r)
		}
	}
	return d
}

// DirtyCount returns how many entities have unsaved changes.
func (s *Store) DirtyCount() int {
	count := 0
	for _, n := range s.nodes {
		if n.dirty {
			count++
		}
	}
	for _, w := range s.ways {
		if w.dirty {
			count++
		}
	}
	for _, r := range s.relations {
		if r.dirty {
			count++
		}
	}
	return count
}

// ReassignID moves a dirty entity from oldID to newID, sets its version and
// clears the dirty flag. It returns false and changes nothing when no dirty
// entity is held under oldID.
func (s *Store) ReassignID(kind Kind, oldID, newID ID, version int) bool {
	switch kind {
	case KindNode:
		n, ok := s.nodes[oldID]
		if !ok || !n.dirty {
			return false
		}
		delete(s.nodes, oldID)
		n.id, n.version, n.dirty = newID, version, false
		s.nodes[newID] = n
	case KindWay:
		w, ok := s.ways[oldID]
		if !ok || !w.dirty {
			return false
		}
		delete(s.ways, oldID)
		w.id, w.version, w.dirty = newID, version, false
		s.ways[newID] = w
	case KindRelation:
		r, ok := s.relations[oldID]
		if !ok || !r.dirty {
			return false
		}
		delete(s.relations, oldID)
		r.id, r.version, r.dirty = newID, version, false
		s.relations[newID] = r
	default:
		return false
	}
	return true
}

// IngestStats summarizes one Ingest call.
type IngestStats struct {
	Nodes     int `json:"nodes"`
	Ways      int `json:"ways"`
	Relations int `json:"relations"`
	// Skipped counts entities left alone because they hold local edits.
	Skipped int `json:"skipped"`
}

// Ingest merges remote data into the store. Dirty entities are never
// overwritten. Clean entities are refreshed in place so existing references
// to them stay valid. Way nodes and relation members that are not in the
// store are dropped, as are relation members that are relations.
func (s *Store) Ingest(o *osm.OSM) IngestStats {
	var stats IngestStats
	if o == nil {
		return stats
	}

	for _, on := range o.Nodes {
		id := ID(on.ID)
		loc := geo.Location{Latitude: on.Lat, Longitude: on.Lon}
		if n, ok := s.nodes[id]; ok {
			if n.dirty {
				stats.Skipped++
				continue
			}
			n.Location, n.version, n.tags = loc, on.Version, Tags(on.Tags.Map())
		} else {
			s.Add(NewNode(id, on.Version, loc, Tags(on.Tags.Map())))
		}
		stats.Nodes++
	}

	for _, ow := range o.Ways {
		id := ID(ow.ID)
		existing, ok := s.ways[id]
		if ok && existing.dirty {
			stats.Skipped++
			continue
		}

		nodes := make([]*Node, 0, len(ow.Nodes))
		for _, wn := range ow.Nodes {
			if n := s.nodes[ID(wn.ID)]; n != nil {
				nodes = append(nodes, n)
			}
		}

		if ok {
			s.unlink(existing)
			existing.nodes, existing.version, existing.tags = nodes, ow.Version, Tags(ow.Tags.Map())
			s.link(existing)
		} else {
			s.Add(NewWay(id, ow.Version, Tags(ow.Tags.Map()), nodes))
		}
		stats.Ways++
	}

	for _, or := range o.Relations {
		id := ID(or.ID)
		existing, ok := s.relations[id]
		if ok && existing.dirty {
			stats.Skipped++
			continue
		}

		members := make([]Member, 0, len(or.Members))
		for _, m := range or.Members {
			var e Entity
			switch m.Type {
			case osm.TypeNode:
				if n := s.nodes[ID(m.Ref)]; n != nil {
					e = n
				}
			case osm.TypeWay:
				if w := s.ways[ID(m.Ref)]; w != nil {
					e = w
				}
			}
			if e != nil {
				members = append(members, Member{Entity: e, Role: m.Role})
			}
		}

		if ok {
			s.unlink(existing)
			existing.members, existing.version, existing.tags = members, or.Version, Tags(or.Tags.Map())
			s.link(existing)
		} else {
			s.Add(NewRelation(id, or.Version, Tags(or.Tags.Map()), members))
		}
		stats.Relations++
	}

	return stats
}
