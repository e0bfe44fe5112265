package graph

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/systemed/conflation/pkg/geo"
)

// Way is an ordered sequence of shared nodes.
type Way struct {
	element
	nodes []*Node
}

// NewWay creates a clean way over nodes. Back-references are set when the
// way is added to a Store.
func NewWay(id ID, version int, tags Tags, nodes []*Node) *Way {
	return &Way{element: newElement(id, version, tags), nodes: nodes}
}

func (w *Way) Kind() Kind { return KindWay }

// Nodes returns the way's node sequence.
func (w *Way) Nodes() []*Node {
	out := make([]*Node, len(w.nodes))
	copy(out, w.nodes)
	return out
}

// IsClosed reports whether the first and last node are the same node.
func (w *Way) IsClosed() bool {
	return len(w.nodes) > 1 && w.nodes[0] == w.nodes[len(w.nodes)-1]
}

// IsArea reports whether the way is closed and tagged as a region: either
// it is not a highway or it carries area=yes.
func (w *Way) IsArea() bool {
	if !w.IsClosed() {
		return false
	}
	return !w.tags.Has("highway") || w.tags["area"] == "yes"
}

func (w *Way) locations() []geo.Location {
	locs := make([]geo.Location, len(w.nodes))
	for i, n := range w.nodes {
		locs[i] = n.Location
	}
	return locs
}

// DistanceFrom returns zero for a point inside an area, otherwise the
// nearest point over all non-degenerate segments.
func (w *Way) DistanceFrom(p geo.Location) (Proximity, bool) {
	if w.IsArea() && geo.PointInPolygon(p, w.locations()) {
		return Proximity{Distance: 0, Location: p}, true
	}

	best := Proximity{Distance: math.Inf(1)}
	found := false
	for i := 1; i < len(w.nodes); i++ {
		a, b := w.nodes[i-1].Location, w.nodes[i].Location
		if a == b {
			continue
		}
		d, closest := geo.DistanceToSegment(p, a, b)
		if d < best.Distance {
			best = Proximity{Distance: d, Location: closest}
			found = true
		}
	}
	return best, found
}

func (w *Way) Highlight() orb.Geometry {
	if len(w.nodes) == 0 {
		return nil
	}
	line := make(orb.LineString, len(w.nodes))
	for i, n := range w.nodes {
		line[i] = n.Location.Point()
	}
	if w.IsArea() {
		return orb.Polygon{orb.Ring(line)}
	}
	return line
}

func (w *Way) AppendTo(o *osm.OSM, changeset osm.ChangesetID) {
	nodes := make(osm.WayNodes, len(w.nodes))
	for i, n := range w.nodes {
		nodes[i] = osm.WayNode{ID: osm.NodeID(n.id)}
	}
	o.Ways = append(o.Ways, &osm.Way{
		ID:          osm.WayID(w.id),
		Version:     w.wireVersion(),
		ChangesetID: changeset,
		Visible:     true,
		Tags:        w.tags.OSM(),
		Nodes:       nodes,
	})
}
