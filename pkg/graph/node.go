package graph

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/systemed/conflation/pkg/geo"
)

// Node is a tagged point. It may stand alone or be a vertex of ways.
type Node struct {
	element
	Location geo.Location
}

// NewNode creates a clean node. It is not linked to anything until added to a Store.
func NewNode(id ID, version int, loc geo.Location, tags Tags) *Node {
	return &Node{element: newElement(id, version, tags), Location: loc}
}

func (n *Node) Kind() Kind { return KindNode }

// IsPOI reports whether the node is a point of interest rather than only a
// shape vertex, i.e. no way references it.
func (n *Node) IsPOI() bool {
	for _, p := range n.parents {
		if p.Kind() == KindWay {
			return false
		}
	}
	return true
}

// ParentWayHasKey reports whether any way containing the node carries key.
func (n *Node) ParentWayHasKey(key string) bool {
	for _, p := range n.parents {
		if p.Kind() == KindWay && p.Tags().Has(key) {
			return true
		}
	}
	return false
}

func (n *Node) DistanceFrom(p geo.Location) (Proximity, bool) {
	return Proximity{Distance: geo.Distance(p, n.Location), Location: n.Location}, true
}

func (n *Node) IsArea() bool { return false }

func (n *Node) Highlight() orb.Geometry {
	return n.Location.Point()
}

func (n *Node) AppendTo(o *osm.OSM, changeset osm.ChangesetID) {
	o.Nodes = append(o.Nodes, &osm.Node{
		ID:          osm.NodeID(n.id),
		Version:     n.wireVersion(),
		ChangesetID: changeset,
		Visible:     true,
		Lat:         n.Location.Latitude,
		Lon:         n.Location.Longitude,
		Tags:        n.tags.OSM(),
	})
}
