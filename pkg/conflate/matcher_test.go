package conflate_test

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemed/conflation/pkg/conflate"
	"github.com/systemed/conflation/pkg/geo"
	"github.com/systemed/conflation/pkg/graph"
)

var origin = geo.Location{Latitude: 51.5, Longitude: -0.12}

// offset returns a location dLat/dLon degrees from origin.
func offset(dLat, dLon float64) geo.Location {
	return geo.Location{Latitude: origin.Latitude + dLat, Longitude: origin.Longitude + dLon}
}

func addNode(s *graph.Store, id graph.ID, loc geo.Location, tags graph.Tags) *graph.Node {
	n := graph.NewNode(id, 1, loc, tags)
	s.Add(n)
	return n
}

func addWay(s *graph.Store, id graph.ID, tags graph.Tags, nodes ...*graph.Node) *graph.Way {
	w := graph.NewWay(id, 1, tags, nodes)
	s.Add(w)
	return w
}

func pointFeature(tags graph.Tags) *conflate.Feature {
	return &conflate.Feature{ID: "f1", Geometry: origin.Point(), Tags: tags}
}

func ids(cs []conflate.Candidate) []graph.ID {
	out := make([]graph.ID, len(cs))
	for i, c := range cs {
		out[i] = c.Entity.ID()
	}
	return out
}

func TestFindCandidatesDistanceThreshold(t *testing.T) {
	s := graph.NewStore()
	addNode(s, 1, offset(0.0005, 0), graph.Tags{"amenity": "cafe"}) // ~56m
	addNode(s, 2, offset(0.002, 0), graph.Tags{"amenity": "cafe"})  // ~222m

	m := conflate.NewMatcher(nil)
	got := m.FindCandidates(pointFeature(graph.Tags{"amenity": "cafe"}), origin, s)

	assert.Equal(t, []graph.ID{1}, ids(got))
	assert.Equal(t, 3.0, got[0].Score)
}

func TestFindCandidatesNearerFirstOnEqualScore(t *testing.T) {
	s := graph.NewStore()
	addNode(s, 1, offset(0.0008, 0), graph.Tags{"amenity": "bar"})
	addNode(s, 2, offset(0.0002, 0), graph.Tags{"amenity": "pub"})

	got := conflate.NewMatcher(nil).FindCandidates(pointFeature(graph.Tags{"amenity": "cafe"}), origin, s)

	require.Len(t, got, 2)
	assert.Equal(t, []graph.ID{2, 1}, ids(got))
	assert.Less(t, got[0].Proximity.Distance, got[1].Proximity.Distance)
}

func TestFindCandidatesRankKey(t *testing.T) {
	s := graph.NewStore()
	addNode(s, 1, offset(0.0001, 0), graph.Tags{"amenity": "cafe"})
	addNode(s, 2, offset(0.0001, 0.0001), graph.Tags{"amenity": "bar"})

	got := conflate.NewMatcher(nil).FindCandidates(pointFeature(graph.Tags{"amenity": "cafe"}), origin, s)

	require.Len(t, got, 2)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Rank(), got[i].Rank())
	}
}

func TestFindCandidatesPointTypes(t *testing.T) {
	s := graph.NewStore()
	poi := addNode(s, 1, offset(0.0001, 0), graph.Tags{"shop": "bakery"})
	a := addNode(s, 2, offset(-0.0003, -0.0003), nil)
	b := addNode(s, 3, offset(-0.0003, 0.0003), graph.Tags{"shop": "bakery"})
	c := addNode(s, 4, offset(0.0003, 0.0003), nil)
	d := addNode(s, 5, offset(0.0003, -0.0003), nil)
	addWay(s, 10, graph.Tags{"shop": "bakery", "building": "yes"}, a, b, c, d, a)
	addWay(s, 11, graph.Tags{"shop": "bakery"}, a, b)

	got := conflate.NewMatcher(nil).FindCandidates(pointFeature(graph.Tags{"shop": "bakery"}), origin, s)

	// the vertex node 3 and the open way 11 are not eligible for point features
	assert.ElementsMatch(t, []graph.ID{1, 10}, ids(got))
	for _, cand := range got {
		if cand.Entity.ID() == 10 {
			assert.Equal(t, 0.0, cand.Proximity.Distance, "point inside the area")
		}
	}
	assert.True(t, poi.IsPOI())
}

func TestFindCandidatesLineTypes(t *testing.T) {
	s := graph.NewStore()
	a := addNode(s, 1, offset(-0.0002, -0.001), nil)
	b := addNode(s, 2, offset(-0.0002, 0.001), nil)
	addWay(s, 10, graph.Tags{"highway": "residential"}, a, b)
	addNode(s, 3, offset(0, 0.0001), graph.Tags{"highway": "street_lamp"})

	f := &conflate.Feature{
		ID:       "road",
		Geometry: orb.LineString{offset(0, -0.001).Point(), offset(0, 0.001).Point()},
		Tags:     graph.Tags{"highway": "residential", "name": "High Street"},
	}
	got := conflate.NewMatcher(nil).FindCandidates(f, origin, s)

	assert.Equal(t, []graph.ID{10}, ids(got))
}

func TestFindCandidatesPolygonTypes(t *testing.T) {
	s := graph.NewStore()
	a := addNode(s, 1, offset(-0.0003, -0.0003), nil)
	b := addNode(s, 2, offset(-0.0003, 0.0003), nil)
	c := addNode(s, 3, offset(0.0003, 0.0003), nil)
	d := addNode(s, 4, offset(0.0003, -0.0003), nil)
	outer := addWay(s, 10, nil, a, b, c, d, a)
	addWay(s, 11, graph.Tags{"leisure": "park"}, a, b)
	mp := graph.NewRelation(20, 1, graph.Tags{"type": "multipolygon", "leisure": "park"},
		[]graph.Member{{Entity: outer, Role: "outer"}})
	s.Add(mp)
	s.Add(graph.NewRelation(21, 1, graph.Tags{"type": "site", "leisure": "park"},
		[]graph.Member{{Entity: outer, Role: "outer"}}))

	f := &conflate.Feature{
		ID:       "park",
		Geometry: orb.Polygon{orb.Ring{a.Location.Point(), b.Location.Point(), c.Location.Point(), a.Location.Point()}},
		Tags:     graph.Tags{"leisure": "park"},
	}
	got := conflate.NewMatcher(nil).FindCandidates(f, origin, s)

	// way 10 has no tags so it scores zero; relation 21 has no outer way
	assert.Equal(t, []graph.ID{20}, ids(got))
}

func TestFindCandidatesWaynodeFilter(t *testing.T) {
	s := graph.NewStore()
	a := addNode(s, 1, offset(0, -0.0002), graph.Tags{"barrier": "gate"})
	b := addNode(s, 2, offset(0, 0.0002), graph.Tags{"barrier": "gate"})
	c := addNode(s, 3, offset(0.0001, 0.0002), graph.Tags{"barrier": "gate"})
	addWay(s, 10, graph.Tags{"highway": "track"}, a, c)
	addWay(s, 11, graph.Tags{"waterway": "ditch"}, b, c)
	addNode(s, 4, origin, graph.Tags{"barrier": "gate"})

	f := pointFeature(graph.Tags{"barrier": "gate", "_filter": "waynode:highway"})
	got := conflate.NewMatcher(nil).FindCandidates(f, origin, s)

	assert.ElementsMatch(t, []graph.ID{1, 3}, ids(got))
}

func TestFindCandidatesEmpty(t *testing.T) {
	got := conflate.NewMatcher(nil).FindCandidates(pointFeature(graph.Tags{"amenity": "cafe"}), origin, graph.NewStore())
	assert.Empty(t, got)
}
