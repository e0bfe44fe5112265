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

func TestApplyModifySelectedTags(t *testing.T) {
	s := graph.NewStore()
	n := addNode(s, 1, origin, graph.Tags{"amenity": "cafe"})
	f := pointFeature(graph.Tags{"amenity": "cafe", "name": "Bean", "cuisine": "coffee_shop"})
	e := conflate.ComputeModification(conflate.Candidate{Entity: n, Score: 3}, f)
	require.NotNil(t, e)

	got, err := conflate.Apply(s, e, conflate.ApplyOptions{Keys: []string{"name", "unrelated"}})
	require.NoError(t, err)

	assert.Same(t, n, got)
	assert.True(t, n.Dirty())
	assert.Equal(t, graph.Tags{"amenity": "cafe", "name": "Bean"}, n.Tags())
	assert.Equal(t, 1, s.DirtyCount())
}

func TestApplyNothingSelected(t *testing.T) {
	s := graph.NewStore()
	n := addNode(s, 1, origin, graph.Tags{"amenity": "cafe"})
	e := conflate.ComputeModification(conflate.Candidate{Entity: n}, pointFeature(graph.Tags{"name": "Bean"}))

	_, err := conflate.Apply(s, e, conflate.ApplyOptions{Keys: []string{}})
	assert.ErrorIs(t, err, conflate.ErrNothingSelected)
	assert.False(t, n.Dirty())
}

func TestApplyCreateNode(t *testing.T) {
	s := graph.NewStore()
	first := s.NextPlaceholder()

	e := conflate.ComputeCreation(pointFeature(graph.Tags{"amenity": "bench"}), origin)
	got, err := conflate.Apply(s, e, conflate.ApplyOptions{})
	require.NoError(t, err)

	assert.Less(t, int64(got.ID()), int64(first))
	n := s.Node(got.ID())
	require.NotNil(t, n)
	assert.True(t, n.Dirty())
	assert.Equal(t, origin, n.Location)
	assert.Equal(t, graph.Tags{"amenity": "bench"}, n.Tags())
}

func TestApplyCreateWayReusesRepeatedCoordinates(t *testing.T) {
	s := graph.NewStore()
	ring := orb.Ring{
		offset(0, 0).Point(),
		offset(0, 0.001).Point(),
		offset(0.001, 0.001).Point(),
		offset(0, 0).Point(),
	}
	f := &conflate.Feature{Geometry: orb.Polygon{ring}, Tags: graph.Tags{"building": "yes", "id": "7"}}

	e := conflate.ComputeCreation(f, origin)
	require.NotNil(t, e)
	got, err := conflate.Apply(s, e, conflate.ApplyOptions{})
	require.NoError(t, err)

	w, ok := got.(*graph.Way)
	require.True(t, ok)
	assert.Equal(t, graph.ID(-4), w.ID(), "three nodes first, then the way")
	assert.True(t, w.IsClosed())
	assert.True(t, w.IsArea())
	assert.Equal(t, graph.Tags{"building": "yes"}, w.Tags())

	nodes, ways, _ := s.Len()
	assert.Equal(t, 3, nodes)
	assert.Equal(t, 1, ways)
	assert.Equal(t, 4, s.DirtyCount())
	for _, n := range w.Nodes() {
		assert.True(t, n.Dirty())
		assert.Empty(t, n.Tags())
		assert.Equal(t, 1, n.Version())
		assert.False(t, n.IsPOI())
	}
}

func TestApplyCreateWaySimplified(t *testing.T) {
	s := graph.NewStore()
	line := orb.LineString{}
	for i := 0; i <= 10; i++ {
		line = append(line, offset(0, float64(i)*0.0001).Point())
	}
	f := &conflate.Feature{Geometry: line, Tags: graph.Tags{"highway": "footway"}}

	e := conflate.ComputeCreation(f, origin)
	got, err := conflate.Apply(s, e, conflate.ApplyOptions{SimplifyTolerance: 1e-6})
	require.NoError(t, err)

	w := got.(*graph.Way)
	assert.Len(t, w.Nodes(), 2)
	assert.Equal(t, geo.FromPoint(line[0]), w.Nodes()[0].Location)
	assert.Equal(t, geo.FromPoint(line[10]), w.Nodes()[1].Location)
}
