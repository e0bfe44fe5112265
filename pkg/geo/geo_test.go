package geo_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systemed/conflation/pkg/geo"
)

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][2]geo.Location{
		{{Latitude: 51.5, Longitude: -0.12}, {Latitude: 51.501, Longitude: -0.121}},
		{{Latitude: 0, Longitude: 0}, {Latitude: 0, Longitude: 1}},
		{{Latitude: -33.86, Longitude: 151.2}, {Latitude: -33.87, Longitude: 151.21}},
		{{Latitude: 89.9, Longitude: 179.9}, {Latitude: 89.9, Longitude: -179.9}},
	}

	for _, p := range pairs {
		assert.InDelta(t, geo.Distance(p[0], p[1]), geo.Distance(p[1], p[0]), 1e-9)
		assert.Equal(t, 0.0, geo.Distance(p[0], p[0]))
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// one degree of longitude on the equator
	d := geo.Distance(geo.Location{}, geo.Location{Longitude: 1})
	assert.InDelta(t, 111195, d, 1)
}

func TestDistanceToSegment(t *testing.T) {
	a := geo.Location{Latitude: 51.5000, Longitude: -0.1200}
	b := geo.Location{Latitude: 51.5000, Longitude: -0.1180}

	tests := []struct {
		name    string
		p       geo.Location
		closest geo.Location
	}{
		{"projects onto interior", geo.Location{Latitude: 51.5005, Longitude: -0.1190}, geo.Location{Latitude: 51.5, Longitude: -0.1190}},
		{"clamps before start", geo.Location{Latitude: 51.5005, Longitude: -0.1250}, a},
		{"clamps past end", geo.Location{Latitude: 51.4990, Longitude: -0.1100}, b},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, closest := geo.DistanceToSegment(tt.p, a, b)
			assert.InDelta(t, tt.closest.Latitude, closest.Latitude, 1e-9)
			assert.InDelta(t, tt.closest.Longitude, closest.Longitude, 1e-9)
			assert.LessOrEqual(t, d, geo.Distance(tt.p, a)+1e-9)
			assert.LessOrEqual(t, d, geo.Distance(tt.p, b)+1e-9)
		})
	}
}

func TestDistanceToSegmentStaysOnSegment(t *testing.T) {
	a := geo.Location{Latitude: 10, Longitude: 10}
	b := geo.Location{Latitude: 10.002, Longitude: 10.001}

	for i := -5; i <= 5; i++ {
		p := geo.Location{Latitude: 10 + float64(i)*0.001, Longitude: 10 - float64(i)*0.0007}
		_, c := geo.DistanceToSegment(p, a, b)

		assert.GreaterOrEqual(t, c.Latitude, math.Min(a.Latitude, b.Latitude)-1e-12)
		assert.LessOrEqual(t, c.Latitude, math.Max(a.Latitude, b.Latitude)+1e-12)
		assert.GreaterOrEqual(t, c.Longitude, math.Min(a.Longitude, b.Longitude)-1e-12)
		assert.LessOrEqual(t, c.Longitude, math.Max(a.Longitude, b.Longitude)+1e-12)
	}
}

func TestDistanceToSegmentDegenerate(t *testing.T) {
	a := geo.Location{Latitude: 1, Longitude: 1}
	p := geo.Location{Latitude: 1.001, Longitude: 1}

	d, c := geo.DistanceToSegment(p, a, a)
	assert.Equal(t, a, c)
	assert.InDelta(t, geo.Distance(p, a), d, 1e-9)
}

func TestPointInPolygon(t *testing.T) {
	square := []geo.Location{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: 10},
		{Latitude: 10, Longitude: 10},
		{Latitude: 10, Longitude: 0},
	}

	assert.True(t, geo.PointInPolygon(geo.Location{Latitude: 5, Longitude: 5}, square))
	assert.False(t, geo.PointInPolygon(geo.Location{Latitude: 15, Longitude: 5}, square))

	edge := geo.Location{Latitude: 0, Longitude: 5}
	first := geo.PointInPolygon(edge, square)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, geo.PointInPolygon(edge, square))
	}

	assert.False(t, geo.PointInPolygon(geo.Location{Latitude: 1, Longitude: 1}, square[:2]))
}

func TestBoundingBox(t *testing.T) {
	bbox := geo.Around(geo.Location{Latitude: 51.5, Longitude: -0.12}, 0.001)
	assert.Equal(t, "-0.1210000,51.4990000,-0.1190000,51.5010000", bbox.String())
	assert.True(t, bbox.Contains(geo.Location{Latitude: 51.5, Longitude: -0.12}))
	assert.False(t, bbox.Contains(geo.Location{Latitude: 51.6, Longitude: -0.12}))

	grow := geo.NewBoundingBox()
	grow.ExtendWithPoint(1, 2)
	grow.ExtendWithPoint(-1, 3)
	assert.Equal(t, geo.BoundingBox{MinLat: -1, MinLon: 2, MaxLat: 1, MaxLon: 3}, *grow)
}
