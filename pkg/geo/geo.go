// Package geo provides the small set of spherical and planar primitives used
// to relate a query point to nearby map geometry.
package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// EarthRadius is the mean Earth radius in meters.
const EarthRadius = 6371000.0

// Location is a WGS84 coordinate.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Point returns the location as an orb point (lon, lat).
func (l Location) Point() orb.Point {
	return orb.Point{l.Longitude, l.Latitude}
}

// FromPoint converts an orb point (lon, lat) to a Location.
func FromPoint(p orb.Point) Location {
	return Location{Latitude: p.Lat(), Longitude: p.Lon()}
}

// Key returns the "lon,lat" string used to recognise repeated coordinates.
func (l Location) Key() string {
	return fmt.Sprintf("%v,%v", l.Longitude, l.Latitude)
}

// BoundingBox is an axis-aligned lat/lon box.
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// NewBoundingBox creates an empty bounding box ready to be extended.
func NewBoundingBox() *BoundingBox {
	return &BoundingBox{
		MinLat: math.Inf(1),
		MinLon: math.Inf(1),
		MaxLat: math.Inf(-1),
		MaxLon: math.Inf(-1),
	}
}

// Around returns the box extending delta degrees on every side of loc.
func Around(loc Location, delta float64) BoundingBox {
	return BoundingBox{
		MinLat: loc.Latitude - delta,
		MinLon: loc.Longitude - delta,
		MaxLat: loc.Latitude + delta,
		MaxLon: loc.Longitude + delta,
	}
}

// ExtendWithPoint grows the box to include the point.
func (b *BoundingBox) ExtendWithPoint(lat, lon float64) {
	b.MinLat = math.Min(b.MinLat, lat)
	b.MinLon = math.Min(b.MinLon, lon)
	b.MaxLat = math.Max(b.MaxLat, lat)
	b.MaxLon = math.Max(b.MaxLon, lon)
}

// Contains reports whether the location falls inside the box, edges included.
func (b BoundingBox) Contains(loc Location) bool {
	return loc.Latitude >= b.MinLat && loc.Latitude <= b.MaxLat &&
		loc.Longitude >= b.MinLon && loc.Longitude <= b.MaxLon
}

// String formats the box as "left,bottom,right,top", the order the map API expects.
func (b BoundingBox) String() string {
	return fmt.Sprintf("%.7f,%.7f,%.7f,%.7f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

func radians(deg float64) float64 {
	return (s1.Angle(deg) * s1.Degree).Radians()
}

// Distance returns the great-circle distance in meters between a and b.
//
// It uses the haversine identity written in terms of 1-cos.
func Distance(a, b Location) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)

	h := ((1 - math.Cos(dLat)) + (1-math.Cos(dLon))*math.Cos(lat1)*math.Cos(lat2)) / 2
	// rounding can push h fractionally outside [0,1]
	h = math.Max(0, math.Min(1, h))
	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}

// DistanceToSegment projects p onto the segment a-b and returns the distance
// to the projected point together with the point itself. The projection is
// clamped so the returned point always lies on the segment.
func DistanceToSegment(p, a, b Location) (float64, Location) {
	dx := b.Longitude - a.Longitude
	dy := b.Latitude - a.Latitude
	if dx == 0 && dy == 0 {
		return Distance(p, a), a
	}

	u := ((p.Longitude-a.Longitude)*dx + (p.Latitude-a.Latitude)*dy) / (dx*dx + dy*dy)
	u = math.Max(0, math.Min(1, u))

	closest := Location{
		Latitude:  a.Latitude + u*dy,
		Longitude: a.Longitude + u*dx,
	}
	return Distance(p, closest), closest
}

// PointInPolygon reports whether p lies inside the ring using a ray-casting
// parity test. The ring is closed implicitly.
func PointInPolygon(p Location, ring []Location) bool {
	if len(ring) < 3 {
		return false
	}
	r := make(orb.Ring, 0, len(ring)+1)
	for _, loc := range ring {
		r = append(r, loc.Point())
	}
	if !r.Closed() {
		r = append(r, r[0])
	}
	return planar.RingContains(r, p.Point())
}
