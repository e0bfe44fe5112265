// Package conflate matches candidate features against the map graph and
// turns the matches into edits that can be applied to a graph.Store.
package conflate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/systemed/conflation/pkg/geo"
	"github.com/systemed/conflation/pkg/graph"
)

// GeometryKind is the broad shape of a candidate feature.
type GeometryKind int

const (
	GeometryUnknown GeometryKind = iota
	GeometryPoint
	GeometryLine
	GeometryPolygon
)

func (k GeometryKind) String() string {
	switch k {
	case GeometryPoint:
		return "point"
	case GeometryLine:
		return "line"
	case GeometryPolygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// Hint tags steer matching and are never written to the map.
const (
	HintFilter   = "_filter"
	HintMatchKey = "_match_key"
)

// IsReserved reports whether key is the feature id or a hint.
func IsReserved(key string) bool {
	return key == "id" || strings.HasPrefix(key, "_")
}

// Feature is a candidate map feature from the reference dataset.
type Feature struct {
	ID       string
	Geometry orb.Geometry
	Tags     graph.Tags
}

// ErrNoGeometry is returned for features without a usable geometry.
var ErrNoGeometry = errors.New("feature has no geometry")

// Kind classifies the feature's geometry.
func (f *Feature) Kind() GeometryKind {
	switch f.Geometry.(type) {
	case orb.Point, orb.MultiPoint:
		return GeometryPoint
	case orb.LineString, orb.MultiLineString:
		return GeometryLine
	case orb.Polygon, orb.MultiPolygon, orb.Ring:
		return GeometryPolygon
	default:
		return GeometryUnknown
	}
}

// Coordinates returns the feature's vertices as a single sequence: the
// point, the line, or the outer ring. Multi geometries use their first part.
func (f *Feature) Coordinates() []geo.Location {
	var pts []orb.Point
	switch g := f.Geometry.(type) {
	case orb.Point:
		pts = []orb.Point{g}
	case orb.MultiPoint:
		pts = g
	case orb.LineString:
		pts = g
	case orb.MultiLineString:
		if len(g) > 0 {
			pts = g[0]
		}
	case orb.Ring:
		pts = g
	case orb.Polygon:
		if len(g) > 0 {
			pts = g[0]
		}
	case orb.MultiPolygon:
		if len(g) > 0 && len(g[0]) > 0 {
			pts = g[0][0]
		}
	}

	locs := make([]geo.Location, len(pts))
	for i, p := range pts {
		locs[i] = geo.FromPoint(p)
	}
	return locs
}

// FeatureFromGeoJSON builds a Feature from a GeoJSON feature. Property
// values are flattened to strings; null properties are dropped.
func FeatureFromGeoJSON(gf *geojson.Feature) (*Feature, error) {
	if gf == nil || gf.Geometry == nil {
		return nil, ErrNoGeometry
	}

	tags := make(graph.Tags, len(gf.Properties))
	for k, v := range gf.Properties {
		s, ok := propertyString(v)
		if !ok {
			continue
		}
		tags[k] = s
	}

	id := tags["id"]
	if id == "" && gf.ID != nil {
		id, _ = propertyString(gf.ID)
	}

	f := &Feature{ID: id, Geometry: gf.Geometry, Tags: tags}
	if f.Kind() == GeometryUnknown {
		return nil, fmt.Errorf("%w: unsupported type %q", ErrNoGeometry, gf.Geometry.GeoJSONType())
	}
	return f, nil
}

func propertyString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}
