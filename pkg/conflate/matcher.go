package conflate

import (
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/systemed/conflation/pkg/geo"
	"github.com/systemed/conflation/pkg/graph"
)

// DefaultMaxDistance is the farthest, in meters, a candidate may be from the query point.
const DefaultMaxDistance = 150.0

const waynodePrefix = "waynode:"

// Candidate is a graph entity that may correspond to a feature.
type Candidate struct {
	Entity    graph.Entity
	Proximity graph.Proximity
	Score     float64
}

// Rank is the ordering key: sqrt(distance) + 10*score, ascending.
func (c Candidate) Rank() float64 {
	return math.Sqrt(c.Proximity.Distance) + 10*c.Score
}

// Matcher finds and ranks candidates for features.
type Matcher struct {
	MaxDistance float64
	logger      *slog.Logger
}

// NewMatcher creates a matcher with the default distance threshold.
func NewMatcher(logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		MaxDistance: DefaultMaxDistance,
		logger:      logger.With("component", "matcher"),
	}
}

// FindCandidates returns the entities in s that could represent f near p,
// ordered by Rank. An empty result is normal.
func (m *Matcher) FindCandidates(f *Feature, p geo.Location, s *graph.Store) []Candidate {
	var candidates []Candidate
	scanned := 0

	for _, e := range m.selectEntities(f, s) {
		scanned++
		score := Compatibility(f.Tags, e.Tags())
		if score == 0 {
			continue
		}
		prox, ok := e.DistanceFrom(p)
		if !ok || prox.Distance > m.MaxDistance {
			continue
		}
		candidates = append(candidates, Candidate{Entity: e, Proximity: prox, Score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Rank() < candidates[j].Rank()
	})

	m.logger.Debug("found candidates",
		"feature", f.ID,
		"geometry", f.Kind().String(),
		"scanned", scanned,
		"candidates", len(candidates))
	return candidates
}

// selectEntities applies the type predicate for the feature.
func (m *Matcher) selectEntities(f *Feature, s *graph.Store) []graph.Entity {
	var out []graph.Entity

	if key, ok := strings.CutPrefix(f.Tags[HintFilter], waynodePrefix); ok {
		for _, n := range s.Nodes() {
			if !n.IsPOI() && n.ParentWayHasKey(key) {
				out = append(out, n)
			}
		}
		return out
	}

	switch f.Kind() {
	case GeometryPoint:
		for _, n := range s.Nodes() {
			if n.IsPOI() {
				out = append(out, n)
			}
		}
		for _, w := range s.Ways() {
			if w.IsArea() {
				out = append(out, w)
			}
		}
		for _, r := range s.Relations() {
			if r.IsArea() {
				out = append(out, r)
			}
		}
	case GeometryLine:
		for _, w := range s.Ways() {
			if !w.IsArea() {
				out = append(out, w)
			}
		}
	case GeometryPolygon:
		for _, w := range s.Ways() {
			if w.IsArea() {
				out = append(out, w)
			}
		}
		for _, r := range s.Relations() {
			if r.IsArea() {
				out = append(out, r)
			}
		}
	}
	return out
}
