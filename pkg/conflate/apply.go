package conflate

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"

	"github.com/systemed/conflation/pkg/geo"
	"github.com/systemed/conflation/pkg/graph"
)

// ErrNothingSelected is returned when none of an edit's tags were selected.
var ErrNothingSelected = errors.New("no tags selected")

// ApplyOptions controls how an edit is applied.
type ApplyOptions struct {
	// Keys selects which staged tags to apply. Nil applies all of them.
	Keys []string
	// SimplifyTolerance, in degrees, simplifies created ways with
	// Douglas-Peucker before nodes are allocated. Zero disables it.
	SimplifyTolerance float64
}

// Apply mutates s according to e and returns the modified or created entity.
func Apply(s *graph.Store, e *Edit, opts ApplyOptions) (graph.Entity, error) {
	tags := selectTags(e, opts.Keys)
	if len(tags) == 0 {
		return nil, ErrNothingSelected
	}

	switch {
	case e.Action == ActionModify:
		if e.Target == nil {
			return nil, errors.New("modify edit has no target")
		}
		for _, k := range sortedKeys(tags) {
			s.SetTag(e.Target, k, tags[k])
		}
		return e.Target, nil

	case e.Action == ActionCreate && e.Kind == graph.KindNode:
		if len(e.Geometry) == 0 {
			return nil, ErrNoGeometry
		}
		n := graph.NewNode(s.NextPlaceholder(), 1, e.Geometry[0], tags)
		s.Add(n)
		s.MarkDirty(n)
		return n, nil

	case e.Action == ActionCreate && e.Kind == graph.KindWay:
		geometry := simplifyLine(e.Geometry, opts.SimplifyTolerance)
		if len(geometry) < 2 {
			return nil, ErrNoGeometry
		}

		index := make(map[string]*graph.Node, len(geometry))
		nodes := make([]*graph.Node, 0, len(geometry))
		for _, loc := range geometry {
			n, ok := index[loc.Key()]
			if !ok {
				n = graph.NewNode(s.NextPlaceholder(), 1, loc, nil)
				s.Add(n)
				s.MarkDirty(n)
				index[loc.Key()] = n
			}
			nodes = append(nodes, n)
		}

		w := graph.NewWay(s.NextPlaceholder(), 1, tags, nodes)
		s.Add(w)
		s.MarkDirty(w)
		return w, nil
	}

	return nil, fmt.Errorf("unsupported edit: %s %s", e.Action, e.Kind)
}

func selectTags(e *Edit, keys []string) graph.Tags {
	staged := e.Tags()
	if keys == nil {
		return staged
	}
	tags := make(graph.Tags, len(keys))
	for _, k := range keys {
		if v, ok := staged[k]; ok {
			tags[k] = v
		}
	}
	return tags
}

func simplifyLine(locs []geo.Location, tolerance float64) []geo.Location {
	if tolerance <= 0 || len(locs) < 3 {
		return locs
	}

	line := make(orb.LineString, len(locs))
	for i, l := range locs {
		line[i] = l.Point()
	}
	closed := line[0] == line[len(line)-1]

	simplified, ok := simplify.DouglasPeucker(tolerance).Simplify(line).(orb.LineString)
	if !ok || len(simplified) < 2 || (closed && len(simplified) < 4) {
		return locs
	}

	out := make([]geo.Location, len(simplified))
	for i, p := range simplified {
		out[i] = geo.FromPoint(p)
	}
	return out
}
