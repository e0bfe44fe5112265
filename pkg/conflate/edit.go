package conflate

import (
	"fmt"
	"sort"

	"github.com/systemed/conflation/pkg/geo"
	"github.com/systemed/conflation/pkg/graph"
)

// Action is what an edit does to the graph.
type Action string

const (
	ActionModify Action = "modify"
	ActionCreate Action = "create"
)

// TagChange is one staged tag with the value it replaces, if any.
type TagChange struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Previous string `json:"previous,omitempty"`
}

// Description renders the change for a reviewer.
func (c TagChange) Description() string {
	if c.Previous == "" {
		return fmt.Sprintf("Add tag %s=%s", c.Key, c.Value)
	}
	return fmt.Sprintf("Change tag %s to %s (from %s)", c.Key, c.Value, c.Previous)
}

// Edit is a proposed change to the graph.
type Edit struct {
	Action Action
	// Kind is the kind of the target for modifications, or of the entity to create.
	Kind graph.Kind
	// Target is set for modifications.
	Target graph.Entity
	// Candidate carries the match details for modifications.
	Candidate *Candidate
	// Geometry is the shape to create: one location for a node, the vertex sequence for a way.
	Geometry []geo.Location
	Changes  []TagChange
}

// Description summarizes the edit.
func (e *Edit) Description() string {
	if e.Action == ActionCreate {
		return "Create new " + e.Kind.String()
	}
	return fmt.Sprintf("Modify %s %d", e.Kind, e.Target.ID())
}

// Tags returns the staged tags.
func (e *Edit) Tags() graph.Tags {
	tags := make(graph.Tags, len(e.Changes))
	for _, c := range e.Changes {
		tags[c.Key] = c.Value
	}
	return tags
}

// ComputeModification stages every non-reserved feature tag whose value
// differs from the candidate's. It returns nil when nothing differs.
func ComputeModification(c Candidate, f *Feature) *Edit {
	current := c.Entity.Tags()

	var changes []TagChange
	for _, k := range sortedKeys(f.Tags) {
		if IsReserved(k) || current[k] == f.Tags[k] {
			continue
		}
		changes = append(changes, TagChange{Key: k, Value: f.Tags[k], Previous: current[k]})
	}
	if len(changes) == 0 {
		return nil
	}

	cand := c
	return &Edit{
		Action:    ActionModify,
		Kind:      c.Entity.Kind(),
		Target:    c.Entity,
		Candidate: &cand,
		Changes:   changes,
	}
}

// ComputeCreation proposes a new node for point features, or a new way
// otherwise, carrying the feature's non-reserved tags. It returns nil when
// no tags remain. p is used as the location when the feature has no vertices.
func ComputeCreation(f *Feature, p geo.Location) *Edit {
	var changes []TagChange
	for _, k := range sortedKeys(f.Tags) {
		if IsReserved(k) {
			continue
		}
		changes = append(changes, TagChange{Key: k, Value: f.Tags[k]})
	}
	if len(changes) == 0 {
		return nil
	}

	geometry := f.Coordinates()
	if len(geometry) == 0 {
		geometry = []geo.Location{p}
	}

	e := &Edit{Action: ActionCreate, Kind: graph.KindWay, Geometry: geometry, Changes: changes}
	if f.Kind() == GeometryPoint {
		e.Kind = graph.KindNode
		e.Geometry = geometry[:1]
	}
	return e
}

// Propose builds the full edit list for a feature: a modification for each
// candidate that needs one, in rank order, followed by the creation edit.
func Propose(f *Feature, p geo.Location, candidates []Candidate) []*Edit {
	var edits []*Edit
	for _, c := range candidates {
		if e := ComputeModification(c, f); e != nil {
			edits = append(edits, e)
		}
	}
	if e := ComputeCreation(f, p); e != nil {
		edits = append(edits, e)
	}
	return edits
}

func sortedKeys(t graph.Tags) []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
