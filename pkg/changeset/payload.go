package changeset

import (
	"github.com/paulmach/osm"

	"github.com/systemed/conflation/pkg/graph"
)

// Generator is written into every osmChange document.
const Generator = "conflate"

// DiffResult maps an uploaded entity's prior id to the id and version the
// server assigned.
type DiffResult struct {
	Kind       graph.Kind
	OldID      graph.ID
	NewID      graph.ID
	NewVersion int
}

// BuildChange partitions the dirty set into create (placeholder ids) and
// modify (server ids) sections, each holding nodes, then ways, then relations.
func BuildChange(d graph.DirtySet, changesetID int64) (change *osm.Change, created, modified int) {
	create, modify := &osm.OSM{}, &osm.OSM{}
	for _, e := range d.Entities() {
		if e.ID().IsPlaceholder() {
			e.AppendTo(create, osm.ChangesetID(changesetID))
			created++
		} else {
			e.AppendTo(modify, osm.ChangesetID(changesetID))
			modified++
		}
	}

	change = &osm.Change{Version: "0.6", Generator: Generator}
	if created > 0 {
		change.Create = create
	}
	if modified > 0 {
		change.Modify = modify
	}
	return change, created, modified
}
