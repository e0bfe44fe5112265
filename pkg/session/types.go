package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"

	"github.com/systemed/conflation/pkg/conflate"
	"github.com/systemed/conflation/pkg/graph"
	"github.com/systemed/conflation/pkg/journal"
)

// Proposal is the reviewable outcome of matching one feature.
type Proposal struct {
	ID         string            `json:"proposal_id"`
	FeatureID  string            `json:"feature_id,omitempty"`
	Reviewed   bool              `json:"reviewed"`
	Candidates int               `json:"candidates"`
	Fetched    graph.IngestStats `json:"fetched"`
	Edits      []EditView        `json:"edits"`
	CreatedAt  time.Time         `json:"created_at"`

	edits []*conflate.Edit
}

// ChangeView is one staged tag.
type ChangeView struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Previous    string `json:"previous,omitempty"`
	Description string `json:"description"`
}

// EditView describes one edit of a proposal.
type EditView struct {
	Index       int          `json:"index"`
	Action      string       `json:"action"`
	Kind        string       `json:"kind"`
	EntityID    int64        `json:"entity_id,omitempty"`
	Description string       `json:"description"`
	Distance    float64      `json:"distance_m,omitempty"`
	Score       float64      `json:"score,omitempty"`
	Changes     []ChangeView `json:"changes"`
}

func newEditView(i int, e *conflate.Edit) EditView {
	v := EditView{
		Index:       i,
		Action:      string(e.Action),
		Kind:        e.Kind.String(),
		Description: e.Description(),
		Changes:     make([]ChangeView, len(e.Changes)),
	}
	if e.Target != nil {
		v.EntityID = int64(e.Target.ID())
	}
	if e.Candidate != nil {
		v.Distance = e.Candidate.Proximity.Distance
		v.Score = e.Candidate.Score
	}
	for j, c := range e.Changes {
		v.Changes[j] = ChangeView{Key: c.Key, Value: c.Value, Previous: c.Previous, Description: c.Description()}
	}
	return v
}

// Summary renders the proposal as text for a reviewer.
func (p *Proposal) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Proposal %s: %s from %s nearby entities", p.ID,
		pluralize(len(p.Edits), "edit"), humanize.Comma(int64(p.Fetched.Nodes+p.Fetched.Ways+p.Fetched.Relations)))
	if p.Reviewed {
		b.WriteString(" (feature already reviewed)")
	}
	b.WriteString("\n")
	for _, e := range p.Edits {
		fmt.Fprintf(&b, "[%d] %s", e.Index, e.Description)
		if e.Action == string(conflate.ActionModify) {
			fmt.Fprintf(&b, " at %.0f m", e.Distance)
		}
		b.WriteString("\n")
		for _, c := range e.Changes {
			fmt.Fprintf(&b, "    %s\n", c.Description)
		}
	}
	return b.String()
}

// AcceptResult describes an applied edit.
type AcceptResult struct {
	Kind        string     `json:"kind"`
	EntityID    int64      `json:"entity_id"`
	Description string     `json:"description"`
	Applied     graph.Tags `json:"tags"`
	DirtyCount  int        `json:"dirty_count"`
}

// DirtyCounts is the number of entities waiting for upload, by kind.
type DirtyCounts struct {
	Nodes     int `json:"nodes"`
	Ways      int `json:"ways"`
	Relations int `json:"relations"`
	Total     int `json:"total"`
}

// LoadedCounts is the number of entities held in the store.
type LoadedCounts struct {
	Nodes     int `json:"nodes"`
	Ways      int `json:"ways"`
	Relations int `json:"relations"`
}

// Status summarizes the session.
type Status struct {
	State       string          `json:"state"`
	ChangesetID int64           `json:"changeset_id,omitempty"`
	Uploading   bool            `json:"uploading"`
	Dirty       DirtyCounts     `json:"dirty"`
	Loaded      LoadedCounts    `json:"loaded"`
	Reviewed    map[string]int  `json:"reviewed"`
	Proposals   int             `json:"open_proposals"`
	LastUpload  *journal.Upload `json:"last_upload,omitempty"`
}

// Summary renders the status as one line of text.
func (st Status) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s waiting for upload", st.State, pluralize(st.Dirty.Total, "entity"))
	if st.ChangesetID != 0 {
		fmt.Fprintf(&b, ", changeset %d open", st.ChangesetID)
	}
	fmt.Fprintf(&b, ", %s loaded", pluralize(st.Loaded.Nodes, "node"))
	if st.LastUpload != nil {
		fmt.Fprintf(&b, ", last upload %s", humanize.Time(st.LastUpload.UploadedAt))
	}
	return b.String()
}

// EntityView is a snapshot of a stored entity.
type EntityView struct {
	Kind     string       `json:"kind"`
	ID       int64        `json:"id"`
	Version  int          `json:"version"`
	Dirty    bool         `json:"dirty"`
	Area     bool         `json:"area"`
	Tags     graph.Tags   `json:"tags"`
	Geometry orb.Geometry `json:"-"`
}

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	if strings.HasSuffix(word, "y") {
		return fmt.Sprintf("%s %sies", humanize.Comma(int64(n)), strings.TrimSuffix(word, "y"))
	}
	return fmt.Sprintf("%s %ss", humanize.Comma(int64(n)), word)
}
