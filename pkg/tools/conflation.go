package tools

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/paulmach/orb/geojson"

	"github.com/systemed/conflation/pkg/changeset"
	"github.com/systemed/conflation/pkg/core"
	"github.com/systemed/conflation/pkg/graph"
	"github.com/systemed/conflation/pkg/session"
)

// ProposeEditsTool returns a tool definition for matching one reference feature.
func ProposeEditsTool(f *core.ToolFactory) mcp.Tool {
	return f.CreateLocationTool("propose_edits",
		"Fetch the map around the selected point, match a GeoJSON feature against it and list the edits that would merge it into the map",
		mcp.WithObject("feature",
			mcp.Required(),
			mcp.Description("GeoJSON Feature with a Point, LineString or Polygon geometry. Properties are the tags to merge; _match_key and _filter steer matching."),
		),
	)
}

type proposeResult struct {
	*session.Proposal
	Summary string `json:"summary"`
}

// HandleProposeEdits implements propose_edits.
func (r *Registry) HandleProposeEdits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger := r.logger.With("tool", "propose_edits")

	point, err := core.ParseLocationWithLog(req, logger, "", "")
	if err != nil {
		return errorResult(err), nil
	}
	feature, err := ParseFeature(req.GetArguments()["feature"])
	if err != nil {
		logger.Warn("invalid feature", "error", err)
		return errorResult(err), nil
	}

	p, err := r.session.Propose(ctx, feature, point)
	if err != nil {
		logger.Error("propose failed", "feature", feature.ID, "error", err)
		return errorResult(err), nil
	}
	return jsonResult(logger, proposeResult{Proposal: p, Summary: p.Summary()}), nil
}

// AcceptEditTool returns a tool definition for applying one proposed edit.
func AcceptEditTool(f *core.ToolFactory) mcp.Tool {
	return f.CreateEditTool("accept_edit",
		"Apply one edit of a proposal to the local map. The edit is uploaded later with upload_changes.",
		mcp.WithArray("keys",
			mcp.Description("Tag keys to apply. Omit to apply every staged tag."),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
}

// AcceptEditInput is the input of accept_edit. A nil Keys applies every
// staged tag; an empty list is rejected.
type AcceptEditInput struct {
	ProposalID string    `json:"proposal_id"`
	Edit       *int      `json:"edit"`
	Keys       *[]string `json:"keys,omitempty"`
}

type acceptResult struct {
	session.AcceptResult
	Message string `json:"message"`
}

func (r *Registry) acceptEdit(ctx context.Context, in AcceptEditInput) (interface{}, error) {
	if in.ProposalID == "" {
		return nil, core.NewValidationError(core.ErrMissingParameter, "proposal_id is required")
	}
	if in.Edit == nil {
		return nil, core.NewValidationError(core.ErrMissingParameter, "edit is required")
	}
	var keys []string
	if in.Keys != nil {
		keys = *in.Keys
		if keys == nil {
			keys = []string{}
		}
	}

	res, err := r.session.Accept(ctx, in.ProposalID, *in.Edit, keys)
	if err != nil {
		return nil, err
	}
	return acceptResult{
		AcceptResult: res,
		Message:      fmt.Sprintf("%s; %d waiting for upload", res.Description, res.DirtyCount),
	}, nil
}

// IgnoreFeatureTool returns a tool definition for skipping a feature.
func IgnoreFeatureTool(f *core.ToolFactory) mcp.Tool {
	return f.CreateBasicTool("ignore_feature",
		"Mark a reference feature as reviewed without changing the map",
		mcp.WithString("feature_id",
			mcp.Required(),
			mcp.Description("The id property of the reference feature"),
		),
	)
}

// IgnoreFeatureInput is the input of ignore_feature.
type IgnoreFeatureInput struct {
	FeatureID string `json:"feature_id"`
}

func (r *Registry) ignoreFeature(ctx context.Context, in IgnoreFeatureInput) (interface{}, error) {
	if in.FeatureID == "" {
		return nil, core.NewValidationError(core.ErrMissingParameter, "feature_id is required")
	}
	if err := r.session.Ignore(ctx, in.FeatureID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"feature_id": in.FeatureID, "reviewed": true}, nil
}

// UploadChangesTool returns a tool definition for uploading pending edits.
func UploadChangesTool(f *core.ToolFactory) mcp.Tool {
	return f.CreateBasicTool("upload_changes",
		"Upload every accepted edit to OpenStreetMap. Opens a changeset on first use and keeps it open for later uploads.",
		mcp.WithString("comment",
			mcp.Description("Changeset comment. Defaults to the comment the server was started with."),
		),
	)
}

// UploadChangesInput is the input of upload_changes.
type UploadChangesInput struct {
	Comment string `json:"comment,omitempty"`
}

type uploadResult struct {
	changeset.Result
	State   string `json:"state"`
	Message string `json:"message"`
}

func (r *Registry) uploadChanges(ctx context.Context, in UploadChangesInput) (interface{}, error) {
	res, err := r.session.Upload(ctx, in.Comment)
	if err != nil {
		return nil, err
	}

	msg := "Nothing to upload"
	if res.Created+res.Modified > 0 {
		msg = fmt.Sprintf("Uploaded %d created and %d modified entities to changeset %d",
			res.Created, res.Modified, res.ChangesetID)
	}
	return uploadResult{Result: res, State: res.State.String(), Message: msg}, nil
}

// CloseChangesetTool returns a tool definition for closing the open changeset.
func CloseChangesetTool(f *core.ToolFactory) mcp.Tool {
	return f.CreateBasicTool("close_changeset",
		"Close the changeset opened by upload_changes. The next upload opens a new one.")
}

func (r *Registry) closeChangeset(ctx context.Context, _ struct{}) (interface{}, error) {
	id := r.session.Status(ctx).ChangesetID
	if err := r.session.Close(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"closed": id != 0, "changeset_id": id}, nil
}

// SessionStatusTool returns a tool definition for reporting the session state.
func SessionStatusTool(f *core.ToolFactory) mcp.Tool {
	return f.CreateBasicTool("session_status",
		"Report the upload state, pending edits, open changeset and review counts")
}

type statusResult struct {
	session.Status
	Summary string `json:"summary"`
}

func (r *Registry) sessionStatus(ctx context.Context, _ struct{}) (interface{}, error) {
	st := r.session.Status(ctx)
	return statusResult{Status: st, Summary: st.Summary()}, nil
}

// EntityGeometryTool returns a tool definition for drawing a loaded entity.
func EntityGeometryTool(f *core.ToolFactory) mcp.Tool {
	return f.CreateBasicTool("entity_geometry",
		"Get a loaded or created entity as a GeoJSON Feature for highlighting",
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Entity kind"),
			mcp.Enum("node", "way", "relation"),
		),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Entity id. Negative ids are entities created in this session."),
		),
	)
}

// EntityGeometryInput is the input of entity_geometry.
type EntityGeometryInput struct {
	Kind string `json:"kind"`
	ID   *int64 `json:"id"`
}

func (r *Registry) entityGeometry(_ context.Context, in EntityGeometryInput) (interface{}, error) {
	kind, ok := graph.ParseKind(in.Kind)
	if !ok {
		return nil, core.NewValidationError(core.ErrInvalidParameter,
			fmt.Sprintf("kind must be node, way or relation, got %q", in.Kind))
	}
	if in.ID == nil {
		return nil, core.NewValidationError(core.ErrMissingParameter, "id is required")
	}

	v, err := r.session.Entity(kind, graph.ID(*in.ID))
	if err != nil {
		return nil, err
	}
	if v.Geometry == nil {
		return nil, core.NewError(core.ErrInvalidGeometry,
			fmt.Sprintf("%s %d has no drawable geometry", v.Kind, v.ID))
	}
	return entityFeature(v), nil
}

// entityFeature renders a snapshot as a GeoJSON Feature. Tags become
// properties; id, version and dirty state go in @-prefixed keys.
func entityFeature(v session.EntityView) *geojson.Feature {
	f := geojson.NewFeature(v.Geometry)
	f.ID = v.Kind + "/" + strconv.FormatInt(v.ID, 10)
	for k, val := range v.Tags {
		f.Properties[k] = val
	}
	f.Properties["@id"] = v.ID
	f.Properties["@type"] = v.Kind
	f.Properties["@version"] = v.Version
	f.Properties["@dirty"] = v.Dirty
	return f
}
