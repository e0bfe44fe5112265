package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/paulmach/osm"

	"github.com/systemed/conflation/pkg/changeset"
	"github.com/systemed/conflation/pkg/conflate"
	"github.com/systemed/conflation/pkg/core"
	"github.com/systemed/conflation/pkg/geo"
	"github.com/systemed/conflation/pkg/graph"
	"github.com/systemed/conflation/pkg/session"
)

type stubReader struct{ data *osm.OSM }

func (r stubReader) Map(context.Context, geo.BoundingBox) (*osm.OSM, error) { return r.data, nil }

type stubWriter struct{ uploads int }

func (w *stubWriter) OpenChangeset(context.Context, map[string]string) (int64, error) {
	return 77, nil
}

func (w *stubWriter) Upload(_ context.Context, _ int64, change *osm.Change) ([]changeset.DiffResult, error) {
	w.uploads++
	var out []changeset.DiffResult
	if change.Modify != nil {
		for _, n := range change.Modify.Nodes {
			out = append(out, changeset.DiffResult{
				Kind: graph.KindNode, OldID: graph.ID(n.ID), NewID: graph.ID(n.ID), NewVersion: n.Version + 1,
			})
		}
	}
	return out, nil
}

func (w *stubWriter) CloseChangeset(context.Context, int64) error { return nil }

func newTestRegistry(t *testing.T) (*Registry, *stubWriter) {
	t.Helper()
	data := &osm.OSM{Nodes: osm.Nodes{
		{ID: 1, Version: 4, Lat: 51.5, Lon: -0.12,
			Tags: osm.Tags{{Key: "amenity", Value: "cafe"}, {Key: "name", Value: "Old"}}},
	}}
	w := &stubWriter{}
	sess, err := session.New(session.Options{Reader: stubReader{data: data}, Writer: w})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(sess.Shutdown)
	return NewRegistry(nil, sess), w
}

func callTool(t *testing.T, r *Registry, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	for _, def := range r.GetToolDefinitions() {
		if def.Name != name {
			continue
		}
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args
		result, err := r.wrapWithTracing(name, def.Handler)(context.Background(), req)
		if err != nil {
			t.Fatalf("%s returned error: %v", name, err)
		}
		return result
	}
	t.Fatalf("tool %s not registered", name)
	return nil
}

func resultText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

func decodeResult(t *testing.T, result *mcp.CallToolResult, out interface{}) {
	t.Helper()
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(result))
	}
	if err := json.Unmarshal([]byte(resultText(result)), out); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
}

func errorCode(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if !result.IsError {
		t.Fatalf("expected error result, got %s", resultText(result))
	}
	var e core.MCPError
	if err := json.Unmarshal([]byte(resultText(result)), &e); err != nil {
		t.Fatalf("error result is not an MCPError: %s", resultText(result))
	}
	return e.Code
}

func cafeFeature() map[string]any {
	return map[string]any{
		"type":     "Feature",
		"geometry": map[string]any{"type": "Point", "coordinates": []any{-0.12, 51.5}},
		"properties": map[string]any{
			"id": "ref-1", "amenity": "cafe", "name": "New", "cuisine": "coffee_shop",
		},
	}
}

func TestGetToolNames(t *testing.T) {
	r, _ := newTestRegistry(t)
	want := map[string]bool{
		"get_version": true, "propose_edits": true, "accept_edit": true, "ignore_feature": true,
		"entity_geometry": true, "upload_changes": true, "close_changeset": true, "session_status": true,
	}
	names := r.GetToolNames()
	if len(names) != len(want) {
		t.Fatalf("expected %d tools, got %v", len(want), names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected tool %q", n)
		}
	}
}

func propose(t *testing.T, r *Registry) proposeResult {
	t.Helper()
	var p proposeResult
	decodeResult(t, callTool(t, r, "propose_edits", map[string]any{
		"latitude": 51.5, "longitude": -0.12, "feature": cafeFeature(),
	}), &p)
	return p
}

func TestProposeAcceptUpload(t *testing.T) {
	r, w := newTestRegistry(t)

	p := propose(t, r)
	if p.Proposal == nil || p.ID == "" {
		t.Fatal("expected a proposal id")
	}
	if len(p.Edits) != 2 {
		t.Fatalf("expected modify and create edits, got %d", len(p.Edits))
	}
	if p.Edits[0].Action != "modify" || p.Edits[0].EntityID != 1 {
		t.Errorf("expected first edit to modify node 1, got %+v", p.Edits[0])
	}
	if p.Summary == "" {
		t.Error("expected a text summary")
	}

	var accepted acceptResult
	decodeResult(t, callTool(t, r, "accept_edit", map[string]any{
		"proposal_id": p.ID, "edit": 0, "keys": []any{"name"},
	}), &accepted)
	if accepted.Applied["name"] != "New" {
		t.Errorf("expected name=New, got %v", accepted.Applied)
	}
	if _, ok := accepted.Applied["cuisine"]; ok {
		t.Error("cuisine was not selected and must not be applied")
	}
	if accepted.DirtyCount != 1 {
		t.Errorf("expected 1 dirty entity, got %d", accepted.DirtyCount)
	}

	var status statusResult
	decodeResult(t, callTool(t, r, "session_status", nil), &status)
	if status.State != "pending" || status.Dirty.Total != 1 {
		t.Errorf("unexpected status %+v", status.Status)
	}

	var uploaded uploadResult
	decodeResult(t, callTool(t, r, "upload_changes", map[string]any{"comment": "cafes"}), &uploaded)
	if uploaded.Modified != 1 || uploaded.ChangesetID != 77 || w.uploads != 1 {
		t.Errorf("unexpected upload %+v", uploaded)
	}
	if uploaded.State != "clean" {
		t.Errorf("expected clean after upload, got %s", uploaded.State)
	}

	var again uploadResult
	decodeResult(t, callTool(t, r, "upload_changes", nil), &again)
	if again.Message != "Nothing to upload" || w.uploads != 1 {
		t.Errorf("second upload should be a no-op, got %+v", again)
	}

	var closed map[string]any
	decodeResult(t, callTool(t, r, "close_changeset", nil), &closed)
	if closed["closed"] != true {
		t.Errorf("expected changeset to be closed, got %v", closed)
	}
}

func TestAcceptEditErrors(t *testing.T) {
	r, _ := newTestRegistry(t)
	p := propose(t, r)

	tests := []struct {
		name string
		args map[string]any
		code string
	}{
		{"missing proposal", map[string]any{"edit": 0}, string(core.ErrMissingParameter)},
		{"missing edit", map[string]any{"proposal_id": p.ID}, string(core.ErrMissingParameter)},
		{"unknown proposal", map[string]any{"proposal_id": "nope", "edit": 0}, string(core.ErrProposalNotFound)},
		{"edit out of range", map[string]any{"proposal_id": p.ID, "edit": 9}, string(core.ErrEditNotFound)},
		{"empty selection", map[string]any{"proposal_id": p.ID, "edit": 0, "keys": []any{}}, string(core.ErrNothingSelected)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := errorCode(t, callTool(t, r, "accept_edit", tt.args)); code != tt.code {
				t.Errorf("expected %s, got %s", tt.code, code)
			}
		})
	}
}

func TestProposeEditsValidation(t *testing.T) {
	r, _ := newTestRegistry(t)

	tests := []struct {
		name string
		args map[string]any
		code string
	}{
		{"missing latitude", map[string]any{"longitude": -0.12, "feature": cafeFeature()}, string(core.ErrMissingParameter)},
		{"bad latitude", map[string]any{"latitude": 95.0, "longitude": -0.12, "feature": cafeFeature()}, string(core.ErrInvalidLatitude)},
		{"missing feature", map[string]any{"latitude": 51.5, "longitude": -0.12}, string(core.ErrMissingParameter)},
		{"not a feature", map[string]any{"latitude": 51.5, "longitude": -0.12, "feature": "cafe"}, string(core.ErrInvalidGeometry)},
		{"no geometry", map[string]any{"latitude": 51.5, "longitude": -0.12,
			"feature": map[string]any{"type": "Feature", "geometry": nil, "properties": map[string]any{}}}, string(core.ErrInvalidGeometry)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := errorCode(t, callTool(t, r, "propose_edits", tt.args)); code != tt.code {
				t.Errorf("expected %s, got %s", tt.code, code)
			}
		})
	}
}

func TestIgnoreFeature(t *testing.T) {
	r, _ := newTestRegistry(t)

	if code := errorCode(t, callTool(t, r, "ignore_feature", map[string]any{})); code != string(core.ErrMissingParameter) {
		t.Errorf("expected MISSING_PARAMETER, got %s", code)
	}

	var out map[string]any
	decodeResult(t, callTool(t, r, "ignore_feature", map[string]any{"feature_id": "ref-1"}), &out)

	p := propose(t, r)
	if !p.Reviewed {
		t.Error("expected proposal for an ignored feature to be flagged as reviewed")
	}
}

func TestEntityGeometry(t *testing.T) {
	r, _ := newTestRegistry(t)
	propose(t, r)

	result := callTool(t, r, "entity_geometry", map[string]any{"kind": "node", "id": 1})
	if result.IsError {
		t.Fatalf("unexpected error: %s", resultText(result))
	}
	var f struct {
		Type     string `json:"type"`
		ID       string `json:"id"`
		Geometry struct {
			Type        string    `json:"type"`
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]any `json:"properties"`
	}
	decodeResult(t, result, &f)
	if f.Type != "Feature" || f.ID != "node/1" || f.Geometry.Type != "Point" {
		t.Errorf("unexpected feature %+v", f)
	}
	if f.Properties["amenity"] != "cafe" || f.Properties["@version"] != float64(4) {
		t.Errorf("unexpected properties %v", f.Properties)
	}

	if code := errorCode(t, callTool(t, r, "entity_geometry", map[string]any{"kind": "way", "id": 5})); code != string(core.ErrNoResults) {
		t.Errorf("expected NO_RESULTS, got %s", code)
	}
	if code := errorCode(t, callTool(t, r, "entity_geometry", map[string]any{"kind": "area", "id": 1})); code != string(core.ErrInvalidParameter) {
		t.Errorf("expected INVALID_PARAMETER, got %s", code)
	}
}

func TestGetVersion(t *testing.T) {
	r, _ := newTestRegistry(t)
	var info VersionInfo
	decodeResult(t, callTool(t, r, "get_version", nil), &info)
	if info.Version == "" || info.UserAgent == "" {
		t.Errorf("expected version info, got %+v", info)
	}
}

func TestToMCPError(t *testing.T) {
	tests := []struct {
		err  error
		code core.ErrorCode
	}{
		{fmt.Errorf("accept: %w", session.ErrProposalNotFound), core.ErrProposalNotFound},
		{conflate.ErrNothingSelected, core.ErrNothingSelected},
		{changeset.ErrUploadInProgress, core.ErrUploadInProgress},
		{fmt.Errorf("%w: %w", changeset.ErrUpload, core.ServiceError("osmapi", 409, "version mismatch")), core.ErrUploadFailed},
		{fmt.Errorf("%w: %w", changeset.ErrSessionOpen, core.ServiceError("osmapi", 401, "denied")), core.ErrUnauthorized},
		{context.DeadlineExceeded, core.ErrServiceTimeout},
		{errors.New("boom"), core.ErrInternalError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := toMCPError(tt.err); got.Code != string(tt.code) {
				t.Errorf("expected %s, got %s", tt.code, got.Code)
			}
		})
	}

	upload := toMCPError(fmt.Errorf("%w: %w", changeset.ErrUpload, core.ServiceError("osmapi", 409, "version mismatch")))
	if upload.Status != 409 || len(upload.Suggestions) == 0 {
		t.Errorf("expected upstream status to be kept, got %+v", upload)
	}
}
