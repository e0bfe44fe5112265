// Package tools exposes a conflation session as MCP tools.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/systemed/conflation/pkg/changeset"
	"github.com/systemed/conflation/pkg/conflate"
	"github.com/systemed/conflation/pkg/core"
	"github.com/systemed/conflation/pkg/osmapi"
	"github.com/systemed/conflation/pkg/session"
)

// Common error guidance messages
const (
	GuidanceProposalExpired = "Proposals expire after 15 minutes or once an edit is accepted. Call propose_edits again."
	GuidanceEditIndex       = "Use one of the edit indexes listed in the proposal."
	GuidanceSelectKeys      = "Pass at least one key, or omit keys to apply every staged tag."
	GuidanceGeometry        = "Send a GeoJSON Feature with a Point, LineString or Polygon geometry."
	GuidanceUploadRunning   = "An upload is running. Wait for it to finish and try again."
	GuidanceCredentials     = "Set OSM_USERNAME and OSM_PASSWORD to upload."
	GuidanceUploadFailed    = "Nothing was changed locally. Check session_status and retry upload_changes."
	GuidanceGeneral         = "Please try again later or modify your request parameters."
)

// ErrorResponse returns a plain error result.
func ErrorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

// toMCPError classifies an error returned by the session.
func toMCPError(err error) *core.MCPError {
	if mcpErr, ok := core.AsMCPError(err); ok && !errors.Is(err, changeset.ErrUpload) {
		return mcpErr
	}

	var verr core.ValidationError
	if errors.As(err, &verr) {
		return core.NewError(core.ErrorCode(verr.Code), verr.Message).WithGuidance(verr.Guidance)
	}

	switch {
	case errors.Is(err, session.ErrProposalNotFound):
		return core.NewError(core.ErrProposalNotFound, err.Error()).WithGuidance(GuidanceProposalExpired)
	case errors.Is(err, session.ErrEditNotFound):
		return core.NewError(core.ErrEditNotFound, err.Error()).WithGuidance(GuidanceEditIndex)
	case errors.Is(err, session.ErrEntityNotFound):
		return core.NewError(core.ErrNoResults, err.Error()).
			WithGuidance("Only entities fetched by propose_edits or created in this session can be looked up.")
	case errors.Is(err, conflate.ErrNothingSelected):
		return core.NewError(core.ErrNothingSelected, err.Error()).WithGuidance(GuidanceSelectKeys)
	case errors.Is(err, conflate.ErrNoGeometry):
		return core.NewError(core.ErrInvalidGeometry, err.Error()).WithGuidance(GuidanceGeometry)
	case errors.Is(err, changeset.ErrUploadInProgress):
		return core.NewError(core.ErrUploadInProgress, err.Error()).WithGuidance(GuidanceUploadRunning)
	case errors.Is(err, osmapi.ErrNoCredentials):
		return core.NewError(core.ErrUnauthorized, err.Error()).WithGuidance(GuidanceCredentials)
	case errors.Is(err, changeset.ErrSessionOpen):
		return core.NewError(core.ErrChangesetFailed, err.Error()).WithGuidance(GuidanceGeneral)
	case errors.Is(err, changeset.ErrUpload):
		e := core.NewError(core.ErrUploadFailed, err.Error()).WithGuidance(GuidanceUploadFailed)
		e.Status = core.StatusOf(err)
		if e.Status > 0 {
			e.WithSuggestions(fmt.Sprintf("the map API answered with status %d", e.Status))
		}
		return e
	case errors.Is(err, context.DeadlineExceeded):
		return core.NewError(core.ErrServiceTimeout, err.Error()).WithGuidance(GuidanceGeneral)
	default:
		return core.NewError(core.ErrInternalError, err.Error()).WithGuidance(GuidanceGeneral)
	}
}

// errorResult converts a session error to a tool result.
func errorResult(err error) *mcp.CallToolResult {
	return toMCPError(err).ToMCPResult()
}
