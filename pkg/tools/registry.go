package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/systemed/conflation/pkg/core"
	"github.com/systemed/conflation/pkg/monitoring"
	"github.com/systemed/conflation/pkg/session"
	"github.com/systemed/conflation/pkg/tracing"
)

// Registry contains all tool definitions and handlers
type Registry struct {
	logger  *slog.Logger
	factory *core.ToolFactory
	session *session.Session
}

// NewRegistry creates a new tool registry backed by sess.
func NewRegistry(logger *slog.Logger, sess *session.Session) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		factory: core.NewToolFactory(),
		session: sess,
	}
}

// ToolDefinition represents a conflation MCP tool definition.
type ToolDefinition struct {
	Name        string
	Description string
	Tool        mcp.Tool
	Handler     func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// GetToolDefinitions returns the list of all available tools.
func (r *Registry) GetToolDefinitions() []ToolDefinition {
	defs := []ToolDefinition{
		{
			Name:        "get_version",
			Description: "Get the version information for this conflation server",
			Tool:        GetVersionTool(),
			Handler:     HandleGetVersion,
		},

		// Review
		{
			Name:        "propose_edits",
			Description: "Match a GeoJSON feature against the map around a point. Parameters: feature (GeoJSON Feature), latitude (number), longitude (number)",
			Tool:        ProposeEditsTool(r.factory),
			Handler:     r.HandleProposeEdits,
		},
		{
			Name:        "accept_edit",
			Description: "Apply one edit of a proposal. Parameters: proposal_id (string), edit (number), keys (array of strings, optional)",
			Tool:        AcceptEditTool(r.factory),
			Handler:     WithParsedInput("accept_edit", r.logger, r.acceptEdit),
		},
		{
			Name:        "ignore_feature",
			Description: "Mark a feature as reviewed without editing. Parameters: feature_id (string)",
			Tool:        IgnoreFeatureTool(r.factory),
			Handler:     WithParsedInput("ignore_feature", r.logger, r.ignoreFeature),
		},
		{
			Name:        "entity_geometry",
			Description: "Get an entity as GeoJSON. Parameters: kind (node, way, relation), id (number)",
			Tool:        EntityGeometryTool(r.factory),
			Handler:     WithParsedInput("entity_geometry", r.logger, r.entityGeometry),
		},

		// Upload
		{
			Name:        "upload_changes",
			Description: "Upload accepted edits. Parameters: comment (string, optional)",
			Tool:        UploadChangesTool(r.factory),
			Handler:     WithParsedInput("upload_changes", r.logger, r.uploadChanges),
		},
		{
			Name:        "close_changeset",
			Description: "Close the open changeset",
			Tool:        CloseChangesetTool(r.factory),
			Handler:     WithParsedInput("close_changeset", r.logger, r.closeChangeset),
		},
		{
			Name:        "session_status",
			Description: "Report the editing session state",
			Tool:        SessionStatusTool(r.factory),
			Handler:     WithParsedInput("session_status", r.logger, r.sessionStatus),
		},
	}

	return defs
}

// RegisterTools registers all tools with the MCP server.
func (r *Registry) RegisterTools(mcpServer *server.MCPServer) {
	for _, def := range r.GetToolDefinitions() {
		r.logger.Info("registering tool", "name", def.Name)
		mcpServer.AddTool(def.Tool, r.wrapWithTracing(def.Name, def.Handler))
	}
}

// wrapWithTracing wraps a tool handler with OpenTelemetry tracing and request metrics
func (r *Registry) wrapWithTracing(toolName string, handler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		spanName := fmt.Sprintf("mcp.tool.%s", toolName)
		ctx, span := tracing.StartSpan(ctx, spanName,
			trace.WithAttributes(
				attribute.String(tracing.AttrMCPToolName, toolName),
			),
		)
		defer span.End()

		startTime := time.Now()
		result, err := handler(ctx, req)
		duration := time.Since(startTime)
		durationMs := duration.Milliseconds()

		status := tracing.StatusSuccess
		switch {
		case err != nil:
			status = tracing.StatusError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case result != nil && result.IsError:
			status = tracing.StatusError
			span.SetStatus(codes.Error, "tool returned an error result")
		default:
			span.SetStatus(codes.Ok, "")
		}
		monitoring.RecordMCPRequest(toolName, duration, status == tracing.StatusSuccess)

		resultSize := 0
		if result != nil && result.Content != nil {
			if data, marshalErr := json.Marshal(result.Content); marshalErr == nil {
				resultSize = len(data)
			}
		}

		span.SetAttributes(tracing.MCPToolAttributes(toolName, status, durationMs, resultSize)...)

		r.logger.Debug("tool execution traced",
			"tool", toolName,
			"duration_ms", durationMs,
			"status", status,
			"result_size", resultSize,
		)

		return result, err
	}
}

// RegisterPrompts registers the review workflow prompt with the MCP server.
func (r *Registry) RegisterPrompts(mcpServer *server.MCPServer) {
	r.logger.Info("registering review prompt")
	prompt := mcp.NewPrompt("conflation_review",
		mcp.WithPromptDescription("Instructions for reviewing reference features against OpenStreetMap"),
	)
	mcpServer.AddPrompt(prompt, func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return mcp.NewGetPromptResult(
			"Conflation Review Instructions",
			[]mcp.PromptMessage{
				mcp.NewPromptMessage(mcp.RoleAssistant, mcp.NewTextContent(reviewPrompt)),
			},
		), nil
	})
}

const reviewPrompt = `You are helping a mapper merge a reference dataset into OpenStreetMap.
For each reference feature:
1. Call propose_edits with the GeoJSON feature and the point the mapper selected.
2. Show the summary. If the proposal says the feature was already reviewed, mention it.
3. Ask which edit to apply, and which tags. Pass the chosen tag keys to accept_edit.
   Never invent tags that are not in the proposal.
4. If nothing fits, call ignore_feature with the feature id.
Call upload_changes when the mapper asks, with a short comment describing the source.
Call close_changeset when the mapper is done.`

// GetToolNames returns a list of all tool names.
func (r *Registry) GetToolNames() []string {
	defs := r.GetToolDefinitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// RegisterAll registers all tools and prompts with the MCP server.
func (r *Registry) RegisterAll(mcpServer *server.MCPServer) {
	r.RegisterTools(mcpServer)
	r.RegisterPrompts(mcpServer)
}
