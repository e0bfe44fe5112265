package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/paulmach/orb/geojson"

	"github.com/systemed/conflation/pkg/conflate"
	"github.com/systemed/conflation/pkg/core"
)

// InputParser is a generic function to parse request arguments into a strongly typed struct
func InputParser[T any](req mcp.CallToolRequest) (T, *mcp.CallToolResult, error) {
	var input T

	inputJSON, err := json.Marshal(req.GetArguments())
	if err != nil {
		return input, ErrorResponse(fmt.Sprintf("Invalid input format: %v", err)), err
	}

	if err := json.Unmarshal(inputJSON, &input); err != nil {
		return input, core.NewValidationError(core.ErrInvalidInput,
			fmt.Sprintf("Failed to parse input: %v", err)).ToMCPResult(), err
	}

	return input, nil, nil
}

// WithParsedInput is a higher-order function that handles request parsing and error handling.
// Errors returned by handler are classified into MCP error codes.
func WithParsedInput[T any](
	handlerName string,
	logger *slog.Logger,
	handler func(ctx context.Context, input T) (interface{}, error),
) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger = logger.With("tool", handlerName)
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, errResult, err := InputParser[T](req)
		if err != nil {
			logger.Warn("failed to parse input", "error", err)
			return errResult, nil
		}

		result, err := handler(ctx, input)
		if err != nil {
			logger.Error("handler error", "error", err)
			return errorResult(err), nil
		}

		return jsonResult(logger, result), nil
	}
}

// jsonResult marshals v as the text content of a tool result.
func jsonResult(logger *slog.Logger, v interface{}) *mcp.CallToolResult {
	resultBytes, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to marshal result", "error", err)
		return ErrorResponse("Failed to generate result")
	}
	return mcp.NewToolResultText(string(resultBytes))
}

// ParseFeature decodes a GeoJSON Feature object passed as a tool argument.
// A bare geometry is not accepted.
func ParseFeature(raw interface{}) (*conflate.Feature, error) {
	if raw == nil {
		return nil, core.NewValidationError(core.ErrMissingParameter, "feature is required")
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case json.RawMessage:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, core.NewValidationError(core.ErrInvalidGeometry, fmt.Sprintf("feature: %v", err))
		}
		data = b
	}

	gf, err := geojson.UnmarshalFeature(data)
	if err != nil {
		return nil, core.NewValidationError(core.ErrInvalidGeometry, fmt.Sprintf("feature is not a GeoJSON Feature: %v", err)).
			WithGuidance(GuidanceGeometry)
	}
	f, err := conflate.FeatureFromGeoJSON(gf)
	if err != nil {
		return nil, err
	}
	return f, nil
}
