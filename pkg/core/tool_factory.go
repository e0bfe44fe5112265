package core

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolFactory builds tool definitions that share parameter conventions.
type ToolFactory struct{}

// NewToolFactory creates a new tool factory
func NewToolFactory() *ToolFactory {
	return &ToolFactory{}
}

// CreateBasicTool creates a new tool with the specified name and description
func (f *ToolFactory) CreateBasicTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)...)
}

// CreateLocationTool creates a tool that takes the point the user clicked.
func (f *ToolFactory) CreateLocationTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	base := []mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithNumber("latitude",
			mcp.Required(),
			mcp.Description("Latitude of the point the feature was selected at"),
		),
		mcp.WithNumber("longitude",
			mcp.Required(),
			mcp.Description("Longitude of the point the feature was selected at"),
		),
	}
	return mcp.NewTool(name, append(base, opts...)...)
}

// CreateEditTool creates a tool addressing one edit of a stored proposal.
func (f *ToolFactory) CreateEditTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	base := []mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithString("proposal_id",
			mcp.Required(),
			mcp.Description("Proposal id returned by propose_edits"),
		),
		mcp.WithNumber("edit",
			mcp.Required(),
			mcp.Description("Index of the edit within the proposal"),
			mcp.Min(0),
		),
	}
	return mcp.NewTool(name, append(base, opts...)...)
}
