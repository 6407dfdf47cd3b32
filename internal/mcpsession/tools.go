package mcpsession

import (
	"context"

	"github.com/atlas-desktop/atlas-bridge/internal/dispatcher"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/segmentio/encoding/json"
)

// NewServer builds an mcp-go server and registers one MCP tool per
// dispatcher action, so an MCP-speaking agent has the same operation
// surface as the HTTP dispatch endpoint.
func NewServer(name, version string, reg *dispatcher.Registry) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(name, version)
	for _, action := range reg.All() {
		s.AddTool(toolFor(action), handlerFor(action))
	}
	return s
}

func toolFor(action dispatcher.Action) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(action.Description)}
	for _, p := range action.Params {
		propertyOpts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			propertyOpts = append(propertyOpts, mcp.Required())
		}
		switch p.Kind {
		case dispatcher.ParamNumber:
			opts = append(opts, mcp.WithNumber(p.Name, propertyOpts...))
		case dispatcher.ParamBoolean:
			opts = append(opts, mcp.WithBoolean(p.Name, propertyOpts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, propertyOpts...))
		}
	}
	return mcp.NewTool(action.Name, opts...)
}

func handlerFor(action dispatcher.Action) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params := req.GetArguments()
		result, err := action.Handler(ctx, params)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(toText(result)), nil
	}
}

func toText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		body, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(body)
	}
}
