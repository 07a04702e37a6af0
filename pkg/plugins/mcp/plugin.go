package mcp

import (
	"context"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
)

// Name doubles as the plugin name and the service type.
const Name = "mcp"

// Service wraps the shared Client for the runtime's service registry.
type Service struct {
	client *Client
}

// Client returns the underlying MCP client.
func (s *Service) Client() *Client {
	return s.client
}

// Stop closes every server session.
func (s *Service) Stop(ctx context.Context) error {
	return s.client.Close()
}

// New assembles the MCP connector plugin. Server configuration comes from
// the MCP_SERVERS setting at service start; an agent without it gets a
// connector with zero servers, which is valid.
func New() *plugin.Plugin {
	return &plugin.Plugin{
		Name:        Name,
		Description: "Connects Model Context Protocol servers as agent tools",
		Services: []*plugin.ServiceDefinition{
			{
				Type: Name,
				Start: func(ctx context.Context, rt plugin.Runtime) (plugin.Service, error) {
					raw, _ := rt.GetSetting("MCP_SERVERS").(string)
					servers, err := ParseServers(raw)
					if err != nil {
						return nil, err
					}
					client := NewClient(servers, rt.Logger())
					if err := client.Initialize(ctx); err != nil {
						return nil, err
					}
					return &Service{client: client}, nil
				},
			},
		},
		Providers: []*plugin.Provider{toolsProvider()},
		Actions:   []*plugin.Action{callToolAction()},
	}
}

// serviceClient fetches the connector's client from the runtime registry.
func serviceClient(rt plugin.Runtime) (*Client, error) {
	svc, ok := rt.GetService(Name).(*Service)
	if !ok || svc == nil {
		return nil, fmt.Errorf("mcp service is not running")
	}
	return svc.client, nil
}

// toolsProvider lists connected servers' tools into state. Dynamic: it
// only composes when named in an include list.
func toolsProvider() *plugin.Provider {
	return &plugin.Provider{
		Name:        "MCP_TOOLS",
		Description: "Tools available on connected MCP servers",
		Position:    50,
		Dynamic:     true,
		Get: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State) (*models.ProviderResult, error) {
			client, err := serviceClient(rt)
			if err != nil {
				return &models.ProviderResult{}, nil
			}
			byServer, err := client.ListAllTools(ctx)
			if err != nil {
				return nil, fmt.Errorf("list MCP tools: %w", err)
			}
			if len(byServer) == 0 {
				return &models.ProviderResult{}, nil
			}

			var b strings.Builder
			b.WriteString("# Available tools\n")
			toolNames := make([]string, 0)
			for server, tools := range byServer {
				for _, tool := range tools {
					qualified := server + "." + tool.Name
					toolNames = append(toolNames, qualified)
					fmt.Fprintf(&b, "- %s: %s\n", qualified, tool.Description)
				}
			}
			return &models.ProviderResult{
				Text:   strings.TrimRight(b.String(), "\n"),
				Values: map[string]any{"mcpToolCount": len(toolNames)},
				Data:   map[string]any{"mcpTools": toolNames},
			}, nil
		},
	}
}

// callToolAction executes one "server.tool" call named in the message
// content and returns the textual result.
func callToolAction() *plugin.Action {
	return &plugin.Action{
		Name:        "CALL_TOOL",
		Similes:     []string{"USE_TOOL", "MCP_CALL"},
		Description: "Execute a tool on a connected MCP server",
		Validate: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State) (bool, error) {
			server, tool := toolFromContent(m.Content)
			return server != "" && tool != "", nil
		},
		Handler: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State, opts *plugin.ActionOptions, cb plugin.Callback, responses []*models.Memory) (*models.ActionResult, error) {
			client, err := serviceClient(rt)
			if err != nil {
				return nil, err
			}
			server, tool := toolFromContent(m.Content)
			if server == "" || tool == "" {
				return nil, fmt.Errorf("message content names no server.tool to call")
			}
			args, _ := m.Content.Extra["arguments"].(map[string]any)

			result, err := client.CallTool(ctx, server, tool, args)
			if err != nil {
				return nil, fmt.Errorf("call %s.%s: %w", server, tool, err)
			}

			text := flattenToolResult(result)
			if result.IsError {
				return &models.ActionResult{
					Success: models.BoolPtr(false),
					Text:    text,
					Error:   text,
					Data:    map[string]any{"server": server, "tool": tool},
				}, nil
			}
			return &models.ActionResult{
				Text:   text,
				Values: map[string]any{"lastToolResult": text},
				Data:   map[string]any{"server": server, "tool": tool},
			}, nil
		},
	}
}

// toolFromContent splits the content's "tool" key ("server.tool") into its
// parts.
func toolFromContent(c models.Content) (server, tool string) {
	raw, ok := c.Extra["tool"].(string)
	if !ok {
		return "", ""
	}
	server, tool, found := strings.Cut(raw, ".")
	if !found {
		return "", ""
	}
	return server, tool
}

// flattenToolResult joins the text parts of a tool result.
func flattenToolResult(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
