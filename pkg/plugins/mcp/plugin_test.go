package mcp

import (
	"context"
	"log/slog"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/murmur/pkg/ids"
	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
	"github.com/codeready-toolchain/murmur/pkg/runtime"
	"github.com/codeready-toolchain/murmur/pkg/store"
	"github.com/codeready-toolchain/murmur/pkg/store/memstore"
)

// newMCPRuntime boots a runtime with the connector and injects an
// in-memory server session into its client.
func newMCPRuntime(t *testing.T, tools map[string]mcpsdk.ToolHandler) *runtime.AgentRuntime {
	t.Helper()
	rt, err := runtime.New(runtime.Options{
		Character: &models.Character{Name: "MCP Test"},
		Adapter:   memstore.New(),
		Plugins:   []*plugin.Plugin{New()},
		Logger:    slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	require.NoError(t, rt.Initialize(context.Background()))
	t.Cleanup(func() { rt.Stop(context.Background()) })

	svc, ok := rt.GetService(Name).(*Service)
	require.True(t, ok, "mcp service registered")

	transport := startTestServer(t, "tools", tools)
	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "murmur-test", Version: "test"}, nil)
	session, err := sdkClient.Connect(context.Background(), transport, nil)
	require.NoError(t, err)
	svc.Client().InjectSession("tools", sdkClient, session)

	return rt
}

func TestServiceStartsWithoutServers(t *testing.T) {
	rt, err := runtime.New(runtime.Options{
		Character: &models.Character{Name: "MCP Test"},
		Adapter:   memstore.New(),
		Plugins:   []*plugin.Plugin{New()},
		Logger:    slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	require.NoError(t, rt.Initialize(context.Background()))
	defer rt.Stop(context.Background())

	assert.True(t, rt.HasService(Name))
}

func TestServiceRejectsBadConfig(t *testing.T) {
	rt, err := runtime.New(runtime.Options{
		Character: &models.Character{Name: "MCP Test"},
		Adapter:   memstore.New(),
		Plugins:   []*plugin.Plugin{New()},
		Settings:  map[string]string{"MCP_SERVERS": "k8s: {type: stdio}"},
		Logger:    slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	err = rt.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires command")
}

func TestToolsProvider(t *testing.T) {
	rt := newMCPRuntime(t, map[string]mcpsdk.ToolHandler{"echo": echoTool})
	m := &models.Memory{ID: ids.New(), RoomID: ids.New(), Content: models.Content{Text: "hi"}}

	state, err := rt.ComposeState(context.Background(), m, []string{"MCP_TOOLS"}, true, true)
	require.NoError(t, err)
	assert.Contains(t, state.Text, "tools.echo")
	assert.Equal(t, 1, state.Values["mcpToolCount"])
}

func TestToolsProviderDynamic(t *testing.T) {
	rt := newMCPRuntime(t, map[string]mcpsdk.ToolHandler{"echo": echoTool})
	m := &models.Memory{ID: ids.New(), RoomID: ids.New(), Content: models.Content{Text: "hi"}}

	state, err := rt.ComposeState(context.Background(), m, nil, false, true)
	require.NoError(t, err)
	assert.NotContains(t, state.Text, "tools.echo",
		"dynamic provider needs to be asked for by name")
}

func TestCallToolAction(t *testing.T) {
	rt := newMCPRuntime(t, map[string]mcpsdk.ToolHandler{"echo": echoTool})
	ctx := context.Background()

	m := &models.Memory{
		ID:       ids.New(),
		EntityID: ids.New(),
		RoomID:   ids.New(),
		Content: models.Content{
			Text: "run the echo tool",
			Extra: map[string]any{
				"tool":      "tools.echo",
				"arguments": map[string]any{"text": "ping"},
			},
		},
	}
	response := &models.Memory{
		ID:       ids.New(),
		EntityID: rt.AgentID(),
		RoomID:   m.RoomID,
		Content:  models.Content{Actions: []string{"CALL_TOOL"}},
	}

	require.NoError(t, rt.ProcessActions(ctx, m, []*models.Memory{response}, models.NewState(), nil))

	results, err := rt.GetMemories(ctx, store.MemoryQuery{TableName: models.TableMessages, RoomID: m.RoomID})
	require.NoError(t, err)
	var found bool
	for _, r := range results {
		if r.Content.Type == "action_result" {
			found = true
			assert.Equal(t, "echo: ping", r.Content.Text)
			assert.Equal(t, "completed", r.Content.Extra["actionStatus"])
		}
	}
	assert.True(t, found)
}

func TestCallToolActionUnknownServer(t *testing.T) {
	rt := newMCPRuntime(t, map[string]mcpsdk.ToolHandler{"echo": echoTool})
	ctx := context.Background()

	m := &models.Memory{
		ID:       ids.New(),
		EntityID: ids.New(),
		RoomID:   ids.New(),
		Content: models.Content{
			Extra: map[string]any{"tool": "ghost.echo"},
		},
	}
	response := &models.Memory{
		ID:       ids.New(),
		EntityID: rt.AgentID(),
		RoomID:   m.RoomID,
		Content:  models.Content{Actions: []string{"CALL_TOOL"}},
	}
	require.NoError(t, rt.ProcessActions(ctx, m, []*models.Memory{response}, models.NewState(), nil))

	results, err := rt.GetMemories(ctx, store.MemoryQuery{TableName: models.TableMessages, RoomID: m.RoomID})
	require.NoError(t, err)
	var failed bool
	for _, r := range results {
		if r.Content.Type == "action_result" && r.Content.Extra["actionStatus"] == "failed" {
			failed = true
		}
	}
	assert.True(t, failed)
}

func TestToolFromContent(t *testing.T) {
	server, tool := toolFromContent(models.Content{Extra: map[string]any{"tool": "k8s.get_pods"}})
	assert.Equal(t, "k8s", server)
	assert.Equal(t, "get_pods", tool)

	server, tool = toolFromContent(models.Content{Extra: map[string]any{"tool": "nodot"}})
	assert.Empty(t, server)
	assert.Empty(t, tool)

	server, tool = toolFromContent(models.Content{})
	assert.Empty(t, server)
	assert.Empty(t, tool)
}

func TestParseServers(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		servers, err := ParseServers(`
k8s:
  type: stdio
  command: kubectl-mcp
  args: ["--kubeconfig", "/tmp/kc"]
remote:
  url: https://mcp.example.com
  bearerToken: secret
`)
		require.NoError(t, err)
		require.Len(t, servers, 2)
		assert.Equal(t, TransportStdio, servers["k8s"].Type)
		assert.Equal(t, []string{"--kubeconfig", "/tmp/kc"}, servers["k8s"].Args)
		assert.Equal(t, TransportHTTP, servers["remote"].Type, "url implies http")
		assert.Equal(t, "secret", servers["remote"].BearerToken)
	})

	t.Run("json", func(t *testing.T) {
		servers, err := ParseServers(`{"sse-server":{"type":"sse","url":"https://sse.example.com"}}`)
		require.NoError(t, err)
		assert.Equal(t, TransportSSE, servers["sse-server"].Type)
	})

	t.Run("empty", func(t *testing.T) {
		servers, err := ParseServers("")
		require.NoError(t, err)
		assert.Nil(t, servers)
	})

	t.Run("invalid transport", func(t *testing.T) {
		_, err := ParseServers(`x: {type: carrier-pigeon, url: h}`)
		require.Error(t, err)
	})

	t.Run("missing endpoint", func(t *testing.T) {
		_, err := ParseServers(`x: {type: http}`)
		require.Error(t, err)
	})
}
