package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emptySchema is a minimal valid JSON Schema for test tools.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// startTestServer creates an in-memory MCP server with the given tools and
// runs it in the background.
func startTestServer(t *testing.T, name string, tools map[string]mcpsdk.ToolHandler) *mcpsdk.InMemoryTransport {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name: name, Version: "test",
	}, nil)

	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()
	return clientTransport
}

// connectClientDirect wires a Client to an in-memory transport, bypassing
// the config/createTransport path.
func connectClientDirect(t *testing.T, name string, transport *mcpsdk.InMemoryTransport) *Client {
	t.Helper()
	ctx := context.Background()

	client := NewClient(nil, slog.New(slog.DiscardHandler))

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name: "murmur-test", Version: "test",
	}, nil)

	session, err := sdkClient.Connect(ctx, transport, nil)
	require.NoError(t, err)

	client.InjectSession(name, sdkClient, session)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func echoTool(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var parsed map[string]any
	_ = json.Unmarshal(req.Params.Arguments, &parsed)
	text, _ := parsed["text"].(string)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "echo: " + text}},
	}, nil
}

func TestClientListTools(t *testing.T) {
	transport := startTestServer(t, "tools-server", map[string]mcpsdk.ToolHandler{
		"echo": echoTool,
		"ping": func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "pong"}}}, nil
		},
	})
	client := connectClientDirect(t, "srv", transport)

	tools, err := client.ListTools(context.Background(), "srv")
	require.NoError(t, err)
	require.Len(t, tools, 2)

	// Second call hits the cache.
	again, err := client.ListTools(context.Background(), "srv")
	require.NoError(t, err)
	assert.Equal(t, tools, again)
}

func TestClientListToolsNoSession(t *testing.T) {
	client := NewClient(nil, slog.New(slog.DiscardHandler))
	_, err := client.ListTools(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session")
}

func TestClientCallTool(t *testing.T) {
	transport := startTestServer(t, "call-server", map[string]mcpsdk.ToolHandler{"echo": echoTool})
	client := connectClientDirect(t, "srv", transport)

	result, err := client.CallTool(context.Background(), "srv", "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	tc, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Equal(t, "echo: hi", tc.Text)
}

func TestClientCallToolErrorResult(t *testing.T) {
	transport := startTestServer(t, "err-server", map[string]mcpsdk.ToolHandler{
		"broken": func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "tool error: bad input"}},
				IsError: true,
			}, nil
		},
	})
	client := connectClientDirect(t, "srv", transport)

	result, err := client.CallTool(context.Background(), "srv", "broken", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestClientListAllTools(t *testing.T) {
	t1 := startTestServer(t, "one", map[string]mcpsdk.ToolHandler{"echo": echoTool})
	t2 := startTestServer(t, "two", map[string]mcpsdk.ToolHandler{"echo": echoTool})
	client := connectClientDirect(t, "one", t1)

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "murmur-test", Version: "test"}, nil)
	session, err := sdkClient.Connect(context.Background(), t2, nil)
	require.NoError(t, err)
	client.InjectSession("two", sdkClient, session)

	byServer, err := client.ListAllTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, byServer, 2)
	assert.Len(t, byServer["one"], 1)
	assert.Len(t, byServer["two"], 1)
}

func TestHasSessionAndClose(t *testing.T) {
	transport := startTestServer(t, "s", map[string]mcpsdk.ToolHandler{"echo": echoTool})
	client := connectClientDirect(t, "srv", transport)

	assert.True(t, client.HasSession("srv"))
	assert.False(t, client.HasSession("other"))

	require.NoError(t, client.Close())
	assert.False(t, client.HasSession("srv"))
}

func TestInitializeRecordsFailures(t *testing.T) {
	client := NewClient(map[string]ServerConfig{
		"bad": {Type: TransportStdio, Command: "/nonexistent/mcp-server-binary"},
	}, slog.New(slog.DiscardHandler))
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Initialize(context.Background()))
	failed := client.FailedServers()
	assert.Contains(t, failed, "bad")
	assert.False(t, client.HasSession("bad"))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RecoveryAction
	}{
		{"nil", nil, NoRetry},
		{"context canceled", context.Canceled, NoRetry},
		{"deadline exceeded", context.DeadlineExceeded, NoRetry},
		{"eof", io.EOF, RetryNewSession},
		{"connection refused", errors.New("dial tcp: connection refused"), RetryNewSession},
		{"broken pipe", errors.New("write: broken pipe"), RetryNewSession},
		{"generic", errors.New("something else"), NoRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}
