// Package mcp connects external Model Context Protocol servers to the
// agent: their tools surface through the MCP_TOOLS provider and execute
// through the CALL_TOOL action.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/murmur/pkg/version"
)

// Client manages MCP SDK sessions for the configured servers.
// Thread-safe: sessions may be accessed from concurrent action steps.
type Client struct {
	servers map[string]ServerConfig

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession // server name → session
	clients       map[string]*mcpsdk.Client        // server name → client (for reconnection)
	failedServers map[string]string                // server name → error message

	// Tool cache, populated on first ListTools and invalidated on session
	// recreation.
	toolCache   map[string][]*mcpsdk.Tool
	toolCacheMu sync.RWMutex

	// Per-server mutex for session recreation to prevent thundering herd
	reinitMu sync.Map // server name → *sync.Mutex

	logger *slog.Logger
}

// NewClient creates an unconnected client for the given server configs.
func NewClient(servers map[string]ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		servers:       servers,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		clients:       make(map[string]*mcpsdk.Client),
		failedServers: make(map[string]string),
		toolCache:     make(map[string][]*mcpsdk.Tool),
		logger:        logger.With("component", "mcp"),
	}
}

// Initialize connects to every configured server. Servers that fail to
// connect are recorded in failedServers; partial initialization is
// acceptable, so the error return stays nil today.
func (c *Client) Initialize(ctx context.Context) error {
	for name := range c.servers {
		if err := c.InitializeServer(ctx, name); err != nil {
			c.mu.Lock()
			c.failedServers[name] = err.Error()
			c.mu.Unlock()
			c.logger.Warn("MCP server failed to initialize",
				"server", name, "error", err)
		}
	}
	return nil
}

// InitializeServer connects to a single MCP server. Returns nil if already
// connected. Uses a per-server mutex to serialize initialization attempts.
func (c *Client) InitializeServer(ctx context.Context, name string) error {
	muI, _ := c.reinitMu.LoadOrStore(name, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	return c.initializeServerLocked(ctx, name)
}

// initializeServerLocked performs the actual server initialization.
// Caller must hold the per-server reinitMu lock.
func (c *Client) initializeServerLocked(ctx context.Context, name string) error {
	c.mu.RLock()
	if _, exists := c.sessions[name]; exists {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	cfg, ok := c.servers[name]
	if !ok {
		return fmt.Errorf("server %q is not configured", name)
	}

	transport, err := createTransport(cfg)
	if err != nil {
		return fmt.Errorf("failed to create transport for %q: %w", name, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// Close the transport if it implements io.Closer so stdio child
		// processes do not leak on failed handshakes.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("failed to connect to %q: %w", name, err)
	}

	c.mu.Lock()
	c.sessions[name] = session
	c.clients[name] = client
	delete(c.failedServers, name)
	c.mu.Unlock()

	c.logger.Info("MCP server connected", "server", name)
	return nil
}

// ListTools returns tools from a specific server. Uses cache if available.
func (c *Client) ListTools(ctx context.Context, name string) ([]*mcpsdk.Tool, error) {
	// Lock ordering: never acquire c.mu while holding toolCacheMu.
	c.toolCacheMu.RLock()
	if cached, ok := c.toolCache[name]; ok {
		c.toolCacheMu.RUnlock()
		return cached, nil
	}
	c.toolCacheMu.RUnlock()

	c.mu.RLock()
	session, exists := c.sessions[name]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for server %q", name)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", name, err)
	}

	// Nil-guard: always cache a non-nil slice so cache hits don't return
	// nil to callers.
	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	c.toolCacheMu.Lock()
	c.toolCache[name] = tools
	c.toolCacheMu.Unlock()

	return tools, nil
}

// ListAllTools returns tools from all connected servers. Partial results
// are returned when some servers fail; an error only when every server
// fails.
func (c *Client) ListAllTools(ctx context.Context) (map[string][]*mcpsdk.Tool, error) {
	c.mu.RLock()
	names := make([]string, 0, len(c.sessions))
	for name := range c.sessions {
		names = append(names, name)
	}
	c.mu.RUnlock()

	result := make(map[string][]*mcpsdk.Tool)
	var lastErr error
	for _, name := range names {
		tools, err := c.ListTools(ctx, name)
		if err != nil {
			lastErr = err
			c.logger.Warn("Failed to list tools from MCP server",
				"server", name, "error", err)
			continue
		}
		result[name] = tools
	}

	if len(result) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all servers failed to list tools: %w", lastErr)
	}
	return result, nil
}

// CallTool executes a tool call on the named server. Transport failures
// get at most one retry after a jittered backoff, with session recreation
// when the failure classification asks for it.
func (c *Client) CallTool(ctx context.Context, server, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	}

	result, err := c.callToolOnce(ctx, server, params)
	if err == nil {
		return result, nil
	}

	action := ClassifyError(err)
	if action == NoRetry {
		return nil, err
	}

	c.logger.Info("MCP call failed, retrying",
		"server", server, "tool", toolName, "error", err)

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == RetryNewSession {
		if err := c.recreateSession(ctx, server); err != nil {
			return nil, fmt.Errorf("session recreation failed for %q: %w", server, err)
		}
	}

	result, err = c.callToolOnce(ctx, server, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %q.%s: %w", server, toolName, err)
	}
	return result, nil
}

// callToolOnce performs a single CallTool attempt.
func (c *Client) callToolOnce(ctx context.Context, server string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	c.mu.RLock()
	session, exists := c.sessions[server]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for server %q", server)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	return session.CallTool(opCtx, params)
}

// recreateSession tears down and recreates the session for a server.
// Racing callers may recreate twice; the cost is an extra handshake, which
// is acceptable for simplicity.
func (c *Client) recreateSession(ctx context.Context, name string) error {
	muI, _ := c.reinitMu.LoadOrStore(name, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	c.mu.Lock()
	if session, exists := c.sessions[name]; exists {
		_ = session.Close()
		delete(c.sessions, name)
		delete(c.clients, name)
	}
	c.mu.Unlock()

	c.InvalidateToolCache(name)

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()

	return c.initializeServerLocked(reinitCtx, name)
}

// Close shuts down all sessions and transports gracefully.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for name, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", name, err)
		}
	}

	c.sessions = make(map[string]*mcpsdk.ClientSession)
	c.clients = make(map[string]*mcpsdk.Client)
	c.failedServers = make(map[string]string)

	// Lock ordering note: mu → toolCacheMu is safe here because no other
	// code path holds toolCacheMu while acquiring mu.
	c.toolCacheMu.Lock()
	c.toolCache = make(map[string][]*mcpsdk.Tool)
	c.toolCacheMu.Unlock()

	return firstErr
}

// InvalidateToolCache removes the cached tool list for a server, forcing
// the next ListTools call to re-probe it.
func (c *Client) InvalidateToolCache(name string) {
	c.toolCacheMu.Lock()
	delete(c.toolCache, name)
	c.toolCacheMu.Unlock()
}

// HasSession checks if a server has an active session.
func (c *Client) HasSession(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.sessions[name]
	return exists
}

// FailedServers returns the servers that failed to initialize.
func (c *Client) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]string, len(c.failedServers))
	for k, v := range c.failedServers {
		result[k] = v
	}
	return result
}
