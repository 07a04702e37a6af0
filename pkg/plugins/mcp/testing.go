package mcp

import (
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// InjectSession injects a pre-connected SDK session into the Client. Test
// infrastructure uses it to wire in-memory MCP servers without going
// through the real transport creation path.
func (c *Client) InjectSession(name string, sdkClient *mcpsdk.Client, session *mcpsdk.ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[name] = session
	c.clients[name] = sdkClient
}
