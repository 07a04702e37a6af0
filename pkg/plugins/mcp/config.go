package mcp

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Transport types accepted in server configuration.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"
)

// ServerConfig describes how to reach one MCP server. The zero Type
// defaults to stdio when Command is set and http when URL is set.
type ServerConfig struct {
	Type        string            `yaml:"type" json:"type"`
	Command     string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	URL         string            `yaml:"url,omitempty" json:"url,omitempty"`
	BearerToken string            `yaml:"bearerToken,omitempty" json:"bearerToken,omitempty"`
	VerifySSL   *bool             `yaml:"verifySSL,omitempty" json:"verifySSL,omitempty"`
	TimeoutSecs int               `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// ParseServers decodes the MCP_SERVERS setting: a YAML or JSON mapping of
// server name to ServerConfig. YAML is a superset of JSON, so one decoder
// covers both.
func ParseServers(raw string) (map[string]ServerConfig, error) {
	if raw == "" {
		return nil, nil
	}
	servers := make(map[string]ServerConfig)
	if err := yaml.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, fmt.Errorf("parse MCP_SERVERS: %w", err)
	}
	for name, cfg := range servers {
		normalized, err := normalizeServer(name, cfg)
		if err != nil {
			return nil, err
		}
		servers[name] = normalized
	}
	return servers, nil
}

func normalizeServer(name string, cfg ServerConfig) (ServerConfig, error) {
	if cfg.Type == "" {
		switch {
		case cfg.Command != "":
			cfg.Type = TransportStdio
		case cfg.URL != "":
			cfg.Type = TransportHTTP
		default:
			return cfg, fmt.Errorf("server %q: either command or url is required", name)
		}
	}
	switch cfg.Type {
	case TransportStdio:
		if cfg.Command == "" {
			return cfg, fmt.Errorf("server %q: stdio transport requires command", name)
		}
	case TransportHTTP, TransportSSE:
		if cfg.URL == "" {
			return cfg, fmt.Errorf("server %q: %s transport requires url", name, cfg.Type)
		}
	default:
		return cfg, fmt.Errorf("server %q: unsupported transport type %q", name, cfg.Type)
	}
	return cfg, nil
}
