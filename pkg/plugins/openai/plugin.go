// Package openai registers text, object and embedding model handlers
// backed by any OpenAI-compatible API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
)

// Name is the plugin's registered name.
const Name = "openai"

type openaiPlugin struct {
	mu     sync.RWMutex
	client *client
}

func (p *openaiPlugin) get() *client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

// New assembles the plugin. Init fails when OPENAI_API_KEY is unset; the
// runtime downgrades that to a registration warning so keyless agents
// still boot with the rest of the plugin's surface disabled.
func New() *plugin.Plugin {
	p := &openaiPlugin{}
	return &plugin.Plugin{
		Name:        Name,
		Description: "Model handlers for OpenAI-compatible chat and embeddings APIs",
		Init: func(ctx context.Context, config map[string]any, rt plugin.Runtime) error {
			apiKey := settingString(rt, "OPENAI_API_KEY", "")
			if apiKey == "" {
				return fmt.Errorf("OPENAI_API_KEY is not set: an API key is required for the openai plugin")
			}
			p.mu.Lock()
			p.client = &client{
				httpClient: &http.Client{Timeout: requestTimeout},
				baseURL:    strings.TrimRight(settingString(rt, "OPENAI_BASE_URL", defaultBaseURL), "/"),
				apiKey:     apiKey,
				smallModel: settingString(rt, "OPENAI_SMALL_MODEL", defaultSmallModel),
				largeModel: settingString(rt, "OPENAI_LARGE_MODEL", defaultLargeModel),
				embedModel: settingString(rt, "OPENAI_EMBEDDING_MODEL", defaultEmbedModel),
				embedDims:  settingInt(rt, "OPENAI_EMBEDDING_DIMENSIONS", defaultEmbedDims),
			}
			p.mu.Unlock()
			return nil
		},
		Models: []plugin.ModelRegistration{
			{Type: models.ModelTextSmall, Handler: p.textHandler(false), Provider: Name},
			{Type: models.ModelTextLarge, Handler: p.textHandler(true), Provider: Name},
			{Type: models.ModelObjectSmall, Handler: p.objectHandler(false), Provider: Name},
			{Type: models.ModelObjectLarge, Handler: p.objectHandler(true), Provider: Name},
			{Type: models.ModelTextEmbedding, Handler: p.embeddingHandler(), Provider: Name},
		},
	}
}

// textHandler serves TEXT_SMALL or TEXT_LARGE chat completions.
func (p *openaiPlugin) textHandler(large bool) plugin.ModelHandler {
	return func(ctx context.Context, rt plugin.Runtime, params any) (any, error) {
		c := p.get()
		if c == nil {
			return nil, fmt.Errorf("openai plugin is not configured")
		}
		tp := textParams(params)
		model := c.smallModel
		if large {
			model = c.largeModel
		}
		return c.complete(ctx, model, tp.System, tp.Prompt, tp.Temperature, tp.MaxTokens, tp.StopSequences)
	}
}

// objectHandler asks the chat model for a JSON object and decodes it.
func (p *openaiPlugin) objectHandler(large bool) plugin.ModelHandler {
	return func(ctx context.Context, rt plugin.Runtime, params any) (any, error) {
		c := p.get()
		if c == nil {
			return nil, fmt.Errorf("openai plugin is not configured")
		}
		tp := textParams(params)
		model := c.smallModel
		if large {
			model = c.largeModel
		}
		system := tp.System
		if system == "" {
			system = "Respond with a single valid JSON object and nothing else."
		}
		raw, err := c.complete(ctx, model, system, tp.Prompt, tp.Temperature, tp.MaxTokens, tp.StopSequences)
		if err != nil {
			return nil, err
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(stripFence(raw)), &out); err != nil {
			return nil, fmt.Errorf("model output is not a JSON object: %w", err)
		}
		return out, nil
	}
}

// embeddingHandler serves TEXT_EMBEDDING. A nil params value is the
// runtime's dimension probe and gets a zero vector back.
func (p *openaiPlugin) embeddingHandler() plugin.ModelHandler {
	return func(ctx context.Context, rt plugin.Runtime, params any) (any, error) {
		c := p.get()
		if c == nil {
			return nil, fmt.Errorf("openai plugin is not configured")
		}
		if params == nil {
			return make([]float32, c.embedDims), nil
		}
		input := embeddingInput(params)
		if input == "" {
			return make([]float32, c.embedDims), nil
		}
		return c.embed(ctx, input)
	}
}

// textParams coerces whatever the caller passed into TextParams.
func textParams(params any) models.TextParams {
	switch v := params.(type) {
	case models.TextParams:
		return v
	case *models.TextParams:
		if v != nil {
			return *v
		}
	case map[string]any:
		tp := models.TextParams{}
		if s, ok := v["prompt"].(string); ok {
			tp.Prompt = s
		}
		if s, ok := v["system"].(string); ok {
			tp.System = s
		}
		if f, ok := v["temperature"].(float64); ok {
			tp.Temperature = f
		}
		switch n := v["maxTokens"].(type) {
		case int:
			tp.MaxTokens = n
		case float64:
			tp.MaxTokens = int(n)
		}
		return tp
	case string:
		return models.TextParams{Prompt: v}
	}
	return models.TextParams{}
}

func embeddingInput(params any) string {
	switch v := params.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["input"].(string); ok {
			return s
		}
		if s, ok := v["text"].(string); ok {
			return s
		}
	case models.TextParams:
		return v.Prompt
	}
	return ""
}

// stripFence removes a markdown code fence around a JSON payload.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func settingString(rt plugin.Runtime, key, fallback string) string {
	if v, ok := rt.GetSetting(key).(string); ok && v != "" {
		return v
	}
	return fallback
}

func settingInt(rt plugin.Runtime, key string, fallback int) int {
	switch v := rt.GetSetting(key).(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
