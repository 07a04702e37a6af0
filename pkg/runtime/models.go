package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
)

// modelEntry is one registered handler for a model type. Higher priority
// wins; ties go to the earlier registration.
type modelEntry struct {
	handler           plugin.ModelHandler
	provider          string
	priority          int
	registrationOrder int
}

// RegisterModel adds a handler for modelType and re-sorts the per-type
// list by (priority desc, registration order asc).
func (rt *AgentRuntime) RegisterModel(modelType models.ModelType, handler plugin.ModelHandler, provider string, priority int) {
	if handler == nil {
		rt.logger.Warn("ignoring nil model handler", "modelType", modelType)
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.modelSeq++
	entries := append(rt.models[modelType], &modelEntry{
		handler:           handler,
		provider:          provider,
		priority:          priority,
		registrationOrder: rt.modelSeq,
	})
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].registrationOrder < entries[j].registrationOrder
	})
	rt.models[modelType] = entries
}

func (rt *AgentRuntime) resolveModel(modelType models.ModelType, provider string) *modelEntry {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	entries := rt.models[modelType]
	if len(entries) == 0 {
		return nil
	}
	if provider != "" {
		for _, e := range entries {
			if e.provider == provider {
				return e
			}
		}
		rt.logger.Warn("no handler for requested provider, falling back",
			"modelType", modelType, "provider", provider, "fallback", entries[0].provider)
	}
	return entries[0]
}

// GetModel returns the handler that UseModel would dispatch to, or nil
// when the type is unknown. An unmatched provider falls back to the
// highest-priority entry with a warning.
func (rt *AgentRuntime) GetModel(modelType models.ModelType, provider string) plugin.ModelHandler {
	entry := rt.resolveModel(modelType, provider)
	if entry == nil {
		return nil
	}
	return entry.handler
}

// UseModel dispatches params to the best handler for modelType.
func (rt *AgentRuntime) UseModel(ctx context.Context, modelType models.ModelType, params any) (any, error) {
	return rt.UseModelFrom(ctx, modelType, params, "")
}

// UseModelFrom dispatches to a specific provider's handler. On success a
// structured useModel log is persisted and MODEL_USED is emitted; when an
// action is in scope the prompt is captured for that action's audit
// record. Handler failures return a ModelError and write nothing.
func (rt *AgentRuntime) UseModelFrom(ctx context.Context, modelType models.ModelType, params any, provider string) (any, error) {
	entry := rt.resolveModel(modelType, provider)
	if entry == nil {
		return nil, &NotFoundError{Kind: "model handler", Name: string(modelType)}
	}

	started := time.Now()
	result, err := entry.handler(ctx, rt, params)
	if err != nil {
		return nil, &ModelError{Type: modelType, Err: err}
	}
	elapsed := time.Since(started).Milliseconds()

	prompt := extractPrompt(params)
	runID := rt.CurrentRunID(ctx)

	body := map[string]any{
		"modelType":     string(modelType),
		"modelKey":      entry.provider,
		"params":        params,
		"prompt":        prompt,
		"runId":         runID.String(),
		"executionTime": elapsed,
		"provider":      entry.provider,
		"response":      redactResponse(result),
	}

	scope := actionScopeFrom(ctx)
	if scope != nil {
		body["actionContext"] = map[string]any{
			"actionName": scope.ActionName,
			"actionId":   scope.ActionID.String(),
		}
		if modelType != models.ModelTextEmbedding {
			scope.addPrompt(promptRecord{
				ModelType: string(modelType),
				Prompt:    prompt,
				Timestamp: nowMillis(),
			})
		}
	}

	if err := rt.Log(ctx, &models.LogEntry{
		EntityID: rt.agentID,
		RoomID:   rt.agentID,
		Type:     fmt.Sprintf("useModel:%s", modelType),
		Body:     body,
	}); err != nil {
		rt.logger.Error("failed to persist model log", "modelType", modelType, "error", err)
	}

	_ = rt.EmitEvent(ctx, []string{models.EventModelUsed}, map[string]any{
		"modelType":     string(modelType),
		"provider":      entry.provider,
		"runId":         runID.String(),
		"executionTime": elapsed,
	})

	return result, nil
}

// extractPrompt pulls the loggable prompt text out of params: the prompt
// key, then the input key, then the serialised messages list.
func extractPrompt(params any) string {
	switch p := params.(type) {
	case nil:
		return ""
	case models.TextParams:
		return p.Prompt
	case *models.TextParams:
		if p == nil {
			return ""
		}
		return p.Prompt
	case map[string]any:
		if s, ok := p["prompt"].(string); ok && s != "" {
			return s
		}
		if s, ok := p["input"].(string); ok && s != "" {
			return s
		}
		if messages, ok := p["messages"]; ok {
			if raw, err := json.Marshal(messages); err == nil {
				return string(raw)
			}
		}
	}
	return ""
}

// redactResponse keeps embedding vectors out of the logs; everything else
// is stored as returned.
func redactResponse(result any) any {
	switch v := result.(type) {
	case []float32:
		return fmt.Sprintf("[%d-dim vector]", len(v))
	case []float64:
		return fmt.Sprintf("[%d-dim vector]", len(v))
	default:
		return result
	}
}
