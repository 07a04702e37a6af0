package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

func constHandler(out string) plugin.ModelHandler {
	return func(ctx context.Context, rt plugin.Runtime, params any) (any, error) {
		return out, nil
	}
}

func callModel(t *testing.T, rt *AgentRuntime, modelType models.ModelType, provider string) string {
	t.Helper()
	h := rt.GetModel(modelType, provider)
	require.NotNil(t, h)
	out, err := h(context.Background(), rt, nil)
	require.NoError(t, err)
	return out.(string)
}

func TestGetModelPriorityOrdering(t *testing.T) {
	rt := newTestRuntime(t)

	rt.RegisterModel(models.ModelTextSmall, constHandler("low"), "low", 0)
	rt.RegisterModel(models.ModelTextSmall, constHandler("high"), "high", 10)
	rt.RegisterModel(models.ModelTextSmall, constHandler("tied"), "tied", 10)

	assert.Equal(t, "high", callModel(t, rt, models.ModelTextSmall, ""),
		"highest priority wins; ties go to the earlier registration")
}

func TestGetModelProviderSelection(t *testing.T) {
	rt := newTestRuntime(t)

	rt.RegisterModel(models.ModelTextLarge, constHandler("openai"), "openai", 5)
	rt.RegisterModel(models.ModelTextLarge, constHandler("local"), "local", 0)

	assert.Equal(t, "local", callModel(t, rt, models.ModelTextLarge, "local"))
	assert.Equal(t, "openai", callModel(t, rt, models.ModelTextLarge, "missing"),
		"unmatched provider falls back to the best entry")
	assert.Nil(t, rt.GetModel(models.ModelTranscription, ""))
}

func TestUseModelUnknownType(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.UseModel(context.Background(), models.ModelImage, nil)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestUseModelHandlerFailure(t *testing.T) {
	rt := newTestRuntime(t)
	rt.RegisterModel(models.ModelTextSmall, func(ctx context.Context, r plugin.Runtime, params any) (any, error) {
		return nil, errors.New("rate limited")
	}, "flaky", 0)

	_, err := rt.UseModel(context.Background(), models.ModelTextSmall, nil)
	var modelErr *ModelError
	require.ErrorAs(t, err, &modelErr)

	logs, lerr := rt.GetLogs(context.Background(), store.LogQuery{Type: "useModel:TEXT_SMALL"})
	require.NoError(t, lerr)
	assert.Empty(t, logs, "failed calls write no log")
}

func TestUseModelWritesStructuredLog(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	rt.RegisterModel(models.ModelTextLarge, constHandler("out"), "test", 0)

	ctx, runID := rt.StartRun(ctx)
	out, err := rt.UseModel(ctx, models.ModelTextLarge, map[string]any{"prompt": "say hi"})
	require.NoError(t, err)
	assert.Equal(t, "out", out)

	logs, err := rt.GetLogs(ctx, store.LogQuery{Type: "useModel:TEXT_LARGE"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	body := logs[0].Body
	assert.Equal(t, "say hi", body["prompt"])
	assert.Equal(t, runID.String(), body["runId"])
	assert.Equal(t, "test", body["provider"])
	assert.Equal(t, "out", body["response"])
	assert.NotContains(t, body, "actionContext")
	assert.Equal(t, rt.AgentID(), logs[0].EntityID)
	assert.Equal(t, rt.AgentID(), logs[0].RoomID)
}

func TestUseModelRedactsEmbeddingVectors(t *testing.T) {
	rt := newTestRuntime(t)
	rt.RegisterModel(models.ModelTextEmbedding, func(ctx context.Context, r plugin.Runtime, params any) (any, error) {
		return make([]float32, 1536), nil
	}, "embed", 0)

	_, err := rt.UseModel(context.Background(), models.ModelTextEmbedding, map[string]any{"input": "text"})
	require.NoError(t, err)

	logs, err := rt.GetLogs(context.Background(), store.LogQuery{Type: "useModel:TEXT_EMBEDDING"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "[1536-dim vector]", logs[0].Body["response"])
}

func TestExtractPrompt(t *testing.T) {
	tests := []struct {
		name   string
		params any
		want   string
	}{
		{"nil", nil, ""},
		{"prompt key", map[string]any{"prompt": "p"}, "p"},
		{"input key", map[string]any{"input": "i"}, "i"},
		{"prompt wins over input", map[string]any{"prompt": "p", "input": "i"}, "p"},
		{"messages serialised", map[string]any{"messages": []any{map[string]any{"role": "user"}}}, `[{"role":"user"}]`},
		{"text params", models.TextParams{Prompt: "tp"}, "tp"},
		{"text params pointer", &models.TextParams{Prompt: "tp"}, "tp"},
		{"scalar", 42, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractPrompt(tt.params))
		})
	}
}

func TestRunIDScoping(t *testing.T) {
	rt := newTestRuntime(t)
	base := context.Background()

	ctx, runID := rt.StartRun(base)
	assert.Equal(t, runID, rt.CurrentRunID(ctx))
	assert.Equal(t, runID, rt.CurrentRunID(ctx), "run id is stable within a run")

	cleared := rt.EndRun(ctx)
	assert.NotEqual(t, runID, rt.CurrentRunID(cleared))

	// Outside any run, each lookup mints a one-off id.
	a := rt.CurrentRunID(base)
	b := rt.CurrentRunID(base)
	assert.NotEqual(t, a, b)
}
