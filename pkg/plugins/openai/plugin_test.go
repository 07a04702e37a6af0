package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
	"github.com/codeready-toolchain/murmur/pkg/runtime"
	"github.com/codeready-toolchain/murmur/pkg/store/memstore"
)

// fakeAPI is a minimal OpenAI-compatible server recording requests.
type fakeAPI struct {
	t           *testing.T
	chatContent string
	lastChat    chatRequest
	lastEmbed   embeddingsRequest
	embedding   []float32
	failChat    bool
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastChat))
		if f.failChat {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"type":"rate_limit","message":"slow down"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": f.chatContent}, "finish_reason": "stop"},
			},
		})
	})
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastEmbed))
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": f.embedding}},
		})
	})
	return mux
}

func newOpenAIRuntime(t *testing.T, settings map[string]string) *runtime.AgentRuntime {
	t.Helper()
	rt, err := runtime.New(runtime.Options{
		Character: &models.Character{Name: "OpenAI Test"},
		Adapter:   memstore.New(),
		Plugins:   []*plugin.Plugin{New()},
		Settings:  settings,
		Logger:    slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	require.NoError(t, rt.Initialize(context.Background()))
	return rt
}

func testSettings(baseURL string) map[string]string {
	return map[string]string{
		"OPENAI_API_KEY":              "test-key",
		"OPENAI_BASE_URL":             baseURL,
		"OPENAI_SMALL_MODEL":          "small-model",
		"OPENAI_LARGE_MODEL":          "large-model",
		"OPENAI_EMBEDDING_MODEL":      "embed-model",
		"OPENAI_EMBEDDING_DIMENSIONS": "3",
	}
}

func TestTextModels(t *testing.T) {
	api := &fakeAPI{t: t, chatContent: "completion text"}
	server := httptest.NewServer(api.handler())
	defer server.Close()
	rt := newOpenAIRuntime(t, testSettings(server.URL))
	ctx := context.Background()

	out, err := rt.UseModel(ctx, models.ModelTextSmall, models.TextParams{
		Prompt: "hello", System: "be brief", Temperature: 0.5, MaxTokens: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, "completion text", out)
	assert.Equal(t, "small-model", api.lastChat.Model)
	require.Len(t, api.lastChat.Messages, 2)
	assert.Equal(t, "system", api.lastChat.Messages[0].Role)
	assert.Equal(t, "be brief", api.lastChat.Messages[0].Content)
	assert.Equal(t, "hello", api.lastChat.Messages[1].Content)
	assert.Equal(t, 64, api.lastChat.MaxTokens)

	_, err = rt.UseModel(ctx, models.ModelTextLarge, map[string]any{"prompt": "big"})
	require.NoError(t, err)
	assert.Equal(t, "large-model", api.lastChat.Model)
	require.Len(t, api.lastChat.Messages, 1, "no system message unless provided")
}

func TestObjectModelDecodesJSON(t *testing.T) {
	api := &fakeAPI{t: t, chatContent: "```json\n{\"name\":\"murmur\",\"count\":2}\n```"}
	server := httptest.NewServer(api.handler())
	defer server.Close()
	rt := newOpenAIRuntime(t, testSettings(server.URL))

	out, err := rt.UseModel(context.Background(), models.ModelObjectSmall, map[string]any{"prompt": "describe"})
	require.NoError(t, err)
	obj, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "murmur", obj["name"])
	assert.Equal(t, float64(2), obj["count"])
}

func TestObjectModelRejectsNonJSON(t *testing.T) {
	api := &fakeAPI{t: t, chatContent: "not json at all"}
	server := httptest.NewServer(api.handler())
	defer server.Close()
	rt := newOpenAIRuntime(t, testSettings(server.URL))

	_, err := rt.UseModel(context.Background(), models.ModelObjectLarge, map[string]any{"prompt": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON")
}

func TestEmbeddingModel(t *testing.T) {
	api := &fakeAPI{t: t, embedding: []float32{0.1, 0.2, 0.3}}
	server := httptest.NewServer(api.handler())
	defer server.Close()
	rt := newOpenAIRuntime(t, testSettings(server.URL))

	out, err := rt.UseModel(context.Background(), models.ModelTextEmbedding, map[string]any{"input": "embed me"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, out)
	assert.Equal(t, "embed-model", api.lastEmbed.Model)
	assert.Equal(t, "embed me", api.lastEmbed.Input)
	assert.Equal(t, 3, api.lastEmbed.Dimensions)
}

func TestEmbeddingProbeReturnsZeroVector(t *testing.T) {
	api := &fakeAPI{t: t}
	server := httptest.NewServer(api.handler())
	defer server.Close()
	rt := newOpenAIRuntime(t, testSettings(server.URL))

	// The runtime probes at Initialize; calling with nil again exercises
	// the same path without touching the server.
	out, err := rt.UseModel(context.Background(), models.ModelTextEmbedding, nil)
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 3), out)
	assert.Empty(t, api.lastEmbed.Input, "the probe never reaches the API")
}

func TestHTTPErrorSurfaces(t *testing.T) {
	api := &fakeAPI{t: t, failChat: true}
	server := httptest.NewServer(api.handler())
	defer server.Close()
	rt := newOpenAIRuntime(t, testSettings(server.URL))

	_, err := rt.UseModel(context.Background(), models.ModelTextSmall, map[string]any{"prompt": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestMissingAPIKeyDowngradesToWarning(t *testing.T) {
	// No OPENAI_API_KEY: Init fails with the "API key" message, which the
	// runtime downgrades, so Initialize still succeeds.
	rt := newOpenAIRuntime(t, nil)
	assert.Contains(t, rt.PluginNames(), Name)

	_, err := rt.UseModel(context.Background(), models.ModelTextSmall, map[string]any{"prompt": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence(`{"a":1}`))
}

func TestTextParamsCoercion(t *testing.T) {
	tp := textParams(map[string]any{"prompt": "p", "system": "s", "temperature": 0.7, "maxTokens": float64(32)})
	assert.Equal(t, "p", tp.Prompt)
	assert.Equal(t, "s", tp.System)
	assert.Equal(t, 0.7, tp.Temperature)
	assert.Equal(t, 32, tp.MaxTokens)

	assert.Equal(t, "raw", textParams("raw").Prompt)
	assert.Equal(t, models.TextParams{}, textParams(42))
}
