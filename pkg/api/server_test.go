package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
	"github.com/codeready-toolchain/murmur/pkg/plugins/bootstrap"
	"github.com/codeready-toolchain/murmur/pkg/runtime"
	"github.com/codeready-toolchain/murmur/pkg/store"
	"github.com/codeready-toolchain/murmur/pkg/store/memstore"
)

// stubModels serves canned text so turns complete without a provider.
func stubModels(reply string) *plugin.Plugin {
	handler := func(ctx context.Context, rt plugin.Runtime, params any) (any, error) {
		return reply, nil
	}
	return &plugin.Plugin{
		Name: "stub-models",
		Models: []plugin.ModelRegistration{
			{Type: models.ModelTextLarge, Handler: handler, Provider: "stub"},
			{Type: models.ModelTextSmall, Handler: handler, Provider: "stub"},
		},
	}
}

func newTestRuntime(t *testing.T, extra ...*plugin.Plugin) *runtime.AgentRuntime {
	t.Helper()
	plugins := append([]*plugin.Plugin{stubModels("Hello from the agent."), bootstrap.New()}, extra...)
	rt, err := runtime.New(runtime.Options{
		Character: &models.Character{
			Name: "Murmur",
			Bio:  []string{"A test agent."},
		},
		Adapter: memstore.New(),
		Plugins: plugins,
		Logger:  slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	require.NoError(t, rt.Initialize(context.Background()))
	t.Cleanup(func() { rt.Stop(context.Background()) })
	return rt
}

func newTestServer(t *testing.T, extra ...*plugin.Plugin) *Server {
	t.Helper()
	return NewServer(newTestRuntime(t, extra...), slog.New(slog.DiscardHandler))
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthStatusHealthy, resp.Status)
	assert.Equal(t, healthStatusHealthy, resp.Checks["store"].Status)
	assert.Equal(t, healthStatusHealthy, resp.Checks["runtime"].Status)
	assert.NotEmpty(t, resp.Version)
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	s := NewServer(newTestRuntime(t), slog.New(slog.NewTextHandler(&buf, nil)))

	rec := doJSON(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	line := buf.String()
	assert.Contains(t, line, "msg=request")
	assert.Contains(t, line, "path=/health")
	assert.Contains(t, line, "status=200")

	buf.Reset()
	rec = doJSON(t, s, http.MethodGet, "/no/such/route", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, buf.String(), "status=404")
}

func TestRecoveryMiddleware(t *testing.T) {
	panicky := &plugin.Plugin{
		Name: "panicky",
		Routes: []plugin.Route{{
			Method: http.MethodGet,
			Path:   "/api/v1/panicky/boom",
			Handler: func(c *echo.Context) error {
				panic("handler blew up")
			},
		}},
	}
	s := newTestServer(t, panicky)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/panicky/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAgentHandler(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/agent", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Murmur", resp.Name)
	assert.Equal(t, s.rt.AgentID().String(), resp.ID)
	assert.Contains(t, resp.Plugins, "bootstrap")
	assert.Greater(t, resp.Actions, 0)
	assert.Greater(t, resp.Providers, 0)
	assert.Contains(t, resp.Services, "task")
}

func TestSendMessageValidation(t *testing.T) {
	s := newTestServer(t)
	e := echo.New()

	tests := []struct {
		name    string
		body    string
		wantErr int
		errMsg  string
	}{
		{
			name:    "missing text",
			body:    `{"source":"api"}`,
			wantErr: http.StatusBadRequest,
			errMsg:  "text field is required",
		},
		{
			name:    "invalid entityId",
			body:    `{"text":"hi","entityId":"not-a-uuid"}`,
			wantErr: http.StatusBadRequest,
			errMsg:  "invalid entityId",
		},
		{
			name:    "invalid roomId",
			body:    `{"text":"hi","roomId":"nope"}`,
			wantErr: http.StatusBadRequest,
			errMsg:  "invalid roomId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := s.sendMessageHandler(c)
			if assert.Error(t, err) {
				he, ok := err.(*echo.HTTPError)
				if assert.True(t, ok, "expected echo.HTTPError") {
					assert.Equal(t, tt.wantErr, he.Code)
					assert.Contains(t, he.Message, tt.errMsg)
				}
			}
		})
	}
}

func TestSendMessageFlow(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/messages",
		`{"text":"say hello","entityName":"Alice"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.NotEmpty(t, resp.RunID)
	require.NotEmpty(t, resp.RoomID)

	roomID, err := parseOptionalID("roomId", resp.RoomID)
	require.NoError(t, err)

	// Processing is asynchronous; wait for the reply to land in the room.
	ctx := context.Background()
	require.Eventually(t, func() bool {
		memories, err := s.rt.GetMemories(ctx, store.MemoryQuery{
			TableName: models.TableMessages,
			RoomID:    roomID,
		})
		if err != nil {
			return false
		}
		for _, m := range memories {
			if m.EntityID == s.rt.AgentID() && m.Content.Text != "" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "expected a persisted agent reply")

	// The inbound message was persisted too.
	memories, err := s.rt.GetMemories(ctx, store.MemoryQuery{
		TableName: models.TableMessages,
		RoomID:    roomID,
	})
	require.NoError(t, err)
	var inbound bool
	for _, m := range memories {
		if m.Content.Text == "say hello" {
			inbound = true
		}
	}
	assert.True(t, inbound)
}

func TestSendMessageReusesRoom(t *testing.T) {
	s := newTestServer(t)

	first := doJSON(t, s, http.MethodPost, "/api/v1/messages",
		`{"text":"one","entityName":"Alice"}`)
	require.Equal(t, http.StatusAccepted, first.Code)
	second := doJSON(t, s, http.MethodPost, "/api/v1/messages",
		`{"text":"two","entityName":"Alice"}`)
	require.Equal(t, http.StatusAccepted, second.Code)

	var a, b MessageResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.RoomID, b.RoomID, "same sender lands in the same room")
	assert.NotEqual(t, a.RunID, b.RunID, "each message gets its own run")
}

func TestControlHandler(t *testing.T) {
	s := newTestServer(t)

	t.Run("valid action", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/control",
			`{"roomId":"0a0b0c0d-0000-0000-0000-000000000001","action":"disable_input"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown action", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/control",
			`{"roomId":"0a0b0c0d-0000-0000-0000-000000000001","action":"explode"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing roomId", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/control", `{"action":"enable_input"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPluginRoutesMounted(t *testing.T) {
	routed := &plugin.Plugin{
		Name: "routed",
		Routes: []plugin.Route{{
			Method: http.MethodGet,
			Path:   "/api/v1/routed/ping",
			Handler: func(c *echo.Context) error {
				return c.JSON(http.StatusOK, map[string]string{"pong": "ok"})
			},
		}},
	}
	s := newTestServer(t, routed)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/routed/ping", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pong")
}
