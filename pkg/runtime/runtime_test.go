package runtime

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/murmur/pkg/ids"
	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
	"github.com/codeready-toolchain/murmur/pkg/store"
	"github.com/codeready-toolchain/murmur/pkg/store/memstore"
)

func testOptions() Options {
	return Options{
		Character: &models.Character{Name: "Murmur Test", Username: "murmur"},
		Adapter:   memstore.New(),
		Logger:    slog.New(slog.DiscardHandler),
	}
}

// newTestRuntime builds and initializes a runtime over a fresh memstore.
func newTestRuntime(t *testing.T, mutate ...func(*Options)) *AgentRuntime {
	t.Helper()
	opts := testOptions()
	for _, f := range mutate {
		f(&opts)
	}
	rt, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, rt.Initialize(context.Background()))
	return rt
}

func newMessage(roomID uuid.UUID, text string, actions ...string) *models.Memory {
	return &models.Memory{
		ID:       ids.New(),
		EntityID: ids.New(),
		RoomID:   roomID,
		Content:  models.Content{Text: text, Actions: actions},
	}
}

func TestNewRequiresCharacter(t *testing.T) {
	_, err := New(Options{})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestAgentIDPrecedence(t *testing.T) {
	explicit := ids.New()

	t.Run("character id wins", func(t *testing.T) {
		opts := testOptions()
		opts.Character = &models.Character{ID: &explicit, Name: "A"}
		rt, err := New(opts)
		require.NoError(t, err)
		assert.Equal(t, explicit, rt.AgentID())
	})

	t.Run("options id next", func(t *testing.T) {
		opts := testOptions()
		opts.AgentID = explicit
		rt, err := New(opts)
		require.NoError(t, err)
		assert.Equal(t, explicit, rt.AgentID())
	})

	t.Run("deterministic from name and username", func(t *testing.T) {
		a, err := New(testOptions())
		require.NoError(t, err)
		b, err := New(testOptions())
		require.NoError(t, err)
		assert.Equal(t, a.AgentID(), b.AgentID())
		assert.Equal(t, ids.Deterministic("Murmur Test", "murmur"), a.AgentID())
	})
}

func TestInitializeRequiresAdapter(t *testing.T) {
	opts := testOptions()
	opts.Adapter = nil
	rt, err := New(opts)
	require.NoError(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, rt.Initialize(context.Background()), &cfgErr)
}

func TestInitializeCreatesSelfIdentity(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	agent, err := rt.GetAgent(ctx, rt.AgentID())
	require.NoError(t, err)
	assert.Equal(t, "Murmur Test", agent.Name)

	entities, err := rt.GetEntitiesByIDs(ctx, []uuid.UUID{rt.AgentID()})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, []string{"Murmur Test"}, entities[0].Names)

	rooms, err := rt.GetRoomsByIDs(ctx, []uuid.UUID{rt.AgentID()})
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, models.ChannelSelf, rooms[0].Type)
	assert.Equal(t, rt.AgentID(), rooms[0].WorldID)

	participants, err := rt.GetParticipantsForRoom(ctx, rt.AgentID())
	require.NoError(t, err)
	assert.Contains(t, participants, rt.AgentID())
}

func TestInitializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	entitiesBefore, err := rt.GetEntitiesByIDs(ctx, []uuid.UUID{rt.AgentID()})
	require.NoError(t, err)

	require.NoError(t, rt.Initialize(ctx))

	entitiesAfter, err := rt.GetEntitiesByIDs(ctx, []uuid.UUID{rt.AgentID()})
	require.NoError(t, err)
	assert.Equal(t, len(entitiesBefore), len(entitiesAfter))

	participants, err := rt.GetParticipantsForRoom(ctx, rt.AgentID())
	require.NoError(t, err)
	assert.Len(t, participants, 1)
}

func TestInitializeSetsEmbeddingDimension(t *testing.T) {
	adapter := memstore.New()
	rt := newTestRuntime(t, func(o *Options) {
		o.Adapter = adapter
		o.Plugins = []*plugin.Plugin{{
			Name: "embedder",
			Models: []plugin.ModelRegistration{{
				Type: models.ModelTextEmbedding,
				Handler: func(ctx context.Context, rt plugin.Runtime, params any) (any, error) {
					return make([]float32, 384), nil
				},
			}},
		}}
	})

	// A mismatched embedding is rejected once the dimension is pinned.
	_, err := rt.CreateMemory(context.Background(), &models.Memory{
		RoomID:    rt.AgentID(),
		Content:   models.Content{Text: "x"},
		Embedding: make([]float32, 8),
	}, models.TableMessages, false)
	require.Error(t, err)
}

func TestRegisterPluginDuplicateSkipped(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	p := &plugin.Plugin{
		Name:    "dup",
		Actions: []*plugin.Action{{Name: "ONE", Handler: nopActionHandler}},
	}
	require.NoError(t, rt.RegisterPlugin(ctx, p))
	require.NoError(t, rt.RegisterPlugin(ctx, p))
	assert.Len(t, rt.Actions(), 1)
}

func TestRegisterPluginInitWarningDowngraded(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	err := rt.RegisterPlugin(ctx, &plugin.Plugin{
		Name: "needs-key",
		Init: func(ctx context.Context, config map[string]any, r plugin.Runtime) error {
			return errors.New("OPENAI API key is not set")
		},
		Actions: []*plugin.Action{{Name: "STILL_THERE", Handler: nopActionHandler}},
	})
	require.NoError(t, err)
	assert.NotNil(t, rt.resolveAction("STILL_THERE"))

	err = rt.RegisterPlugin(ctx, &plugin.Plugin{
		Name: "broken",
		Init: func(ctx context.Context, config map[string]any, r plugin.Runtime) error {
			return errors.New("disk on fire")
		},
	})
	require.Error(t, err)
}

func nopActionHandler(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State, opts *plugin.ActionOptions, cb plugin.Callback, responses []*models.Memory) (*models.ActionResult, error) {
	return &models.ActionResult{}, nil
}

func TestGetSettingChain(t *testing.T) {
	rt := newTestRuntime(t, func(o *Options) {
		o.Character.Secrets = map[string]string{"TOKEN": "from-secrets"}
		o.Character.Settings = map[string]any{
			"TOKEN":  "from-settings",
			"MODE":   "fast",
			"secrets": map[string]any{"NESTED": "from-nested"},
		}
		o.Settings = map[string]string{"GLOBAL": "from-env", "FLAG": "true"}
	})

	assert.Equal(t, "from-secrets", rt.GetSetting("TOKEN"))
	assert.Equal(t, "fast", rt.GetSetting("MODE"))
	assert.Equal(t, "from-nested", rt.GetSetting("NESTED"))
	assert.Equal(t, "from-env", rt.GetSetting("GLOBAL"))
	assert.Equal(t, true, rt.GetSetting("FLAG"))
	assert.Nil(t, rt.GetSetting("MISSING"))
}

func TestSetSettingRoundTrip(t *testing.T) {
	rt := newTestRuntime(t)

	rt.SetSetting("PLAIN", "value", false)
	assert.Equal(t, "value", rt.GetSetting("PLAIN"))

	rt.SetSetting("COERCED", "true", false)
	assert.Equal(t, true, rt.GetSetting("COERCED"))

	rt.SetSetting("SECRET", "hunter22", true)
	assert.Equal(t, "hunter22", rt.GetSetting("SECRET"))
}

func TestSendControlMessage(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	received := make(chan map[string]any, 1)
	rt.RegisterEvent(models.EventControlMessage, func(ctx context.Context, payload map[string]any) error {
		received <- payload
		return nil
	})

	roomID := ids.New()
	require.NoError(t, rt.SendControlMessage(ctx, &models.ControlMessage{
		RoomID: roomID,
		Action: models.ControlDisableInput,
	}))
	payload := <-received
	assert.Equal(t, roomID.String(), payload["roomId"])
	assert.Equal(t, models.ControlDisableInput, payload["action"])

	var cfgErr *ConfigError
	err := rt.SendControlMessage(ctx, &models.ControlMessage{RoomID: roomID, Action: "reboot"})
	require.ErrorAs(t, err, &cfgErr)
}

func TestRunMigrationsWithoutMigratorIsNoOp(t *testing.T) {
	rt := newTestRuntime(t)
	assert.NoError(t, rt.RunMigrations(context.Background()))
}

func TestCreateEntitiesDowngradesDuplicates(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	e := &models.Entity{ID: ids.New(), Names: []string{"user"}}
	ok, err := rt.CreateEntities(ctx, []*models.Entity{e})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rt.CreateEntities(ctx, []*models.Entity{e})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCloseClosesAdapter(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	require.NoError(t, rt.Close(ctx))

	ready, err := rt.IsReady(ctx)
	require.NoError(t, err)
	assert.False(t, ready)
}

var _ store.Adapter = (*memstore.Store)(nil)
