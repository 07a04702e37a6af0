// Package runtime is the murmur kernel: plugin wiring, state composition,
// action execution, model dispatch, service lifecycle, and the event bus,
// all over a pluggable persistence adapter.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/murmur/pkg/bus"
	"github.com/codeready-toolchain/murmur/pkg/ids"
	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
	"github.com/codeready-toolchain/murmur/pkg/secrets"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

const (
	defaultWorkingMemoryEntries = 50
	defaultStateCacheSize       = 256
)

// Options configures a runtime instance. Character is required; everything
// else has a usable default.
type Options struct {
	Character *models.Character
	// AgentID overrides the character ID; when both are absent the ID is
	// derived deterministically from name+username.
	AgentID uuid.UUID
	// Plugins are registered concurrently during Initialize, in addition
	// to anything registered later through RegisterPlugin.
	Plugins []*plugin.Plugin
	Adapter store.Adapter
	// Settings is the global settings bucket, typically the process
	// environment. Lowest precedence in the GetSetting chain.
	Settings   map[string]string
	Codec      secrets.Codec
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// AgentRuntime is the kernel. It embeds the store adapter, so every
// persistence operation is available on the runtime with identical
// semantics (a handful are overridden; see adapter.go).
type AgentRuntime struct {
	store.Adapter

	agentID    uuid.UUID
	character  *models.Character
	logger     *slog.Logger
	httpClient *http.Client
	bus        *bus.Bus
	codec      secrets.Codec
	masker     *secrets.Masker

	mu             sync.RWMutex
	plugins        map[string]*plugin.Plugin
	initialPlugins []*plugin.Plugin
	actions        []*plugin.Action
	evaluators     []*plugin.Evaluator
	providers      []*plugin.Provider
	routes         []plugin.Route
	taskWorkers    map[string]*plugin.TaskWorker
	sendHandlers   map[string]plugin.SendHandler

	models   map[models.ModelType][]*modelEntry
	modelSeq int

	services       map[string][]plugin.Service
	serviceDefs    map[string][]*plugin.ServiceDefinition
	servicesByName map[string]plugin.Service
	serviceOrder   []plugin.Service
	serviceQueue   []*plugin.ServiceDefinition

	settings    map[string]string
	stateCache  *lru.Cache[string, *models.State]
	maxWorking  int
	initialized bool
	stopped     bool
}

var _ plugin.Runtime = (*AgentRuntime)(nil)

// New builds a runtime from opts. The adapter may arrive later via a
// plugin or RegisterDatabaseAdapter; Initialize fails without one.
func New(opts Options) (*AgentRuntime, error) {
	if opts.Character == nil || opts.Character.Name == "" {
		return nil, &ConfigError{Reason: "character with a name is required"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	codec := opts.Codec
	if codec == nil {
		codec = secrets.Plain{}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	settings := opts.Settings
	if settings == nil {
		settings = make(map[string]string)
	}

	agentID := opts.AgentID
	if opts.Character.ID != nil {
		agentID = *opts.Character.ID
	}
	if agentID == uuid.Nil {
		agentID = ids.Deterministic(opts.Character.Name, opts.Character.Username)
	}

	rt := &AgentRuntime{
		Adapter:        opts.Adapter,
		agentID:        agentID,
		character:      opts.Character,
		logger:         logger.With("component", "runtime", "agent", opts.Character.Name),
		httpClient:     httpClient,
		codec:          codec,
		masker:         secrets.NewMasker(),
		plugins:        make(map[string]*plugin.Plugin),
		initialPlugins: opts.Plugins,
		taskWorkers:    make(map[string]*plugin.TaskWorker),
		sendHandlers:   make(map[string]plugin.SendHandler),
		models:         make(map[models.ModelType][]*modelEntry),
		services:       make(map[string][]plugin.Service),
		serviceDefs:    make(map[string][]*plugin.ServiceDefinition),
		servicesByName: make(map[string]plugin.Service),
		settings:       settings,
	}
	rt.bus = bus.New(logger)
	rt.maxWorking = rt.intSetting("MAX_WORKING_MEMORY_ENTRIES", defaultWorkingMemoryEntries)

	cacheSize := rt.intSetting("STATE_CACHE_SIZE", defaultStateCacheSize)
	cache, err := lru.New[string, *models.State](cacheSize)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("state cache size %d: %v", cacheSize, err)}
	}
	rt.stateCache = cache

	for _, secret := range opts.Character.Secrets {
		rt.masker.AddValue(secret)
	}
	return rt, nil
}

// AgentID returns the runtime's agent identity.
func (rt *AgentRuntime) AgentID() uuid.UUID {
	return rt.agentID
}

// Character returns the configured character.
func (rt *AgentRuntime) Character() *models.Character {
	return rt.character
}

// Logger returns the runtime's logger.
func (rt *AgentRuntime) Logger() *slog.Logger {
	return rt.logger
}

// HTTPClient returns the configured HTTP client (fetch override).
func (rt *AgentRuntime) HTTPClient() *http.Client {
	return rt.httpClient
}

// Initialize boots the agent: registers the constructor-supplied plugins
// concurrently, opens the store, ensures the agent's persistent identity
// (agent row, self-entity, self-room, self-participation), probes the
// embedding dimension, and drains deferred service registrations.
// Idempotent: a second call warns and returns nil.
func (rt *AgentRuntime) Initialize(ctx context.Context) error {
	rt.mu.Lock()
	if rt.initialized {
		rt.mu.Unlock()
		rt.logger.Warn("runtime already initialized, skipping")
		return nil
	}
	rt.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range rt.initialPlugins {
		g.Go(func() error {
			return rt.RegisterPlugin(gctx, p)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if rt.Adapter == nil {
		return &ConfigError{Reason: "no store adapter registered"}
	}
	if err := rt.Adapter.Init(ctx); err != nil {
		return fmt.Errorf("store init: %w", err)
	}

	agent, err := rt.ensureAgentExists(ctx)
	if err != nil {
		return err
	}
	if err := rt.ensureSelfEntity(ctx); err != nil {
		return err
	}
	if err := rt.ensureSelfRoom(ctx); err != nil {
		return err
	}
	if _, err := rt.Adapter.AddParticipantsRoom(ctx, []uuid.UUID{rt.agentID}, rt.agentID); err != nil {
		return fmt.Errorf("ensure self participation: %w", err)
	}

	if rt.GetModel(models.ModelTextEmbedding, "") != nil {
		rt.probeEmbeddingDimension(ctx)
	}

	rt.mu.Lock()
	queue := rt.serviceQueue
	rt.serviceQueue = nil
	rt.initialized = true
	rt.mu.Unlock()

	for _, def := range queue {
		if err := rt.RegisterService(ctx, def); err != nil {
			return err
		}
	}

	rt.logger.Info("runtime initialized", "agentId", rt.agentID, "agent", agent.Name)
	return nil
}

func (rt *AgentRuntime) ensureAgentExists(ctx context.Context) (*models.Agent, error) {
	agents, err := rt.Adapter.GetAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	for _, a := range agents {
		if a.Name == rt.character.Name {
			a.Character = *rt.character
			a.UpdatedAt = nowMillis()
			if _, err := rt.Adapter.UpdateAgent(ctx, a); err != nil {
				return nil, fmt.Errorf("update agent: %w", err)
			}
			return a, nil
		}
	}
	agent := &models.Agent{
		Character: *rt.character,
		ID:        rt.agentID,
		Enabled:   true,
		CreatedAt: nowMillis(),
		UpdatedAt: nowMillis(),
	}
	if _, err := rt.Adapter.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return agent, nil
}

func (rt *AgentRuntime) ensureSelfEntity(ctx context.Context) error {
	ok, err := rt.CreateEntities(ctx, []*models.Entity{{
		ID:       rt.agentID,
		AgentID:  rt.agentID,
		Names:    []string{rt.character.Name},
		Metadata: map[string]any{},
	}})
	if err != nil {
		return fmt.Errorf("ensure self entity: %w", err)
	}
	if !ok {
		rt.logger.Debug("self entity already exists", "agentId", rt.agentID)
	}
	return nil
}

func (rt *AgentRuntime) ensureSelfRoom(ctx context.Context) error {
	rooms, err := rt.Adapter.GetRoomsByIDs(ctx, []uuid.UUID{rt.agentID})
	if err != nil {
		return fmt.Errorf("ensure self room: %w", err)
	}
	if len(rooms) > 0 {
		return nil
	}
	if _, err := rt.Adapter.GetWorld(ctx, rt.agentID); err != nil {
		world := &models.World{
			ID:       rt.agentID,
			AgentID:  rt.agentID,
			Name:     rt.character.Name,
			ServerID: rt.agentID.String(),
		}
		if _, err := rt.Adapter.CreateWorld(ctx, world); err != nil {
			return fmt.Errorf("ensure self world: %w", err)
		}
	}
	_, err = rt.Adapter.CreateRooms(ctx, []*models.Room{{
		ID:       rt.agentID,
		Name:     rt.character.Name,
		AgentID:  rt.agentID,
		WorldID:  rt.agentID,
		Source:   "self",
		Type:     models.ChannelSelf,
		ServerID: rt.agentID.String(),
	}})
	if err != nil {
		return fmt.Errorf("ensure self room: %w", err)
	}
	return nil
}

// probeEmbeddingDimension runs the documented nil-params dimension probe
// against the registered TEXT_EMBEDDING handler. Handlers may reject the
// probe; that only costs vector search, so it is a warning.
func (rt *AgentRuntime) probeEmbeddingDimension(ctx context.Context) {
	res, err := rt.UseModel(ctx, models.ModelTextEmbedding, nil)
	if err != nil {
		rt.logger.Warn("embedding dimension probe rejected", "error", err)
		return
	}
	vector, ok := res.([]float32)
	if !ok || len(vector) == 0 {
		rt.logger.Warn("embedding dimension probe returned no vector")
		return
	}
	if err := rt.Adapter.EnsureEmbeddingDimension(ctx, len(vector)); err != nil {
		rt.logger.Warn("failed to set embedding dimension", "dimension", len(vector), "error", err)
	}
}

// IsInitialized reports whether Initialize has completed.
func (rt *AgentRuntime) IsInitialized() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.initialized
}

// Stop shuts down services in reverse registration order and announces
// RUN_ENDED. Failures are logged, never returned.
func (rt *AgentRuntime) Stop(ctx context.Context) {
	rt.mu.Lock()
	if rt.stopped {
		rt.mu.Unlock()
		return
	}
	rt.stopped = true
	order := make([]plugin.Service, len(rt.serviceOrder))
	copy(order, rt.serviceOrder)
	rt.mu.Unlock()

	_ = rt.bus.EmitEvent(ctx, []string{models.EventRunEnded}, map[string]any{
		"agentId": rt.agentID.String(),
		"source":  "stop",
	})

	for i := len(order) - 1; i >= 0; i-- {
		if err := order[i].Stop(ctx); err != nil {
			rt.logger.Error("service stop failed", "error", err)
		}
	}
	rt.logger.Info("runtime stopped")
}

// Close stops the runtime and closes the adapter. The adapter is only
// closed here, never implicitly.
func (rt *AgentRuntime) Close(ctx context.Context) error {
	rt.Stop(ctx)
	if rt.Adapter == nil {
		return nil
	}
	return rt.Adapter.Close(ctx)
}

// RunMigrations delegates to the adapter when it manages schema; a no-op
// otherwise.
func (rt *AgentRuntime) RunMigrations(ctx context.Context, paths ...string) error {
	if m, ok := rt.Adapter.(store.Migrator); ok {
		return m.RunMigrations(ctx, paths...)
	}
	return nil
}

// GetSetting resolves key through the settings chain: character secrets,
// character settings, the character's nested secrets bucket, then the
// global settings map. Secret values pass through the codec; the exact
// strings "true"/"false" coerce to booleans. Nil on miss.
func (rt *AgentRuntime) GetSetting(key string) any {
	if v, ok := rt.character.Secrets[key]; ok {
		return rt.decodeSetting(v)
	}
	if v, ok := rt.character.Settings[key]; ok {
		return coerceSetting(v)
	}
	if nested, ok := rt.character.Settings["secrets"].(map[string]any); ok {
		if v, ok := nested[key]; ok {
			if s, isString := v.(string); isString {
				return rt.decodeSetting(s)
			}
			return coerceSetting(v)
		}
	}
	rt.mu.RLock()
	v, ok := rt.settings[key]
	rt.mu.RUnlock()
	if ok {
		return coerceSetting(v)
	}
	return nil
}

// SetSetting writes key into the character's secret or settings bucket.
func (rt *AgentRuntime) SetSetting(key string, value any, secret bool) {
	if secret {
		str := fmt.Sprintf("%v", value)
		encoded, err := rt.codec.Encode(str)
		if err != nil {
			rt.logger.Error("failed to encode secret setting", "key", key, "error", err)
			return
		}
		if rt.character.Secrets == nil {
			rt.character.Secrets = make(map[string]string)
		}
		rt.character.Secrets[key] = encoded
		rt.masker.AddValue(str)
		return
	}
	if rt.character.Settings == nil {
		rt.character.Settings = make(map[string]any)
	}
	rt.character.Settings[key] = value
}

func (rt *AgentRuntime) decodeSetting(v string) any {
	decoded, err := rt.codec.Decode(v)
	if err != nil {
		rt.logger.Error("failed to decode secret setting", "error", err)
		return nil
	}
	return coerceSetting(decoded)
}

func coerceSetting(v any) any {
	if s, ok := v.(string); ok {
		switch s {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return v
}

// settingString returns key from the chain as a string, or fallback.
func (rt *AgentRuntime) settingString(key, fallback string) string {
	if v := rt.GetSetting(key); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func (rt *AgentRuntime) intSetting(key string, fallback int) int {
	v := rt.GetSetting(key)
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
	}
	return fallback
}
