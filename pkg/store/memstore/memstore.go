// Package memstore is the in-memory store.Adapter. It backs tests,
// embedded use, and the default boot path when no database is configured.
// All data is lost on process exit.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

// Store holds every record group in mutex-guarded maps. Reads return
// copies so callers cannot mutate shared state.
type Store struct {
	mu sync.RWMutex

	ready bool

	agents        map[uuid.UUID]*models.Agent
	entities      map[uuid.UUID]*models.Entity
	components    map[uuid.UUID]*models.Component
	worlds        map[uuid.UUID]*models.World
	rooms         map[uuid.UUID]*models.Room
	participants  []*models.Participant
	memories      map[uuid.UUID]*memoryRecord
	memoryOrder   []uuid.UUID // insertion order, for stable listing
	relationships map[uuid.UUID]*models.Relationship
	tasks         map[uuid.UUID]*models.Task
	cache         map[string][]byte
	logs          []*models.LogEntry

	embeddingDim int
}

type memoryRecord struct {
	memory *models.Memory
	table  string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		agents:        make(map[uuid.UUID]*models.Agent),
		entities:      make(map[uuid.UUID]*models.Entity),
		components:    make(map[uuid.UUID]*models.Component),
		worlds:        make(map[uuid.UUID]*models.World),
		rooms:         make(map[uuid.UUID]*models.Room),
		memories:      make(map[uuid.UUID]*memoryRecord),
		relationships: make(map[uuid.UUID]*models.Relationship),
		tasks:         make(map[uuid.UUID]*models.Task),
		cache:         make(map[string][]byte),
	}
}

var _ store.Adapter = (*Store)(nil)

// Init marks the store ready.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	return nil
}

// Close marks the store not ready; data is retained so a re-Init resumes.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	return nil
}

func (s *Store) IsReady(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready, nil
}

// Connection returns nil: there is no backend handle.
func (s *Store) Connection() any {
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// --- Agents ---

func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("get agent %s: %w", id, store.ErrNotFound)
	}
	return copyAgent(agent), nil
}

func (s *Store) GetAgents(ctx context.Context) ([]*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		out = append(out, copyAgent(agent))
	}
	return out, nil
}

func (s *Store) CreateAgent(ctx context.Context, agent *models.Agent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent.ID]; exists {
		return false, fmt.Errorf("create agent %s: %w", agent.ID, store.ErrDuplicateKey)
	}
	for _, existing := range s.agents {
		if existing.Name == agent.Name {
			return false, fmt.Errorf("create agent %q: %w", agent.Name, store.ErrDuplicateKey)
		}
	}
	cp := copyAgent(agent)
	if cp.CreatedAt == 0 {
		cp.CreatedAt = nowMillis()
	}
	cp.UpdatedAt = nowMillis()
	s.agents[cp.ID] = cp
	return true, nil
}

func (s *Store) UpdateAgent(ctx context.Context, agent *models.Agent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.agents[agent.ID]
	if !ok {
		return false, nil
	}
	cp := copyAgent(agent)
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = nowMillis()
	s.agents[cp.ID] = cp
	return true, nil
}

func (s *Store) DeleteAgent(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return false, nil
	}
	delete(s.agents, id)
	return true, nil
}

// --- Entities ---

func (s *Store) GetEntitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Entity, 0, len(ids))
	for _, id := range ids {
		if entity, ok := s.entities[id]; ok {
			out = append(out, copyEntity(entity))
		}
	}
	return out, nil
}

func (s *Store) GetEntitiesForRoom(ctx context.Context, roomID uuid.UUID, includeComponents bool) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Entity
	for _, p := range s.participants {
		if p.RoomID != roomID {
			continue
		}
		entity, ok := s.entities[p.EntityID]
		if !ok {
			continue
		}
		cp := copyEntity(entity)
		if includeComponents {
			for _, c := range s.components {
				if c.EntityID == entity.ID {
					cc := *c
					cp.Components = append(cp.Components, &cc)
				}
			}
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) CreateEntities(ctx context.Context, entities []*models.Entity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entity := range entities {
		if _, exists := s.entities[entity.ID]; exists {
			return false, fmt.Errorf("create entity %s: %w", entity.ID, store.ErrDuplicateKey)
		}
	}
	for _, entity := range entities {
		s.entities[entity.ID] = copyEntity(entity)
	}
	return true, nil
}

func (s *Store) UpdateEntity(ctx context.Context, entity *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[entity.ID]; !ok {
		return fmt.Errorf("update entity %s: %w", entity.ID, store.ErrNotFound)
	}
	s.entities[entity.ID] = copyEntity(entity)
	return nil
}

// --- Components ---

func (s *Store) GetComponent(ctx context.Context, entityID uuid.UUID, componentType string, worldID, sourceEntityID uuid.UUID) (*models.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.components {
		if c.EntityID != entityID || c.Type != componentType {
			continue
		}
		if worldID != uuid.Nil && c.WorldID != worldID {
			continue
		}
		if sourceEntityID != uuid.Nil && c.SourceEntityID != sourceEntityID {
			continue
		}
		cc := *c
		return &cc, nil
	}
	return nil, nil
}

func (s *Store) GetComponents(ctx context.Context, entityID uuid.UUID, worldID, sourceEntityID uuid.UUID) ([]*models.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Component
	for _, c := range s.components {
		if c.EntityID != entityID {
			continue
		}
		if worldID != uuid.Nil && c.WorldID != worldID {
			continue
		}
		if sourceEntityID != uuid.Nil && c.SourceEntityID != sourceEntityID {
			continue
		}
		cc := *c
		out = append(out, &cc)
	}
	return out, nil
}

func (s *Store) CreateComponent(ctx context.Context, component *models.Component) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *component
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt == 0 {
		cp.CreatedAt = nowMillis()
	}
	s.components[cp.ID] = &cp
	return true, nil
}

func (s *Store) UpdateComponent(ctx context.Context, component *models.Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.components[component.ID]; !ok {
		return fmt.Errorf("update component %s: %w", component.ID, store.ErrNotFound)
	}
	cp := *component
	s.components[cp.ID] = &cp
	return nil
}

func (s *Store) DeleteComponent(ctx context.Context, componentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.components, componentID)
	return nil
}

// --- copy helpers ---

func copyAgent(a *models.Agent) *models.Agent {
	cp := *a
	cp.Settings = maps.Clone(a.Settings)
	cp.Secrets = maps.Clone(a.Secrets)
	return &cp
}

func copyEntity(e *models.Entity) *models.Entity {
	cp := *e
	cp.Names = append([]string(nil), e.Names...)
	cp.Metadata = maps.Clone(e.Metadata)
	cp.Components = nil
	return &cp
}
