// Package store defines the persistence contract the runtime consumes.
// Backends implement Adapter; the runtime re-exposes every operation to
// plugins with identical semantics.
package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/murmur/pkg/models"
)

// Adapter is the single interface between the runtime and a persistence
// backend. All operations honour ctx deadlines and return wrapped errors;
// boolean returns report whether the write took effect.
type Adapter interface {
	// Lifecycle.
	Init(ctx context.Context) error
	Close(ctx context.Context) error
	IsReady(ctx context.Context) (bool, error)
	// Connection exposes the backend-specific handle (e.g. *pgxpool.Pool);
	// nil for backends without one.
	Connection() any

	// Agents.
	GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	GetAgents(ctx context.Context) ([]*models.Agent, error)
	CreateAgent(ctx context.Context, agent *models.Agent) (bool, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) (bool, error)
	DeleteAgent(ctx context.Context, id uuid.UUID) (bool, error)

	// Entities.
	GetEntitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Entity, error)
	GetEntitiesForRoom(ctx context.Context, roomID uuid.UUID, includeComponents bool) ([]*models.Entity, error)
	CreateEntities(ctx context.Context, entities []*models.Entity) (bool, error)
	UpdateEntity(ctx context.Context, entity *models.Entity) error

	// Components.
	GetComponent(ctx context.Context, entityID uuid.UUID, componentType string, worldID, sourceEntityID uuid.UUID) (*models.Component, error)
	GetComponents(ctx context.Context, entityID uuid.UUID, worldID, sourceEntityID uuid.UUID) ([]*models.Component, error)
	CreateComponent(ctx context.Context, component *models.Component) (bool, error)
	UpdateComponent(ctx context.Context, component *models.Component) error
	DeleteComponent(ctx context.Context, componentID uuid.UUID) error

	// Worlds.
	CreateWorld(ctx context.Context, world *models.World) (uuid.UUID, error)
	GetWorld(ctx context.Context, id uuid.UUID) (*models.World, error)
	UpdateWorld(ctx context.Context, world *models.World) error
	RemoveWorld(ctx context.Context, id uuid.UUID) error
	GetAllWorlds(ctx context.Context) ([]*models.World, error)

	// Rooms.
	CreateRooms(ctx context.Context, rooms []*models.Room) ([]uuid.UUID, error)
	GetRoomsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Room, error)
	GetRoomsByWorld(ctx context.Context, worldID uuid.UUID) ([]*models.Room, error)
	UpdateRoom(ctx context.Context, room *models.Room) error
	DeleteRoom(ctx context.Context, id uuid.UUID) error
	DeleteRoomsByWorldID(ctx context.Context, worldID uuid.UUID) error

	// Participants.
	AddParticipantsRoom(ctx context.Context, entityIDs []uuid.UUID, roomID uuid.UUID) (bool, error)
	RemoveParticipant(ctx context.Context, entityID, roomID uuid.UUID) (bool, error)
	GetParticipantsForRoom(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	GetParticipantsForEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Participant, error)
	GetRoomsForParticipant(ctx context.Context, entityID uuid.UUID) ([]uuid.UUID, error)
	GetRoomsForParticipants(ctx context.Context, entityIDs []uuid.UUID) ([]uuid.UUID, error)
	GetParticipantUserState(ctx context.Context, roomID, entityID uuid.UUID) (models.ParticipantUserState, error)
	SetParticipantUserState(ctx context.Context, roomID, entityID uuid.UUID, state models.ParticipantUserState) error

	// Memories.
	CreateMemory(ctx context.Context, memory *models.Memory, tableName string, unique bool) (uuid.UUID, error)
	GetMemoryByID(ctx context.Context, id uuid.UUID) (*models.Memory, error)
	GetMemoriesByIDs(ctx context.Context, ids []uuid.UUID, tableName string) ([]*models.Memory, error)
	GetMemories(ctx context.Context, query MemoryQuery) ([]*models.Memory, error)
	GetMemoriesByRoomIDs(ctx context.Context, tableName string, roomIDs []uuid.UUID, limit int) ([]*models.Memory, error)
	GetMemoriesByWorldID(ctx context.Context, worldID uuid.UUID, count int, tableName string) ([]*models.Memory, error)
	SearchMemories(ctx context.Context, query SearchQuery) ([]*models.Memory, error)
	UpdateMemory(ctx context.Context, memory *models.Memory) (bool, error)
	DeleteMemory(ctx context.Context, id uuid.UUID) error
	DeleteManyMemories(ctx context.Context, ids []uuid.UUID) error
	DeleteAllMemories(ctx context.Context, roomID uuid.UUID, tableName string) error
	CountMemories(ctx context.Context, roomID uuid.UUID, unique bool, tableName string) (int, error)
	GetCachedEmbeddings(ctx context.Context, query EmbeddingSearchQuery) ([]CachedEmbedding, error)
	EnsureEmbeddingDimension(ctx context.Context, dimension int) error

	// Relationships.
	CreateRelationship(ctx context.Context, rel *models.Relationship) (bool, error)
	UpdateRelationship(ctx context.Context, rel *models.Relationship) error
	GetRelationship(ctx context.Context, sourceEntityID, targetEntityID uuid.UUID) (*models.Relationship, error)
	GetRelationships(ctx context.Context, entityID uuid.UUID, tags []string) ([]*models.Relationship, error)

	// Tasks.
	CreateTask(ctx context.Context, task *models.Task) (uuid.UUID, error)
	GetTasks(ctx context.Context, query TaskQuery) ([]*models.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetTasksByName(ctx context.Context, name string) ([]*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id uuid.UUID) error

	// Key/value cache.
	GetCache(ctx context.Context, key string) (json.RawMessage, bool, error)
	SetCache(ctx context.Context, key string, value json.RawMessage) (bool, error)
	DeleteCache(ctx context.Context, key string) (bool, error)

	// Structured logs.
	Log(ctx context.Context, entry *models.LogEntry) error
	GetLogs(ctx context.Context, query LogQuery) ([]*models.LogEntry, error)
	DeleteLog(ctx context.Context, id uuid.UUID) error
}

// Migrator is implemented by adapters that manage their own schema.
// Paths beyond the adapter's embedded migrations are applied in order.
type Migrator interface {
	RunMigrations(ctx context.Context, paths ...string) error
}
