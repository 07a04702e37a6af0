package models

import "github.com/google/uuid"

// Entity is an actor known to the agent: the agent itself, a user, or
// another bot. Every agent owns exactly one self-entity whose ID equals
// the agent ID.
type Entity struct {
	ID         uuid.UUID      `json:"id"`
	AgentID    uuid.UUID      `json:"agentId"`
	Names      []string       `json:"names"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Components []*Component   `json:"components,omitempty"`
}

// Component is a sidecar attribute record attached to an entity, scoped
// by room/world and the entity that authored it.
type Component struct {
	ID             uuid.UUID      `json:"id"`
	EntityID       uuid.UUID      `json:"entityId"`
	AgentID        uuid.UUID      `json:"agentId"`
	RoomID         uuid.UUID      `json:"roomId"`
	WorldID        uuid.UUID      `json:"worldId,omitempty"`
	SourceEntityID uuid.UUID      `json:"sourceEntityId,omitempty"`
	Type           string         `json:"type"`
	Data           map[string]any `json:"data,omitempty"`
	CreatedAt      int64          `json:"createdAt"`
}

// Relationship is a tagged edge between two entities.
type Relationship struct {
	ID             uuid.UUID      `json:"id"`
	SourceEntityID uuid.UUID      `json:"sourceEntityId"`
	TargetEntityID uuid.UUID      `json:"targetEntityId"`
	AgentID        uuid.UUID      `json:"agentId"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      int64          `json:"createdAt"`
}
