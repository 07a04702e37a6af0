package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

// --- Agents ---

const agentColumns = `id, name, enabled, character, created_at, updated_at`

func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	row := pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get agent %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, store.NewIOError("get agent", err)
	}
	return agent, nil
}

func (s *Store) GetAgents(ctx context.Context) ([]*models.Agent, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, store.NewIOError("get agents", err)
	}
	defer rows.Close()

	out := make([]*models.Agent, 0)
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, store.NewIOError("get agents", err)
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func (s *Store) CreateAgent(ctx context.Context, agent *models.Agent) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	character, err := json.Marshal(agent.Character)
	if err != nil {
		return false, store.NewIOError("create agent", err)
	}
	now := nowMillis()
	createdAt := agent.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO agents (id, name, enabled, character, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		agent.ID, agent.Name, agent.Enabled, character, createdAt, now)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("create agent %q: %w", agent.Name, store.ErrDuplicateKey)
		}
		return false, store.NewIOError("create agent", err)
	}
	return true, nil
}

func (s *Store) UpdateAgent(ctx context.Context, agent *models.Agent) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	character, err := json.Marshal(agent.Character)
	if err != nil {
		return false, store.NewIOError("update agent", err)
	}
	tag, err := pool.Exec(ctx, `
		UPDATE agents SET name = $2, enabled = $3, character = $4, updated_at = $5
		WHERE id = $1`,
		agent.ID, agent.Name, agent.Enabled, character, nowMillis())
	if err != nil {
		return false, store.NewIOError("update agent", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeleteAgent(ctx context.Context, id uuid.UUID) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return false, store.NewIOError("delete agent", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	var name string
	var character []byte
	if err := row.Scan(&a.ID, &name, &a.Enabled, &character, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(character, &a.Character); err != nil {
		return nil, err
	}
	// The name column is authoritative; the jsonb blob may lag behind a
	// rename performed through UpdateAgent.
	a.Name = name
	return &a, nil
}

// --- Entities ---

func (s *Store) GetEntitiesByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Entity, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `
		SELECT id, agent_id, names, metadata FROM entities WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, store.NewIOError("get entities", err)
	}
	byID, err := collectEntities(rows)
	if err != nil {
		return nil, store.NewIOError("get entities", err)
	}

	// Preserve the requested order, skipping misses.
	out := make([]*models.Entity, 0, len(ids))
	for _, id := range ids {
		if entity, ok := byID[id]; ok {
			out = append(out, entity)
		}
	}
	return out, nil
}

func (s *Store) GetEntitiesForRoom(ctx context.Context, roomID uuid.UUID, includeComponents bool) ([]*models.Entity, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `
		SELECT e.id, e.agent_id, e.names, e.metadata
		FROM entities e
		JOIN participants p ON p.entity_id = e.id
		WHERE p.room_id = $1`, roomID)
	if err != nil {
		return nil, store.NewIOError("get entities for room", err)
	}

	var out []*models.Entity
	byID := make(map[uuid.UUID]*models.Entity)
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return nil, store.NewIOError("get entities for room", err)
		}
		out = append(out, entity)
		byID[entity.ID] = entity
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, store.NewIOError("get entities for room", err)
	}

	if includeComponents && len(out) > 0 {
		entityIDs := make([]uuid.UUID, 0, len(out))
		for _, entity := range out {
			entityIDs = append(entityIDs, entity.ID)
		}
		components, err := s.queryComponents(ctx, `WHERE entity_id = ANY($1)`, entityIDs)
		if err != nil {
			return nil, err
		}
		for _, component := range components {
			if owner, ok := byID[component.EntityID]; ok {
				owner.Components = append(owner.Components, component)
			}
		}
	}
	return out, nil
}

func (s *Store) CreateEntities(ctx context.Context, entities []*models.Entity) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, store.NewIOError("create entities", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, entity := range entities {
		metadata, err := marshalMap(entity.Metadata)
		if err != nil {
			return false, store.NewIOError("create entities", err)
		}
		names := entity.Names
		if names == nil {
			names = []string{}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO entities (id, agent_id, names, metadata)
			VALUES ($1, $2, $3, $4)`,
			entity.ID, entity.AgentID, names, metadata)
		if err != nil {
			if isUniqueViolation(err) {
				return false, fmt.Errorf("create entity %s: %w", entity.ID, store.ErrDuplicateKey)
			}
			return false, store.NewIOError("create entities", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, store.NewIOError("create entities", err)
	}
	return true, nil
}

func (s *Store) UpdateEntity(ctx context.Context, entity *models.Entity) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	metadata, err := marshalMap(entity.Metadata)
	if err != nil {
		return store.NewIOError("update entity", err)
	}
	names := entity.Names
	if names == nil {
		names = []string{}
	}
	tag, err := pool.Exec(ctx, `
		UPDATE entities SET agent_id = $2, names = $3, metadata = $4 WHERE id = $1`,
		entity.ID, entity.AgentID, names, metadata)
	if err != nil {
		return store.NewIOError("update entity", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update entity %s: %w", entity.ID, store.ErrNotFound)
	}
	return nil
}

func scanEntity(row pgx.Row) (*models.Entity, error) {
	var e models.Entity
	var metadata []byte
	if err := row.Scan(&e.ID, &e.AgentID, &e.Names, &metadata); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &e.Metadata); err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEntities(rows pgx.Rows) (map[uuid.UUID]*models.Entity, error) {
	defer rows.Close()
	byID := make(map[uuid.UUID]*models.Entity)
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		byID[entity.ID] = entity
	}
	return byID, rows.Err()
}

// --- Components ---

const componentColumns = `id, entity_id, agent_id, room_id, world_id, source_entity_id, type, data, created_at`

func (s *Store) GetComponent(ctx context.Context, entityID uuid.UUID, componentType string, worldID, sourceEntityID uuid.UUID) (*models.Component, error) {
	where := `WHERE entity_id = $1 AND type = $2`
	args := []any{entityID, componentType}
	if worldID != uuid.Nil {
		args = append(args, worldID)
		where += fmt.Sprintf(` AND world_id = $%d`, len(args))
	}
	if sourceEntityID != uuid.Nil {
		args = append(args, sourceEntityID)
		where += fmt.Sprintf(` AND source_entity_id = $%d`, len(args))
	}
	components, err := s.queryComponents(ctx, where+` LIMIT 1`, args...)
	if err != nil {
		return nil, err
	}
	if len(components) == 0 {
		return nil, nil
	}
	return components[0], nil
}

func (s *Store) GetComponents(ctx context.Context, entityID uuid.UUID, worldID, sourceEntityID uuid.UUID) ([]*models.Component, error) {
	where := `WHERE entity_id = $1`
	args := []any{entityID}
	if worldID != uuid.Nil {
		args = append(args, worldID)
		where += fmt.Sprintf(` AND world_id = $%d`, len(args))
	}
	if sourceEntityID != uuid.Nil {
		args = append(args, sourceEntityID)
		where += fmt.Sprintf(` AND source_entity_id = $%d`, len(args))
	}
	return s.queryComponents(ctx, where, args...)
}

func (s *Store) CreateComponent(ctx context.Context, component *models.Component) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	data, err := marshalMap(component.Data)
	if err != nil {
		return false, store.NewIOError("create component", err)
	}
	id := component.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := component.CreatedAt
	if createdAt == 0 {
		createdAt = nowMillis()
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO components (id, entity_id, agent_id, room_id, world_id, source_entity_id, type, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, component.EntityID, component.AgentID, component.RoomID,
		component.WorldID, component.SourceEntityID, component.Type, data, createdAt)
	if err != nil {
		return false, store.NewIOError("create component", err)
	}
	return true, nil
}

func (s *Store) UpdateComponent(ctx context.Context, component *models.Component) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	data, err := marshalMap(component.Data)
	if err != nil {
		return store.NewIOError("update component", err)
	}
	tag, err := pool.Exec(ctx, `
		UPDATE components
		SET entity_id = $2, agent_id = $3, room_id = $4, world_id = $5,
		    source_entity_id = $6, type = $7, data = $8
		WHERE id = $1`,
		component.ID, component.EntityID, component.AgentID, component.RoomID,
		component.WorldID, component.SourceEntityID, component.Type, data)
	if err != nil {
		return store.NewIOError("update component", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update component %s: %w", component.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteComponent(ctx context.Context, componentID uuid.UUID) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `DELETE FROM components WHERE id = $1`, componentID); err != nil {
		return store.NewIOError("delete component", err)
	}
	return nil
}

func (s *Store) queryComponents(ctx context.Context, where string, args ...any) ([]*models.Component, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT `+componentColumns+` FROM components `+where, args...)
	if err != nil {
		return nil, store.NewIOError("query components", err)
	}
	defer rows.Close()

	var out []*models.Component
	for rows.Next() {
		var c models.Component
		var data []byte
		if err := rows.Scan(&c.ID, &c.EntityID, &c.AgentID, &c.RoomID, &c.WorldID,
			&c.SourceEntityID, &c.Type, &data, &c.CreatedAt); err != nil {
			return nil, store.NewIOError("query components", err)
		}
		if err := unmarshalJSON(data, &c.Data); err != nil {
			return nil, store.NewIOError("query components", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
