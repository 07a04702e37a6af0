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

// --- Relationships ---

func (s *Store) CreateRelationship(ctx context.Context, rel *models.Relationship) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	metadata, err := marshalMap(rel.Metadata)
	if err != nil {
		return false, store.NewIOError("create relationship", err)
	}
	id := rel.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := rel.CreatedAt
	if createdAt == 0 {
		createdAt = nowMillis()
	}
	tags := rel.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO relationships (id, source_entity_id, target_entity_id, agent_id, tags, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, rel.SourceEntityID, rel.TargetEntityID, rel.AgentID, tags, metadata, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("create relationship: %w", store.ErrDuplicateKey)
		}
		return false, store.NewIOError("create relationship", err)
	}
	return true, nil
}

func (s *Store) UpdateRelationship(ctx context.Context, rel *models.Relationship) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	metadata, err := marshalMap(rel.Metadata)
	if err != nil {
		return store.NewIOError("update relationship", err)
	}
	tags := rel.Tags
	if tags == nil {
		tags = []string{}
	}
	tag, err := pool.Exec(ctx, `
		UPDATE relationships
		SET source_entity_id = $2, target_entity_id = $3, agent_id = $4, tags = $5, metadata = $6
		WHERE id = $1`,
		rel.ID, rel.SourceEntityID, rel.TargetEntityID, rel.AgentID, tags, metadata)
	if err != nil {
		return store.NewIOError("update relationship", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update relationship %s: %w", rel.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) GetRelationship(ctx context.Context, sourceEntityID, targetEntityID uuid.UUID) (*models.Relationship, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	row := pool.QueryRow(ctx, `
		SELECT id, source_entity_id, target_entity_id, agent_id, tags, metadata, created_at
		FROM relationships
		WHERE source_entity_id = $1 AND target_entity_id = $2`,
		sourceEntityID, targetEntityID)
	rel, err := scanRelationship(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.NewIOError("get relationship", err)
	}
	return rel, nil
}

func (s *Store) GetRelationships(ctx context.Context, entityID uuid.UUID, tags []string) ([]*models.Relationship, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	query := `
		SELECT id, source_entity_id, target_entity_id, agent_id, tags, metadata, created_at
		FROM relationships
		WHERE (source_entity_id = $1 OR target_entity_id = $1)`
	args := []any{entityID}
	if len(tags) > 0 {
		args = append(args, tags)
		query += fmt.Sprintf(` AND tags @> $%d`, len(args))
	}
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, store.NewIOError("get relationships", err)
	}
	defer rows.Close()

	var out []*models.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, store.NewIOError("get relationships", err)
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func scanRelationship(row pgx.Row) (*models.Relationship, error) {
	var r models.Relationship
	var metadata []byte
	if err := row.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.AgentID,
		&r.Tags, &metadata, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &r.Metadata); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- Tasks ---

const taskColumns = `id, name, description, agent_id, room_id, world_id, entity_id, tags, metadata, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, task *models.Task) (uuid.UUID, error) {
	pool, err := s.db()
	if err != nil {
		return uuid.Nil, err
	}
	metadata, err := json.Marshal(task.Metadata)
	if err != nil {
		return uuid.Nil, store.NewIOError("create task", err)
	}
	id := task.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := nowMillis()
	createdAt := task.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO tasks (id, name, description, agent_id, room_id, world_id, entity_id, tags, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, task.Name, task.Description, task.AgentID, task.RoomID, task.WorldID,
		task.EntityID, tags, metadata, createdAt, now)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("create task %s: %w", id, store.ErrDuplicateKey)
		}
		return uuid.Nil, store.NewIOError("create task", err)
	}
	return id, nil
}

func (s *Store) GetTasks(ctx context.Context, query store.TaskQuery) ([]*models.Task, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	sql := `SELECT ` + taskColumns + ` FROM tasks WHERE true`
	var args []any
	if query.RoomID != uuid.Nil {
		args = append(args, query.RoomID)
		sql += fmt.Sprintf(` AND room_id = $%d`, len(args))
	}
	if query.EntityID != uuid.Nil {
		args = append(args, query.EntityID)
		sql += fmt.Sprintf(` AND entity_id = $%d`, len(args))
	}
	if query.Name != "" {
		args = append(args, query.Name)
		sql += fmt.Sprintf(` AND name = $%d`, len(args))
	}
	if len(query.Tags) > 0 {
		args = append(args, query.Tags)
		sql += fmt.Sprintf(` AND tags @> $%d`, len(args))
	}
	sql += ` ORDER BY created_at`

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, store.NewIOError("get tasks", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, store.NewIOError("get tasks", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	row := pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.NewIOError("get task", err)
	}
	return task, nil
}

func (s *Store) GetTasksByName(ctx context.Context, name string) ([]*models.Task, error) {
	return s.GetTasks(ctx, store.TaskQuery{Name: name})
}

func (s *Store) UpdateTask(ctx context.Context, task *models.Task) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(task.Metadata)
	if err != nil {
		return store.NewIOError("update task", err)
	}
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	tag, err := pool.Exec(ctx, `
		UPDATE tasks
		SET name = $2, description = $3, agent_id = $4, room_id = $5, world_id = $6,
		    entity_id = $7, tags = $8, metadata = $9, updated_at = $10
		WHERE id = $1`,
		task.ID, task.Name, task.Description, task.AgentID, task.RoomID, task.WorldID,
		task.EntityID, tags, metadata, nowMillis())
	if err != nil {
		return store.NewIOError("update task", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task %s: %w", task.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return store.NewIOError("delete task", err)
	}
	return nil
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	var metadata []byte
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.AgentID, &t.RoomID,
		&t.WorldID, &t.EntityID, &t.Tags, &metadata, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &t.Metadata); err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Cache ---

func (s *Store) GetCache(ctx context.Context, key string) (json.RawMessage, bool, error) {
	pool, err := s.db()
	if err != nil {
		return nil, false, err
	}
	var value []byte
	err = pool.QueryRow(ctx, `SELECT value FROM cache WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.NewIOError("get cache", err)
	}
	return value, true, nil
}

func (s *Store) SetCache(ctx context.Context, key string, value json.RawMessage) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO cache (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, []byte(value), nowMillis())
	if err != nil {
		return false, store.NewIOError("set cache", err)
	}
	return true, nil
}

func (s *Store) DeleteCache(ctx context.Context, key string) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, `DELETE FROM cache WHERE key = $1`, key)
	if err != nil {
		return false, store.NewIOError("delete cache", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Logs ---

func (s *Store) Log(ctx context.Context, entry *models.LogEntry) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	body, err := marshalMap(entry.Body)
	if err != nil {
		return store.NewIOError("log", err)
	}
	id := entry.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := entry.CreatedAt
	if createdAt == 0 {
		createdAt = nowMillis()
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO logs (id, entity_id, room_id, type, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, entry.EntityID, entry.RoomID, entry.Type, body, createdAt)
	if err != nil {
		return store.NewIOError("log", err)
	}
	return nil
}

func (s *Store) GetLogs(ctx context.Context, query store.LogQuery) ([]*models.LogEntry, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	sql := `SELECT id, entity_id, room_id, type, body, created_at FROM logs WHERE true`
	var args []any
	if query.EntityID != uuid.Nil {
		args = append(args, query.EntityID)
		sql += fmt.Sprintf(` AND entity_id = $%d`, len(args))
	}
	if query.RoomID != uuid.Nil {
		args = append(args, query.RoomID)
		sql += fmt.Sprintf(` AND room_id = $%d`, len(args))
	}
	if query.Type != "" {
		args = append(args, query.Type)
		sql += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	sql += ` ORDER BY created_at DESC`
	if query.Count > 0 {
		args = append(args, query.Count)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if query.Offset > 0 {
		args = append(args, query.Offset)
		sql += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, store.NewIOError("get logs", err)
	}
	defer rows.Close()

	var out []*models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var body []byte
		if err := rows.Scan(&e.ID, &e.EntityID, &e.RoomID, &e.Type, &body, &e.CreatedAt); err != nil {
			return nil, store.NewIOError("get logs", err)
		}
		if err := unmarshalJSON(body, &e.Body); err != nil {
			return nil, store.NewIOError("get logs", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteLog(ctx context.Context, id uuid.UUID) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `DELETE FROM logs WHERE id = $1`, id); err != nil {
		return store.NewIOError("delete log", err)
	}
	return nil
}
