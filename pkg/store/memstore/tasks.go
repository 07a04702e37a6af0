package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

// --- Relationships ---

func (s *Store) CreateRelationship(ctx context.Context, rel *models.Relationship) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.relationships {
		if existing.SourceEntityID == rel.SourceEntityID && existing.TargetEntityID == rel.TargetEntityID {
			return false, fmt.Errorf("create relationship: %w", store.ErrDuplicateKey)
		}
	}
	cp := *rel
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt == 0 {
		cp.CreatedAt = nowMillis()
	}
	cp.Tags = append([]string(nil), rel.Tags...)
	s.relationships[cp.ID] = &cp
	return true, nil
}

func (s *Store) UpdateRelationship(ctx context.Context, rel *models.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relationships[rel.ID]; !ok {
		return fmt.Errorf("update relationship %s: %w", rel.ID, store.ErrNotFound)
	}
	cp := *rel
	cp.Tags = append([]string(nil), rel.Tags...)
	s.relationships[cp.ID] = &cp
	return nil
}

func (s *Store) GetRelationship(ctx context.Context, sourceEntityID, targetEntityID uuid.UUID) (*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rel := range s.relationships {
		if rel.SourceEntityID == sourceEntityID && rel.TargetEntityID == targetEntityID {
			cp := *rel
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) GetRelationships(ctx context.Context, entityID uuid.UUID, tags []string) ([]*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Relationship
	for _, rel := range s.relationships {
		if rel.SourceEntityID != entityID && rel.TargetEntityID != entityID {
			continue
		}
		if !hasAllTags(rel.Tags, tags) {
			continue
		}
		cp := *rel
		out = append(out, &cp)
	}
	return out, nil
}

// --- Tasks ---

func (s *Store) CreateTask(ctx context.Context, task *models.Task) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if _, exists := s.tasks[cp.ID]; exists {
		return uuid.Nil, fmt.Errorf("create task %s: %w", cp.ID, store.ErrDuplicateKey)
	}
	now := nowMillis()
	if cp.CreatedAt == 0 {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Tags = append([]string(nil), task.Tags...)
	s.tasks[cp.ID] = &cp
	return cp.ID, nil
}

func (s *Store) GetTasks(ctx context.Context, query store.TaskQuery) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, task := range s.tasks {
		if query.RoomID != uuid.Nil && task.RoomID != query.RoomID {
			continue
		}
		if query.EntityID != uuid.Nil && task.EntityID != query.EntityID {
			continue
		}
		if query.Name != "" && task.Name != query.Name {
			continue
		}
		if !hasAllTags(task.Tags, query.Tags) {
			continue
		}
		cp := *task
		cp.Tags = append([]string(nil), task.Tags...)
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *task
	cp.Tags = append([]string(nil), task.Tags...)
	return &cp, nil
}

func (s *Store) GetTasksByName(ctx context.Context, name string) ([]*models.Task, error) {
	return s.GetTasks(ctx, store.TaskQuery{Name: name})
}

func (s *Store) UpdateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tasks[task.ID]
	if !ok {
		return fmt.Errorf("update task %s: %w", task.ID, store.ErrNotFound)
	}
	cp := *task
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = nowMillis()
	cp.Tags = append([]string(nil), task.Tags...)
	s.tasks[cp.ID] = &cp
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

// --- Cache ---

func (s *Store) GetCache(ctx context.Context, key string) (json.RawMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.cache[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), value...), true, nil
}

func (s *Store) SetCache(ctx context.Context, key string, value json.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = append([]byte(nil), value...)
	return true, nil
}

func (s *Store) DeleteCache(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[key]; !ok {
		return false, nil
	}
	delete(s.cache, key)
	return true, nil
}

// --- Logs ---

func (s *Store) Log(ctx context.Context, entry *models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt == 0 {
		cp.CreatedAt = nowMillis()
	}
	s.logs = append(s.logs, &cp)
	return nil
}

func (s *Store) GetLogs(ctx context.Context, query store.LogQuery) ([]*models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.LogEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		entry := s.logs[i]
		if query.EntityID != uuid.Nil && entry.EntityID != query.EntityID {
			continue
		}
		if query.RoomID != uuid.Nil && entry.RoomID != query.RoomID {
			continue
		}
		if query.Type != "" && entry.Type != query.Type {
			continue
		}
		cp := *entry
		out = append(out, &cp)
	}
	if query.Offset > 0 {
		if query.Offset >= len(out) {
			return nil, nil
		}
		out = out[query.Offset:]
	}
	if query.Count > 0 && query.Count < len(out) {
		out = out[:query.Count]
	}
	return out, nil
}

func (s *Store) DeleteLog(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, entry := range s.logs {
		if entry.ID == id {
			s.logs = append(s.logs[:i], s.logs[i+1:]...)
			return nil
		}
	}
	return nil
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
