package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

// CreateMemory stores a memory under the given logical table. When unique
// is set and a memory with identical content text already exists in the
// same room and table, the existing ID is returned and nothing is written.
func (s *Store) CreateMemory(ctx context.Context, memory *models.Memory, tableName string, unique bool) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embeddingDim > 0 && len(memory.Embedding) > 0 && len(memory.Embedding) != s.embeddingDim {
		return uuid.Nil, store.NewIOError("create memory",
			fmt.Errorf("embedding dimension %d does not match store dimension %d", len(memory.Embedding), s.embeddingDim))
	}

	if unique {
		for _, id := range s.memoryOrder {
			rec := s.memories[id]
			if rec.table == tableName && rec.memory.RoomID == memory.RoomID &&
				rec.memory.Content.Text == memory.Content.Text {
				return id, nil
			}
		}
	}

	cp := copyMemory(memory)
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if _, exists := s.memories[cp.ID]; exists {
		return uuid.Nil, fmt.Errorf("create memory %s: %w", cp.ID, store.ErrDuplicateKey)
	}
	if cp.CreatedAt == 0 {
		cp.CreatedAt = nowMillis()
	}
	cp.Unique = unique
	s.memories[cp.ID] = &memoryRecord{memory: cp, table: tableName}
	s.memoryOrder = append(s.memoryOrder, cp.ID)
	return cp.ID, nil
}

func (s *Store) GetMemoryByID(ctx context.Context, id uuid.UUID) (*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.memories[id]
	if !ok {
		return nil, nil
	}
	return copyMemory(rec.memory), nil
}

func (s *Store) GetMemoriesByIDs(ctx context.Context, ids []uuid.UUID, tableName string) ([]*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Memory, 0, len(ids))
	for _, id := range ids {
		rec, ok := s.memories[id]
		if !ok {
			continue
		}
		if tableName != "" && rec.table != tableName {
			continue
		}
		out = append(out, copyMemory(rec.memory))
	}
	return out, nil
}

func (s *Store) GetMemories(ctx context.Context, query store.MemoryQuery) ([]*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Memory
	for i := len(s.memoryOrder) - 1; i >= 0; i-- {
		rec := s.memories[s.memoryOrder[i]]
		if !matchesQuery(rec, query) {
			continue
		}
		out = append(out, copyMemory(rec.memory))
	}
	sortNewestFirst(out)
	return window(out, query.Offset, query.Count), nil
}

func (s *Store) GetMemoriesByRoomIDs(ctx context.Context, tableName string, roomIDs []uuid.UUID, limit int) ([]*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[uuid.UUID]struct{}, len(roomIDs))
	for _, id := range roomIDs {
		wanted[id] = struct{}{}
	}
	var out []*models.Memory
	for i := len(s.memoryOrder) - 1; i >= 0; i-- {
		rec := s.memories[s.memoryOrder[i]]
		if tableName != "" && rec.table != tableName {
			continue
		}
		if _, ok := wanted[rec.memory.RoomID]; !ok {
			continue
		}
		out = append(out, copyMemory(rec.memory))
	}
	sortNewestFirst(out)
	return window(out, 0, limit), nil
}

func (s *Store) GetMemoriesByWorldID(ctx context.Context, worldID uuid.UUID, count int, tableName string) ([]*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Memory
	for i := len(s.memoryOrder) - 1; i >= 0; i-- {
		rec := s.memories[s.memoryOrder[i]]
		if tableName != "" && rec.table != tableName {
			continue
		}
		if rec.memory.WorldID != worldID {
			continue
		}
		out = append(out, copyMemory(rec.memory))
	}
	sortNewestFirst(out)
	return window(out, 0, count), nil
}

// SearchMemories ranks candidate memories by cosine similarity against the
// query embedding, filters by MatchThreshold, and returns the best Count.
func (s *Store) SearchMemories(ctx context.Context, query store.SearchQuery) ([]*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Memory
	for _, id := range s.memoryOrder {
		rec := s.memories[id]
		if query.TableName != "" && rec.table != query.TableName {
			continue
		}
		if query.RoomID != uuid.Nil && rec.memory.RoomID != query.RoomID {
			continue
		}
		if query.WorldID != uuid.Nil && rec.memory.WorldID != query.WorldID {
			continue
		}
		if query.EntityID != uuid.Nil && rec.memory.EntityID != query.EntityID {
			continue
		}
		if query.Unique && !rec.memory.Unique {
			continue
		}
		if len(rec.memory.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(query.Embedding, rec.memory.Embedding)
		if sim < query.MatchThreshold {
			continue
		}
		cp := copyMemory(rec.memory)
		cp.Similarity = sim
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return window(out, 0, query.Count), nil
}

func (s *Store) UpdateMemory(ctx context.Context, memory *models.Memory) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.memories[memory.ID]
	if !ok {
		return false, nil
	}
	cp := copyMemory(memory)
	cp.CreatedAt = rec.memory.CreatedAt
	rec.memory = cp
	return true, nil
}

func (s *Store) DeleteMemory(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteMemoryLocked(id)
	return nil
}

func (s *Store) DeleteManyMemories(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.deleteMemoryLocked(id)
	}
	return nil
}

func (s *Store) DeleteAllMemories(ctx context.Context, roomID uuid.UUID, tableName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range append([]uuid.UUID(nil), s.memoryOrder...) {
		rec := s.memories[id]
		if rec.memory.RoomID == roomID && rec.table == tableName {
			s.deleteMemoryLocked(id)
		}
	}
	return nil
}

func (s *Store) CountMemories(ctx context.Context, roomID uuid.UUID, unique bool, tableName string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.memories {
		if rec.memory.RoomID != roomID {
			continue
		}
		if tableName != "" && rec.table != tableName {
			continue
		}
		if unique && !rec.memory.Unique {
			continue
		}
		count++
	}
	return count, nil
}

// GetCachedEmbeddings returns embeddings of stored memories whose content
// text equals the query text, newest first.
func (s *Store) GetCachedEmbeddings(ctx context.Context, query store.EmbeddingSearchQuery) ([]store.CachedEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.CachedEmbedding
	for i := len(s.memoryOrder) - 1; i >= 0; i-- {
		rec := s.memories[s.memoryOrder[i]]
		if query.TableName != "" && rec.table != query.TableName {
			continue
		}
		if rec.memory.Content.Text != query.ContentText || len(rec.memory.Embedding) == 0 {
			continue
		}
		out = append(out, store.CachedEmbedding{
			ContentText: rec.memory.Content.Text,
			Embedding:   append([]float32(nil), rec.memory.Embedding...),
		})
		if query.MaxResults > 0 && len(out) >= query.MaxResults {
			break
		}
	}
	return out, nil
}

// EnsureEmbeddingDimension pins the store to one embedding dimension.
// Changing an established dimension fails; memories written before the
// first call are not revalidated.
func (s *Store) EnsureEmbeddingDimension(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return store.NewIOError("ensure embedding dimension", fmt.Errorf("invalid dimension %d", dimension))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.embeddingDim != 0 && s.embeddingDim != dimension {
		return store.NewIOError("ensure embedding dimension",
			fmt.Errorf("dimension already set to %d, cannot change to %d", s.embeddingDim, dimension))
	}
	s.embeddingDim = dimension
	return nil
}

func (s *Store) deleteMemoryLocked(id uuid.UUID) {
	if _, ok := s.memories[id]; !ok {
		return
	}
	delete(s.memories, id)
	for i, have := range s.memoryOrder {
		if have == id {
			s.memoryOrder = append(s.memoryOrder[:i], s.memoryOrder[i+1:]...)
			break
		}
	}
}

func matchesQuery(rec *memoryRecord, q store.MemoryQuery) bool {
	m := rec.memory
	if q.TableName != "" && rec.table != q.TableName {
		return false
	}
	if q.RoomID != uuid.Nil && m.RoomID != q.RoomID {
		return false
	}
	if q.WorldID != uuid.Nil && m.WorldID != q.WorldID {
		return false
	}
	if q.EntityID != uuid.Nil && m.EntityID != q.EntityID {
		return false
	}
	if q.AgentID != uuid.Nil && m.AgentID != q.AgentID {
		return false
	}
	if q.Unique && !m.Unique {
		return false
	}
	if q.Start != 0 && m.CreatedAt < q.Start {
		return false
	}
	if q.End != 0 && m.CreatedAt > q.End {
		return false
	}
	return true
}

// sortNewestFirst relies on callers collecting in reverse insertion
// order: the stable sort then breaks created_at ties newest-written
// first, so same-millisecond writes never read back reversed.
func sortNewestFirst(memories []*models.Memory) {
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].CreatedAt > memories[j].CreatedAt
	})
}

func window(memories []*models.Memory, offset, count int) []*models.Memory {
	if offset > 0 {
		if offset >= len(memories) {
			return nil
		}
		memories = memories[offset:]
	}
	if count > 0 && count < len(memories) {
		memories = memories[:count]
	}
	return memories
}

// cosineSimilarity over float32 vectors. Zero when lengths differ or
// either vector has no magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func copyMemory(m *models.Memory) *models.Memory {
	cp := *m
	cp.Embedding = append([]float32(nil), m.Embedding...)
	if m.Metadata != nil {
		meta := *m.Metadata
		cp.Metadata = &meta
	}
	return &cp
}
