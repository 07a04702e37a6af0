package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

const memoryColumns = `id, entity_id, agent_id, room_id, world_id, content, embedding, metadata, is_unique, created_at`

// CreateMemory stores a memory under the given logical table. When unique
// is set and a memory with identical content text already exists in the
// same room and table, the existing ID is returned and nothing is written.
func (s *Store) CreateMemory(ctx context.Context, memory *models.Memory, tableName string, unique bool) (uuid.UUID, error) {
	pool, err := s.db()
	if err != nil {
		return uuid.Nil, err
	}

	s.mu.RLock()
	dim := s.embeddingDim
	s.mu.RUnlock()
	if dim > 0 && len(memory.Embedding) > 0 && len(memory.Embedding) != dim {
		return uuid.Nil, store.NewIOError("create memory",
			fmt.Errorf("embedding dimension %d does not match store dimension %d", len(memory.Embedding), dim))
	}

	if unique {
		var existing uuid.UUID
		err := pool.QueryRow(ctx, `
			SELECT id FROM memories
			WHERE table_name = $1 AND room_id = $2 AND content_text = $3
			LIMIT 1`,
			tableName, memory.RoomID, memory.Content.Text).Scan(&existing)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, store.NewIOError("create memory", err)
		}
	}

	content, err := json.Marshal(memory.Content)
	if err != nil {
		return uuid.Nil, store.NewIOError("create memory", err)
	}
	var metadata []byte
	if memory.Metadata != nil {
		if metadata, err = json.Marshal(memory.Metadata); err != nil {
			return uuid.Nil, store.NewIOError("create memory", err)
		}
	}

	id := memory.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := memory.CreatedAt
	if createdAt == 0 {
		createdAt = nowMillis()
	}
	var embedding []float32
	if len(memory.Embedding) > 0 {
		embedding = memory.Embedding
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO memories (id, table_name, entity_id, agent_id, room_id, world_id,
			content, content_text, embedding, metadata, is_unique, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, tableName, memory.EntityID, memory.AgentID, memory.RoomID, memory.WorldID,
		content, memory.Content.Text, embedding, metadata, unique, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("create memory %s: %w", id, store.ErrDuplicateKey)
		}
		return uuid.Nil, store.NewIOError("create memory", err)
	}
	return id, nil
}

func (s *Store) GetMemoryByID(ctx context.Context, id uuid.UUID) (*models.Memory, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	row := pool.QueryRow(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id)
	memory, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.NewIOError("get memory", err)
	}
	return memory, nil
}

func (s *Store) GetMemoriesByIDs(ctx context.Context, ids []uuid.UUID, tableName string) ([]*models.Memory, error) {
	where := `WHERE id = ANY($1)`
	args := []any{ids}
	if tableName != "" {
		args = append(args, tableName)
		where += fmt.Sprintf(` AND table_name = $%d`, len(args))
	}
	return s.queryMemories(ctx, where, args...)
}

func (s *Store) GetMemories(ctx context.Context, query store.MemoryQuery) ([]*models.Memory, error) {
	where, args := memoryFilter(query)
	where += ` ORDER BY created_at DESC, seq DESC`
	if query.Count > 0 {
		args = append(args, query.Count)
		where += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if query.Offset > 0 {
		args = append(args, query.Offset)
		where += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	return s.queryMemories(ctx, where, args...)
}

func (s *Store) GetMemoriesByRoomIDs(ctx context.Context, tableName string, roomIDs []uuid.UUID, limit int) ([]*models.Memory, error) {
	where := `WHERE room_id = ANY($1)`
	args := []any{roomIDs}
	if tableName != "" {
		args = append(args, tableName)
		where += fmt.Sprintf(` AND table_name = $%d`, len(args))
	}
	where += ` ORDER BY created_at DESC, seq DESC`
	if limit > 0 {
		args = append(args, limit)
		where += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return s.queryMemories(ctx, where, args...)
}

func (s *Store) GetMemoriesByWorldID(ctx context.Context, worldID uuid.UUID, count int, tableName string) ([]*models.Memory, error) {
	where := `WHERE world_id = $1`
	args := []any{worldID}
	if tableName != "" {
		args = append(args, tableName)
		where += fmt.Sprintf(` AND table_name = $%d`, len(args))
	}
	where += ` ORDER BY created_at DESC, seq DESC`
	if count > 0 {
		args = append(args, count)
		where += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return s.queryMemories(ctx, where, args...)
}

// SearchMemories fetches embedded candidates matching the scope filters
// and ranks them by cosine similarity in process. The embedding column is
// a plain real[], so similarity does not push down into SQL.
func (s *Store) SearchMemories(ctx context.Context, query store.SearchQuery) ([]*models.Memory, error) {
	where := `WHERE embedding IS NOT NULL`
	var args []any
	if query.TableName != "" {
		args = append(args, query.TableName)
		where += fmt.Sprintf(` AND table_name = $%d`, len(args))
	}
	if query.RoomID != uuid.Nil {
		args = append(args, query.RoomID)
		where += fmt.Sprintf(` AND room_id = $%d`, len(args))
	}
	if query.WorldID != uuid.Nil {
		args = append(args, query.WorldID)
		where += fmt.Sprintf(` AND world_id = $%d`, len(args))
	}
	if query.EntityID != uuid.Nil {
		args = append(args, query.EntityID)
		where += fmt.Sprintf(` AND entity_id = $%d`, len(args))
	}
	if query.Unique {
		where += ` AND is_unique`
	}

	candidates, err := s.queryMemories(ctx, where, args...)
	if err != nil {
		return nil, err
	}

	var out []*models.Memory
	for _, memory := range candidates {
		if len(memory.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(query.Embedding, memory.Embedding)
		if sim < query.MatchThreshold {
			continue
		}
		memory.Similarity = sim
		out = append(out, memory)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if query.Count > 0 && query.Count < len(out) {
		out = out[:query.Count]
	}
	return out, nil
}

func (s *Store) UpdateMemory(ctx context.Context, memory *models.Memory) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	content, err := json.Marshal(memory.Content)
	if err != nil {
		return false, store.NewIOError("update memory", err)
	}
	var metadata []byte
	if memory.Metadata != nil {
		if metadata, err = json.Marshal(memory.Metadata); err != nil {
			return false, store.NewIOError("update memory", err)
		}
	}
	var embedding []float32
	if len(memory.Embedding) > 0 {
		embedding = memory.Embedding
	}
	// created_at stays untouched.
	tag, err := pool.Exec(ctx, `
		UPDATE memories
		SET entity_id = $2, agent_id = $3, room_id = $4, world_id = $5,
		    content = $6, content_text = $7, embedding = $8, metadata = $9
		WHERE id = $1`,
		memory.ID, memory.EntityID, memory.AgentID, memory.RoomID, memory.WorldID,
		content, memory.Content.Text, embedding, metadata)
	if err != nil {
		return false, store.NewIOError("update memory", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeleteMemory(ctx context.Context, id uuid.UUID) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id); err != nil {
		return store.NewIOError("delete memory", err)
	}
	return nil
}

func (s *Store) DeleteManyMemories(ctx context.Context, ids []uuid.UUID) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `DELETE FROM memories WHERE id = ANY($1)`, ids); err != nil {
		return store.NewIOError("delete memories", err)
	}
	return nil
}

func (s *Store) DeleteAllMemories(ctx context.Context, roomID uuid.UUID, tableName string) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `
		DELETE FROM memories WHERE room_id = $1 AND table_name = $2`,
		roomID, tableName); err != nil {
		return store.NewIOError("delete all memories", err)
	}
	return nil
}

func (s *Store) CountMemories(ctx context.Context, roomID uuid.UUID, unique bool, tableName string) (int, error) {
	pool, err := s.db()
	if err != nil {
		return 0, err
	}
	query := `SELECT count(*) FROM memories WHERE room_id = $1`
	args := []any{roomID}
	if tableName != "" {
		args = append(args, tableName)
		query += fmt.Sprintf(` AND table_name = $%d`, len(args))
	}
	if unique {
		query += ` AND is_unique`
	}
	var count int
	if err := pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, store.NewIOError("count memories", err)
	}
	return count, nil
}

// GetCachedEmbeddings returns embeddings of stored memories whose content
// text equals the query text, newest first.
func (s *Store) GetCachedEmbeddings(ctx context.Context, query store.EmbeddingSearchQuery) ([]store.CachedEmbedding, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	sql := `
		SELECT content_text, embedding FROM memories
		WHERE content_text = $1 AND embedding IS NOT NULL`
	args := []any{query.ContentText}
	if query.TableName != "" {
		args = append(args, query.TableName)
		sql += fmt.Sprintf(` AND table_name = $%d`, len(args))
	}
	sql += ` ORDER BY created_at DESC, seq DESC`
	if query.MaxResults > 0 {
		args = append(args, query.MaxResults)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, store.NewIOError("get cached embeddings", err)
	}
	defer rows.Close()

	var out []store.CachedEmbedding
	for rows.Next() {
		var hit store.CachedEmbedding
		if err := rows.Scan(&hit.ContentText, &hit.Embedding); err != nil {
			return nil, store.NewIOError("get cached embeddings", err)
		}
		out = append(out, hit)
	}
	return out, rows.Err()
}

// EnsureEmbeddingDimension pins the store to one embedding dimension.
// Changing an established dimension fails; memories written before the
// first call are not revalidated.
func (s *Store) EnsureEmbeddingDimension(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return store.NewIOError("ensure embedding dimension", fmt.Errorf("invalid dimension %d", dimension))
	}
	pool, err := s.db()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO embedding_meta (id, dimension) VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING`, dimension); err != nil {
		return store.NewIOError("ensure embedding dimension", err)
	}
	var existing int
	if err := pool.QueryRow(ctx, `SELECT dimension FROM embedding_meta WHERE id = 1`).Scan(&existing); err != nil {
		return store.NewIOError("ensure embedding dimension", err)
	}
	if existing != dimension {
		return store.NewIOError("ensure embedding dimension",
			fmt.Errorf("dimension already set to %d, cannot change to %d", existing, dimension))
	}
	s.mu.Lock()
	s.embeddingDim = dimension
	s.mu.Unlock()
	return nil
}

func (s *Store) queryMemories(ctx context.Context, where string, args ...any) ([]*models.Memory, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT `+memoryColumns+` FROM memories `+where, args...)
	if err != nil {
		return nil, store.NewIOError("query memories", err)
	}
	defer rows.Close()

	var out []*models.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, store.NewIOError("query memories", err)
		}
		out = append(out, memory)
	}
	return out, rows.Err()
}

func scanMemory(row pgx.Row) (*models.Memory, error) {
	var m models.Memory
	var content, metadata []byte
	if err := row.Scan(&m.ID, &m.EntityID, &m.AgentID, &m.RoomID, &m.WorldID,
		&content, &m.Embedding, &metadata, &m.Unique, &m.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(content, &m.Content); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		m.Metadata = &models.MemoryMetadata{}
		if err := unmarshalJSON(metadata, m.Metadata); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// memoryFilter builds the WHERE clause for a MemoryQuery.
func memoryFilter(q store.MemoryQuery) (string, []any) {
	where := `WHERE true`
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		where += fmt.Sprintf(` AND %s = $%d`, cond, len(args))
	}
	if q.TableName != "" {
		add("table_name", q.TableName)
	}
	if q.RoomID != uuid.Nil {
		add("room_id", q.RoomID)
	}
	if q.WorldID != uuid.Nil {
		add("world_id", q.WorldID)
	}
	if q.EntityID != uuid.Nil {
		add("entity_id", q.EntityID)
	}
	if q.AgentID != uuid.Nil {
		add("agent_id", q.AgentID)
	}
	if q.Unique {
		where += ` AND is_unique`
	}
	if q.Start != 0 {
		args = append(args, q.Start)
		where += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if q.End != 0 {
		args = append(args, q.End)
		where += fmt.Sprintf(` AND created_at <= $%d`, len(args))
	}
	return where, args
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
