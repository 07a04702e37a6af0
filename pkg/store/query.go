package store

import "github.com/google/uuid"

// MemoryQuery filters GetMemories. Zero values mean "unset"; Count == 0
// means no limit. Start/End bound CreatedAt in epoch milliseconds.
// Results are ordered newest-first.
type MemoryQuery struct {
	TableName string
	RoomID    uuid.UUID
	WorldID   uuid.UUID
	EntityID  uuid.UUID
	AgentID   uuid.UUID
	Unique    bool
	Start     int64
	End       int64
	Count     int
	Offset    int
}

// SearchQuery drives embedding-similarity search over one memory table.
type SearchQuery struct {
	TableName      string
	Embedding      []float32
	MatchThreshold float64
	Count          int
	RoomID         uuid.UUID
	WorldID        uuid.UUID
	EntityID       uuid.UUID
	Unique         bool
}

// EmbeddingSearchQuery looks up previously computed embeddings by the
// content text that produced them, so identical inputs skip the model.
type EmbeddingSearchQuery struct {
	TableName   string
	ContentText string
	MaxResults  int
}

// CachedEmbedding is one GetCachedEmbeddings hit.
type CachedEmbedding struct {
	ContentText string    `json:"contentText"`
	Embedding   []float32 `json:"embedding"`
}

// TaskQuery filters GetTasks; Tags requires every listed tag.
type TaskQuery struct {
	RoomID   uuid.UUID
	EntityID uuid.UUID
	Name     string
	Tags     []string
}

// LogQuery filters GetLogs; Type matches the log type exactly.
type LogQuery struct {
	EntityID uuid.UUID
	RoomID   uuid.UUID
	Type     string
	Count    int
	Offset   int
}
