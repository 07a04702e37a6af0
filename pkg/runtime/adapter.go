package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/murmur/pkg/ids"
	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

// The embedded adapter gives the runtime the full persistence surface.
// The overrides below adjust the handful of operations whose kernel-side
// semantics differ from the raw adapter contract.

// RegisterDatabaseAdapter installs the store adapter; the first
// registration wins, later ones warn and are ignored.
func (rt *AgentRuntime) RegisterDatabaseAdapter(adapter store.Adapter) {
	if adapter == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.Adapter != nil {
		rt.logger.Warn("store adapter already registered, ignoring")
		return
	}
	rt.Adapter = adapter
}

// CreateEntities tolerates duplicate keys: re-ensuring an entity is part
// of normal operation, so the violation is downgraded to a debug log and
// a false return. All other failures propagate.
func (rt *AgentRuntime) CreateEntities(ctx context.Context, entities []*models.Entity) (bool, error) {
	for _, e := range entities {
		if e.AgentID == uuid.Nil {
			e.AgentID = rt.agentID
		}
	}
	ok, err := rt.Adapter.CreateEntities(ctx, entities)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			rt.logger.Debug("entity already exists", "error", err)
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// CreateMemory stamps the agent ID and a creation time before writing.
func (rt *AgentRuntime) CreateMemory(ctx context.Context, memory *models.Memory, tableName string, unique bool) (uuid.UUID, error) {
	if memory.ID == uuid.Nil {
		memory.ID = ids.New()
	}
	if memory.AgentID == uuid.Nil {
		memory.AgentID = rt.agentID
	}
	if memory.CreatedAt == 0 {
		memory.CreatedAt = nowMillis()
	}
	return rt.Adapter.CreateMemory(ctx, memory, tableName, unique)
}

// Log masks credential material out of the body and fills defaults before
// writing the audit record.
func (rt *AgentRuntime) Log(ctx context.Context, entry *models.LogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = ids.New()
	}
	if entry.EntityID == uuid.Nil {
		entry.EntityID = rt.agentID
	}
	if entry.RoomID == uuid.Nil {
		entry.RoomID = rt.agentID
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = nowMillis()
	}
	if entry.Body != nil {
		entry.Body = rt.masker.MaskAny(entry.Body).(map[string]any)
	}
	return rt.Adapter.Log(ctx, entry)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
