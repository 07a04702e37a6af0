package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Memory table names the runtime writes to.
const (
	TableMessages  = "messages"
	TableFacts     = "facts"
	TableDocuments = "documents"
)

// MemoryType classifies a memory record in its metadata.
type MemoryType string

const (
	MemoryTypeMessage      MemoryType = "MESSAGE"
	MemoryTypeActionResult MemoryType = "ACTION_RESULT"
	MemoryTypeFragment     MemoryType = "FRAGMENT"
	MemoryTypeDocument     MemoryType = "DOCUMENT"
	MemoryTypeFact         MemoryType = "FACT"
	MemoryTypeCustom       MemoryType = "CUSTOM"
)

// Memory is a durable message or record authored by an entity in a room.
type Memory struct {
	ID         uuid.UUID       `json:"id"`
	EntityID   uuid.UUID       `json:"entityId"`
	AgentID    uuid.UUID       `json:"agentId,omitempty"`
	RoomID     uuid.UUID       `json:"roomId"`
	WorldID    uuid.UUID       `json:"worldId,omitempty"`
	Content    Content         `json:"content"`
	Embedding  []float32       `json:"embedding,omitempty"`
	Metadata   *MemoryMetadata `json:"metadata,omitempty"`
	Unique     bool            `json:"unique,omitempty"`
	Similarity float64         `json:"similarity,omitempty"`
	CreatedAt  int64           `json:"createdAt"`
}

// MemoryMetadata carries typed bookkeeping for a memory, including the
// run/action attribution the engine stamps on action results.
type MemoryMetadata struct {
	Type        MemoryType     `json:"type"`
	Source      string         `json:"source,omitempty"`
	ActionName  string         `json:"actionName,omitempty"`
	RunID       uuid.UUID      `json:"runId,omitempty"`
	ActionID    uuid.UUID      `json:"actionId,omitempty"`
	TotalSteps  int            `json:"totalSteps,omitempty"`
	CurrentStep int            `json:"currentStep,omitempty"`
	Error       string         `json:"error,omitempty"`
	Extra       map[string]any `json:"-"`
}

// Content is the loosely-typed payload of a memory. Known fields are
// typed; everything else round-trips through Extra so plugin-specific
// keys survive storage.
type Content struct {
	Text        string         `json:"text,omitempty"`
	Thought     string         `json:"thought,omitempty"`
	Source      string         `json:"source,omitempty"`
	Type        string         `json:"type,omitempty"`
	URL         string         `json:"url,omitempty"`
	InReplyTo   string         `json:"inReplyTo,omitempty"`
	ChannelType string         `json:"channelType,omitempty"`
	Actions     []string       `json:"actions,omitempty"`
	Providers   []string       `json:"providers,omitempty"`
	Extra       map[string]any `json:"-"`
}

// contentAlias avoids recursing into Content's own MarshalJSON.
type contentAlias Content

// MarshalJSON flattens Extra into the same JSON object as the typed fields.
func (c Content) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(contentAlias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]any, len(c.Extra)+8)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, taken := merged[k]; !taken {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON fills the typed fields and captures unknown keys in Extra.
func (c *Content) UnmarshalJSON(data []byte) error {
	var alias contentAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, known := range []string{
		"text", "thought", "source", "type", "url",
		"inReplyTo", "channelType", "actions", "providers",
	} {
		delete(raw, known)
	}
	*c = Content(alias)
	if len(raw) > 0 {
		c.Extra = raw
	}
	return nil
}

// LogEntry is a structured audit record persisted by the runtime for every
// model call, action step, and evaluator run.
type LogEntry struct {
	ID        uuid.UUID      `json:"id"`
	EntityID  uuid.UUID      `json:"entityId"`
	RoomID    uuid.UUID      `json:"roomId"`
	Type      string         `json:"type"`
	Body      map[string]any `json:"body"`
	CreatedAt int64          `json:"createdAt"`
}
