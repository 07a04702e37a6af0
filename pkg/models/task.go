package models

import "github.com/google/uuid"

// TagQueue marks a task as claimable by the scheduler; TagRepeat keeps it
// alive after execution.
const (
	TagQueue  = "queue"
	TagRepeat = "repeat"
)

// TaskMetadata controls when and how a task runs. UpdateInterval is
// milliseconds between runs; Schedule, when set, is a cron expression that
// takes precedence over the interval.
type TaskMetadata struct {
	UpdateInterval int64          `json:"updateInterval,omitempty"`
	UpdatedAt      int64          `json:"updatedAt,omitempty"`
	Schedule       string         `json:"schedule,omitempty"`
	Options        map[string]any `json:"options,omitempty"`
	Extra          map[string]any `json:"-"`
}

// Task is a deferred or recurring job executed by a registered task worker
// of the same name.
type Task struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	AgentID     uuid.UUID    `json:"agentId,omitempty"`
	RoomID      uuid.UUID    `json:"roomId,omitempty"`
	WorldID     uuid.UUID    `json:"worldId,omitempty"`
	EntityID    uuid.UUID    `json:"entityId,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Metadata    TaskMetadata `json:"metadata"`
	CreatedAt   int64        `json:"createdAt"`
	UpdatedAt   int64        `json:"updatedAt"`
}

// HasTag reports whether the task carries the given tag.
func (t *Task) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}
