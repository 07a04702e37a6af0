package models

import "github.com/google/uuid"

// Typed event names emitted by the runtime and consumed by plugin event
// handlers.
const (
	EventWorldJoined        = "WORLD_JOINED"
	EventEntityJoined       = "ENTITY_JOINED"
	EventEntityLeft         = "ENTITY_LEFT"
	EventMessageReceived    = "MESSAGE_RECEIVED"
	EventMessageSent        = "MESSAGE_SENT"
	EventRunStarted         = "RUN_STARTED"
	EventRunEnded           = "RUN_ENDED"
	EventActionStarted      = "ACTION_STARTED"
	EventActionCompleted    = "ACTION_COMPLETED"
	EventEvaluatorStarted   = "EVALUATOR_STARTED"
	EventEvaluatorCompleted = "EVALUATOR_COMPLETED"
	EventModelUsed          = "MODEL_USED"
	EventControlMessage     = "CONTROL_MESSAGE"
)

// TargetInfo addresses an outbound message for a registered send handler.
// Source selects the handler; the rest is handler-specific addressing.
type TargetInfo struct {
	Source    string    `json:"source"`
	RoomID    uuid.UUID `json:"roomId,omitempty"`
	WorldID   uuid.UUID `json:"worldId,omitempty"`
	EntityID  uuid.UUID `json:"entityId,omitempty"`
	ChannelID string    `json:"channelId,omitempty"`
	ServerID  string    `json:"serverId,omitempty"`
	ThreadID  string    `json:"threadId,omitempty"`
}

// Control actions accepted by SendControlMessage.
const (
	ControlEnableInput  = "enable_input"
	ControlDisableInput = "disable_input"
)

// ControlMessage asks a connected frontend to toggle its input state for
// a room.
type ControlMessage struct {
	RoomID uuid.UUID `json:"roomId"`
	Action string    `json:"action"`
	Target string    `json:"target,omitempty"`
}
