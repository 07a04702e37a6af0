package models

import "github.com/google/uuid"

// ChannelType classifies a room by its conversational shape.
type ChannelType string

const (
	ChannelDM         ChannelType = "DM"
	ChannelGroup      ChannelType = "GROUP"
	ChannelSelf       ChannelType = "SELF"
	ChannelVoiceDM    ChannelType = "VOICE_DM"
	ChannelVoiceGroup ChannelType = "VOICE_GROUP"
	ChannelFeed       ChannelType = "FEED"
	ChannelThread     ChannelType = "THREAD"
	ChannelWorld      ChannelType = "WORLD"
	ChannelForum      ChannelType = "FORUM"
)

// World groups rooms under one external server/community.
type World struct {
	ID       uuid.UUID      `json:"id"`
	AgentID  uuid.UUID      `json:"agentId"`
	Name     string         `json:"name,omitempty"`
	ServerID string         `json:"serverId"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Room is a single conversation channel inside a world.
type Room struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name,omitempty"`
	AgentID   uuid.UUID      `json:"agentId,omitempty"`
	WorldID   uuid.UUID      `json:"worldId"`
	Source    string         `json:"source"`
	Type      ChannelType    `json:"type"`
	ChannelID string         `json:"channelId,omitempty"`
	ServerID  string         `json:"serverId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ParticipantUserState is the agent-visible follow/mute state of a
// participant in a room. Empty means neither.
type ParticipantUserState string

const (
	ParticipantFollowed ParticipantUserState = "FOLLOWED"
	ParticipantMuted    ParticipantUserState = "MUTED"
)

// Participant links an entity to a room.
type Participant struct {
	ID       uuid.UUID            `json:"id"`
	EntityID uuid.UUID            `json:"entityId"`
	RoomID   uuid.UUID            `json:"roomId"`
	State    ParticipantUserState `json:"state,omitempty"`
}
