package api

// SendMessageRequest is the body of POST /api/v1/messages. Only text is
// required; identity and room fields default to deterministic values so a
// bare curl can hold a conversation.
type SendMessageRequest struct {
	Text        string `json:"text"`
	Source      string `json:"source,omitempty"`
	ChannelType string `json:"channelType,omitempty"`
	EntityID    string `json:"entityId,omitempty"`
	EntityName  string `json:"entityName,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
	WorldID     string `json:"worldId,omitempty"`
}

// ControlRequest is the body of POST /api/v1/control.
type ControlRequest struct {
	RoomID string `json:"roomId"`
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
}
