package api

// HealthCheck is the status of one checked component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// AgentResponse is the agent card returned by GET /api/v1/agent.
type AgentResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Bio        []string `json:"bio,omitempty"`
	Plugins    []string `json:"plugins,omitempty"`
	Actions    int      `json:"actions"`
	Providers  int      `json:"providers"`
	Evaluators int      `json:"evaluators"`
	Services   []string `json:"services,omitempty"`
}

// MessageResponse acknowledges an accepted message. Processing is
// asynchronous; runId attributes everything the turn goes on to produce.
type MessageResponse struct {
	RunID     string `json:"runId"`
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	Status    string `json:"status"`
}

// ControlResponse acknowledges a dispatched control message.
type ControlResponse struct {
	Status string `json:"status"`
}
