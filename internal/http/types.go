package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status               string   `json:"status"`
	Version              string   `json:"version,omitempty"`
	AgentsConnectedCount int      `json:"agents_connected_count"`
	AgentNames           []string `json:"agent_names"`
	ActiveConversations  int      `json:"active_conversations"`
	EventBus             string   `json:"event_bus,omitempty"`
}

// AgentInfo is one entry of GET /api/agents.
type AgentInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Address     string   `json:"address"`
	Skills      []string `json:"skills,omitempty"`
}

// RegisterRequest is the request body for POST /api/agents/register.
type RegisterRequest struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// RegisterResponse is the response body for POST /api/agents/register.
type RegisterResponse struct {
	Success   bool   `json:"success"`
	AgentName string `json:"agent_name,omitempty"`
	Address   string `json:"address"`
	Error     string `json:"error,omitempty"`
}

// CancelResponse is the response body for DELETE /api/chat/:conversation_id.
type CancelResponse struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversation_id"`
}
