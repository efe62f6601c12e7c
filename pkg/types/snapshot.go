package types

// StateSyncPayload is sent once to every newly connected client.
//
//	sessions: every live session, in the order it was opened
//	agents:   every live sub-agent (older servers omitted this list)
type StateSyncPayload struct {
	Sessions []SyncSession `json:"sessions"`
	Agents   []SyncAgent   `json:"agents,omitempty"`
}

type SyncSession struct {
	SessionID      string   `json:"sessionId"`
	TeamKey        TeamKey  `json:"teamKey"`
	TableIndex     int      `json:"tableIndex"`
	ContextPercent float64  `json:"contextPercent"`
	TokensUsed     int64    `json:"tokensUsed"`
	AgentIDs       []string `json:"agentIds"`
}

type SyncAgent struct {
	AgentID     string `json:"agentId"`
	SessionID   string `json:"sessionId"`
	AgentType   string `json:"agentType"`
	Description string `json:"description,omitempty"`
}
