package types

import (
	"encoding/json"
	"time"
)

// EventType names a BarEvent on the wire. The string values are shared with
// the hook scripts and the browser renderer and must not change.
type EventType string

const (
	EvtSessionStart  EventType = "session:start"
	EvtSessionEnd    EventType = "session:end"
	EvtSubagentStart EventType = "subagent:start"
	EvtSubagentStop  EventType = "subagent:stop"
	EvtToolPre       EventType = "tool:pre"
	EvtToolPost      EventType = "tool:post"
	EvtSkillUse      EventType = "skill:use"
	EvtContextUpdate EventType = "context:update"
	EvtContextReset  EventType = "context:reset"
	EvtStateSync     EventType = "state:sync"
)

// BarEvent is the envelope for hook -> server and server -> client traffic.
// Timestamp is unix milliseconds.
type BarEvent struct {
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into a BarEvent stamped with the current time.
func NewEvent(t EventType, payload any) (BarEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return BarEvent{}, err
	}
	return BarEvent{Type: t, Timestamp: NowMillis(), Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e BarEvent) Decode(v any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Payload, v)
}

func NowMillis() int64 { return time.Now().UnixMilli() }

// Hook -> Server -> Client payloads

type SessionStartPayload struct {
	SessionID      string  `json:"sessionId"`
	TeamKey        TeamKey `json:"teamKey,omitempty"`
	TableIndex     *int    `json:"tableIndex,omitempty"` // server-assigned, present on relayed events
	ContextPercent float64 `json:"contextPercent"`
	TokensUsed     int64   `json:"tokensUsed,omitempty"`
}

type SessionEndPayload struct {
	SessionID string `json:"sessionId"`
}

// SubagentPayload is shared by subagent:start and subagent:stop.
type SubagentPayload struct {
	SessionID   string `json:"sessionId,omitempty"`
	AgentID     string `json:"agentId"`
	AgentType   string `json:"agentType,omitempty"`
	Description string `json:"description,omitempty"`
	Result      string `json:"result,omitempty"`
}

type ContextPayload struct {
	SessionID string  `json:"sessionId"`
	Percent   float64 `json:"percent"`
	Tokens    int64   `json:"tokens"`
}

type ContextResetPayload struct {
	SessionID string  `json:"sessionId"`
	Percent   float64 `json:"percent"`
}

type ToolPayload struct {
	SessionID string `json:"sessionId"`
	ToolName  string `json:"toolName,omitempty"`
	IsMcp     bool   `json:"isMcp"`
	McpServer string `json:"mcpServer,omitempty"`
}

type SkillPayload struct {
	SessionID string `json:"sessionId"`
	SkillName string `json:"skillName"`
}
