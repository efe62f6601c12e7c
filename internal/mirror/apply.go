package mirror

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

// Apply folds one relayed event into the mirror. Unknown types are ignored so
// older clients keep working against newer servers.
func (b *BarState) Apply(ev types.BarEvent) error {
	switch ev.Type {
	case types.EvtSessionStart:
		var p types.SessionStartPayload
		if err := ev.Decode(&p); err != nil {
			return decodeErr(ev, err)
		}
		if _, ok := b.OpenSession(p.SessionID, p.TeamKey, p.ContextPercent, p.TableIndex); ok && p.TokensUsed > 0 {
			b.setTokens(p.SessionID, p.TokensUsed)
		}

	case types.EvtSessionEnd:
		var p types.SessionEndPayload
		if err := ev.Decode(&p); err != nil {
			return decodeErr(ev, err)
		}
		b.CloseSession(p.SessionID)

	case types.EvtSubagentStart:
		var p types.SubagentPayload
		if err := ev.Decode(&p); err != nil {
			return decodeErr(ev, err)
		}
		b.AddAgent(p.SessionID, p.AgentID, p.AgentType, p.Description)

	case types.EvtSubagentStop:
		var p types.SubagentPayload
		if err := ev.Decode(&p); err != nil {
			return decodeErr(ev, err)
		}
		b.RemoveAgentByID(p.AgentID, p.Result)

	case types.EvtContextUpdate:
		var p types.ContextPayload
		if err := ev.Decode(&p); err != nil {
			return decodeErr(ev, err)
		}
		b.UpdateContext(p.SessionID, p.Percent, p.Tokens)

	case types.EvtContextReset:
		var p types.ContextResetPayload
		if err := ev.Decode(&p); err != nil {
			return decodeErr(ev, err)
		}
		b.ResetContext(p.SessionID, p.Percent)

	case types.EvtToolPre, types.EvtToolPost:
		var p types.ToolPayload
		if err := ev.Decode(&p); err != nil {
			return decodeErr(ev, err)
		}
		if !p.IsMcp {
			return nil
		}
		if ev.Type == types.EvtToolPre {
			b.StartMcpCall(p.McpServer)
		} else {
			b.EndMcpCall()
		}

	case types.EvtSkillUse:
		var p types.SkillPayload
		if err := ev.Decode(&p); err != nil {
			return decodeErr(ev, err)
		}
		b.UseSkill(p.SkillName)

	case types.EvtStateSync:
		var p types.StateSyncPayload
		if err := ev.Decode(&p); err != nil {
			return decodeErr(ev, err)
		}
		b.Sync(p)

	default:
		b.log.Debug("ignoring event", zap.String("type", string(ev.Type)))
	}
	return nil
}

func decodeErr(ev types.BarEvent, err error) error {
	return fmt.Errorf("decode %s: %w", ev.Type, err)
}

func (b *BarState) setTokens(sessionID string, tokens int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[sessionID]; ok {
		s.TokensUsed = tokens
	}
}

// Sync reconciles the mirror with a server snapshot. Sessions and agents the
// server no longer knows are closed, new ones are seated, and context values
// are refreshed. Each change goes through the regular operations so listeners
// see ordinary events.
func (b *BarState) Sync(p types.StateSyncPayload) {
	listed := make(map[string]types.SyncSession, len(p.Sessions))
	for _, s := range p.Sessions {
		listed[s.SessionID] = s
	}

	// Drop sessions that vanished, or moved tables while we were offline.
	for _, s := range b.Sessions() {
		remote, ok := listed[s.SessionID]
		if !ok || remote.TableIndex != s.TableIndex || remote.TeamKey != s.TeamKey {
			b.CloseSession(s.SessionID)
		}
	}

	liveAgents := make(map[string]bool)
	for _, s := range p.Sessions {
		for _, id := range s.AgentIDs {
			liveAgents[id] = true
		}
	}
	for _, a := range p.Agents {
		liveAgents[a.AgentID] = true
	}
	for _, a := range b.Agents() {
		if !liveAgents[a.ID] {
			b.RemoveAgentByID(a.ID, "")
		}
	}

	for _, remote := range p.Sessions {
		local, ok := b.Session(remote.SessionID)
		if !ok {
			table := remote.TableIndex
			b.OpenSession(remote.SessionID, remote.TeamKey, remote.ContextPercent, &table)
			b.setTokens(remote.SessionID, remote.TokensUsed)
			continue
		}
		if local.ContextPercent != remote.ContextPercent || local.TokensUsed != remote.TokensUsed {
			b.UpdateContext(remote.SessionID, remote.ContextPercent, remote.TokensUsed)
		}
	}

	for _, a := range p.Agents {
		if _, ok := b.Agent(a.AgentID); ok {
			continue
		}
		if _, ok := b.Session(a.SessionID); !ok {
			continue
		}
		b.AddAgent(a.SessionID, a.AgentID, a.AgentType, a.Description)
	}

	b.log.Debug("state synced", zap.Int("sessions", len(p.Sessions)), zap.Int("agents", len(p.Agents)))
}
