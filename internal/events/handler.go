// Package events turns inbound hook events into state changes on the
// authoritative engine and decides what reaches the clients.
package events

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/tungdtfgw/ccviz/internal/engine"
	"github.com/tungdtfgw/ccviz/internal/telemetry"
	"github.com/tungdtfgw/ccviz/pkg/types"
)

// Broadcaster fans an event out to every connected client.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev types.BarEvent)
}

// Drop reasons reported to telemetry.
const (
	ReasonMalformed     = "malformed"
	ReasonUnknownType   = "unknown_type"
	ReasonTableOccupied = "table_occupied"
	ReasonUnknownRef    = "unknown_reference"
)

type Handler struct {
	state   *engine.Manager
	log     *zap.Logger
	metrics *telemetry.Metrics
}

func NewHandler(state *engine.Manager, log *zap.Logger, metrics *telemetry.Metrics) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{state: state, log: log.With(zap.String("component", "events")), metrics: metrics}
}

// Handle applies ev and broadcasts whatever the clients should see. It never
// returns an error: unknown references, occupied tables and malformed payloads
// are logged and absorbed so the pipeline keeps running.
func (h *Handler) Handle(ctx context.Context, ev types.BarEvent, out Broadcaster) {
	if ev.Timestamp == 0 {
		ev.Timestamp = types.NowMillis()
	}
	h.metrics.EventReceived(ctx, ev.Type)
	h.log.Debug("event received", zap.String("type", string(ev.Type)), zap.ByteString("payload", ev.Payload))

	switch ev.Type {
	case types.EvtSessionStart:
		h.sessionStart(ctx, ev, out)
	case types.EvtSessionEnd:
		h.sessionEnd(ctx, ev, out)
	case types.EvtSubagentStart:
		h.subagentStart(ctx, ev, out)
	case types.EvtSubagentStop:
		h.subagentStop(ctx, ev, out)
	case types.EvtContextUpdate:
		h.contextUpdate(ctx, ev, out)
	case types.EvtContextReset:
		h.contextReset(ctx, ev, out)
	case types.EvtToolPre, types.EvtToolPost, types.EvtSkillUse:
		h.emit(ctx, ev, out)
	default:
		h.log.Warn("unknown event type", zap.String("type", string(ev.Type)))
		h.metrics.EventDropped(ctx, ev.Type, ReasonUnknownType)
	}
}

func (h *Handler) sessionStart(ctx context.Context, ev types.BarEvent, out Broadcaster) {
	var p types.SessionStartPayload
	if !h.decode(ctx, ev, &p) {
		return
	}

	_, reopened := h.state.Session(p.SessionID)
	s, err := h.state.OpenSession(p.SessionID, p.ContextPercent)
	if err != nil {
		h.drop(ctx, ev, p.SessionID, err)
		return
	}
	if !reopened {
		h.metrics.SessionsChanged(ctx, 1)
	}

	// teamKey and tableIndex are server-authoritative; whatever the hook sent is replaced.
	table := s.TableIndex
	enriched, err := types.NewEvent(types.EvtSessionStart, types.SessionStartPayload{
		SessionID:      s.SessionID,
		TeamKey:        s.TeamKey,
		TableIndex:     &table,
		ContextPercent: s.ContextPercent,
		TokensUsed:     s.TokensUsed,
	})
	if err != nil {
		h.log.Error("encode session:start", zap.Error(err))
		return
	}
	enriched.Timestamp = ev.Timestamp
	h.emit(ctx, enriched, out)
}

func (h *Handler) sessionEnd(ctx context.Context, ev types.BarEvent, out Broadcaster) {
	var p types.SessionEndPayload
	if !h.decode(ctx, ev, &p) {
		return
	}
	if _, err := h.state.CloseSession(p.SessionID); err != nil {
		h.drop(ctx, ev, p.SessionID, err)
		return
	}
	h.metrics.SessionsChanged(ctx, -1)
	h.emit(ctx, ev, out)
}

func (h *Handler) subagentStart(ctx context.Context, ev types.BarEvent, out Broadcaster) {
	var p types.SubagentPayload
	if !h.decode(ctx, ev, &p) {
		return
	}
	if _, err := h.state.AddAgent(p.SessionID, p.AgentID, p.AgentType, p.Description); err != nil {
		h.drop(ctx, ev, p.SessionID, err)
		return
	}
	h.emit(ctx, ev, out)
}

// subagentStop is relayed even when the server has no such agent, so clients
// that did see the start can still reconcile.
func (h *Handler) subagentStop(ctx context.Context, ev types.BarEvent, out Broadcaster) {
	var p types.SubagentPayload
	if !h.decode(ctx, ev, &p) {
		return
	}
	if p.AgentID == "" {
		h.log.Warn("subagent:stop without agentId")
		h.metrics.EventDropped(ctx, ev.Type, ReasonMalformed)
		return
	}
	if _, err := h.state.RemoveAgent(p.AgentID, p.Result); err != nil {
		h.log.Warn("subagent:stop for unknown agent, relaying anyway",
			zap.String("agent", p.AgentID), zap.String("session", p.SessionID))
	}
	h.emit(ctx, ev, out)
}

// contextUpdate is always relayed verbatim; clients validate against their own mirror.
// A payload that does not decode only skips the server-side update.
func (h *Handler) contextUpdate(ctx context.Context, ev types.BarEvent, out Broadcaster) {
	var p types.ContextPayload
	if err := ev.Decode(&p); err != nil {
		h.log.Warn("context:update not applied", zap.Error(err))
	} else if err := h.state.UpdateContext(p.SessionID, p.Percent, p.Tokens); err != nil {
		h.log.Debug("context:update for unknown session", zap.String("session", p.SessionID))
	}
	h.emit(ctx, ev, out)
}

func (h *Handler) contextReset(ctx context.Context, ev types.BarEvent, out Broadcaster) {
	var p types.ContextResetPayload
	if !h.decode(ctx, ev, &p) {
		return
	}
	if err := h.state.ResetContext(p.SessionID, p.Percent); err != nil {
		h.drop(ctx, ev, p.SessionID, err)
		return
	}
	h.emit(ctx, ev, out)
}

func (h *Handler) decode(ctx context.Context, ev types.BarEvent, v any) bool {
	if err := ev.Decode(v); err != nil {
		h.log.Warn("malformed payload", zap.String("type", string(ev.Type)), zap.Error(err))
		h.metrics.EventDropped(ctx, ev.Type, ReasonMalformed)
		return false
	}
	return true
}

func (h *Handler) drop(ctx context.Context, ev types.BarEvent, sessionID string, err error) {
	reason := ReasonUnknownRef
	if errors.Is(err, engine.ErrTableOccupied) {
		reason = ReasonTableOccupied
	}
	h.log.Warn("event dropped",
		zap.String("type", string(ev.Type)),
		zap.String("session", sessionID),
		zap.Error(err))
	h.metrics.EventDropped(ctx, ev.Type, reason)
}

func (h *Handler) emit(ctx context.Context, ev types.BarEvent, out Broadcaster) {
	h.metrics.EventBroadcast(ctx, ev.Type)
	out.Broadcast(ctx, ev)
}

// BroadcastFunc adapts a function to Broadcaster.
type BroadcastFunc func(ctx context.Context, ev types.BarEvent)

func (f BroadcastFunc) Broadcast(ctx context.Context, ev types.BarEvent) { f(ctx, ev) }
