// Package mirror is the client-side projection of the bar. It is rebuilt from
// relayed events and state:sync snapshots and is the only thing a renderer
// subscribes to.
package mirror

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

type EventName string

const (
	BarOpen       EventName = "bar:open"
	BarClose      EventName = "bar:close"
	SessionOpen   EventName = "session:open"
	SessionClose  EventName = "session:close"
	AgentEnter    EventName = "agent:enter"
	AgentLeave    EventName = "agent:leave"
	ContextUpdate EventName = "context:update"
	ContextReset  EventName = "context:reset"
	SkillUse      EventName = "skill:use"
	McpStart      EventName = "mcp:start"
	McpEnd        EventName = "mcp:end"
)

type Session struct {
	SessionID      string
	TeamKey        types.TeamKey
	TableIndex     int
	ContextPercent float64
	TokensUsed     int64
}

// Remaining is the context share left, clamped for display.
func (s Session) Remaining() float64 {
	return min(max(100-s.ContextPercent, 0), 100)
}

type Agent struct {
	ID          string
	Type        string
	SessionID   string
	TeamKey     types.TeamKey
	Description string
	Result      string
}

// Change is what listeners receive. Only the fields relevant to Name are set.
type Change struct {
	Name        EventName
	Session     *Session // session:open
	SessionID   string   // session:close, context:*
	TableIndex  int      // session:close
	Agent       *Agent   // agent:enter, agent:leave
	Percent     float64  // context:*
	Tokens      int64    // context:update
	PrevPercent float64  // context:update
	Skill       string   // skill:use
	McpServer   string   // mcp:start
}

type Listener func(Change)

// ResetHeuristic infers a /clear or /compact from a context drop when the
// server sent a plain context:update. A real drop from 55% to 15% is
// misclassified as a reset; the thresholds are configurable for that reason.
type ResetHeuristic struct {
	Above float64
	Below float64
}

var DefaultResetHeuristic = ResetHeuristic{Above: 50, Below: 20}

func (h ResetHeuristic) IsReset(prev, next float64) bool {
	return prev > h.Above && next < h.Below
}

type listener struct {
	id int
	fn Listener
}

type BarState struct {
	mu         sync.RWMutex
	isOpen     bool
	sessions   map[string]*Session
	order      []string
	agents     map[string]*Agent
	agentOrder []string
	currentMcp string
	lastSkill  string

	reset        ResetHeuristic
	adoptOrphans bool
	log          *zap.Logger

	lmu       sync.Mutex
	listeners map[EventName][]listener
	nextID    int
}

type Option func(*BarState)

func WithLogger(log *zap.Logger) Option {
	return func(b *BarState) { b.log = log }
}

func WithResetHeuristic(h ResetHeuristic) Option {
	return func(b *BarState) { b.reset = h }
}

// WithOrphanAdoption controls whether an agent for an unknown session is
// attached to the first open session instead of being ignored. Events can
// arrive out of order, so this is on by default.
func WithOrphanAdoption(on bool) Option {
	return func(b *BarState) { b.adoptOrphans = on }
}

func New(opts ...Option) *BarState {
	b := &BarState{
		sessions:     make(map[string]*Session),
		agents:       make(map[string]*Agent),
		reset:        DefaultResetHeuristic,
		adoptOrphans: true,
		log:          zap.NewNop(),
		listeners:    make(map[EventName][]listener),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With(zap.String("component", "mirror"))
	return b
}

// On registers fn for name. Listeners run synchronously after the mutation,
// in registration order, without the state lock held.
func (b *BarState) On(name EventName, fn Listener) (unsubscribe func()) {
	b.lmu.Lock()
	defer b.lmu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[name] = append(b.listeners[name], listener{id: id, fn: fn})

	return func() {
		b.lmu.Lock()
		defer b.lmu.Unlock()
		b.listeners[name] = slices.DeleteFunc(b.listeners[name], func(l listener) bool { return l.id == id })
	}
}

func (b *BarState) emit(changes ...Change) {
	for _, c := range changes {
		b.lmu.Lock()
		ls := slices.Clone(b.listeners[c.Name])
		b.lmu.Unlock()
		for _, l := range ls {
			l.fn(c)
		}
	}
}

// OpenSession seats a session. tableIndex should be the server-assigned
// value; when it is nil the table bound to teamKey is used. Opening a known
// session returns it unchanged.
func (b *BarState) OpenSession(sessionID string, teamKey types.TeamKey, contextPercent float64, tableIndex *int) (Session, bool) {
	b.mu.Lock()
	if s, ok := b.sessions[sessionID]; ok {
		b.mu.Unlock()
		return *s, true
	}

	table, team, ok := resolveTable(teamKey, tableIndex)
	if sessionID == "" || !ok {
		b.mu.Unlock()
		b.log.Warn("cannot seat session",
			zap.String("session", sessionID),
			zap.String("team", string(teamKey)))
		return Session{}, false
	}

	// The server only seats a session on a free table, so a local holder is
	// stale: its session:end was missed.
	if stale := b.occupant(table); stale != "" {
		b.mu.Unlock()
		b.log.Warn("evicting stale session from table",
			zap.String("stale", stale), zap.String("session", sessionID), zap.Int("table", table))
		b.CloseSession(stale)
		return b.OpenSession(sessionID, teamKey, contextPercent, tableIndex)
	}

	s := &Session{
		SessionID:      sessionID,
		TeamKey:        team,
		TableIndex:     table,
		ContextPercent: contextPercent,
	}
	b.sessions[sessionID] = s
	b.order = append(b.order, sessionID)

	var changes []Change
	if !b.isOpen {
		b.isOpen = true
		changes = append(changes, Change{Name: BarOpen})
	}
	opened := *s
	changes = append(changes, Change{Name: SessionOpen, Session: &opened, SessionID: sessionID, TableIndex: table})
	b.mu.Unlock()

	b.log.Debug("session opened", zap.String("session", sessionID), zap.String("team", string(team)), zap.Int("table", table))
	b.emit(changes...)
	return opened, true
}

func (b *BarState) occupant(table int) string {
	for _, id := range b.order {
		if b.sessions[id].TableIndex == table {
			return id
		}
	}
	return ""
}

func resolveTable(teamKey types.TeamKey, tableIndex *int) (int, types.TeamKey, bool) {
	if tableIndex != nil {
		i := *tableIndex
		if i < 0 || i >= types.MaxSessions {
			return 0, "", false
		}
		if teamKey == "" {
			teamKey = types.TableTeams[i]
		}
		return i, teamKey, true
	}
	i, ok := types.TableIndexForTeam(teamKey)
	return i, teamKey, ok
}

// CloseSession removes the session and its agents. The last departure emits
// bar:close.
func (b *BarState) CloseSession(sessionID string) bool {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return false
	}

	var changes []Change
	for _, id := range slices.Clone(b.agentOrder) {
		a := b.agents[id]
		if a.SessionID != sessionID {
			continue
		}
		b.deleteAgent(id)
		left := *a
		changes = append(changes, Change{Name: AgentLeave, Agent: &left, SessionID: sessionID})
	}

	delete(b.sessions, sessionID)
	b.order = slices.DeleteFunc(b.order, func(x string) bool { return x == sessionID })
	changes = append(changes, Change{Name: SessionClose, SessionID: sessionID, TableIndex: s.TableIndex})

	if len(b.sessions) == 0 && b.isOpen {
		b.isOpen = false
		changes = append(changes, Change{Name: BarClose})
	}
	b.mu.Unlock()

	b.log.Debug("session closed", zap.String("session", sessionID))
	b.emit(changes...)
	return true
}

func (b *BarState) deleteAgent(id string) {
	delete(b.agents, id)
	b.agentOrder = slices.DeleteFunc(b.agentOrder, func(x string) bool { return x == id })
}

// AddAgent registers a sub-agent. With orphan adoption on, an unknown
// sessionID falls back to the first open session.
func (b *BarState) AddAgent(sessionID, agentID, agentType, description string) (Agent, bool) {
	b.mu.Lock()
	if a, ok := b.agents[agentID]; ok {
		b.mu.Unlock()
		return *a, true
	}

	s, ok := b.sessions[sessionID]
	if !ok && b.adoptOrphans && len(b.order) > 0 {
		s, ok = b.sessions[b.order[0]], true
		b.log.Warn("agent for unknown session adopted by first session",
			zap.String("agent", agentID),
			zap.String("session", sessionID),
			zap.String("adopted_by", s.SessionID))
	}
	if !ok || agentID == "" {
		b.mu.Unlock()
		b.log.Warn("agent for unknown session ignored", zap.String("agent", agentID), zap.String("session", sessionID))
		return Agent{}, false
	}

	a := &Agent{
		ID:          agentID,
		Type:        agentType,
		SessionID:   s.SessionID,
		TeamKey:     s.TeamKey,
		Description: description,
	}
	b.agents[agentID] = a
	b.agentOrder = append(b.agentOrder, agentID)
	entered := *a
	b.mu.Unlock()

	b.emit(Change{Name: AgentEnter, Agent: &entered, SessionID: entered.SessionID})
	return entered, true
}

// RemoveAgentByID tolerates unknown ids: stops are relayed even when the
// matching start never reached this mirror.
func (b *BarState) RemoveAgentByID(agentID, result string) (Agent, bool) {
	b.mu.Lock()
	a, ok := b.agents[agentID]
	if !ok {
		active := slices.Clone(b.agentOrder)
		b.mu.Unlock()
		b.log.Warn("agent not found", zap.String("agent", agentID), zap.Strings("active", active))
		return Agent{}, false
	}
	if result != "" {
		a.Result = result
	}
	b.deleteAgent(agentID)
	left := *a
	b.mu.Unlock()

	b.emit(Change{Name: AgentLeave, Agent: &left, SessionID: left.SessionID})
	return left, true
}

// UpdateContext applies a usage report. A drop matching the reset heuristic
// is reported as context:reset instead of context:update.
func (b *BarState) UpdateContext(sessionID string, percent float64, tokens int64) bool {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		b.log.Warn("context update for unknown session", zap.String("session", sessionID))
		return false
	}
	prev := s.ContextPercent
	s.ContextPercent = percent
	s.TokensUsed = tokens
	b.mu.Unlock()

	if b.reset.IsReset(prev, percent) {
		b.emit(Change{Name: ContextReset, SessionID: sessionID, Percent: percent})
	} else {
		b.emit(Change{Name: ContextUpdate, SessionID: sessionID, Percent: percent, Tokens: tokens, PrevPercent: prev})
	}
	return true
}

// ResetContext applies an explicit reset from the server.
func (b *BarState) ResetContext(sessionID string, percent float64) bool {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		b.log.Warn("context reset for unknown session", zap.String("session", sessionID))
		return false
	}
	s.ContextPercent = percent
	s.TokensUsed = 0
	b.mu.Unlock()

	b.emit(Change{Name: ContextReset, SessionID: sessionID, Percent: percent})
	return true
}

func (b *BarState) UseSkill(skillName string) {
	b.mu.Lock()
	b.lastSkill = skillName
	b.mu.Unlock()
	b.emit(Change{Name: SkillUse, Skill: skillName})
}

func (b *BarState) StartMcpCall(server string) {
	b.mu.Lock()
	b.currentMcp = server
	b.mu.Unlock()
	b.emit(Change{Name: McpStart, McpServer: server})
}

func (b *BarState) EndMcpCall() {
	b.mu.Lock()
	b.currentMcp = ""
	b.mu.Unlock()
	b.emit(Change{Name: McpEnd})
}

func (b *BarState) Session(sessionID string) (Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sessions returns open sessions in the order they were seated.
func (b *BarState) Sessions() []Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Session, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.sessions[id])
	}
	return out
}

func (b *BarState) Agent(agentID string) (Agent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// Agents returns active agents in arrival order.
func (b *BarState) Agents() []Agent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Agent, 0, len(b.agentOrder))
	for _, id := range b.agentOrder {
		out = append(out, *b.agents[id])
	}
	return out
}

func (b *BarState) IsOpen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isOpen
}

// CurrentMcp is the MCP server of the call in flight, "" when idle.
func (b *BarState) CurrentMcp() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentMcp
}

func (b *BarState) LastSkill() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSkill
}
