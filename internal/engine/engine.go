package engine

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

var ErrEmptyID = errors.New("empty id")
var ErrTableOccupied = errors.New("table occupied")
var ErrUnknownSession = errors.New("unknown session")
var ErrUnknownAgent = errors.New("unknown agent")

type Session struct {
	SessionID      string
	TeamKey        types.TeamKey
	TableIndex     int
	ContextPercent float64
	TokensUsed     int64
	AgentIDs       []string
	CreatedAt      time.Time
}

type Agent struct {
	AgentID     string
	SessionID   string
	AgentType   string
	Description string
	Result      string
	CreatedAt   time.Time
}

// Manager is the authoritative bar state. It is not safe for concurrent use;
// the relay confines it to a single goroutine.
type Manager struct {
	sessions map[string]*Session
	agents   map[string]*Agent
	tables   [types.MaxSessions]string // table index -> session id, "" when free
	order    []string                  // session ids in open order
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Manager)

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		agents:   make(map[string]*Agent),
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OpenSession seats sessionID at its team's table. Opening a session that is
// already open returns it unchanged. There is no fallback table: a second
// session of the same team is refused while the first one is seated.
func (m *Manager) OpenSession(sessionID string, contextPercent float64) (Session, error) {
	if sessionID == "" {
		return Session{}, ErrEmptyID
	}
	if s, ok := m.sessions[sessionID]; ok {
		return s.clone(), nil
	}

	team, table := TableFor(sessionID)
	if occupant := m.tables[table]; occupant != "" {
		m.log.Warn("table occupied",
			zap.String("session", sessionID),
			zap.String("team", string(team)),
			zap.Int("table", table),
			zap.String("occupant", occupant))
		return Session{}, ErrTableOccupied
	}

	s := &Session{
		SessionID:      sessionID,
		TeamKey:        team,
		TableIndex:     table,
		ContextPercent: contextPercent,
		AgentIDs:       []string{},
		CreatedAt:      m.now(),
	}
	m.sessions[sessionID] = s
	m.tables[table] = sessionID
	m.order = append(m.order, sessionID)

	m.log.Info("session opened",
		zap.String("session", sessionID),
		zap.String("team", string(team)),
		zap.Int("table", table))
	return s.clone(), nil
}

// CloseSession removes the session and every agent it owns, freeing its table.
func (m *Manager) CloseSession(sessionID string) (Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrUnknownSession
	}

	for _, id := range s.AgentIDs {
		delete(m.agents, id)
	}
	if m.tables[s.TableIndex] == sessionID {
		m.tables[s.TableIndex] = ""
	}
	delete(m.sessions, sessionID)
	m.order = removeID(m.order, sessionID)

	m.log.Info("session closed",
		zap.String("session", sessionID),
		zap.Int("table", s.TableIndex),
		zap.Int("agents", len(s.AgentIDs)))
	return s.clone(), nil
}

// AddAgent registers agentID under sessionID. Adding an agent id that is
// already live returns the existing record.
func (m *Manager) AddAgent(sessionID, agentID, agentType, description string) (Agent, error) {
	if agentID == "" {
		return Agent{}, ErrEmptyID
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return Agent{}, ErrUnknownSession
	}
	if a, ok := m.agents[agentID]; ok {
		return *a, nil
	}

	a := &Agent{
		AgentID:     agentID,
		SessionID:   sessionID,
		AgentType:   agentType,
		Description: description,
		CreatedAt:   m.now(),
	}
	m.agents[agentID] = a
	s.AgentIDs = append(s.AgentIDs, agentID)

	m.log.Info("agent added",
		zap.String("agent", agentID),
		zap.String("type", agentType),
		zap.String("session", sessionID))
	return *a, nil
}

// RemoveAgent detaches agentID from its session and deletes it. result is
// recorded on the returned record only.
func (m *Manager) RemoveAgent(agentID, result string) (Agent, error) {
	a, ok := m.agents[agentID]
	if !ok {
		return Agent{}, ErrUnknownAgent
	}
	if s, ok := m.sessions[a.SessionID]; ok {
		s.AgentIDs = removeID(s.AgentIDs, agentID)
	}
	delete(m.agents, agentID)

	out := *a
	out.Result = result
	m.log.Info("agent removed", zap.String("agent", agentID), zap.String("session", a.SessionID))
	return out, nil
}

// UpdateContext overwrites both context fields. Values are not clamped.
func (m *Manager) UpdateContext(sessionID string, percent float64, tokens int64) error {
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	s.ContextPercent = percent
	s.TokensUsed = tokens
	return nil
}

// ResetContext applies a /clear or /compact: new percent, token count zeroed.
func (m *Manager) ResetContext(sessionID string, percent float64) error {
	return m.UpdateContext(sessionID, percent, 0)
}

func (m *Manager) Session(sessionID string) (Session, bool) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Sessions returns every open session in the order it was opened.
func (m *Manager) Sessions() []Session {
	out := make([]Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id].clone())
	}
	return out
}

func (m *Manager) Agent(agentID string) (Agent, bool) {
	a, ok := m.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// Agents returns live agents grouped by session in session open order.
func (m *Manager) Agents() []Agent {
	out := make([]Agent, 0, len(m.agents))
	for _, sid := range m.order {
		for _, aid := range m.sessions[sid].AgentIDs {
			out = append(out, *m.agents[aid])
		}
	}
	return out
}

// TableOccupant returns the session seated at table i.
func (m *Manager) TableOccupant(i int) (string, bool) {
	if i < 0 || i >= len(m.tables) || m.tables[i] == "" {
		return "", false
	}
	return m.tables[i], true
}

// StateSyncPayload is the snapshot pushed to newly connected clients.
func (m *Manager) StateSyncPayload() types.StateSyncPayload {
	p := types.StateSyncPayload{Sessions: make([]types.SyncSession, 0, len(m.order))}
	for _, s := range m.Sessions() {
		p.Sessions = append(p.Sessions, toSyncSession(s))
	}
	for _, a := range m.Agents() {
		p.Agents = append(p.Agents, types.SyncAgent{
			AgentID:     a.AgentID,
			SessionID:   a.SessionID,
			AgentType:   a.AgentType,
			Description: a.Description,
		})
	}
	return p
}
