package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

func TestAssignTeam(t *testing.T) {
	cases := []struct {
		name      string
		sessionID string
		want      types.TeamKey
	}{
		{name: "empty id hashes to zero", sessionID: "", want: types.TeamMU},
		{name: "single char", sessionID: "a", want: types.TeamChelsea},
		{name: "negative hash", sessionID: "abc123", want: types.TeamMU},
		{name: "another negative hash", sessionID: "xyz789", want: types.TeamChelsea},
		{name: "default status line id", sessionID: "session-main", want: types.TeamMU},
		{name: "positive overflowed hash", sessionID: "sess-10", want: types.TeamArsenal},
		{name: "non ascii", sessionID: "héllo", want: types.TeamACMilan},
		{name: "surrogate pair counts two units", sessionID: "😀x", want: types.TeamJuventus},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AssignTeam(tc.sessionID))
			// stable across calls
			assert.Equal(t, AssignTeam(tc.sessionID), AssignTeam(tc.sessionID))
		})
	}
}

func TestTableFor_FixedPerTeam(t *testing.T) {
	for i, key := range types.TableTeams {
		idx, ok := types.TableIndexForTeam(key)
		require.True(t, ok)
		assert.Equal(t, i, idx)
	}

	team, table := TableFor("sess-4")
	assert.Equal(t, types.TeamLiverpool, team)
	assert.Equal(t, 7, table)
}

func TestOpenSession_Idempotent(t *testing.T) {
	m := NewManager()

	first, err := m.OpenSession("abc123", 10)
	require.NoError(t, err)
	second, err := m.OpenSession("abc123", 90)
	require.NoError(t, err)

	assert.Equal(t, first.TableIndex, second.TableIndex)
	assert.Equal(t, 10.0, second.ContextPercent, "duplicate open must not modify the session")
	assert.Len(t, m.Sessions(), 1)
}

func TestOpenSession_TableExclusivity(t *testing.T) {
	m := NewManager()
	seen := map[int]string{}

	// sess-1 .. sess-8 cover all eight teams
	for _, id := range []string{"sess-1", "sess-2", "sess-3", "sess-4", "sess-5", "sess-6", "sess-7", "sess-8"} {
		s, err := m.OpenSession(id, 0)
		require.NoError(t, err, id)
		if other, dup := seen[s.TableIndex]; dup {
			t.Fatalf("table %d given to both %s and %s", s.TableIndex, other, id)
		}
		seen[s.TableIndex] = id

		occupant, ok := m.TableOccupant(s.TableIndex)
		require.True(t, ok)
		assert.Equal(t, id, occupant)
	}
	assert.Len(t, seen, types.MaxSessions)
}

func TestOpenSession_SameTeamRejected(t *testing.T) {
	m := NewManager()

	a, err := m.OpenSession("abc123", 0)
	require.NoError(t, err)

	// "session-main" hashes to the same team as "abc123"
	_, err = m.OpenSession("session-main", 0)
	if err == nil || !errors.Is(err, ErrTableOccupied) {
		t.Fatalf("want ErrTableOccupied, got %v", err)
	}

	still, ok := m.Session("abc123")
	require.True(t, ok)
	assert.Equal(t, a.TableIndex, still.TableIndex)
	_, ok = m.Session("session-main")
	assert.False(t, ok)
}

func TestOpenSession_EmptyID(t *testing.T) {
	_, err := NewManager().OpenSession("", 0)
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestCloseSession_Cascade(t *testing.T) {
	m := NewManager()
	abc, err := m.OpenSession("abc123", 0)
	require.NoError(t, err)
	_, err = m.OpenSession("xyz789", 0)
	require.NoError(t, err)

	_, err = m.AddAgent("abc123", "a1", "researcher", "find bug")
	require.NoError(t, err)
	_, err = m.AddAgent("abc123", "a2", "coder", "")
	require.NoError(t, err)
	_, err = m.AddAgent("xyz789", "b1", "coder", "")
	require.NoError(t, err)

	closed, err := m.CloseSession("abc123")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, closed.AgentIDs)

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "xyz789", sessions[0].SessionID)

	for _, a := range m.Agents() {
		assert.NotEqual(t, "abc123", a.SessionID)
	}
	_, ok := m.Agent("a1")
	assert.False(t, ok)

	_, ok = m.TableOccupant(abc.TableIndex)
	assert.False(t, ok)

	// table is free for another session of the same team
	again, err := m.OpenSession("session-main", 0)
	require.NoError(t, err)
	assert.Equal(t, abc.TableIndex, again.TableIndex)
}

func TestCloseSession_Unknown(t *testing.T) {
	_, err := NewManager().CloseSession("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestExampleScenario(t *testing.T) {
	m := NewManager()

	s0, err := m.OpenSession("abc123", 0)
	require.NoError(t, err)
	s1, err := m.OpenSession("xyz789", 0)
	require.NoError(t, err)
	assert.NotEqual(t, s0.TeamKey, s1.TeamKey)
	assert.NotEqual(t, s0.TableIndex, s1.TableIndex)

	require.NoError(t, m.UpdateContext("abc123", 42, 5000))
	got, _ := m.Session("abc123")
	assert.Equal(t, 42.0, got.ContextPercent)
	assert.Equal(t, int64(5000), got.TokensUsed)

	_, err = m.CloseSession("abc123")
	require.NoError(t, err)
	require.Len(t, m.Sessions(), 1)
	assert.Equal(t, "xyz789", m.Sessions()[0].SessionID)

	reopened, err := m.OpenSession("session-main", 0)
	require.NoError(t, err)
	assert.Equal(t, s0.TableIndex, reopened.TableIndex)
}

func TestAgentLifecycle(t *testing.T) {
	m := NewManager()
	_, err := m.OpenSession("abc123", 0)
	require.NoError(t, err)

	_, err = m.AddAgent("abc123", "a1", "researcher", "find bug")
	require.NoError(t, err)

	s, _ := m.Session("abc123")
	assert.Equal(t, []string{"a1"}, s.AgentIDs)

	removed, err := m.RemoveAgent("a1", "found it")
	require.NoError(t, err)
	assert.Equal(t, "find bug", removed.Description)
	assert.Equal(t, "found it", removed.Result)

	s, _ = m.Session("abc123")
	assert.Empty(t, s.AgentIDs)

	_, err = m.RemoveAgent("a1", "")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestAddAgent_UnknownSession(t *testing.T) {
	_, err := NewManager().AddAgent("ghost", "a1", "coder", "")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestAddAgent_DuplicateIDKeepsOriginal(t *testing.T) {
	m := NewManager()
	_, err := m.OpenSession("abc123", 0)
	require.NoError(t, err)

	_, err = m.AddAgent("abc123", "a1", "researcher", "first")
	require.NoError(t, err)
	again, err := m.AddAgent("abc123", "a1", "coder", "second")
	require.NoError(t, err)

	assert.Equal(t, "first", again.Description)
	s, _ := m.Session("abc123")
	assert.Equal(t, []string{"a1"}, s.AgentIDs)
}

func TestUpdateContext(t *testing.T) {
	m := NewManager()
	assert.ErrorIs(t, m.UpdateContext("ghost", 10, 10), ErrUnknownSession)

	_, err := m.OpenSession("abc123", 0)
	require.NoError(t, err)

	// out of range values are stored as given
	require.NoError(t, m.UpdateContext("abc123", 130, 1))
	s, _ := m.Session("abc123")
	assert.Equal(t, 130.0, s.ContextPercent)

	require.NoError(t, m.ResetContext("abc123", 5))
	s, _ = m.Session("abc123")
	assert.Equal(t, 5.0, s.ContextPercent)
	assert.Zero(t, s.TokensUsed)
}

func TestRemaining_Monotonic(t *testing.T) {
	prev := Remaining(0)
	assert.Equal(t, 100.0, prev)
	for p := 1.0; p <= 100; p++ {
		r := Remaining(p)
		assert.Equal(t, 100-p, r)
		assert.Less(t, r, prev)
		prev = r
	}
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	m := NewManager()
	s, err := m.OpenSession("abc123", 0)
	require.NoError(t, err)
	_, err = m.AddAgent("abc123", "a1", "coder", "")
	require.NoError(t, err)

	s.ContextPercent = 99
	got, _ := m.Session("abc123")
	got.AgentIDs[0] = "mutated"

	again, _ := m.Session("abc123")
	assert.Zero(t, again.ContextPercent)
	assert.Equal(t, []string{"a1"}, again.AgentIDs)
}

func TestStateSyncPayload(t *testing.T) {
	m := NewManager()
	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		_, err := m.OpenSession(id, 0)
		require.NoError(t, err)
	}
	require.NoError(t, m.UpdateContext("sess-2", 37.5, 1200))
	_, err := m.AddAgent("sess-3", "a1", "explorer", "scan repo")
	require.NoError(t, err)

	p := m.StateSyncPayload()
	require.Len(t, p.Sessions, 3)
	assert.Equal(t, "sess-1", p.Sessions[0].SessionID)
	assert.Equal(t, types.TeamArsenal, p.Sessions[0].TeamKey)
	assert.Equal(t, 2, p.Sessions[0].TableIndex)
	assert.Equal(t, 37.5, p.Sessions[1].ContextPercent)
	assert.Equal(t, []string{"a1"}, p.Sessions[2].AgentIDs)

	require.Len(t, p.Agents, 1)
	assert.Equal(t, types.SyncAgent{AgentID: "a1", SessionID: "sess-3", AgentType: "explorer", Description: "scan repo"}, p.Agents[0])
}
