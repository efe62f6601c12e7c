package engine

import (
	"slices"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

func (s *Session) clone() Session {
	out := *s
	out.AgentIDs = slices.Clone(s.AgentIDs)
	if out.AgentIDs == nil {
		out.AgentIDs = []string{}
	}
	return out
}

// Remaining is the share of the context window still free, the value the
// renderer drains.
func (s Session) Remaining() float64 {
	return Remaining(s.ContextPercent)
}

func Remaining(contextPercent float64) float64 {
	return 100 - contextPercent
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(x string) bool { return x == id })
}

func toSyncSession(s Session) types.SyncSession {
	return types.SyncSession{
		SessionID:      s.SessionID,
		TeamKey:        s.TeamKey,
		TableIndex:     s.TableIndex,
		ContextPercent: s.ContextPercent,
		TokensUsed:     s.TokensUsed,
		AgentIDs:       s.AgentIDs,
	}
}
