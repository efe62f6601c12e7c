package engine

import (
	"unicode/utf16"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

// AssignTeam maps a session id to one of the fixed teams. It is a 32-bit
// signed polynomial hash (x31) over the UTF-16 code units of sessionID, so a
// session that reconnects after a restart lands on the same team and table.
func AssignTeam(sessionID string) types.TeamKey {
	return types.Teams[teamIndex(sessionID)].Key
}

func teamIndex(sessionID string) int {
	var hash int32
	for _, unit := range utf16.Encode([]rune(sessionID)) {
		hash = hash*31 + int32(unit)
	}
	h := int64(hash)
	if h < 0 {
		h = -h
	}
	return int(h % int64(len(types.Teams)))
}

// TableFor returns the team and fixed table index for sessionID.
func TableFor(sessionID string) (types.TeamKey, int) {
	team := AssignTeam(sessionID)
	idx, _ := types.TableIndexForTeam(team)
	return team, idx
}
