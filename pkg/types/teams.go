package types

// MaxSessions is the number of physical tables in the bar.
const MaxSessions = 8

type TeamKey string

const (
	TeamMU         TeamKey = "mu"
	TeamChelsea    TeamKey = "chelsea"
	TeamArsenal    TeamKey = "arsenal"
	TeamRealMadrid TeamKey = "real-madrid"
	TeamBarcelona  TeamKey = "barcelona"
	TeamJuventus   TeamKey = "juventus"
	TeamACMilan    TeamKey = "ac-milan"
	TeamLiverpool  TeamKey = "liverpool"
)

type Team struct {
	Key            TeamKey `json:"key"`
	Name           string  `json:"name"`
	PrimaryColor   string  `json:"primaryColor"`
	SecondaryColor string  `json:"secondaryColor"`
	SpriteKey      string  `json:"spriteKey"`
}

// Teams is ordered; the hash in AssignTeam indexes into it.
var Teams = [MaxSessions]Team{
	{Key: TeamMU, Name: "Manchester United", PrimaryColor: "#DA291C", SecondaryColor: "#FFE500", SpriteKey: "fan-mu"},
	{Key: TeamChelsea, Name: "Chelsea", PrimaryColor: "#034694", SecondaryColor: "#DBA111", SpriteKey: "fan-chelsea"},
	{Key: TeamArsenal, Name: "Arsenal", PrimaryColor: "#EF0107", SecondaryColor: "#FFFFFF", SpriteKey: "fan-arsenal"},
	{Key: TeamRealMadrid, Name: "Real Madrid", PrimaryColor: "#FFFFFF", SecondaryColor: "#00529F", SpriteKey: "fan-real-madrid"},
	{Key: TeamBarcelona, Name: "Barcelona", PrimaryColor: "#004D98", SecondaryColor: "#A50044", SpriteKey: "fan-barcelona"},
	{Key: TeamJuventus, Name: "Juventus", PrimaryColor: "#000000", SecondaryColor: "#FFFFFF", SpriteKey: "fan-juventus"},
	{Key: TeamACMilan, Name: "AC Milan", PrimaryColor: "#FB090B", SecondaryColor: "#000000", SpriteKey: "fan-ac-milan"},
	{Key: TeamLiverpool, Name: "Liverpool", PrimaryColor: "#C8102E", SecondaryColor: "#00B2A9", SpriteKey: "fan-liverpool"},
}

// TableTeams binds each table index to its pre-rendered team logo.
var TableTeams = [MaxSessions]TeamKey{
	TeamMU, TeamChelsea, TeamArsenal, TeamRealMadrid,
	TeamBarcelona, TeamJuventus, TeamACMilan, TeamLiverpool,
}

// LookupTeam returns the configuration for key.
func LookupTeam(key TeamKey) (Team, bool) {
	for _, t := range Teams {
		if t.Key == key {
			return t, true
		}
	}
	return Team{}, false
}

// TableIndexForTeam returns the fixed table bound to key.
func TableIndexForTeam(key TeamKey) (int, bool) {
	for i, k := range TableTeams {
		if k == key {
			return i, true
		}
	}
	return -1, false
}
