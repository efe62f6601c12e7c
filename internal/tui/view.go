package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tungdtfgw/ccviz/internal/mirror"
	"github.com/tungdtfgw/ccviz/pkg/types"
)

const barCells = 10

// Colors
var (
	colorTitle  = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
	colorOK     = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorLow    = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorDim    = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	colorBorder = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#4a5058"}
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorTitle)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	upStyle   = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	downStyle = lipgloss.NewStyle().Foreground(colorLow).Bold(true)
)

var titleCase = cases.Title(language.English)

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.tables()))
	b.WriteString("\n")
	b.WriteString(m.footer())
	b.WriteString("\n")
	if feed := m.feed(); feed != "" {
		b.WriteString(feed)
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) header() string {
	state := dimStyle.Render("closed")
	if m.bar.IsOpen() {
		state = upStyle.Render("open")
	}
	conn := downStyle.Render("● offline")
	if m.connected {
		conn = upStyle.Render("● live")
	}
	return fmt.Sprintf("%s  bar %s  %s %s",
		titleStyle.Render("ccviz"), state, conn, dimStyle.Render(m.server))
}

func (m *Model) tables() string {
	seated := make(map[int]mirror.Session, types.MaxSessions)
	for _, s := range m.bar.Sessions() {
		seated[s.TableIndex] = s
	}
	agents := make(map[string]int)
	for _, a := range m.bar.Agents() {
		agents[a.SessionID]++
	}

	rows := make([]string, 0, types.MaxSessions)
	for i, key := range types.TableTeams {
		team, _ := types.LookupTeam(key)
		name := lipgloss.NewStyle().
			Foreground(lipgloss.Color(team.PrimaryColor)).
			Width(18).
			Render(team.Name)

		s, ok := seated[i]
		if !ok {
			rows = append(rows, fmt.Sprintf("%d  %s %s", i, name, dimStyle.Render("empty")))
			continue
		}
		rows = append(rows, fmt.Sprintf("%d  %s %-12s %s %s  %s  %s",
			i, name, shortID(s.SessionID),
			contextBar(s.Remaining()),
			fmt.Sprintf("%3.0f%% left", s.Remaining()),
			dimStyle.Render(humanize.Comma(s.TokensUsed)+" tok"),
			agentCount(agents[s.SessionID]),
		))
	}
	return strings.Join(rows, "\n")
}

func contextBar(remaining float64) string {
	filled := int(remaining/100*barCells + 0.5)
	filled = min(max(filled, 0), barCells)

	color := colorOK
	switch {
	case remaining < 20:
		color = colorLow
	case remaining < 50:
		color = colorWarn
	}
	return lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled)) +
		dimStyle.Render(strings.Repeat("░", barCells-filled))
}

func agentCount(n int) string {
	switch n {
	case 0:
		return ""
	case 1:
		return "1 agent"
	default:
		return fmt.Sprintf("%d agents", n)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:11] + "…"
	}
	return id
}

func (m *Model) footer() string {
	mcp := dimStyle.Render("idle")
	if server := m.bar.CurrentMcp(); server != "" {
		mcp = upStyle.Render(server)
	}
	skill := dimStyle.Render("none")
	if s := m.bar.LastSkill(); s != "" {
		skill = s
	}
	return fmt.Sprintf("mcp: %s   last skill: %s   agents: %d", mcp, skill, len(m.bar.Agents()))
}

func (m *Model) feed() string {
	if len(m.activity) == 0 {
		return ""
	}
	now := m.now()
	lines := make([]string, 0, len(m.activity))
	for _, a := range m.activity {
		when := humanize.RelTime(a.at, now, "ago", "from now")
		lines = append(lines, fmt.Sprintf("%s %s", dimStyle.Width(16).Render(when), describe(a.change)))
	}
	return strings.Join(lines, "\n")
}

// describe renders one change as a feed line.
func describe(c mirror.Change) string {
	switch c.Name {
	case mirror.BarOpen:
		return "bar opened"
	case mirror.BarClose:
		return "bar closed"
	case mirror.SessionOpen:
		team := string(c.Session.TeamKey)
		if t, ok := types.LookupTeam(c.Session.TeamKey); ok {
			team = t.Name
		}
		return fmt.Sprintf("%s sat down at table %d (%s)", shortID(c.SessionID), c.TableIndex, team)
	case mirror.SessionClose:
		return fmt.Sprintf("%s left table %d", shortID(c.SessionID), c.TableIndex)
	case mirror.AgentEnter:
		return fmt.Sprintf("%s agent joined %s", titleCase.String(c.Agent.Type), shortID(c.SessionID))
	case mirror.AgentLeave:
		return fmt.Sprintf("%s agent left %s", titleCase.String(c.Agent.Type), shortID(c.SessionID))
	case mirror.ContextUpdate:
		return fmt.Sprintf("%s context %.0f%% → %.0f%%", shortID(c.SessionID), c.PrevPercent, c.Percent)
	case mirror.ContextReset:
		return fmt.Sprintf("%s context reset to %.0f%%", shortID(c.SessionID), c.Percent)
	case mirror.SkillUse:
		return "skill " + c.Skill
	case mirror.McpStart:
		return "mcp call to " + c.McpServer
	case mirror.McpEnd:
		return "mcp call finished"
	}
	return string(c.Name)
}
