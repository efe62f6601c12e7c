// Package tui is a terminal view of the bar: one row per table, fed by a
// mirror.BarState that a client keeps current.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tungdtfgw/ccviz/internal/mirror"
)

const maxActivity = 8

type keyMap struct {
	Quit  key.Binding
	Clear key.Binding
	Help  key.Binding
}

func (k keyMap) ShortHelp() []key.Binding { return []key.Binding{k.Help, k.Clear, k.Quit} }

func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

func defaultKeys() keyMap {
	return keyMap{
		Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
		Clear: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear activity")),
		Help:  key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	}
}

type activity struct {
	at     time.Time
	change mirror.Change
}

// Model is the bubbletea model. All bar data is read from the mirror at
// render time; the model itself only keeps the activity feed.
type Model struct {
	bar       *mirror.BarState
	server    string
	changes   <-chan mirror.Change
	status    <-chan bool
	connected bool

	activity []activity
	keys     keyMap
	help     help.Model
	width    int
	now      func() time.Time
}

func NewModel(bar *mirror.BarState, server string, changes <-chan mirror.Change, status <-chan bool) *Model {
	return &Model{
		bar:     bar,
		server:  server,
		changes: changes,
		status:  status,
		keys:    defaultKeys(),
		help:    help.New(),
		now:     time.Now,
	}
}

// Message types
type (
	changeMsg mirror.Change
	statusMsg bool
	tickMsg   struct{}
)

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		waitFor(m.changes, func(c mirror.Change) tea.Msg { return changeMsg(c) }),
		waitFor(m.status, func(up bool) tea.Msg { return statusMsg(up) }),
		tick(),
		tea.SetWindowTitle("ccviz"),
	)
}

func waitFor[T any](ch <-chan T, wrap func(T) tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		return wrap(v)
	}
}

// tick refreshes relative times in the activity feed.
func tick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Clear):
			m.activity = nil
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case changeMsg:
		m.record(mirror.Change(msg))
		return m, waitFor(m.changes, func(c mirror.Change) tea.Msg { return changeMsg(c) })

	case statusMsg:
		m.connected = bool(msg)
		return m, waitFor(m.status, func(up bool) tea.Msg { return statusMsg(up) })

	case tickMsg:
		return m, tick()
	}
	return m, nil
}

func (m *Model) record(c mirror.Change) {
	// newest first
	m.activity = append([]activity{{at: m.now(), change: c}}, m.activity...)
	if len(m.activity) > maxActivity {
		m.activity = m.activity[:maxActivity]
	}
}

// Subscribe forwards every mirror change into a buffered channel. A viewer
// that falls behind loses feed lines, never bar state.
func Subscribe(bar *mirror.BarState, buffer int) (<-chan mirror.Change, func()) {
	ch := make(chan mirror.Change, buffer)
	names := []mirror.EventName{
		mirror.BarOpen, mirror.BarClose, mirror.SessionOpen, mirror.SessionClose,
		mirror.AgentEnter, mirror.AgentLeave, mirror.ContextUpdate, mirror.ContextReset,
		mirror.SkillUse, mirror.McpStart, mirror.McpEnd,
	}
	offs := make([]func(), 0, len(names))
	for _, name := range names {
		offs = append(offs, bar.On(name, func(c mirror.Change) {
			select {
			case ch <- c:
			default:
			}
		}))
	}
	return ch, func() {
		for _, off := range offs {
			off()
		}
	}
}

// Run shows the viewer until the user quits or ctx is cancelled.
func Run(ctx context.Context, bar *mirror.BarState, server string, status <-chan bool) error {
	changes, unsubscribe := Subscribe(bar, 64)
	defer unsubscribe()

	p := tea.NewProgram(NewModel(bar, server, changes, status), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
