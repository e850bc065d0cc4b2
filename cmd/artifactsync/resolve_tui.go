package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/openmined/artifactsync/internal/sync"
)

type conflictKeys struct {
	KeepLocal  key.Binding
	KeepRemote key.Binding
	Skip       key.Binding
	Next       key.Binding
	SkipAll    key.Binding
}

func (k conflictKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.KeepLocal, k.KeepRemote, k.Skip, k.Next, k.SkipAll}
}

func (k conflictKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultConflictKeys = conflictKeys{
	KeepLocal:  key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "keep local")),
	KeepRemote: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "keep remote")),
	Skip:       key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "skip")),
	Next:       key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next buffer")),
	SkipAll:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "skip all")),
}

type buffer int

const (
	localBuffer buffer = iota
	remoteBuffer
	baseBuffer
	bufferCount
)

func (b buffer) String() string {
	return [...]string{"local", "remote", "base"}[b]
}

// header, tabs and help around the viewport
const conflictChrome = 5

// conflictModel shows the three buffers of one conflict and waits for a decision.
type conflictModel struct {
	conflict *sync.Conflict
	keys     conflictKeys
	help     help.Model
	viewport viewport.Model
	shown    buffer

	choice  sync.ResolutionKind
	skipAll bool
}

func newConflictModel(c *sync.Conflict) conflictModel {
	m := conflictModel{
		conflict: c,
		keys:     defaultConflictKeys,
		help:     help.New(),
		viewport: viewport.New(80, 20),
	}
	m.viewport.SetContent(m.content())
	return m
}

func (m conflictModel) Init() tea.Cmd {
	return nil
}

func (m conflictModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-conflictChrome, 3)
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.KeepLocal):
			m.choice = sync.ResolveKeepLocal
			return m, tea.Quit
		case key.Matches(msg, m.keys.KeepRemote):
			m.choice = sync.ResolveKeepRemote
			return m, tea.Quit
		case key.Matches(msg, m.keys.Skip):
			m.choice = sync.ResolveSkip
			return m, tea.Quit
		case key.Matches(msg, m.keys.SkipAll):
			m.choice = sync.ResolveSkip
			m.skipAll = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Next):
			m.shown = (m.shown + 1) % bufferCount
			m.viewport.SetContent(m.content())
			m.viewport.GotoTop()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m conflictModel) content() string {
	var data []byte
	switch m.shown {
	case localBuffer:
		data = m.conflict.Current
	case remoteBuffer:
		data = m.conflict.Last
	case baseBuffer:
		data = m.conflict.Original
	}
	if data == nil {
		if m.shown == baseBuffer {
			return gray.Render("(no common ancestor)")
		}
		return gray.Render("(deleted)")
	}
	return string(data)
}

func (m conflictModel) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", red.Bold(true).Render("conflict"), m.conflict.ID())
	fmt.Fprintf(&b, "%s\n\n", gray.Render(m.conflict.LocalPath))

	tabs := make([]string, 0, bufferCount)
	for buf := localBuffer; buf < bufferCount; buf++ {
		if buf == m.shown {
			tabs = append(tabs, cyan.Bold(true).Render("["+buf.String()+"]"))
		} else {
			tabs = append(tabs, gray.Render(" "+buf.String()+" "))
		}
	}
	b.WriteString(strings.Join(tabs, " "))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	b.WriteString("\n")
	return b.String()
}

// interactiveResolver asks for a decision on every conflict. Conflicts are
// offered one at a time, so it holds no lock.
type interactiveResolver struct {
	in  io.Reader
	out io.Writer

	skipRest bool
}

func (r *interactiveResolver) Resolve(ctx context.Context, c *sync.Conflict) (sync.Resolution, error) {
	if r.skipRest {
		return sync.Resolution{Kind: sync.ResolveSkip}, nil
	}

	final, err := tea.NewProgram(newConflictModel(c),
		tea.WithContext(ctx),
		tea.WithInput(r.in),
		tea.WithOutput(r.out),
	).Run()
	if err != nil {
		return sync.Resolution{}, fmt.Errorf("conflict prompt: %w", err)
	}

	m, ok := final.(conflictModel)
	if !ok || m.choice == "" {
		return sync.Resolution{Kind: sync.ResolveSkip}, nil
	}
	r.skipRest = m.skipAll
	return sync.Resolution{Kind: m.choice}, nil
}
