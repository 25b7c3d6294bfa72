package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	labprogress "rtsync/internal/progress"
)

type progressModel struct {
	title      string
	events     <-chan labprogress.Event
	spinner    spinner.Model
	prog       progress.Model
	items      []labItem
	index      map[string]int
	stageLabel string
	width      int
	done       bool
}

type labItem struct {
	name    string
	status  string
	stage   labprogress.Stage
	elapsed time.Duration
}

type eventMsg labprogress.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders lab progress.
// The model quits when events is closed.
func NewProgressModel(title string, labs []string, events <-chan labprogress.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	items := make([]labItem, 0, len(labs))
	index := make(map[string]int, len(labs))
	for i, name := range labs {
		items = append(items, labItem{name: name, status: "queued"})
		index[name] = i
	}
	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		items:   items,
		index:   index,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(labprogress.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	case progress.FrameMsg:
		pm, cmd := m.prog.Update(msg)
		m.prog = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.stageLabel != "" {
		header = fmt.Sprintf("%s (%s)", header, m.stageLabel)
	}
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	nameWidth := max(m.width-12-16, 20)
	for _, item := range m.items {
		status := styleStatus(item.status).Render(fmt.Sprintf("%12s", item.status))
		fmt.Fprintf(&b, "  %s %s", status, truncate(item.name, nameWidth))
		if item.elapsed > 0 {
			fmt.Fprintf(&b, "  %s", item.elapsed.Round(time.Millisecond))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev labprogress.Event) tea.Cmd {
	label := statusLabel(ev.Stage, ev.Status)
	if ev.Lab == "" {
		if label != "" {
			m.stageLabel = label
		}
		return nil
	}
	idx, ok := m.index[ev.Lab]
	if !ok {
		return nil
	}
	if label != "" {
		m.items[idx].status = label
		m.items[idx].stage = ev.Stage
	}
	if ev.Status == labprogress.StatusDone || ev.Status == labprogress.StatusError {
		m.items[idx].elapsed = ev.Elapsed
	}

	total := 0.0
	for _, item := range m.items {
		if item.status == "done" || item.status == "error" {
			total += 1.0
		} else {
			total += progressFromStage(item.stage)
		}
	}
	return m.prog.SetPercent(total / float64(len(m.items)))
}

func progressFromStage(stage labprogress.Stage) float64 {
	switch stage {
	case labprogress.StageSetup:
		return 0.1
	case labprogress.StageRun:
		return 0.5
	case labprogress.StageDrain:
		return 0.8
	case labprogress.StageReport:
		return 0.95
	default:
		return 0.0
	}
}

func statusLabel(stage labprogress.Stage, status labprogress.Status) string {
	switch status {
	case labprogress.StatusQueued:
		return "queued"
	case labprogress.StatusDone:
		return "done"
	case labprogress.StatusError:
		return "error"
	case labprogress.StatusWorking:
		return stageLabel(stage)
	default:
		return ""
	}
}

func stageLabel(stage labprogress.Stage) string {
	switch stage {
	case labprogress.StageSetup:
		return "setting up"
	case labprogress.StageRun:
		return "running"
	case labprogress.StageDrain:
		return "draining"
	case labprogress.StageReport:
		return "reporting"
	default:
		return ""
	}
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "done":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "setting up", "running", "draining", "reporting":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
