package cmdcli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/csk-next/csk/internal/status"
	"github.com/csk-next/csk/internal/watch"
)

// quitKey mirrors the teacher TUI's key.Matches idiom for recognizing
// the keys that end the dashboard.
var quitKey = key.NewBinding(key.WithKeys("q", "ctrl+c"))

var (
	phaseStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	nextStyle    = lipgloss.NewStyle().Italic(true)
)

// dashboard is the bubbletea model for `csk status --watch`: it reloads
// the status projection whenever the watcher signals durable state
// changed, and otherwise just renders the last projection it read.
type dashboard struct {
	stateRoot string
	proj      *status.ProjectStatus
	err       error
	width     int
}

func newDashboard(stateRoot string) *dashboard {
	d := &dashboard{stateRoot: stateRoot}
	d.reload()
	return d
}

func (d *dashboard) reload() {
	proj, err := status.Project(d.stateRoot)
	d.proj, d.err = proj, err
}

func (d *dashboard) Init() tea.Cmd {
	return nil
}

type reloadMsg struct{}

func (d *dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, quitKey) {
			return d, tea.Quit
		}
	case tea.WindowSizeMsg:
		d.width = msg.Width
	case reloadMsg:
		d.reload()
	}
	return d, nil
}

func (d *dashboard) View() string {
	if d.err != nil {
		return fmt.Sprintf("error: %v\n", d.err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n\n", headerStyle.Render("csk status"), phaseStyle.Render(string(d.proj.Phase)))
	fmt.Fprintf(&b, "%-16s %-18s %-14s %-10s %s\n", "MODULE", "PHASE", "TASK", "SLICES", "UPDATED")
	for _, m := range d.proj.Modules {
		phase := string(m.Phase)
		if m.Phase == status.PhaseBlocked {
			phase = blockedStyle.Render(phase)
		}
		moduleID := m.ModuleID
		if moduleID == d.proj.ActiveModule {
			moduleID = activeStyle.Render(moduleID)
		}
		fmt.Fprintf(&b, "%-16s %-18s %-14s %d/%-8d %s\n",
			moduleID, phase, m.ActiveTaskID, m.SlicesDone, m.SlicesTotal, m.UpdatedAt)
	}
	fmt.Fprintf(&b, "\n%s\n", nextStyle.Render("next: "+d.proj.Next))
	fmt.Fprint(&b, "\n(q to quit)\n")
	return b.String()
}

// runDashboard drives the bubbletea program, wiring a watcher over the
// state root's durable directories so the view refreshes on every
// meaningful change instead of polling.
func runDashboard(stateRoot string) error {
	if flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	} else {
		lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).ColorProfile())
	}

	model := newDashboard(stateRoot)
	p := tea.NewProgram(model)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	paths := watchPaths(stateRoot)
	w, err := watch.New(paths, func() { p.Send(reloadMsg{}) })
	if err == nil {
		defer w.Close()
		go w.Run(ctx, nil)
	}

	_, err = p.Run()
	return err
}

// watchPaths lists the missions directory, every module's tasks directory,
// and every existing per-task subdirectory under those, because fsnotify
// does not watch recursively: a write inside tasks/<task-id>/ would
// otherwise go unseen by a watch on tasks/ alone.
func watchPaths(stateRoot string) []string {
	modulesDir := filepath.Join(stateRoot, ".csk", "modules")
	paths := []string{filepath.Join(stateRoot, ".csk", "app", "missions")}
	for _, pattern := range []string{filepath.Join(modulesDir, "*", "tasks"), filepath.Join(modulesDir, "*", "tasks", "*")} {
		entries, err := filepath.Glob(pattern)
		if err != nil {
			return paths
		}
		paths = append(paths, entries...)
	}
	return paths
}
