package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/openmined/artifactsync/internal/config"
	"github.com/openmined/artifactsync/internal/sync"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	lightGray = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
	bold      = lipgloss.NewStyle().Bold(true)
)

func actionStyle(a sync.Action) lipgloss.Style {
	switch {
	case a.IsPull(), a.IsPush():
		return green
	case a == sync.ActionDeleteLocal, a == sync.ActionDeleteRemote:
		return yellow
	case a == sync.ActionConflict:
		return red
	}
	return gray
}

func renderHeader(w io.Writer, inst config.Instance) {
	fmt.Fprintln(w, bold.Render(inst.ID)+" "+gray.Render(inst.URL))
}

func renderLine(w io.Writer, style lipgloss.Style, label, id string) {
	fmt.Fprintf(w, "  %s %s\n", style.Render(fmt.Sprintf("%-16s", label)), id)
}

func renderPlan(w io.Writer, inst config.Instance, plan *sync.Plan) {
	renderHeader(w, inst)

	for _, step := range plan.FileSteps() {
		renderLine(w, actionStyle(step.Action), string(step.Action), step.ID())
	}
	for _, step := range plan.Conflicts {
		renderLine(w, red, string(sync.ActionConflict), step.ID())
	}
	for _, f := range plan.Skipped {
		renderLine(w, red, "error", fmt.Sprintf("%s: %v", f.Key, f.Err))
	}

	if plan.Empty() && len(plan.Skipped) == 0 {
		fmt.Fprintln(w, green.Render("up to date"))
	}
	fmt.Fprintln(w, gray.Render(fmt.Sprintf("%d unchanged", len(plan.Unchanged))))
}

func renderSummary(w io.Writer, inst config.Instance, s *sync.Summary) {
	renderHeader(w, inst)

	sections := []struct {
		label string
		style lipgloss.Style
		ids   []string
	}{
		{"pulled", green, s.LocallyUpdated},
		{"pushed", green, s.RemotelyUpdated},
		{"deleted locally", yellow, s.LocallyDeleted},
		{"deleted remotely", yellow, s.RemotelyDeleted},
		{"resolved", cyan, s.Resolved},
		{"recorded", lightGray, s.MetadataUpdated},
		{"conflicted", red, s.Conflicted},
		{"skipped", gray, s.Skipped},
	}
	for _, section := range sections {
		for _, id := range section.ids {
			renderLine(w, section.style, section.label, id)
		}
	}
	for _, f := range s.Failed {
		renderLine(w, red, "failed", fmt.Sprintf("%s: %v", f.ID, f.Err))
	}

	if s.Empty() {
		fmt.Fprintln(w, green.Render("up to date"))
	}
	fmt.Fprintln(w, gray.Render(fmt.Sprintf("session %s: %d changed, %d conflicted, %d failed",
		s.Session, s.Changed(), len(s.Conflicted), len(s.Failed))))
}
