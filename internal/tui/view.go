package tui

import (
	"fmt"
	"strconv"
	"strings"

	"batchqa/internal/tracker"

	"github.com/charmbracelet/lipgloss"
)

const framePad = 2

var (
	frame    = lipgloss.NewStyle().Padding(1, framePad)
	title    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	header   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("37"))
	selected = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	label    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	alert    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	tabOn    = title.Underline(true)
	barOn    = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	barOff   = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	statusColor = map[string]lipgloss.Style{
		"processing": barOn,
		"completed":  title,
		"success":    title,
		"failed":     alert,
		"error":      alert,
	}
)

const (
	listHelp    = "tab switch  j/k navigate  r refresh  q quit"
	historyHelp = "tab switch  j/k navigate  enter answers  d delete  r refresh  q quit"
	pagerHelp   = "j/k scroll  g/G top/bottom  esc back  q quit"
)

func (m Model) View() string {
	switch {
	case m.err != nil:
		return frame.Render(m.errorView())
	case m.selected != nil:
		return frame.Render(m.answersView())
	}
	return frame.Render(m.listView())
}

func (m Model) rule() string {
	return dim.Render(strings.Repeat("─", m.contentWidth()))
}

func (m Model) listView() string {
	counts := m.statusCounts()
	summary := fmt.Sprintf("  %s %d   %s %d   %s %d   %s %d",
		statusColor["processing"].Render("processing"), counts[tracker.StatusProcessing],
		statusColor["completed"].Render("completed"), counts[tracker.StatusCompleted],
		statusColor["failed"].Render("failed"), counts[tracker.StatusFailed],
		label.Render("history"), len(m.history))

	tabs := [2]string{dim.Render("Requests"), dim.Render("History")}
	tabs[m.tab] = tabOn.Render([2]string{"Requests", "History"}[m.tab])

	out := []string{title.Render("BATCHQA"), m.rule(), "", summary, "", "  " + tabs[0] + "   " + tabs[1], m.rule()}
	if m.tab == tabRequests {
		out = append(out, m.requestRows()...)
	} else {
		out = append(out, m.historyRows()...)
	}
	out = append(out, m.rule())

	switch {
	case m.confirmDelete != "":
		out = append(out, alert.Render(fmt.Sprintf("Delete job %s? (y/n)", m.confirmDelete)))
	case m.actionErr != nil:
		out = append(out, alert.Render(fmt.Sprintf("Error: %v", m.actionErr)))
	case m.notice != "":
		out = append(out, label.Render(m.notice))
	}
	help := listHelp
	if m.tab == tabHistory {
		help = historyHelp
	}
	return strings.Join(append(out, dim.Render(help)), "\n")
}

type column struct {
	name  string
	width int
}

var (
	requestCols = []column{{"REQUEST", 10}, {"STATUS", 12}, {"PROGRESS", 24}, {"FILES", 8}, {"JOB", 16}, {"MESSAGE", 40}}
	historyCols = []column{{"JOB", 18}, {"FILES", 8}, {"PROMPTS", 9}, {"FINISHED", 22}, {"FIRST PROMPT", 50}}
)

// row lays cells out in fixed-width columns, truncating overlong values.
// The last column is not padded.
func row(cols []column, cells ...string) string {
	var b strings.Builder
	for i, c := range cols {
		cell := cells[i]
		if lipgloss.Width(cell) >= c.width {
			cell = truncate(cell, c.width-1)
		}
		if i < len(cols)-1 {
			cell = lipgloss.NewStyle().Width(c.width).Render(cell)
		}
		b.WriteString(cell)
	}
	return b.String()
}

func headerRow(cols []column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return "  " + header.Render(row(cols, names...))
}

func (m Model) requestRows() []string {
	if len(m.requests) == 0 {
		return []string{dim.Render("No requests in flight.")}
	}
	const barWidth = 16
	out := []string{headerRow(requestCols)}
	for i, r := range m.requests {
		line := row(requestCols,
			tracker.ShortID(r.ID),
			string(r.Status),
			progressBar(r.Progress, barWidth)+fmt.Sprintf(" %3.0f%%", r.Progress),
			fmt.Sprintf("%d/%d", r.Completed(), r.Total()),
			r.ServerJobID,
			r.Error,
		)
		out = append(out, m.mark(i == m.cursors[tabRequests], line))
	}
	return out
}

func (m Model) historyRows() []string {
	if len(m.history) == 0 {
		return []string{dim.Render("No completed jobs.")}
	}
	out := []string{headerRow(historyCols)}
	for i, item := range m.history {
		var when, first string
		if !item.Timestamp.IsZero() {
			when = item.Timestamp.Local().Format("2006-01-02 15:04:05")
		}
		if len(item.PromptList) > 0 {
			first = item.PromptList[0]
		}
		line := row(historyCols,
			item.JobID,
			strconv.Itoa(item.Total()),
			strconv.Itoa(len(item.PromptList)),
			when,
			first,
		)
		out = append(out, m.mark(i == m.cursors[tabHistory], line))
	}
	return out
}

func (m Model) mark(current bool, line string) string {
	if !current {
		return "  " + line
	}
	return selected.Render("> " + line)
}

func (m Model) answersView() string {
	h := m.pageHeight()
	out := append([]string{title.Render("JOB " + m.selected.JobID), m.rule()}, m.pager.window(h)...)
	out = append(out, m.rule(), dim.Render(pagerHelp+m.pager.position(h)))
	return strings.Join(out, "\n")
}

// contentWidth is the terminal width inside the frame, or 76 before the
// first WindowSizeMsg.
func (m Model) contentWidth() int {
	if w := m.width - 2*framePad; w >= 40 {
		return w
	}
	return 76
}

// pageHeight leaves room for the frame, title, two rules and the help line.
func (m Model) pageHeight() int {
	return max(1, m.height-8)
}

func progressBar(pct float64, width int) string {
	filled := int(max(0, min(pct, 100)) / 100 * float64(width))
	return barOn.Render(strings.Repeat("█", filled)) + barOff.Render(strings.Repeat("░", width-filled))
}

func truncate(s string, n int) string {
	switch {
	case len(s) <= n:
		return s
	case n <= 3:
		return s[:max(n, 0)]
	}
	return s[:n-3] + "..."
}
