package tui

import (
	"context"
	"fmt"
	"slices"
	"time"

	"batchqa/internal/batchapi"
	"batchqa/internal/tracker"

	tea "github.com/charmbracelet/bubbletea"
)

const refreshEvery = 500 * time.Millisecond

// Source is what the dashboard reads from and acts on. *tracker.Controller
// implements it.
type Source interface {
	Requests() []tracker.Request
	History() []batchapi.QueueItem
	RefreshHistory(ctx context.Context, userID string) error
	DeleteJob(ctx context.Context, userID, jobID string) (string, error)
}

type tab int

const (
	tabRequests tab = iota
	tabHistory
)

// Model is the dashboard. With selected nil it shows the requests and history
// tabs; otherwise the rendered answers of one finished job.
type Model struct {
	src    Source
	userID string

	tab      tab
	requests []tracker.Request
	history  []batchapi.QueueItem
	cursors  [2]int // per tab

	confirmDelete string // job id awaiting y/n
	actionErr     error
	notice        string

	selected *batchapi.QueueItem
	pager    pager

	err           error
	width, height int
}

func NewModel(src Source, userID string) Model {
	return Model{src: src, userID: userID}
}

type (
	tickMsg         time.Time
	historyMsg      []batchapi.QueueItem
	errMsg          error
	deleteResultMsg struct {
		jobID   string
		message string
		err     error
	}
)

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshHistory, tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) refreshHistory() tea.Msg {
	if err := m.src.RefreshHistory(context.Background(), m.userID); err != nil {
		return errMsg(err)
	}
	return historyMsg(m.src.History())
}

func (m Model) deleteConfirmed() tea.Msg {
	jobID := m.confirmDelete
	msg, err := m.src.DeleteJob(context.Background(), m.userID, jobID)
	return deleteResultMsg{jobID: jobID, message: msg, err: err}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if m.selected != nil {
			m.pager.set(renderMarkdown(answersMarkdown(*m.selected), m.contentWidth()))
		}
	case tickMsg:
		m.requests = newestFirst(m.src.Requests())
		m.clampCursors()
		return m, tick()
	case historyMsg:
		m.history, m.err = msg, nil
		m.clampCursors()
	case deleteResultMsg:
		m.confirmDelete = ""
		m.actionErr = msg.err
		if msg.err == nil {
			m.notice = "Deleted " + msg.jobID
			if msg.message != "" {
				m.notice += ": " + msg.message
			}
			m.history = m.src.History()
			m.clampCursors()
		}
	case errMsg:
		m.err = msg
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "q" || key == "ctrl+c" {
		return m, tea.Quit
	}

	switch {
	case m.confirmDelete != "":
		switch key {
		case "y":
			return m, m.deleteConfirmed
		case "n", "esc":
			m.confirmDelete = ""
		}
	case m.selected != nil:
		m.pagerKey(key)
	default:
		return m.listKey(key)
	}
	return m, nil
}

func (m Model) listKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "tab":
		m.tab = 1 - m.tab
	case "up", "k":
		m.cursors[m.tab]--
		m.clampCursors()
	case "down", "j":
		m.cursors[m.tab]++
		m.clampCursors()
	case "r":
		m.notice, m.actionErr = "", nil
		return m, m.refreshHistory
	case "enter":
		if item, ok := m.currentJob(); ok {
			m.selected = &item
			m.pager = pager{}
			m.pager.set(renderMarkdown(answersMarkdown(item), m.contentWidth()))
		}
	case "d":
		if item, ok := m.currentJob(); ok && item.JobID != "" {
			m.confirmDelete = item.JobID
			m.notice = ""
		}
	}
	return m, nil
}

func (m *Model) pagerKey(key string) {
	h := m.pageHeight()
	switch key {
	case "esc", "backspace":
		m.selected = nil
		m.pager = pager{}
	case "up", "k":
		m.pager.scroll(-1, h)
	case "down", "j":
		m.pager.scroll(1, h)
	case "pgup":
		m.pager.scroll(-h, h)
	case "pgdown", " ":
		m.pager.scroll(h, h)
	case "g":
		m.pager.offset = 0
	case "G":
		m.pager.scroll(len(m.pager.lines), h)
	}
}

// currentJob is the highlighted history row, if the history tab is showing.
func (m Model) currentJob() (batchapi.QueueItem, bool) {
	i := m.cursors[tabHistory]
	if m.tab != tabHistory || i >= len(m.history) {
		return batchapi.QueueItem{}, false
	}
	return m.history[i], true
}

func (m *Model) clampCursors() {
	for t, n := range [2]int{len(m.requests), len(m.history)} {
		m.cursors[t] = max(0, min(m.cursors[t], n-1))
	}
}

func newestFirst(reqs []tracker.Request) []tracker.Request {
	slices.SortStableFunc(reqs, func(a, b tracker.Request) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return reqs
}

func (m Model) statusCounts() map[tracker.Status]int {
	counts := make(map[tracker.Status]int, 3)
	for _, r := range m.requests {
		counts[r.Status]++
	}
	return counts
}

func (m Model) errorView() string {
	return fmt.Sprintf("Error: %v\n\nPress r to retry or q to quit.", m.err)
}
