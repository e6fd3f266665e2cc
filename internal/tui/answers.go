package tui

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"batchqa/internal/batchapi"

	"github.com/charmbracelet/glamour"
)

// answersMarkdown lists each file's answers under its own heading. Files keep
// submission order; files only the server knows about follow alphabetically.
// Results that are not prompt/answer lists are shown as JSON.
func answersMarkdown(item batchapi.QueueItem) string {
	if len(item.ResultsByFile) == 0 {
		return "_No results._\n"
	}

	rank := make(map[string]int, len(item.FileIDs))
	for i, f := range item.FileIDs {
		rank[f] = i
	}
	files := slices.Collect(maps.Keys(item.ResultsByFile))
	slices.SortFunc(files, func(a, b string) int {
		ra, aok := rank[a]
		rb, bok := rank[b]
		switch {
		case aok && bok:
			return cmp.Compare(ra, rb)
		case aok:
			return -1
		case bok:
			return 1
		}
		return strings.Compare(a, b)
	})

	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "## %s\n\n", f)
		raw := item.ResultsByFile[f]
		answers, ok := batchapi.DecodeAnswers(raw)
		if !ok {
			fmt.Fprintf(&b, "```json\n%s\n```\n\n", strings.TrimSpace(string(raw)))
			continue
		}
		for _, a := range answers {
			fmt.Fprintf(&b, "**%s**\n\n%s\n\n", strings.TrimSpace(a.Prompt), strings.TrimSpace(a.Answer))
		}
	}
	return b.String()
}

// RenderAnswers renders a job's answers for plain terminal output.
func RenderAnswers(item batchapi.QueueItem, width int) string {
	return strings.Join(renderMarkdown(answersMarkdown(item), width), "\n")
}

// renderMarkdown styles md with glamour and splits it into lines. If glamour
// fails the raw markdown is returned.
func renderMarkdown(md string, width int) []string {
	if width < 40 {
		width = 76
	}
	out := md
	if r, err := glamour.NewTermRenderer(glamour.WithStandardStyle("dark"), glamour.WithWordWrap(width)); err == nil {
		if styled, err := r.Render(md); err == nil {
			out = styled
		}
	}
	return strings.Split(strings.TrimRight(out, "\n"), "\n")
}
