package tui

import "fmt"

// pager is a scroll position over pre-rendered lines.
type pager struct {
	lines  []string
	offset int
}

func (p *pager) set(lines []string) {
	p.lines = lines
	p.offset = min(p.offset, p.maxOffset(1))
}

func (p *pager) maxOffset(height int) int {
	return max(0, len(p.lines)-max(height, 1))
}

func (p *pager) scroll(delta, height int) {
	p.offset = max(0, min(p.offset+delta, p.maxOffset(height)))
}

// window returns the lines visible at the current offset.
func (p pager) window(height int) []string {
	start := min(p.offset, len(p.lines))
	end := min(start+max(height, 1), len(p.lines))
	return p.lines[start:end]
}

// position is a "[42%]" hint, empty when everything fits.
func (p pager) position(height int) string {
	span := p.maxOffset(height)
	if span == 0 {
		return ""
	}
	return fmt.Sprintf("  [%d%%]", p.offset*100/span)
}
