package importers

import (
	"fmt"
	"io"
	"sync"
)

// Progress receives a monotonically increasing done/total ratio from an
// importer. It is cosmetic: importers never depend on it.
type Progress interface {
	Step(importer string, done, total int)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(importer string, done, total int)

func (f ProgressFunc) Step(importer string, done, total int) { f(importer, done, total) }

type noProgress struct{}

func (noProgress) Step(string, int, int) {}

// Percent is done/total as a whole percentage; an empty run is complete.
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}

// FormatRatio renders done/total as "importer  42% (21/50)".
func FormatRatio(importer string, done, total int) string {
	return fmt.Sprintf("%s %3d%% (%d/%d)", importer, Percent(done, total), done, total)
}

// LineProgress writes one line to w each time an importer's percentage
// changes.
type LineProgress struct {
	mu   sync.Mutex
	w    io.Writer
	last map[string]int
}

// NewLineProgress writes progress lines to w.
func NewLineProgress(w io.Writer) *LineProgress {
	return &LineProgress{w: w, last: make(map[string]int)}
}

func (p *LineProgress) Step(importer string, done, total int) {
	pct := Percent(done, total)
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.last[importer]; ok && last == pct {
		return
	}
	p.last[importer] = pct
	fmt.Fprintln(p.w, FormatRatio(importer, done, total))
}

// counter tracks one importer's position.
type counter struct {
	name     string
	progress Progress
	done     int
	total    int
}

func newCounter(name string, p Progress, total int) *counter {
	if p == nil {
		p = noProgress{}
	}
	c := &counter{name: name, progress: p, total: total}
	p.Step(name, 0, total)
	return c
}

func (c *counter) step() {
	c.done++
	c.progress.Step(c.name, c.done, c.total)
}
