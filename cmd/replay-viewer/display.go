package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"WebdevReplay/internal/session"
)

// terminalDisplay 把回放输出到终端
type terminalDisplay struct {
	mu       sync.Mutex
	out      io.Writer
	progress bool
	elapsed  int64
	fraction float64
}

func newTerminalDisplay(out io.Writer, progress bool) *terminalDisplay {
	return &terminalDisplay{out: out, progress: progress}
}

func (d *terminalDisplay) ShowScore(points, maxPoints int, severity session.Severity, feedback string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sev := string(severity)
	if sev == "" {
		sev = "-"
	}
	fmt.Fprintf(d.out, "%10s  score %d/%d [%s]", formatElapsed(d.elapsed), points, maxPoints, sev)
	if line := firstLine(feedback); line != "" {
		fmt.Fprintf(d.out, " %s", line)
	}
	fmt.Fprintln(d.out)
}

func (d *terminalDisplay) Annotate(entry session.LogEntry, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "%10s  %-14s %s\n", formatElapsed(d.elapsed), entry.Type, text)
}

func (d *terminalDisplay) ShowProgress(elapsed int64, fraction float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elapsed, d.fraction = elapsed, fraction
	if d.progress {
		fmt.Fprintf(d.out, "%10s  %s\n", formatElapsed(elapsed), bar(fraction, 30))
	}
}

func (d *terminalDisplay) position() (int64, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.elapsed, d.fraction
}

func formatElapsed(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

func bar(fraction float64, width int) string {
	n := int(fraction * float64(width))
	if n > width {
		n = width
	}
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", width-n) + fmt.Sprintf("] %3.0f%%", fraction*100)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
