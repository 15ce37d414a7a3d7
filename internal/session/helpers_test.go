package session_test

import (
	"sync"
	"time"

	"WebdevReplay/internal/protocol"
	"WebdevReplay/internal/session"
)

// capturePort 记录所有发往宿主的消息
type capturePort struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (p *capturePort) Send(msg protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *capturePort) logs() []protocol.LogMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []protocol.LogMessage
	for _, m := range p.msgs {
		if lm, ok := m.(protocol.LogMessage); ok {
			out = append(out, lm)
		}
	}
	return out
}

func (p *capturePort) grades() []protocol.GradeMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []protocol.GradeMessage
	for _, m := range p.msgs {
		if gm, ok := m.(protocol.GradeMessage); ok {
			out = append(out, gm)
		}
	}
	return out
}

func (p *capturePort) all() []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Message(nil), p.msgs...)
}

type scoreShown struct {
	Points    int
	MaxPoints int
	Severity  session.Severity
	Feedback  string
}

// recordingDisplay 记录所有显示调用
type recordingDisplay struct {
	mu          sync.Mutex
	scores      []scoreShown
	annotations []string
	progress    []float64
}

func (d *recordingDisplay) ShowScore(points, maxPoints int, severity session.Severity, feedback string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scores = append(d.scores, scoreShown{points, maxPoints, severity, feedback})
}

func (d *recordingDisplay) Annotate(_ session.LogEntry, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.annotations = append(d.annotations, text)
}

func (d *recordingDisplay) ShowProgress(_ int64, fraction float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.progress = append(d.progress, fraction)
}

func (d *recordingDisplay) lastScore() scoreShown {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.scores) == 0 {
		return scoreShown{}
	}
	return d.scores[len(d.scores)-1]
}

func (d *recordingDisplay) notes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.annotations...)
}

// manualClock 手动推进的时钟
type manualClock struct {
	mu  sync.Mutex
	now int64
}

func (c *manualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(ms int64) {
	c.mu.Lock()
	c.now = ms
	c.mu.Unlock()
}

// manualScheduler 由测试手动触发的定时器
type manualScheduler struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) session.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{delay: d, f: f}
	s.pending = append(s.pending, t)
	return t
}

// outstanding 未停止的定时器数量
func (s *manualScheduler) outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

// fire 触发最早的一个未停止定时器，返回是否触发
func (s *manualScheduler) fire() bool {
	s.mu.Lock()
	var next *manualTimer
	for i, t := range s.pending {
		if !t.stopped {
			next = t
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	if next == nil {
		return false
	}
	next.stopped = true
	next.f()
	return true
}

func entries(pairs ...interface{}) []session.LogEntry {
	var out []session.LogEntry
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, session.LogEntry{
			Type: session.EntryType(pairs[i].(string)),
			Time: int64(pairs[i+1].(int)),
		})
	}
	return out
}
