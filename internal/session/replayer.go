package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultQuantum 自动播放每步推进的虚拟时间
const DefaultQuantum = 100 * time.Millisecond

var (
	ErrNoPlayableRange = errors.New("replay: no playable range")
	ErrReplayClosed    = errors.New("replay: engine closed")
)

// ReplayState 回放状态
type ReplayState int

const (
	StateIdle ReplayState = iota
	StateInitialized
	StateScrubbing
	StateAutoplaying
)

func (s ReplayState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInitialized:
		return "INITIALIZED"
	case StateScrubbing:
		return "SCRUBBING"
	case StateAutoplaying:
		return "AUTOPLAYING"
	default:
		return "UNKNOWN"
	}
}

// Timer 可取消的定时器
type Timer interface {
	Stop() bool
}

// Scheduler 定时调度
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ReplayContext 回放处理器可用的协作方
type ReplayContext struct {
	Display Display
	Bridge  *GradingBridge
}

// ReplayHandler 练习自定义的事件回放行为，覆盖默认注释。
// 处理器在引擎锁内执行，不能回调引擎
type ReplayHandler interface {
	Apply(ctx *ReplayContext, entry LogEntry)
	Revert(ctx *ReplayContext, entry LogEntry)
}

// HandlerFuncs 函数形式的ReplayHandler
type HandlerFuncs struct {
	ApplyFunc  func(ctx *ReplayContext, entry LogEntry)
	RevertFunc func(ctx *ReplayContext, entry LogEntry)
}

// Apply 实现ReplayHandler
func (h HandlerFuncs) Apply(ctx *ReplayContext, entry LogEntry) {
	if h.ApplyFunc != nil {
		h.ApplyFunc(ctx, entry)
	}
}

// Revert 实现ReplayHandler
func (h HandlerFuncs) Revert(ctx *ReplayContext, entry LogEntry) {
	if h.RevertFunc != nil {
		h.RevertFunc(ctx, entry)
	}
}

// ReplayEngine 在不可变的有序序列上维护单调游标，按虚拟时钟前后拖动
type ReplayEngine struct {
	mu sync.Mutex

	state    ReplayState
	sequence []LogEntry
	cursor   int
	clock    int64
	start    int64
	end      int64

	ctx       *ReplayContext
	handlers  map[EntryType]ReplayHandler
	scheduler Scheduler
	quantum   time.Duration

	// 最多一个未决定时器
	timer      Timer
	generation uint64
}

// ReplayOption 回放引擎选项
type ReplayOption func(*ReplayEngine)

// WithScheduler 替换定时调度（测试用）
func WithScheduler(s Scheduler) ReplayOption {
	return func(e *ReplayEngine) {
		e.scheduler = s
	}
}

// WithQuantum 设置自动播放步长
func WithQuantum(d time.Duration) ReplayOption {
	return func(e *ReplayEngine) {
		if d > 0 {
			e.quantum = d
		}
	}
}

// WithHandler 注册自定义事件回放行为
func WithHandler(t EntryType, h ReplayHandler) ReplayOption {
	return func(e *ReplayEngine) {
		e.handlers[t] = h
	}
}

// NewReplayEngine 创建回放引擎
func NewReplayEngine(display Display, bridge *GradingBridge, opts ...ReplayOption) *ReplayEngine {
	if display == nil {
		display = nopDisplay{}
	}
	e := &ReplayEngine{
		state:     StateIdle,
		cursor:    -1,
		ctx:       &ReplayContext{Display: display, Bridge: bridge},
		handlers:  make(map[EntryType]ReplayHandler),
		scheduler: wallScheduler{},
		quantum:   DefaultQuantum,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load 载入序列。拷贝并按时间稳定排序，不修改原序列
func (e *ReplayEngine) Load(entries []LogEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelLocked()

	seq := make([]LogEntry, len(entries))
	for i, entry := range entries {
		seq[i] = entry.clone()
	}
	sort.SliceStable(seq, func(i, j int) bool {
		return seq[i].Time < seq[j].Time
	})

	e.sequence = seq
	e.cursor = -1
	e.start, e.end, e.clock = 0, 0, 0
	if len(seq) > 0 {
		e.start = seq[0].Time
		e.end = seq[len(seq)-1].Time
		e.clock = e.start
	}
	e.state = StateInitialized
}

// Playable 少于两个事件或总时长为0时不可拖动
func (e *ReplayEngine) Playable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playableLocked()
}

func (e *ReplayEngine) playableLocked() bool {
	return e.state != StateIdle && len(e.sequence) >= 2 && e.end > e.start
}

// ScrubTo 跳转到指定时间，取消任何未决的自动播放
func (e *ReplayEngine) ScrubTo(target int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateIdle {
		return ErrReplayClosed
	}
	if !e.playableLocked() {
		return ErrNoPlayableRange
	}

	e.cancelLocked()
	e.state = StateScrubbing
	e.seekLocked(target)
	return nil
}

// Play 从当前虚拟时钟开始自动播放
func (e *ReplayEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateIdle {
		return ErrReplayClosed
	}
	if !e.playableLocked() {
		return ErrNoPlayableRange
	}

	e.cancelLocked()
	e.seekLocked(e.clock)
	if e.cursor+1 >= len(e.sequence) {
		e.state = StateScrubbing
		return nil
	}
	e.state = StateAutoplaying
	e.scheduleLocked()
	return nil
}

// Pause 停止自动播放
func (e *ReplayEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelLocked()
	if e.state == StateAutoplaying {
		e.state = StateScrubbing
	}
}

// Close 宿主销毁组件时回到Idle
func (e *ReplayEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelLocked()
	e.state = StateIdle
	e.sequence = nil
	e.cursor = -1
}

// step 自动播放的一步
func (e *ReplayEngine) step(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// 已被取消的旧定时器
	if gen != e.generation || e.state != StateAutoplaying {
		return
	}
	e.timer = nil

	stepMs := e.quantum.Milliseconds()
	if stepMs < 1 {
		stepMs = 1
	}
	e.seekLocked(e.clock + stepMs)
	if e.cursor+1 < len(e.sequence) {
		e.scheduleLocked()
		return
	}
	e.state = StateScrubbing
}

func (e *ReplayEngine) scheduleLocked() {
	gen := e.generation
	e.timer = e.scheduler.AfterFunc(e.quantum, func() {
		e.step(gen)
	})
}

func (e *ReplayEngine) cancelLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.generation++
}

// seekLocked 只做与拖动距离成正比的工作
func (e *ReplayEngine) seekLocked(target int64) {
	for e.cursor+1 < len(e.sequence) && e.sequence[e.cursor+1].Time <= target {
		e.cursor++
		e.applyLocked(e.sequence[e.cursor])
	}
	for e.cursor >= 0 && e.sequence[e.cursor].Time > target {
		e.revertLocked(e.sequence[e.cursor])
		e.cursor--
	}

	e.clock = target
	if e.clock < e.start {
		e.clock = e.start
	}
	if e.clock > e.end {
		e.clock = e.end
	}
	elapsed, fraction := e.progressLocked()
	e.ctx.Display.ShowProgress(elapsed, fraction)
}

func (e *ReplayEngine) progressLocked() (int64, float64) {
	duration := e.end - e.start
	if duration <= 0 {
		return 0, 0
	}
	elapsed := e.clock - e.start
	return elapsed, float64(elapsed) / float64(duration)
}

func (e *ReplayEngine) applyLocked(entry LogEntry) {
	if h, ok := e.handlers[entry.Type]; ok {
		h.Apply(e.ctx, entry)
		return
	}

	switch {
	case entry.Type == EntryGrade:
		if e.ctx.Bridge == nil {
			e.ctx.Display.Annotate(entry, "grade")
			return
		}
		points, _ := entry.Number("points")
		feedback, _ := entry.Fields["feedback"].(string)
		e.ctx.Bridge.Show(points, feedback)
	case entry.Type == EntryMouseClick:
		e.ctx.Display.Annotate(entry, "click")
	case entry.Type == EntryWindowBlur:
		e.ctx.Display.Annotate(entry, "window exited focus")
	case entry.Type == EntryWindowFocus:
		e.ctx.Display.Annotate(entry, "window to focus")
	case entry.Type == EntryReset:
		e.ctx.Display.Annotate(entry, "reset")
	case entry.Type.IsMutation():
		e.ctx.Display.Annotate(entry, "content changed")
	default:
		e.ctx.Display.Annotate(entry, fmt.Sprintf("unknown event: %s", entry.Type))
	}
}

// revertLocked grade的逆操作只是把显示分数归零，而不是恢复之前的分数
func (e *ReplayEngine) revertLocked(entry LogEntry) {
	if h, ok := e.handlers[entry.Type]; ok {
		h.Revert(e.ctx, entry)
		return
	}
	if entry.Type == EntryGrade && e.ctx.Bridge != nil {
		e.ctx.Bridge.ResetDisplay()
	}
}

// State 当前状态
func (e *ReplayEngine) State() ReplayState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Cursor 最后应用的事件下标，-1表示尚未应用
func (e *ReplayEngine) Cursor() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// Clock 当前显示的虚拟时间
func (e *ReplayEngine) Clock() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock
}

// Progress 已播放毫秒数与进度条位置
func (e *ReplayEngine) Progress() (int64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progressLocked()
}

// Range 序列起止时间
func (e *ReplayEngine) Range() (start, end int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.start, e.end
}

// Sequence 返回序列副本
func (e *ReplayEngine) Sequence() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]LogEntry, len(e.sequence))
	for i, entry := range e.sequence {
		out[i] = entry.clone()
	}
	return out
}

// Timeline 时间线标记
func (e *ReplayEngine) Timeline() []Marker {
	return BuildTimeline(e.Sequence())
}
