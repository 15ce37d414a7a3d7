package session

import (
	"errors"

	"go.uber.org/zap"

	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/protocol"
)

// ErrWrongMode 操作不属于组件当前模式
var ErrWrongMode = errors.New("widget: operation not available in this mode")

// Mode 组件模式，实例生命周期内固定
type Mode int

const (
	ModeLive Mode = iota
	ModeReplay
)

func (m Mode) String() string {
	if m == ModeReplay {
		return "replay"
	}
	return "live"
}

// WidgetConfig 组件配置
type WidgetConfig struct {
	ProblemName     string
	MaxPoints       int
	User            string
	AB              bool
	Strategy        ScoringStrategy
	Config          map[string]interface{}
	Surface         Surface
	Display         Display
	FlushThreshold  int
	GradeOnMutation bool
	// GradeEvents 触发评分的UI事件类型，为空时所有Interact事件都评分
	GradeEvents []EntryType
	Height      int
	Clock       Clock
}

// gradesOn 事件类型是否触发评分
func (c WidgetConfig) gradesOn(t EntryType) bool {
	if len(c.GradeEvents) == 0 {
		return true
	}
	for _, e := range c.GradeEvents {
		if e == t {
			return true
		}
	}
	return false
}

// Widget 练习组件实例：要么实时录制，要么回放
type Widget struct {
	mode     Mode
	identity Identity
	cfg      WidgetConfig

	store    *LogStore
	recorder *Recorder
	flusher  *Flusher
	bridge   *GradingBridge
	port     Port

	replay *ReplayEngine
}

// NewLiveWidget 创建实时录制组件，会话标识在此生成一次
func NewLiveWidget(cfg WidgetConfig, port Port) *Widget {
	if port == nil {
		port = nopPort{}
	}
	identity := Identity{
		SessionID:   NewSessionID(),
		User:        cfg.User,
		AB:          cfg.AB,
		ProblemName: cfg.ProblemName,
	}

	store := NewLogStore(cfg.Clock)
	flusher := NewFlusher(identity, store, port)
	recorder := NewRecorder(store, flusher, cfg.FlushThreshold)

	w := &Widget{
		mode:     ModeLive,
		identity: identity,
		cfg:      cfg,
		store:    store,
		recorder: recorder,
		flusher:  flusher,
		port:     port,
	}
	w.bridge = NewGradingBridge(BridgeConfig{
		Strategy:  cfg.Strategy,
		MaxPoints: cfg.MaxPoints,
		Config:    cfg.Config,
		Surface:   cfg.Surface,
		Display:   cfg.Display,
	}, recorder, flusher, port)

	logger.L().Debug("live widget created",
		zap.String("session", identity.SessionID),
		zap.String("problem", cfg.ProblemName))
	return w
}

// NewReplayWidget 创建回放组件，不产生任何录制或宿主消息
func NewReplayWidget(cfg WidgetConfig, entries []LogEntry, opts ...ReplayOption) *Widget {
	bridge := NewGradingBridge(BridgeConfig{
		MaxPoints: cfg.MaxPoints,
		Config:    cfg.Config,
		Surface:   cfg.Surface,
		Display:   cfg.Display,
	}, nil, nil, nil)

	engine := NewReplayEngine(cfg.Display, bridge, opts...)
	engine.Load(entries)

	return &Widget{
		mode:   ModeReplay,
		cfg:    cfg,
		bridge: bridge,
		replay: engine,
	}
}

// Mode 当前模式
func (w *Widget) Mode() Mode { return w.mode }

// SessionID 会话标识，回放模式为空
func (w *Widget) SessionID() string { return w.identity.SessionID }

// Reset 恢复初始内容并记录reset
func (w *Widget) Reset() error {
	if w.mode != ModeLive {
		return ErrWrongMode
	}
	w.bridge.ResetDisplay()
	w.recorder.Record(EntryReset, nil)
	if w.cfg.Height > 0 {
		w.port.Send(protocol.ResizeMessage{Height: w.cfg.Height})
	}
	return nil
}

// Record 记录任意事件
func (w *Widget) Record(entryType EntryType, fields Fields, opts ...RecordOption) error {
	if w.mode != ModeLive {
		return ErrWrongMode
	}
	w.recorder.Record(entryType, fields, opts...)
	return nil
}

// Click 记录点击
func (w *Widget) Click(x, y int) error {
	return w.Record(EntryMouseClick, Fields{"x": x, "y": y})
}

// Interact 记录UI事件；只有GradeEvents中的事件类型才评分
func (w *Widget) Interact(entryType EntryType, fields Fields) (GradeResult, bool, error) {
	if w.mode != ModeLive {
		return GradeResult{}, false, ErrWrongMode
	}
	entry := w.recorder.Record(entryType, fields)
	if !w.cfg.gradesOn(entryType) {
		return GradeResult{}, false, nil
	}
	res, ok := w.bridge.Grade(Trigger{Event: &entry})
	return res, ok, nil
}

// ContentChanged 内容变更通知；配置了GradeOnMutation时随即评分
func (w *Widget) ContentChanged(records []MutationRecord) error {
	if w.mode != ModeLive {
		return ErrWrongMode
	}
	w.recorder.RecordMutations(records)
	if w.cfg.GradeOnMutation && len(records) > 0 {
		w.bridge.Grade(Trigger{Mutations: records})
	}
	return nil
}

// Grade 显式评分
func (w *Widget) Grade(trigger Trigger) (GradeResult, bool, error) {
	if w.mode != ModeLive {
		return GradeResult{}, false, ErrWrongMode
	}
	res, ok := w.bridge.Grade(trigger)
	return res, ok, nil
}

// Blur 窗口失焦，页面可能正在关闭
func (w *Widget) Blur() error {
	if w.mode != ModeLive {
		return ErrWrongMode
	}
	w.recorder.Record(EntryWindowBlur, nil, FlushExempt())
	w.recorder.Flush(FlushUnload)
	return nil
}

// Focus 窗口获得焦点
func (w *Widget) Focus() error {
	return w.Record(EntryWindowFocus, nil, FlushExempt())
}

// Unload 页面或框架卸载
func (w *Widget) Unload() error {
	return w.Flush(FlushUnload)
}

// Flush 显式flush
func (w *Widget) Flush(reason string) error {
	if w.mode != ModeLive {
		return ErrWrongMode
	}
	w.recorder.Flush(reason)
	return nil
}

// Entries 当前日志副本
func (w *Widget) Entries() []LogEntry {
	if w.mode == ModeReplay {
		return w.replay.Sequence()
	}
	return w.store.Entries()
}

// Replay 回放引擎
func (w *Widget) Replay() (*ReplayEngine, error) {
	if w.mode != ModeReplay {
		return nil, ErrWrongMode
	}
	return w.replay, nil
}

// Close 宿主销毁组件
func (w *Widget) Close() {
	if w.mode == ModeReplay {
		w.replay.Close()
	}
}
