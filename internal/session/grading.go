package session

import (
	"fmt"
	"html"
	"math"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/protocol"
)

// 默认反馈文本
const (
	FeedbackSolved    = "Problem solved succesfully."
	FeedbackPartial   = "Problem solved partially."
	FeedbackNotSolved = "Problem not solved yet."
)

// StatusGraded grade事件的状态
const StatusGraded = "graded"

// Trigger 评分触发源：一个UI事件，或自上次评分以来的变更集合
type Trigger struct {
	Event     *LogEntry
	Mutations []MutationRecord
}

// ScoringContext 评分策略可见的上下文
type ScoringContext struct {
	Surface   Surface
	MaxPoints int
	Config    map[string]interface{}
	AB        bool
}

// GradeOutcome 评分策略的返回值：Points 或 AuxiliaryLog
type GradeOutcome interface {
	isGradeOutcome()
}

// Points 得分结果，Feedback为空时使用默认文本
type Points struct {
	Value    float64
	Feedback string
}

// AuxiliaryLog 不计分，仅作为附加日志条目记录
type AuxiliaryLog struct {
	Type   EntryType
	Fields Fields
}

func (Points) isGradeOutcome()       {}
func (AuxiliaryLog) isGradeOutcome() {}

// ScoringStrategy 练习自定义的评分策略，由外部按练习实例构造后注入
type ScoringStrategy interface {
	Evaluate(ctx ScoringContext, trigger Trigger) GradeOutcome
}

// ScoringFunc 函数适配器
type ScoringFunc func(ctx ScoringContext, trigger Trigger) GradeOutcome

// Evaluate 实现ScoringStrategy
func (f ScoringFunc) Evaluate(ctx ScoringContext, trigger Trigger) GradeOutcome {
	return f(ctx, trigger)
}

// DecodeOutcome 解释动态值：数字 -> Points；含数值points的对象 -> Points；
// 其他对象 -> AuxiliaryLog；其余返回nil（视为格式错误）
func DecodeOutcome(v interface{}) GradeOutcome {
	if n, ok := toFloat(v); ok {
		return Points{Value: n}
	}

	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	if n, ok := toFloat(obj["points"]); ok {
		feedback, _ := obj["feedback"].(string)
		return Points{Value: n, Feedback: feedback}
	}

	fields := make(Fields, len(obj))
	entryType := EntryType("log")
	for k, val := range obj {
		if k == "type" {
			if s, ok := val.(string); ok && s != "" {
				entryType = EntryType(s)
			}
			continue
		}
		fields[k] = val
	}
	return AuxiliaryLog{Type: entryType, Fields: fields}
}

// GradeResult 归一化后的评分
type GradeResult struct {
	Points    int
	MaxPoints int
	Feedback  string
	Severity  Severity
}

// GradingBridge 把原始事件变成得分与反馈，并发出grade事件
type GradingBridge struct {
	strategy  ScoringStrategy
	maxPoints int
	config    map[string]interface{}
	surface   Surface
	display   Display
	recorder  *Recorder
	flusher   *Flusher
	port      Port
	policy    *bluemonday.Policy
}

// BridgeConfig 评分桥配置
type BridgeConfig struct {
	Strategy  ScoringStrategy // nil时无条件给满分
	MaxPoints int
	Config    map[string]interface{}
	Surface   Surface
	Display   Display
}

// NewGradingBridge 创建评分桥。recorder/flusher/port为nil时只更新显示（回放模式）
func NewGradingBridge(cfg BridgeConfig, recorder *Recorder, flusher *Flusher, port Port) *GradingBridge {
	b := &GradingBridge{
		strategy:  cfg.Strategy,
		maxPoints: cfg.MaxPoints,
		config:    cfg.Config,
		surface:   cfg.Surface,
		display:   cfg.Display,
		recorder:  recorder,
		flusher:   flusher,
		port:      port,
		policy:    bluemonday.UGCPolicy(),
	}
	if b.surface == nil {
		b.surface = StaticSurface("")
	}
	if b.display == nil {
		b.display = nopDisplay{}
	}
	return b
}

// MaxPoints 满分
func (b *GradingBridge) MaxPoints() int {
	return b.maxPoints
}

// Grade 评估一次触发。返回false表示未产生分数（附加日志或格式错误）
func (b *GradingBridge) Grade(trigger Trigger) (GradeResult, bool) {
	if b.strategy == nil {
		return b.award(float64(b.maxPoints), ""), true
	}

	switch out := b.evaluate(trigger).(type) {
	case Points:
		if math.IsNaN(out.Value) {
			logger.L().Warn("scoring strategy returned NaN points, ignoring")
			return GradeResult{}, false
		}
		return b.award(out.Value, out.Feedback), true
	case AuxiliaryLog:
		if b.recorder != nil {
			b.recorder.Record(out.Type, out.Fields)
		}
		return GradeResult{}, false
	default:
		logger.L().Warn("scoring strategy returned malformed outcome, no grade recorded",
			zap.String("outcome", fmt.Sprintf("%T", out)))
		return GradeResult{}, false
	}
}

// evaluate 调用策略，策略panic视为格式错误
func (b *GradingBridge) evaluate(trigger Trigger) (out GradeOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Warn("scoring strategy panicked", zap.Any("panic", r))
			out = nil
		}
	}()

	ctx := ScoringContext{
		Surface:   b.surface,
		MaxPoints: b.maxPoints,
		Config:    b.config,
	}
	if b.flusher != nil {
		ctx.AB = b.flusher.Identity().AB
	}
	return b.strategy.Evaluate(ctx, trigger)
}

// Normalize 裁剪、取整并推导反馈和颜色，不产生副作用
func (b *GradingBridge) Normalize(points float64, feedback string) GradeResult {
	mp := b.maxPoints
	p := int(math.Round(math.Max(0, math.Min(points, float64(mp)))))

	res := GradeResult{Points: p, MaxPoints: mp}
	switch {
	case p >= mp:
		res.Severity = SeverityGreen
		res.Feedback = FeedbackSolved
	case p > 0:
		res.Severity = SeverityYellow
		res.Feedback = FeedbackPartial
	default:
		res.Severity = SeverityRed
		res.Feedback = FeedbackNotSolved
	}
	if feedback != "" {
		res.Feedback = b.policy.Sanitize(feedback)
	}
	return res
}

// Show 只更新显示，用于回放
func (b *GradingBridge) Show(points float64, feedback string) GradeResult {
	res := b.Normalize(points, feedback)
	b.display.ShowScore(res.Points, res.MaxPoints, res.Severity, res.Feedback)
	return res
}

// ResetDisplay 显示归零
func (b *GradingBridge) ResetDisplay() {
	b.display.ShowScore(0, b.maxPoints, SeverityNone, "")
}

func (b *GradingBridge) award(points float64, feedback string) GradeResult {
	res := b.Show(points, feedback)

	if b.recorder != nil {
		b.recorder.Record(EntryGrade, Fields{
			"points":    res.Points,
			"maxPoints": res.MaxPoints,
		}, FlushExempt())
	}
	if b.port == nil || b.flusher == nil {
		return res
	}

	id := b.flusher.Identity()
	b.port.Send(protocol.GradeMessage{
		Points:      res.Points,
		MaxPoints:   res.MaxPoints,
		Session:     id.SessionID,
		Status:      StatusGraded,
		Feedback:    b.withSnapshot(res.Feedback),
		Log:         b.flusher.Snapshot(),
		User:        id.User,
		AB:          id.AB,
		ProblemName: id.ProblemName,
	})
	return res
}

// withSnapshot 反馈中附带当前练习内容
func (b *GradingBridge) withSnapshot(feedback string) string {
	markup := b.surface.Markup()
	if markup == "" {
		return feedback
	}
	return fmt.Sprintf("%s\n<pre class=\"exercise-snapshot\">%s</pre>", feedback, html.EscapeString(markup))
}
