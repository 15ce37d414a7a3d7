package session

import "WebdevReplay/internal/protocol"

// Port 宿主通信端口。发送为即发即弃，失败由端口自行记录，不向组件返回
type Port interface {
	Send(msg protocol.Message)
}

// Severity 分数显示颜色
type Severity string

const (
	SeverityNone   Severity = ""
	SeverityGreen  Severity = "green"
	SeverityYellow Severity = "yellow"
	SeverityRed    Severity = "red"
)

// Display 渲染面，由外部协作方实现
type Display interface {
	// ShowScore 更新分数显示
	ShowScore(points, maxPoints int, severity Severity, feedback string)
	// Annotate 回放时为事件显示注释
	Annotate(entry LogEntry, text string)
	// ShowProgress 回放进度，elapsed为毫秒，fraction在[0,1]
	ShowProgress(elapsed int64, fraction float64)
}

// Surface 练习内容的当前状态
type Surface interface {
	Markup() string
}

// StaticSurface 固定内容
type StaticSurface string

// Markup 实现Surface
func (s StaticSurface) Markup() string { return string(s) }

type nopDisplay struct{}

func (nopDisplay) ShowScore(int, int, Severity, string) {}
func (nopDisplay) Annotate(LogEntry, string)            {}
func (nopDisplay) ShowProgress(int64, float64)          {}

type nopPort struct{}

func (nopPort) Send(protocol.Message) {}
