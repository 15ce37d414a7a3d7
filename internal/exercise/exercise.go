package exercise

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"WebdevReplay/internal/ingest"
	"WebdevReplay/internal/scoring"
	"WebdevReplay/internal/session"
)

var (
	ErrMissingName      = errors.New("exercise: name is required")
	ErrInvalidMaxPoints = errors.New("exercise: max_points must be positive")
)

// Definition 练习定义文件
type Definition struct {
	Name            string                 `yaml:"name"`
	Title           string                 `yaml:"title"`
	Instructions    string                 `yaml:"instructions"`
	MaxPoints       int                    `yaml:"max_points"`
	Markup          string                 `yaml:"markup"`
	Selector        string                 `yaml:"selector"`
	Events          []string               `yaml:"events"`
	GradeOnMutation bool                   `yaml:"grade_on_mutation"`
	Height          int                    `yaml:"height"`
	Config          map[string]interface{} `yaml:"config"`
	Scoring         Scoring                `yaml:"scoring"`
}

// Scoring 评分方式：script优先，其次contains，都为空时满分
type Scoring struct {
	Script   string        `yaml:"script"`
	Contains []string      `yaml:"contains"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Parse 解析YAML定义
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse exercise: %w", err)
	}
	if def.Name == "" {
		return nil, ErrMissingName
	}
	if def.MaxPoints == 0 {
		def.MaxPoints = 1
	}
	if def.MaxPoints < 0 {
		return nil, ErrInvalidMaxPoints
	}
	return &def, nil
}

// Load 读取定义文件
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Strategy 构造评分策略，nil表示无条件满分
func (d *Definition) Strategy() (session.ScoringStrategy, error) {
	switch {
	case d.Scoring.Script != "":
		s, err := scoring.NewScriptStrategy(d.Scoring.Script, d.Scoring.Timeout)
		if err != nil {
			return nil, fmt.Errorf("exercise %s: %w", d.Name, err)
		}
		return s, nil
	case len(d.Scoring.Contains) > 0:
		return scoring.MarkupContains(d.Scoring.Contains...), nil
	default:
		return nil, nil
	}
}

// AcceptsEvent 事件是否为配置的评分触发事件，未配置events时接受所有事件
func (d *Definition) AcceptsEvent(t session.EntryType) bool {
	if len(d.Events) == 0 {
		return true
	}
	for _, e := range d.Events {
		if session.EntryType(e) == t {
			return true
		}
	}
	return false
}

// gradeEvents events字段转换为事件类型
func (d *Definition) gradeEvents() []session.EntryType {
	if len(d.Events) == 0 {
		return nil
	}
	out := make([]session.EntryType, 0, len(d.Events))
	for _, e := range d.Events {
		out = append(out, session.EntryType(e))
	}
	return out
}

// scriptConfig 传给评分策略的配置，附带selector
func (d *Definition) scriptConfig() map[string]interface{} {
	cfg := make(map[string]interface{}, len(d.Config)+1)
	for k, v := range d.Config {
		cfg[k] = v
	}
	if _, ok := cfg["selector"]; !ok && d.Selector != "" {
		cfg["selector"] = d.Selector
	}
	return cfg
}

// WidgetConfig 生成组件配置，AB分组由用户标识决定
func (d *Definition) WidgetConfig(user string, display session.Display, flushThreshold int) (session.WidgetConfig, error) {
	strategy, err := d.Strategy()
	if err != nil {
		return session.WidgetConfig{}, err
	}
	return session.WidgetConfig{
		ProblemName:     d.Name,
		MaxPoints:       d.MaxPoints,
		User:            user,
		AB:              ingest.ABFlag(user),
		Strategy:        strategy,
		Config:          d.scriptConfig(),
		Surface:         session.StaticSurface(d.Markup),
		Display:         display,
		FlushThreshold:  flushThreshold,
		GradeOnMutation: d.GradeOnMutation,
		GradeEvents:     d.gradeEvents(),
		Height:          d.Height,
	}, nil
}
