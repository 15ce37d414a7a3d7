package scoring

import (
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/session"
)

// ScoreFunc 评分脚本必须定义的函数签名
type ScoreFunc func(markup string, config map[string]interface{}, trigger map[string]interface{}) interface{}

// DefaultScriptTimeout 单次评分的时间上限
const DefaultScriptTimeout = 2 * time.Second

var (
	ErrScriptSignature = errors.New("scoring script: Score has incorrect signature")
	ErrScriptPoisoned  = errors.New("scoring script: a previous run never returned")
)

// 脚本只允许导入的标准库包
var allowedPackages = map[string]bool{
	"strings":       true,
	"strconv":       true,
	"fmt":           true,
	"math":          true,
	"regexp":        true,
	"encoding/json": true,
	"sort":          true,
	"unicode":       true,
}

// ScriptStrategy 由yaegi解释执行的练习评分脚本。
// 脚本定义 func Score(markup string, config map[string]interface{}, trigger map[string]interface{}) interface{}
//
// 一次运行超时后该运行仍占用解释器，策略被标记为poisoned，之后的评分直接返回nil
type ScriptStrategy struct {
	mu       sync.Mutex
	score    ScoreFunc
	timeout  time.Duration
	poisoned atomic.Bool
}

// NewScriptStrategy 编译评分脚本，构造时即报告语法和签名错误
func NewScriptStrategy(src string, timeout time.Duration) (*ScriptStrategy, error) {
	if err := validateImports(src); err != nil {
		return nil, fmt.Errorf("invalid imports: %w", err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(allowedSymbols()); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	if _, err := i.Eval(wrapCode(src)); err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}

	v, err := i.Eval("main.Score")
	if err != nil {
		return nil, fmt.Errorf("Score function not found: %w", err)
	}
	fn, ok := v.Interface().(func(string, map[string]interface{}, map[string]interface{}) interface{})
	if !ok {
		return nil, ErrScriptSignature
	}

	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	return &ScriptStrategy{score: fn, timeout: timeout}, nil
}

// Evaluate 实现session.ScoringStrategy。超时或panic都视为格式错误
func (s *ScriptStrategy) Evaluate(ctx session.ScoringContext, trigger session.Trigger) session.GradeOutcome {
	if s.poisoned.Load() {
		logger.L().Warn("scoring script skipped", zap.Error(ErrScriptPoisoned))
		return nil
	}
	markup := ""
	if ctx.Surface != nil {
		markup = ctx.Surface.Markup()
	}
	config := map[string]interface{}{
		"maxPoints": ctx.MaxPoints,
		"ab":        ctx.AB,
	}
	for k, v := range ctx.Config {
		config[k] = v
	}
	tr := TriggerMap(trigger)

	result := make(chan interface{}, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.L().Warn("scoring script panicked", zap.Any("panic", r))
				result <- nil
			}
		}()
		s.mu.Lock()
		defer s.mu.Unlock()
		result <- s.score(markup, config, tr)
	}()

	select {
	case v := <-result:
		return session.DecodeOutcome(v)
	case <-time.After(s.timeout):
		s.poisoned.Store(true)
		logger.L().Warn("scoring script timed out", zap.Duration("timeout", s.timeout))
		return nil
	}
}

// Poisoned 是否有运行超时未返回
func (s *ScriptStrategy) Poisoned() bool {
	return s.poisoned.Load()
}

// validateImports 按Go语法解析import声明，注释和分号写法都不能绕过白名单
func validateImports(code string) error {
	f, err := parser.ParseFile(token.NewFileSet(), "score.go", wrapCode(code), parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("parse imports: %w", err)
	}

	var forbidden []string
	for _, spec := range f.Imports {
		pkg, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return fmt.Errorf("import path %s: %w", spec.Path.Value, err)
		}
		if !allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		sort.Strings(forbidden)
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}

// allowedSymbols 只向解释器暴露白名单内的标准库符号。键形如 "encoding/json/json"
func allowedSymbols() interp.Exports {
	out := make(interp.Exports, len(allowedPackages))
	for key, syms := range stdlib.Symbols {
		idx := strings.LastIndex(key, "/")
		if idx < 0 {
			continue
		}
		if allowedPackages[key[:idx]] {
			out[key] = syms
		}
	}
	return out
}

// wrapCode 源码没有包声明时补上 package main
func wrapCode(code string) string {
	if _, err := parser.ParseFile(token.NewFileSet(), "", code, parser.PackageClauseOnly); err == nil {
		return code
	}
	return "package main\n\n" + code
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
