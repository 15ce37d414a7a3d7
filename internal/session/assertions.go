package session

import (
	"fmt"
)

// AssertionResult 断言结果
type AssertionResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	Index   int    `json:"index,omitempty"` // 首个违规条目下标
}

// Assertion 对录制序列的检查
type Assertion interface {
	Assert(entries []LogEntry) *AssertionResult
	GetName() string
}

// MonotonicTimeAssertion 时间戳单调不减，回放正确性依赖于此
type MonotonicTimeAssertion struct{}

// GetName 获取断言名称
func (MonotonicTimeAssertion) GetName() string { return "monotonic_time" }

// Assert 执行断言
func (a MonotonicTimeAssertion) Assert(entries []LogEntry) *AssertionResult {
	for i := 1; i < len(entries); i++ {
		if entries[i].Time < entries[i-1].Time {
			return &AssertionResult{
				Name:    a.GetName(),
				Message: fmt.Sprintf("time goes backwards at index %d: %d < %d", i, entries[i].Time, entries[i-1].Time),
				Index:   i,
			}
		}
	}
	return &AssertionResult{Name: a.GetName(), Passed: true, Message: fmt.Sprintf("%d entries in order", len(entries))}
}

// PlayableRangeAssertion 至少两个事件且总时长大于0
type PlayableRangeAssertion struct{}

// GetName 获取断言名称
func (PlayableRangeAssertion) GetName() string { return "playable_range" }

// Assert 执行断言
func (a PlayableRangeAssertion) Assert(entries []LogEntry) *AssertionResult {
	if len(entries) < 2 {
		return &AssertionResult{Name: a.GetName(), Message: fmt.Sprintf("only %d entries", len(entries))}
	}
	s := Summarize(entries)
	if s.DurationMs <= 0 {
		return &AssertionResult{Name: a.GetName(), Message: "zero duration"}
	}
	return &AssertionResult{Name: a.GetName(), Passed: true, Message: fmt.Sprintf("%d ms playable", s.DurationMs)}
}

// GradeBoundsAssertion grade条目的分数位于[0, maxPoints]
type GradeBoundsAssertion struct{}

// GetName 获取断言名称
func (GradeBoundsAssertion) GetName() string { return "grade_bounds" }

// Assert 执行断言
func (a GradeBoundsAssertion) Assert(entries []LogEntry) *AssertionResult {
	for i, e := range entries {
		if e.Type != EntryGrade {
			continue
		}
		points, ok := e.Number("points")
		maxPoints, hasMax := e.Number("maxPoints")
		if !ok || points < 0 || (hasMax && points > maxPoints) {
			return &AssertionResult{
				Name:    a.GetName(),
				Message: fmt.Sprintf("grade at index %d out of bounds: %v/%v", i, e.Fields["points"], e.Fields["maxPoints"]),
				Index:   i,
			}
		}
	}
	return &AssertionResult{Name: a.GetName(), Passed: true, Message: "all grades within bounds"}
}

// DefaultAssertions 默认检查集合
func DefaultAssertions() []Assertion {
	return []Assertion{
		MonotonicTimeAssertion{},
		PlayableRangeAssertion{},
		GradeBoundsAssertion{},
	}
}

// RunAssertions 执行全部检查
func RunAssertions(entries []LogEntry, assertions ...Assertion) []*AssertionResult {
	if len(assertions) == 0 {
		assertions = DefaultAssertions()
	}
	results := make([]*AssertionResult, 0, len(assertions))
	for _, a := range assertions {
		results = append(results, a.Assert(entries))
	}
	return results
}
