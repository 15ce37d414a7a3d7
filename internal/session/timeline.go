package session

import (
	"sort"
)

// MarkerClass 时间线标记颜色类别
type MarkerClass string

const (
	MarkerEvent        MarkerClass = "event"
	MarkerGradeSuccess MarkerClass = "grade-success"
	MarkerGradePartial MarkerClass = "grade-partial"
	MarkerGradeFail    MarkerClass = "grade-fail"
)

// Marker 时间线上的单个事件标记
type Marker struct {
	Index    int         `json:"index"`
	Position float64     `json:"position"` // [0,1]
	Class    MarkerClass `json:"class"`
	Type     EntryType   `json:"type"`
	Time     int64       `json:"time"`
}

// BuildTimeline 为每个事件生成标记，位置为 (time-start)/duration。
// 总时长为0时所有标记位于0
func BuildTimeline(seq []LogEntry) []Marker {
	if len(seq) == 0 {
		return nil
	}

	start, end := seq[0].Time, seq[0].Time
	for _, e := range seq {
		if e.Time < start {
			start = e.Time
		}
		if e.Time > end {
			end = e.Time
		}
	}
	duration := end - start

	markers := make([]Marker, 0, len(seq))
	for i, e := range seq {
		m := Marker{
			Index: i,
			Class: markerClass(e),
			Type:  e.Type,
			Time:  e.Time,
		}
		if duration > 0 {
			m.Position = float64(e.Time-start) / float64(duration)
		}
		markers = append(markers, m)
	}
	return markers
}

func markerClass(e LogEntry) MarkerClass {
	if e.Type != EntryGrade {
		return MarkerEvent
	}
	points, _ := e.Number("points")
	maxPoints, ok := e.Number("maxPoints")
	switch {
	case ok && points >= maxPoints:
		return MarkerGradeSuccess
	case points > 0:
		return MarkerGradePartial
	default:
		return MarkerGradeFail
	}
}

// TimelineSummary 一次作答的概览
type TimelineSummary struct {
	Start       int64             `json:"start"`
	End         int64             `json:"end"`
	DurationMs  int64             `json:"duration_ms"`
	TotalEvents int               `json:"total_events"`
	Counts      map[EntryType]int `json:"counts"`
	Grades      int               `json:"grades"`
	BestPoints  float64           `json:"best_points"`
	FinalPoints float64           `json:"final_points"`
	Solved      bool              `json:"solved"`
}

// Summarize 统计事件类型分布与评分走势
func Summarize(entries []LogEntry) *TimelineSummary {
	seq := make([]LogEntry, len(entries))
	copy(seq, entries)
	sort.SliceStable(seq, func(i, j int) bool {
		return seq[i].Time < seq[j].Time
	})

	summary := &TimelineSummary{
		TotalEvents: len(seq),
		Counts:      make(map[EntryType]int),
	}
	if len(seq) == 0 {
		return summary
	}
	summary.Start = seq[0].Time
	summary.End = seq[len(seq)-1].Time
	summary.DurationMs = summary.End - summary.Start

	for _, e := range seq {
		summary.Counts[e.Type]++
		if e.Type != EntryGrade {
			continue
		}
		summary.Grades++
		points, _ := e.Number("points")
		summary.FinalPoints = points
		if points > summary.BestPoints {
			summary.BestPoints = points
		}
		if markerClass(e) == MarkerGradeSuccess {
			summary.Solved = true
		}
	}
	return summary
}
