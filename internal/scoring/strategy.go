package scoring

import (
	"WebdevReplay/internal/session"
)

// Constant 总是返回固定结果，主要用于演示和测试
func Constant(v interface{}) session.ScoringStrategy {
	return session.ScoringFunc(func(session.ScoringContext, session.Trigger) session.GradeOutcome {
		return session.DecodeOutcome(v)
	})
}

// MarkupContains 内容包含全部片段时满分，否则按命中比例给分
func MarkupContains(fragments ...string) session.ScoringStrategy {
	return session.ScoringFunc(func(ctx session.ScoringContext, _ session.Trigger) session.GradeOutcome {
		if len(fragments) == 0 {
			return session.Points{Value: float64(ctx.MaxPoints)}
		}
		markup := ""
		if ctx.Surface != nil {
			markup = ctx.Surface.Markup()
		}
		hit := 0
		for _, f := range fragments {
			if containsFold(markup, f) {
				hit++
			}
		}
		return session.Points{Value: float64(ctx.MaxPoints) * float64(hit) / float64(len(fragments))}
	})
}

// TriggerMap 把触发源转为脚本可读的动态对象
func TriggerMap(trigger session.Trigger) map[string]interface{} {
	out := map[string]interface{}{}
	if trigger.Event != nil {
		for k, v := range trigger.Event.Fields {
			out[k] = v
		}
		out["type"] = string(trigger.Event.Type)
		out["time"] = trigger.Event.Time
	}
	if len(trigger.Mutations) > 0 {
		mutations := make([]interface{}, 0, len(trigger.Mutations))
		for _, m := range trigger.Mutations {
			mutations = append(mutations, map[string]interface{}{
				"kind":      string(m.Kind),
				"target":    m.Target,
				"attribute": m.Attribute,
				"markup":    m.Markup,
			})
		}
		out["mutations"] = mutations
	}
	return out
}
