package session

import (
	"encoding/json"
	"fmt"
)

// EntryType 日志条目类型
type EntryType string

const (
	EntryMouseClick  EntryType = "mouseClick"
	EntryWindowBlur  EntryType = "windowBlur"
	EntryWindowFocus EntryType = "windowFocus"
	EntryReset       EntryType = "reset"
	EntryGrade       EntryType = "grade"

	// DOM变更类型
	EntryChildList     EntryType = "childList"
	EntryAttributes    EntryType = "attributes"
	EntryCharacterData EntryType = "characterData"
)

// IsMutation 判断是否为DOM变更类型
func (t EntryType) IsMutation() bool {
	switch t {
	case EntryChildList, EntryAttributes, EntryCharacterData:
		return true
	default:
		return false
	}
}

// Fields 条目的附加字段
type Fields map[string]interface{}

// LogEntry 单条带时间戳的交互或变更记录，追加后不可修改
type LogEntry struct {
	Type   EntryType `json:"type"`
	Time   int64     `json:"time"` // 毫秒时间戳
	Fields Fields    `json:"-"`
}

// Field 读取附加字段
func (e LogEntry) Field(key string) (interface{}, bool) {
	if e.Fields == nil {
		return nil, false
	}
	v, ok := e.Fields[key]
	return v, ok
}

// Number 读取数值字段，兼容JSON解码后的float64
func (e LogEntry) Number(key string) (float64, bool) {
	v, ok := e.Field(key)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// clone 深拷贝字段，嵌套的map和切片也复制，保证存储内容不被调用方修改
func (e LogEntry) clone() LogEntry {
	out := LogEntry{Type: e.Type, Time: e.Time}
	if e.Fields != nil {
		out.Fields = copyMap(e.Fields)
	}
	return out
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue 只复制JSON形态的容器，其他值按值保留
func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Fields:
		if t == nil {
			return t
		}
		return Fields(copyMap(t))
	case map[string]interface{}:
		if t == nil {
			return t
		}
		return copyMap(t)
	case []interface{}:
		if t == nil {
			return t
		}
		out := make([]interface{}, len(t))
		for i, x := range t {
			out[i] = copyValue(x)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// MarshalJSON 扁平化输出: {"type":..., "time":..., 其余字段}
func (e LogEntry) MarshalJSON() ([]byte, error) {
	flat := make(map[string]interface{}, len(e.Fields)+2)
	for k, v := range e.Fields {
		flat[k] = v
	}
	flat["type"] = e.Type
	flat["time"] = e.Time
	return json.Marshal(flat)
}

// UnmarshalJSON 解析扁平化格式
func (e *LogEntry) UnmarshalJSON(data []byte) error {
	var flat map[string]interface{}
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	typ, ok := flat["type"].(string)
	if !ok {
		return fmt.Errorf("log entry: missing type")
	}
	ts, ok := toFloat(flat["time"])
	if !ok {
		return fmt.Errorf("log entry %q: missing time", typ)
	}
	delete(flat, "type")
	delete(flat, "time")

	e.Type = EntryType(typ)
	e.Time = int64(ts)
	e.Fields = nil
	if len(flat) > 0 {
		e.Fields = Fields(flat)
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
