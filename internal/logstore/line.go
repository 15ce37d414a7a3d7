package logstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeLayout 毫秒精度的UTC ISO-8601
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

var ErrMalformedLine = errors.New("malformed log line")

// Line 日志文件中的一行：时间 \t 事件负载 \t 协议元数据
type Line struct {
	Time     time.Time
	Payload  json.RawMessage
	Protocol json.RawMessage
	Raw      string
}

// FormatLine 生成一行（不含换行符）
func FormatLine(ts time.Time, payload interface{}, protocolMeta map[string]interface{}) (string, error) {
	pl, err := compactJSON(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	if protocolMeta == nil {
		protocolMeta = map[string]interface{}{}
	}
	pr, err := compactJSON(protocolMeta)
	if err != nil {
		return "", fmt.Errorf("encode protocol: %w", err)
	}
	return ts.UTC().Format(TimeLayout) + "\t" + pl + "\t" + pr, nil
}

// compactJSON 保证输出不含换行和制表符
func compactJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ParseLine 解析一行，协议列可缺省
func ParseLine(raw string) (Line, error) {
	parts := strings.SplitN(raw, "\t", 3)
	if len(parts) < 2 {
		return Line{}, fmt.Errorf("%w: expected tab separated columns", ErrMalformedLine)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Line{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedLine, err)
	}
	if !json.Valid([]byte(parts[1])) {
		return Line{}, fmt.Errorf("%w: payload is not JSON", ErrMalformedLine)
	}

	line := Line{Time: ts, Payload: json.RawMessage(parts[1]), Raw: raw}
	if len(parts) == 3 {
		line.Protocol = json.RawMessage(parts[2])
	}
	return line, nil
}

// Session 负载中的session字段，非字符串或缺失时返回false
func (l Line) Session() (string, bool) {
	var probe struct {
		Session *string `json:"session"`
	}
	if err := json.Unmarshal(l.Payload, &probe); err != nil || probe.Session == nil {
		return "", false
	}
	return *probe.Session, true
}
