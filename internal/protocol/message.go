package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var ErrUnknownEvent = errors.New("unknown host event")

// Message 组件发往宿主的出站消息
type Message interface {
	Event() string
}

// LogMessage 日志事件，每次flush携带完整日志
type LogMessage struct {
	Session     string          `json:"session"`
	Status      string          `json:"status"`
	Log         json.RawMessage `json:"log"`
	User        string          `json:"u"`
	AB          bool            `json:"ab"`
	ProblemName string          `json:"problemName,omitempty"`
}

// Event 实现Message
func (LogMessage) Event() string { return EventLog }

// GradeMessage 评分事件
type GradeMessage struct {
	Points      int             `json:"points"`
	MaxPoints   int             `json:"max_points"`
	Session     string          `json:"session"`
	Status      string          `json:"status"`
	Feedback    string          `json:"feedback"`
	Log         json.RawMessage `json:"log"`
	User        string          `json:"u"`
	AB          bool            `json:"ab"`
	ProblemName string          `json:"problemName,omitempty"`
}

// Event 实现Message
func (GradeMessage) Event() string { return EventGrade }

// ResizeMessage 请求宿主调整iframe高度
type ResizeMessage struct {
	Height int `json:"height"`
}

// Event 实现Message
func (ResizeMessage) Event() string { return EventResize }

// Envelope 传输层包装：事件 + 内容包 + 宿主协议元数据
type Envelope struct {
	ContentPackage string                 `json:"package"`
	Message        Message                `json:"-"`
	Protocol       map[string]interface{} `json:"protocol,omitempty"`
}

// DecodeMessage 按事件名解析JSON负载
func DecodeMessage(event string, payload []byte) (Message, error) {
	switch event {
	case EventLog:
		var m LogMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", event, err)
		}
		return m, nil
	case EventGrade:
		var m GradeMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", event, err)
		}
		return m, nil
	case EventResize:
		var m ResizeMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", event, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}

// ToStruct 将信封转换为structpb.Struct
func ToStruct(env *Envelope) (*structpb.Struct, error) {
	raw, err := json.Marshal(env.Message)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}

	fields := map[string]interface{}{
		"event":   env.Message.Event(),
		"package": env.ContentPackage,
		"payload": payload,
	}
	if env.Protocol != nil {
		fields["protocol"] = env.Protocol
	}
	return structpb.NewStruct(fields)
}

// FromStruct 从structpb.Struct还原信封
func FromStruct(s *structpb.Struct) (*Envelope, error) {
	m := s.AsMap()

	event, _ := m["event"].(string)
	payload, ok := m["payload"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidFrame)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg, err := DecodeMessage(event, raw)
	if err != nil {
		return nil, err
	}

	env := &Envelope{Message: msg}
	env.ContentPackage, _ = m["package"].(string)
	if p, ok := m["protocol"].(map[string]interface{}); ok {
		env.Protocol = p
	}
	return env, nil
}

// EncodeEnvelope 编码为二进制帧
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	opcode, ok := OpcodeForEvent(env.Message.Event())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Message.Event())
	}
	s, err := ToStruct(env)
	if err != nil {
		return nil, err
	}
	body, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return EncodeFrame(opcode, body)
}

// DecodeEnvelope 从二进制帧解码
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		return nil, err
	}
	event, ok := EventForOpcode(frame.Opcode)
	if !ok {
		return nil, fmt.Errorf("%w: opcode %d", ErrUnknownEvent, frame.Opcode)
	}

	var s structpb.Struct
	if err := proto.Unmarshal(frame.Body, &s); err != nil {
		return nil, fmt.Errorf("unmarshal body: %w", err)
	}
	env, err := FromStruct(&s)
	if err != nil {
		return nil, err
	}
	if env.Message.Event() != event {
		return nil, fmt.Errorf("%w: opcode %s carries %q", ErrInvalidFrame, OpcodeToString(frame.Opcode), env.Message.Event())
	}
	return env, nil
}
