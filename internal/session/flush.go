package session

import (
	"encoding/json"

	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/protocol"

	"go.uber.org/zap"
)

// Flush原因
const (
	FlushLogQueue = "logqueue"
	FlushUnload   = "unload"
)

// Identity 一次作答尝试的身份信息
type Identity struct {
	SessionID   string
	User        string
	AB          bool
	ProblemName string
}

// Flusher 把完整日志作为log事件发往宿主
type Flusher struct {
	identity Identity
	store    *LogStore
	port     Port
}

// NewFlusher 创建Flusher，port为nil时丢弃所有消息
func NewFlusher(identity Identity, store *LogStore, port Port) *Flusher {
	if port == nil {
		port = nopPort{}
	}
	return &Flusher{identity: identity, store: store, port: port}
}

// Identity 身份信息
func (f *Flusher) Identity() Identity {
	return f.identity
}

// Snapshot 序列化当前完整日志
func (f *Flusher) Snapshot() json.RawMessage {
	data, err := f.store.MarshalJSON()
	if err != nil {
		// 条目字段来自调用方，无法序列化时发送空数组而不是中断
		logger.L().Warn("log store not serializable", zap.String("session", f.identity.SessionID), zap.Error(err))
		return json.RawMessage("[]")
	}
	return data
}

// Flush 发送log事件。不截断日志，每次都重发完整历史
func (f *Flusher) Flush(reason string) protocol.LogMessage {
	msg := protocol.LogMessage{
		Session:     f.identity.SessionID,
		Status:      reason,
		Log:         f.Snapshot(),
		User:        f.identity.User,
		AB:          f.identity.AB,
		ProblemName: f.identity.ProblemName,
	}

	logger.L().Debug("flush",
		zap.String("session", msg.Session),
		zap.String("reason", reason),
		zap.Int("entries", f.store.Len()))

	f.port.Send(msg)
	return msg
}
