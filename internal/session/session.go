package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock 毫秒时钟，测试中可替换
type Clock func() int64

// WallClock 系统时钟
func WallClock() int64 {
	return time.Now().UnixMilli()
}

// NewSessionID 生成会话标识，每个组件实例只生成一次
func NewSessionID() string {
	return uuid.New().String()
}

// LogStore 仅追加的有序日志，归单个组件实例所有
type LogStore struct {
	mu      sync.RWMutex
	entries []LogEntry
	clock   Clock
}

// NewLogStore 创建日志存储
func NewLogStore(clock Clock) *LogStore {
	if clock == nil {
		clock = WallClock
	}
	return &LogStore{
		entries: make([]LogEntry, 0, 64),
		clock:   clock,
	}
}

// Append 以当前时间追加条目并返回追加后的副本
func (s *LogStore) Append(entryType EntryType, fields Fields) LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	// 时间戳单调不减
	if n := len(s.entries); n > 0 && now < s.entries[n-1].Time {
		now = s.entries[n-1].Time
	}

	entry := LogEntry{Type: entryType, Time: now, Fields: fields}.clone()
	s.entries = append(s.entries, entry)
	return entry.clone()
}

// Len 条目数量
func (s *LogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries 返回全部条目的副本
func (s *LogStore) Entries() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LogEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.clone()
	}
	return out
}

// MarshalJSON 序列化完整历史
func (s *LogStore) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Entries())
}

// ParseLog 解析序列化的日志数组
func ParseLog(data []byte) ([]LogEntry, error) {
	var entries []LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
