package session_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WebdevReplay/internal/session"
)

func newRecorder(clock *manualClock, port *capturePort) *session.Recorder {
	store := session.NewLogStore(clock.Now)
	flusher := session.NewFlusher(session.Identity{SessionID: "s-1", User: "u42"}, store, port)
	return session.NewRecorder(store, flusher, 0)
}

// TestLogStoreMonotonicTime 测试时间戳单调不减
func TestLogStoreMonotonicTime(t *testing.T) {
	clock := &manualClock{now: 1000}
	store := session.NewLogStore(clock.Now)

	store.Append(session.EntryMouseClick, nil)
	clock.Set(900)
	e := store.Append(session.EntryMouseClick, nil)
	clock.Set(1500)
	store.Append(session.EntryReset, nil)

	assert.Equal(t, int64(1000), e.Time)
	got := store.Entries()
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Time, got[i].Time)
	}
}

// TestLogStoreEntriesAreCopies 测试返回副本不影响存储
func TestLogStoreEntriesAreCopies(t *testing.T) {
	store := session.NewLogStore(func() int64 { return 1 })
	fields := session.Fields{"x": 1}
	store.Append(session.EntryMouseClick, fields)
	fields["x"] = 99

	got := store.Entries()
	got[0].Fields["x"] = 7

	again := store.Entries()
	assert.Equal(t, 1, again[0].Fields["x"])
}

// TestLogStoreCopiesNestedFields 测试嵌套字段也被复制
func TestLogStoreCopiesNestedFields(t *testing.T) {
	store := session.NewLogStore(func() int64 { return 1 })
	nested := map[string]interface{}{"w": 100}
	list := []interface{}{"a", map[string]interface{}{"k": 1}}
	store.Append(session.EntryAttributes, session.Fields{"rect": nested, "path": list})

	nested["w"] = 5
	list[0] = "z"
	list[1].(map[string]interface{})["k"] = 2

	got := store.Entries()
	assert.Equal(t, map[string]interface{}{"w": 100}, got[0].Fields["rect"])
	assert.Equal(t, []interface{}{"a", map[string]interface{}{"k": 1}}, got[0].Fields["path"])

	got[0].Fields["rect"].(map[string]interface{})["w"] = 9
	again := store.Entries()
	assert.Equal(t, 100, again[0].Fields["rect"].(map[string]interface{})["w"])
}

// TestLogEntryJSONRoundTrip 测试扁平化JSON
func TestLogEntryJSONRoundTrip(t *testing.T) {
	e := session.LogEntry{
		Type:   session.EntryGrade,
		Time:   1234,
		Fields: session.Fields{"points": 3, "type": "bogus"},
	}
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"grade","time":1234,"points":3}`, string(data))

	var back session.LogEntry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, session.EntryGrade, back.Type)
	assert.Equal(t, int64(1234), back.Time)
	p, ok := back.Number("points")
	require.True(t, ok)
	assert.Equal(t, 3.0, p)

	assert.Error(t, json.Unmarshal([]byte(`{"time":1}`), &back))
	assert.Error(t, json.Unmarshal([]byte(`{"type":"x"}`), &back))
}

// TestRecorderAutoFlushAfterThreshold 测试第五个条目触发logqueue
func TestRecorderAutoFlushAfterThreshold(t *testing.T) {
	port := &capturePort{}
	rec := newRecorder(&manualClock{now: 10}, port)

	for i := 0; i < 4; i++ {
		rec.Record(session.EntryMouseClick, session.Fields{"i": i})
	}
	assert.Empty(t, port.logs())
	assert.Equal(t, 4, rec.Pending())

	rec.Record(session.EntryMouseClick, nil)
	logs := port.logs()
	require.Len(t, logs, 1)
	assert.Equal(t, session.FlushLogQueue, logs[0].Status)
	assert.Equal(t, "s-1", logs[0].Session)
	assert.Equal(t, "u42", logs[0].User)
	assert.Equal(t, 0, rec.Pending())

	parsed, err := session.ParseLog(logs[0].Log)
	require.NoError(t, err)
	assert.Len(t, parsed, 5)
}

// TestRecorderFlushExempt 测试豁免条目不触发自动flush
func TestRecorderFlushExempt(t *testing.T) {
	port := &capturePort{}
	rec := newRecorder(&manualClock{now: 10}, port)

	for i := 0; i < 8; i++ {
		rec.Record(session.EntryWindowBlur, nil, session.FlushExempt())
	}
	assert.Empty(t, port.logs())
	assert.Equal(t, 8, rec.Pending())

	// 下一个普通条目立即触发
	rec.Record(session.EntryMouseClick, nil)
	assert.Len(t, port.logs(), 1)
}

// TestRecordMutations 测试每条变更一个条目
func TestRecordMutations(t *testing.T) {
	port := &capturePort{}
	rec := newRecorder(&manualClock{now: 10}, port)

	rec.RecordMutations([]session.MutationRecord{
		{Target: "#box"},
		{Kind: session.EntryAttributes, Target: "#box", Attribute: "class"},
	})

	got := rec.Store().Entries()
	require.Len(t, got, 2)
	assert.Equal(t, session.EntryChildList, got[0].Type)
	assert.Equal(t, session.EntryAttributes, got[1].Type)
	assert.Equal(t, "class", got[1].Fields["attribute"])
	assert.True(t, got[1].Type.IsMutation())
}

// TestFlushIsIdempotentWithoutRecords 测试连续flush内容相同且不截断
func TestFlushIsIdempotentWithoutRecords(t *testing.T) {
	port := &capturePort{}
	rec := newRecorder(&manualClock{now: 10}, port)
	rec.Record(session.EntryMouseClick, nil)
	rec.Record(session.EntryReset, nil)

	rec.Flush(session.FlushUnload)
	rec.Flush(session.FlushUnload)

	logs := port.logs()
	require.Len(t, logs, 2)
	assert.Equal(t, string(logs[0].Log), string(logs[1].Log))
	assert.Equal(t, 2, rec.Store().Len())
}

// TestFlushLogParsesBackToStore 测试flush负载与存储一致
func TestFlushLogParsesBackToStore(t *testing.T) {
	port := &capturePort{}
	rec := newRecorder(&manualClock{now: 10}, port)
	rec.Record(session.EntryMouseClick, session.Fields{"x": 3, "y": 4})
	rec.Flush("manual")

	parsed, err := session.ParseLog(port.logs()[0].Log)
	require.NoError(t, err)
	stored := rec.Store().Entries()
	require.Len(t, parsed, len(stored))
	assert.Equal(t, stored[0].Type, parsed[0].Type)
	assert.Equal(t, stored[0].Time, parsed[0].Time)
	x, _ := parsed[0].Number("x")
	assert.Equal(t, 3.0, x)
}
