package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WebdevReplay/internal/protocol"
)

// TestFrameCodec 测试帧编解码与边界
func TestFrameCodec(t *testing.T) {
	raw, err := protocol.EncodeFrame(protocol.OpAck, nil)
	require.NoError(t, err)
	assert.Len(t, raw, protocol.FrameHeaderSize)

	frame, err := protocol.DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.OpAck, frame.Opcode)
	assert.Empty(t, frame.Body)

	raw, err = protocol.EncodeFrame(protocol.OpError, []byte("bad"))
	require.NoError(t, err)
	frame, err = protocol.DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, "bad", string(frame.Body))

	_, err = protocol.DecodeFrame([]byte{0x03, 0xE9})
	assert.ErrorIs(t, err, protocol.ErrFrameTooSmall)

	_, err = protocol.DecodeFrame(append(raw, 0x00))
	assert.ErrorIs(t, err, protocol.ErrInvalidFrame)
}

// TestEnvelopeRoundTrip 测试三种事件经二进制帧传输后保持不变
func TestEnvelopeRoundTrip(t *testing.T) {
	messages := []protocol.Message{
		protocol.LogMessage{
			Session: "s1", Status: "logqueue", User: "u7", AB: true, ProblemName: "p",
			Log: json.RawMessage(`[{"time":1,"type":"reset"}]`),
		},
		protocol.GradeMessage{
			Points: 2, MaxPoints: 3, Session: "s1", Status: "graded", Feedback: "ok",
			Log: json.RawMessage(`[]`), User: "u7",
		},
		protocol.ResizeMessage{Height: 480},
	}

	for _, msg := range messages {
		t.Run(msg.Event(), func(t *testing.T) {
			env := &protocol.Envelope{
				ContentPackage: "webdev-basics",
				Message:        msg,
				Protocol:       map[string]interface{}{"lti": "1.3"},
			}
			raw, err := protocol.EncodeEnvelope(env)
			require.NoError(t, err)

			got, err := protocol.DecodeEnvelope(raw)
			require.NoError(t, err)
			assert.Equal(t, "webdev-basics", got.ContentPackage)
			assert.Equal(t, env.Protocol, got.Protocol)

			want, _ := json.Marshal(msg)
			have, _ := json.Marshal(got.Message)
			assert.JSONEq(t, string(want), string(have))
		})
	}
}

// TestDecodeMessageUnknown 测试未知事件
func TestDecodeMessageUnknown(t *testing.T) {
	_, err := protocol.DecodeMessage("explode", []byte(`{}`))
	assert.ErrorIs(t, err, protocol.ErrUnknownEvent)

	_, err = protocol.DecodeMessage(protocol.EventGrade, []byte(`{"points":"x"}`))
	assert.Error(t, err)
}

// TestOpcodeTables 测试操作码映射
func TestOpcodeTables(t *testing.T) {
	for _, event := range []string{protocol.EventLog, protocol.EventGrade, protocol.EventResize} {
		op, ok := protocol.OpcodeForEvent(event)
		require.True(t, ok)
		back, ok := protocol.EventForOpcode(op)
		require.True(t, ok)
		assert.Equal(t, event, back)
		assert.True(t, protocol.IsValidOpcode(op))
	}
	_, ok := protocol.EventForOpcode(protocol.OpAck)
	assert.False(t, ok)
	assert.Equal(t, "UNKNOWN", protocol.OpcodeToString(42))
}

// FuzzDecodeEnvelope 模糊测试帧解码，不应panic
func FuzzDecodeEnvelope(f *testing.F) {
	seed, _ := protocol.EncodeEnvelope(&protocol.Envelope{
		ContentPackage: "pkg",
		Message:        protocol.LogMessage{Session: "s", Log: json.RawMessage(`[]`)},
	})
	f.Add(seed)
	f.Add([]byte{})
	f.Add([]byte{0x03, 0xE9, 0, 0, 0, 0})
	f.Add([]byte{0xFF, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			return
		}
		// 解码成功的信封应能重新编码
		if _, err := protocol.EncodeEnvelope(env); err != nil {
			t.Errorf("re-encode failed after successful decode: %v", err)
		}
	})
}
