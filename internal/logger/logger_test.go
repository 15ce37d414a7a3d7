package logger_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"WebdevReplay/internal/logger"
)

// TestInitRejectsBadLevel 测试非法日志级别
func TestInitRejectsBadLevel(t *testing.T) {
	assert.Error(t, logger.Init("loud", "json"))
}

// TestReplaceRestores 测试替换与恢复全局日志器
func TestReplaceRestores(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := logger.Replace(zap.New(core))
	logger.S().Infow("hello", "k", 1)
	restore()
	logger.L().Info("after restore")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "hello", logs.All()[0].Message)
}

// TestEventStreamBroadcast 测试事件广播到WebSocket客户端
func TestEventStreamBroadcast(t *testing.T) {
	stream := logger.NewEventStream()
	go stream.Run()
	defer stream.Close()

	srv := httptest.NewServer(http.HandlerFunc(stream.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return stream.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	stream.Info("log", "pkg", "s1", "log stored", nil)

	var ev logger.StreamEvent
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "INFO", ev.Level)
	assert.Equal(t, "log", ev.Event)
	assert.Equal(t, "s1", ev.Session)
	assert.False(t, ev.Timestamp.IsZero())
}
