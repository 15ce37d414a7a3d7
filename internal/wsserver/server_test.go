package wsserver_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WebdevReplay/internal/host"
	"WebdevReplay/internal/ingest"
	"WebdevReplay/internal/logstore"
	"WebdevReplay/internal/protocol"
	"WebdevReplay/internal/session"
	"WebdevReplay/internal/wsserver"
)

func startServer(t *testing.T) (*wsserver.Server, *logstore.Store, string) {
	t.Helper()
	store, err := logstore.New(t.TempDir())
	require.NoError(t, err)

	srv := wsserver.New(wsserver.DefaultServerConfig("127.0.0.1:0"), ingest.NewHandler(store))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		ts.Close()
	})
	return srv, store, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// TestWidgetOverWebSocket 测试组件经WebSocket端口上报并收到确认
func TestWidgetOverWebSocket(t *testing.T) {
	srv, store, url := startServer(t)

	port := host.NewWebSocketPort(host.DefaultWebSocketConfig(url, "webdev-basics"))
	require.NoError(t, port.Connect(context.Background()))

	w := session.NewLiveWidget(session.WidgetConfig{ProblemName: "flex.row", MaxPoints: 1, Height: 200}, port)
	require.NoError(t, w.Reset())
	require.NoError(t, w.Click(1, 2))
	_, _, err := w.Grade(session.Trigger{})
	require.NoError(t, err)
	require.NoError(t, w.Unload())

	require.Eventually(t, func() bool { return port.Acks() == 3 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, port.Close())
	assert.Equal(t, host.Stats{Sent: 3}, port.Stats())

	msg, _, err := store.FindSession("webdev-basics", "flex.row", w.SessionID())
	require.NoError(t, err)
	assert.Equal(t, session.FlushUnload, msg.Status)

	entries, err := session.ParseLog(msg.Log)
	require.NoError(t, err)
	assert.Equal(t, len(w.Entries()), len(entries))

	stats := srv.GetStats()
	assert.Equal(t, uint64(3), stats["total_messages"])
	assert.Equal(t, uint64(0), stats["total_errors"])
}

// TestRejectedFrames 测试无效帧和缺少内容包时回复ERROR
func TestRejectedFrames(t *testing.T) {
	srv, _, url := startServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readOpcode := func() (uint16, string) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		frame, err := protocol.DecodeFrame(raw)
		require.NoError(t, err)
		return frame.Opcode, string(frame.Body)
	}

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
	op, _ := readOpcode()
	assert.Equal(t, protocol.OpError, op)

	frame, err := protocol.EncodeEnvelope(&protocol.Envelope{Message: protocol.ResizeMessage{Height: 10}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
	op, reason := readOpcode()
	assert.Equal(t, protocol.OpError, op)
	assert.Contains(t, reason, ingest.ErrMissingPackage.Error())

	frame, err = protocol.EncodeEnvelope(&protocol.Envelope{ContentPackage: "pkg", Message: protocol.ResizeMessage{Height: 10}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
	op, _ = readOpcode()
	assert.Equal(t, protocol.OpAck, op)

	assert.Equal(t, uint64(2), srv.GetStats()["total_errors"])
}
