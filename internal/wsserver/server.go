package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"WebdevReplay/internal/ingest"
	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/protocol"
)

// ServerConfig WebSocket接入服务配置
type ServerConfig struct {
	Addr            string
	MaxConnections  int
	ReadBufferSize  int
	WriteBufferSize int
	IdleTimeout     time.Duration // 连接无消息的最长时间
	HandleTimeout   time.Duration // 单个事件的处理时限
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig(addr string) *ServerConfig {
	return &ServerConfig{
		Addr:            addr,
		MaxConnections:  1000,
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
		IdleTimeout:     5 * time.Minute,
		HandleTimeout:   10 * time.Second,
	}
}

// ConnectionStats 连接统计信息
type ConnectionStats struct {
	ConnectedAt      time.Time
	MessagesReceived atomic.Uint64
	MessagesAcked    atomic.Uint64
	MessagesRejected atomic.Uint64
	BytesReceived    atomic.Uint64
	LastActivity     atomic.Int64 // unix nano
}

// Connection 一个组件页面的连接
type Connection struct {
	ID    string
	Conn  *websocket.Conn
	Stats *ConnectionStats

	stopChan  chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

func (c *Connection) safeClose() {
	c.closeOnce.Do(func() {
		close(c.stopChan)
	})
}

// Server 接收二进制帧形式的宿主事件
type Server struct {
	config   *ServerConfig
	server   *http.Server
	upgrader websocket.Upgrader
	handler  *ingest.Handler

	connections sync.Map // map[string]*Connection
	connCount   atomic.Int32
	connWg      sync.WaitGroup

	isRunning atomic.Bool

	totalConnections atomic.Uint64
	totalMessages    atomic.Uint64
	totalErrors      atomic.Uint64
	startTime        time.Time
}

// New 创建服务器
func New(config *ServerConfig, handler *ingest.Handler) *Server {
	if config == nil {
		config = DefaultServerConfig(":8081")
	}

	s := &Server{
		config:  config,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // 组件嵌在任意宿主页面中
			},
		},
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/stats", s.handleStats)

	s.server = &http.Server{
		Addr:    config.Addr,
		Handler: mux,
	}
	return s
}

// Handler 路由处理器
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start 监听端口并在后台服务
func (s *Server) Start() error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.isRunning.Store(false)
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	logger.L().Info("starting websocket ingest server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Error("websocket server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown 关闭所有连接和监听
func (s *Server) Shutdown(ctx context.Context) error {
	logger.L().Info("shutting down websocket ingest server")

	s.connections.Range(func(key, value interface{}) bool {
		s.closeConnection(value.(*Connection), "Server shutdown")
		return true
	})
	s.connWg.Wait()

	s.isRunning.Store(false)
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.connCount.Load() >= int32(s.config.MaxConnections) {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := fmt.Sprintf("conn_%d_%d", time.Now().UnixNano(), s.totalConnections.Add(1))
	conn := &Connection{
		ID:       connID,
		Conn:     wsConn,
		Stats:    &ConnectionStats{ConnectedAt: time.Now()},
		stopChan: make(chan struct{}),
	}
	conn.Stats.LastActivity.Store(time.Now().UnixNano())

	s.connections.Store(connID, conn)
	s.connCount.Add(1)
	s.connWg.Add(1)

	logger.L().Debug("new connection", zap.String("conn", connID), zap.String("remote", r.RemoteAddr))

	defer func() {
		s.closeConnection(conn, "Connection ended")
		s.connWg.Done()
	}()
	s.messageReadLoop(conn)
}

// messageReadLoop 读取帧直到连接关闭
func (s *Server) messageReadLoop(conn *Connection) {
	conn.Conn.SetReadLimit(protocol.MaxFrameSize)

	for {
		select {
		case <-conn.stopChan:
			return
		default:
		}

		conn.Conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		messageType, raw, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.L().Debug("connection read error", zap.String("conn", conn.ID), zap.Error(err))
			}
			return
		}

		conn.Stats.MessagesReceived.Add(1)
		conn.Stats.BytesReceived.Add(uint64(len(raw)))
		conn.Stats.LastActivity.Store(time.Now().UnixNano())
		s.totalMessages.Add(1)

		if messageType != websocket.BinaryMessage {
			continue
		}
		s.handleMessage(conn, raw)
	}
}

// handleMessage 解码并处理一个事件，成功回ACK，失败回ERROR
func (s *Server) handleMessage(conn *Connection, raw []byte) {
	env, err := protocol.DecodeEnvelope(raw)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.HandleTimeout)
		err = s.handler.Handle(ctx, ingest.Event{
			ContentPackage: env.ContentPackage,
			Message:        env.Message,
			Protocol:       env.Protocol,
		})
		cancel()
	}

	if err != nil {
		s.totalErrors.Add(1)
		conn.Stats.MessagesRejected.Add(1)
		logger.L().Warn("reject host event", zap.String("conn", conn.ID), zap.Error(err))
		s.send(conn, protocol.OpError, []byte(err.Error()))
		return
	}
	conn.Stats.MessagesAcked.Add(1)
	s.send(conn, protocol.OpAck, nil)
}

func (s *Server) send(conn *Connection, opcode uint16, body []byte) {
	frame, err := protocol.EncodeFrame(opcode, body)
	if err != nil {
		logger.L().Warn("encode reply failed", zap.Error(err))
		return
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.Conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		logger.L().Debug("write reply failed", zap.String("conn", conn.ID), zap.Error(err))
	}
}

// closeConnection 关闭连接，可重复调用
func (s *Server) closeConnection(conn *Connection, reason string) {
	if _, loaded := s.connections.LoadAndDelete(conn.ID); !loaded {
		return
	}
	s.connCount.Add(-1)

	conn.mu.Lock()
	conn.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	conn.Conn.Close()
	conn.mu.Unlock()

	conn.safeClose()
	logger.L().Debug("connection closed", zap.String("conn", conn.ID), zap.String("reason", reason))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.GetStats())
}

// GetStats 获取服务器统计信息
func (s *Server) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"running":             s.isRunning.Load(),
		"uptime_seconds":      time.Since(s.startTime).Seconds(),
		"current_connections": s.connCount.Load(),
		"total_connections":   s.totalConnections.Load(),
		"total_messages":      s.totalMessages.Load(),
		"total_errors":        s.totalErrors.Load(),
	}
}
