package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/protocol"
)

// ClientState 连接状态
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// WebSocketConfig WebSocket端口配置
type WebSocketConfig struct {
	URL               string
	ContentPackage    string
	Protocol          map[string]interface{}
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	ReconnectInterval time.Duration
	MaxReconnectTries int
	QueueSize         int
	UserAgent         string
}

// DefaultWebSocketConfig 默认配置
func DefaultWebSocketConfig(url, contentPackage string) *WebSocketConfig {
	return &WebSocketConfig{
		URL:               url,
		ContentPackage:    contentPackage,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReconnectInterval: 500 * time.Millisecond,
		MaxReconnectTries: 10,
		QueueSize:         DefaultQueueSize,
		UserAgent:         "WebdevReplay/1.0",
	}
}

// WebSocketPort 通过WebSocket发送二进制帧。
// 断线时只重连，不重发失败的消息
type WebSocketPort struct {
	config *WebSocketConfig
	dialer *websocket.Dialer

	mu      sync.RWMutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	state   atomic.Int32

	stopChan chan struct{}
	wg       sync.WaitGroup
	acks     atomic.Int64

	*dispatcher
}

// NewWebSocketPort 创建端口，需调用Connect建立连接
func NewWebSocketPort(config *WebSocketConfig) *WebSocketPort {
	if config == nil {
		panic("config cannot be nil")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout

	p := &WebSocketPort{
		config:   config,
		dialer:   &dialer,
		stopChan: make(chan struct{}),
	}
	p.state.Store(int32(StateDisconnected))
	p.dispatcher = newDispatcher("websocket", config.ContentPackage, config.Protocol, config.QueueSize, p.write)
	return p
}

// Connect 连接宿主，失败时按指数退避重试
func (p *WebSocketPort) Connect(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return errors.New("port is not in disconnected state")
	}

	if err := p.dialWithBackoff(ctx); err != nil {
		p.setState(StateDisconnected)
		return err
	}
	p.setState(StateConnected)

	p.wg.Add(1)
	go p.readLoop()
	return nil
}

func (p *WebSocketPort) dialWithBackoff(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.ReconnectInterval
	b.MaxElapsedTime = time.Duration(p.config.MaxReconnectTries) * p.config.ReconnectInterval * 4

	return backoff.Retry(func() error {
		return p.dial(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.config.MaxReconnectTries)), ctx))
}

func (p *WebSocketPort) dial(ctx context.Context) error {
	headers := http.Header{"User-Agent": []string{p.config.UserAgent}}
	conn, resp, err := p.dialer.DialContext(ctx, p.config.URL, headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	return nil
}

// write 由dispatcher调用，写失败时丢弃该消息并触发重连
func (p *WebSocketPort) write(env *protocol.Envelope) error {
	frame, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil || p.State() != StateConnected {
		return errors.New("not connected")
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		p.triggerReconnect()
		return err
	}
	return nil
}

// readLoop 读取服务端确认帧
func (p *WebSocketPort) readLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		p.mu.RLock()
		conn := p.conn
		p.mu.RUnlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if p.State() == StateClosed {
				return
			}
			logger.L().Debug("websocket read failed", zap.Error(err))
			if !p.reconnect() {
				return
			}
			continue
		}

		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			logger.L().Warn("invalid frame from host", zap.Error(err))
			continue
		}
		switch frame.Opcode {
		case protocol.OpAck:
			p.acks.Add(1)
		case protocol.OpError:
			logger.L().Warn("host rejected message", zap.ByteString("reason", frame.Body))
		}
	}
}

func (p *WebSocketPort) triggerReconnect() {
	p.state.CompareAndSwap(int32(StateConnected), int32(StateReconnecting))
}

// reconnect 关闭旧连接后重新拨号
func (p *WebSocketPort) reconnect() bool {
	if !p.state.CompareAndSwap(int32(StateConnected), int32(StateReconnecting)) &&
		p.State() != StateReconnecting {
		return false
	}

	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-p.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer cancel()

	if err := p.dialWithBackoff(ctx); err != nil {
		logger.L().Warn("reconnect failed", zap.String("url", p.config.URL), zap.Error(err))
		p.state.CompareAndSwap(int32(StateReconnecting), int32(StateDisconnected))
		return false
	}
	if !p.state.CompareAndSwap(int32(StateReconnecting), int32(StateConnected)) {
		// 重连期间被关闭
		p.mu.Lock()
		if p.conn != nil {
			p.conn.Close()
			p.conn = nil
		}
		p.mu.Unlock()
		return false
	}
	logger.L().Info("reconnected", zap.String("url", p.config.URL))
	return true
}

// Close 排空队列后关闭连接
func (p *WebSocketPort) Close() error {
	p.dispatcher.close()

	if ClientState(p.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	close(p.stopChan)

	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	var err error
	if conn != nil {
		p.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		p.writeMu.Unlock()
		err = conn.Close()
	}
	p.wg.Wait()
	return err
}

// State 当前连接状态
func (p *WebSocketPort) State() ClientState {
	return ClientState(p.state.Load())
}

func (p *WebSocketPort) setState(s ClientState) {
	p.state.Store(int32(s))
}

// Acks 收到的确认数
func (p *WebSocketPort) Acks() int64 {
	return p.acks.Load()
}

// Stats 投递统计
func (p *WebSocketPort) Stats() Stats {
	return p.dispatcher.stats()
}
