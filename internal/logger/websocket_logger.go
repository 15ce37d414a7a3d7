package logger

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamEvent 推送给实时监控客户端的事件
type StreamEvent struct {
	Level     string      `json:"level"`
	Event     string      `json:"event"`
	Package   string      `json:"package,omitempty"`
	Session   string      `json:"session,omitempty"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventStream WebSocket事件广播器
type EventStream struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan StreamEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

// NewEventStream 创建广播器，需要调用Run
func NewEventStream() *EventStream {
	return &EventStream{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan StreamEvent, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stop:       make(chan struct{}),
	}
}

// Run 事件循环，Close后返回
func (es *EventStream) Run() {
	for {
		select {
		case <-es.stop:
			es.mu.Lock()
			for client := range es.clients {
				client.Close()
				delete(es.clients, client)
			}
			es.mu.Unlock()
			return

		case client := <-es.register:
			es.mu.Lock()
			es.clients[client] = true
			n := len(es.clients)
			es.mu.Unlock()
			L().Debug("stream client connected", zap.Int("clients", n))

		case client := <-es.unregister:
			es.drop(client)

		case event := <-es.broadcast:
			es.mu.RLock()
			clients := make([]*websocket.Conn, 0, len(es.clients))
			for c := range es.clients {
				clients = append(clients, c)
			}
			es.mu.RUnlock()

			for _, client := range clients {
				client.SetWriteDeadline(time.Now().Add(time.Second))
				if err := client.WriteJSON(event); err != nil {
					L().Debug("stream write failed", zap.Error(err))
					es.drop(client)
				}
			}
		}
	}
}

func (es *EventStream) drop(client *websocket.Conn) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if _, ok := es.clients[client]; ok {
		delete(es.clients, client)
		client.Close()
	}
}

// Publish 非阻塞发布，通道满时丢弃
func (es *EventStream) Publish(event StreamEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case es.broadcast <- event:
	default:
	}
}

// Info 发布信息事件
func (es *EventStream) Info(event, pkg, session, message string, data interface{}) {
	es.Publish(StreamEvent{Level: "INFO", Event: event, Package: pkg, Session: session, Message: message, Data: data})
}

// Warn 发布警告事件
func (es *EventStream) Warn(event, pkg, session, message string, data interface{}) {
	es.Publish(StreamEvent{Level: "WARNING", Event: event, Package: pkg, Session: session, Message: message, Data: data})
}

// ClientCount 当前连接数
func (es *EventStream) ClientCount() int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.clients)
}

// Close 停止广播并断开所有客户端
func (es *EventStream) Close() {
	es.stopOnce.Do(func() { close(es.stop) })
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// HandleWebSocket 处理 /ws/logs 连接
func (es *EventStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	select {
	case es.register <- conn:
	case <-es.stop:
		conn.Close()
		return
	}

	defer func() {
		select {
		case es.unregister <- conn:
		case <-es.stop:
		}
	}()

	// 只读取以检测断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				L().Debug("stream connection error", zap.Error(err))
			}
			return
		}
	}
}
