package host

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/protocol"
)

// DefaultQueueSize 出站消息缓冲大小
const DefaultQueueSize = 256

var ErrPortClosed = errors.New("host port closed")

// deliverFunc 实际投递一条消息
type deliverFunc func(env *protocol.Envelope) error

// dispatcher 单goroutine顺序投递，Send从不阻塞组件。
// 投递失败只记录日志，不重试
type dispatcher struct {
	name    string
	pkg     string
	proto   map[string]interface{}
	deliver deliverFunc

	queue chan protocol.Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	statsMu sync.Mutex
	sent    int
	dropped int
	failed  int
}

func newDispatcher(name, contentPackage string, protocolMeta map[string]interface{}, queueSize int, deliver deliverFunc) *dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &dispatcher{
		name:    name,
		pkg:     contentPackage,
		proto:   protocolMeta,
		deliver: deliver,
		queue:   make(chan protocol.Message, queueSize),
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// Send 入队，队列满或已关闭时丢弃
func (d *dispatcher) Send(msg protocol.Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.count(&d.dropped)
		logger.L().Warn("host port closed, message dropped",
			zap.String("port", d.name), zap.String("event", msg.Event()))
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.count(&d.dropped)
		logger.L().Warn("host port queue full, message dropped",
			zap.String("port", d.name), zap.String("event", msg.Event()))
	}
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for msg := range d.queue {
		env := &protocol.Envelope{ContentPackage: d.pkg, Message: msg, Protocol: d.proto}
		if err := d.deliver(env); err != nil {
			d.count(&d.failed)
			logger.L().Warn("host delivery failed",
				zap.String("port", d.name),
				zap.String("event", msg.Event()),
				zap.Error(err))
			continue
		}
		d.count(&d.sent)
	}
}

func (d *dispatcher) count(c *int) {
	d.statsMu.Lock()
	*c++
	d.statsMu.Unlock()
}

// close 停止接收并等待队列排空
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

// Stats 投递统计
type Stats struct {
	Sent    int `json:"sent"`
	Dropped int `json:"dropped"`
	Failed  int `json:"failed"`
}

func (d *dispatcher) stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return Stats{Sent: d.sent, Dropped: d.dropped, Failed: d.failed}
}
