package host

import (
	"sync"

	"WebdevReplay/internal/protocol"
)

// MemoryPort 同步记录所有消息，用于测试和回放工具
type MemoryPort struct {
	mu       sync.Mutex
	messages []protocol.Message
	onSend   func(protocol.Message)
}

// NewMemoryPort 创建内存端口，onSend可为nil
func NewMemoryPort(onSend func(protocol.Message)) *MemoryPort {
	return &MemoryPort{onSend: onSend}
}

// Send 实现session.Port
func (p *MemoryPort) Send(msg protocol.Message) {
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	cb := p.onSend
	p.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
}

// Messages 已发送消息副本
func (p *MemoryPort) Messages() []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Message(nil), p.messages...)
}

// Last 最后一条指定事件的消息
func (p *MemoryPort) Last(event string) (protocol.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.messages) - 1; i >= 0; i-- {
		if p.messages[i].Event() == event {
			return p.messages[i], true
		}
	}
	return nil, false
}
