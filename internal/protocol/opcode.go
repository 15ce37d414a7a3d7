package protocol

// 操作码定义 - 每种宿主协议事件对应一个操作码
const (
	// 组件 -> 宿主
	OpLog    uint16 = 1001
	OpGrade  uint16 = 1002
	OpResize uint16 = 1003

	// 宿主 -> 组件
	OpAck   uint16 = 2001
	OpError uint16 = 9999
)

// 宿主协议事件名
const (
	EventLog    = "log"
	EventGrade  = "grade"
	EventResize = "resize"
)

// OpcodeToString 将操作码转换为可读字符串，用于调试和日志
func OpcodeToString(op uint16) string {
	switch op {
	case OpLog:
		return "LOG"
	case OpGrade:
		return "GRADE"
	case OpResize:
		return "RESIZE"
	case OpAck:
		return "ACK"
	case OpError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// OpcodeForEvent 事件名到操作码
func OpcodeForEvent(event string) (uint16, bool) {
	switch event {
	case EventLog:
		return OpLog, true
	case EventGrade:
		return OpGrade, true
	case EventResize:
		return OpResize, true
	default:
		return 0, false
	}
}

// EventForOpcode 操作码到事件名
func EventForOpcode(op uint16) (string, bool) {
	switch op {
	case OpLog:
		return EventLog, true
	case OpGrade:
		return EventGrade, true
	case OpResize:
		return EventResize, true
	default:
		return "", false
	}
}

// IsValidOpcode 检查操作码是否有效
func IsValidOpcode(op uint16) bool {
	switch op {
	case OpLog, OpGrade, OpResize, OpAck, OpError:
		return true
	default:
		return false
	}
}
