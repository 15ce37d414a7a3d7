package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// 帧头长度：操作码(2字节) + 数据长度(4字节)
	FrameHeaderSize = 6
	// 每次flush都会重发完整日志，上限比普通消息大
	MaxFrameSize = 8 * 1024 * 1024
)

var (
	ErrFrameTooSmall = errors.New("frame too small")
	ErrFrameTooLarge = errors.New("frame too large")
	ErrInvalidFrame  = errors.New("invalid frame format")
)

// Frame 表示一个完整的协议帧
type Frame struct {
	Opcode uint16
	Body   []byte // protobuf序列化后的structpb.Struct
}

// EncodeFrame 将操作码和消息体编码为二进制帧
// 帧格式: | opcode(2字节) | length(4字节) | body(变长) |
func EncodeFrame(opcode uint16, body []byte) ([]byte, error) {
	if FrameHeaderSize+len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, FrameHeaderSize+len(body))
	binary.BigEndian.PutUint16(buf[0:2], opcode)
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(body)))
	copy(buf[FrameHeaderSize:], body)

	return buf, nil
}

// DecodeFrame 从二进制数据中解码出帧
func DecodeFrame(raw []byte) (*Frame, error) {
	if len(raw) < FrameHeaderSize {
		return nil, ErrFrameTooSmall
	}
	if len(raw) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	opcode := binary.BigEndian.Uint16(raw[0:2])
	bodyLength := int(binary.BigEndian.Uint32(raw[2:6]))

	if len(raw) != FrameHeaderSize+bodyLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidFrame, FrameHeaderSize+bodyLength, len(raw))
	}

	frame := &Frame{Opcode: opcode}
	if bodyLength > 0 {
		frame.Body = make([]byte, bodyLength)
		copy(frame.Body, raw[FrameHeaderSize:])
	}
	return frame, nil
}
