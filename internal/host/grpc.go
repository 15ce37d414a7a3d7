package host

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"WebdevReplay/internal/protocol"
)

// GRPCConfig gRPC端口配置
type GRPCConfig struct {
	Target         string
	ContentPackage string
	Protocol       map[string]interface{}
	Timeout        time.Duration
	QueueSize      int
	DialOptions    []grpc.DialOption
}

// GRPCPort 调用HostService/Emit
type GRPCPort struct {
	config *GRPCConfig
	conn   *grpc.ClientConn
	*dispatcher
}

// NewGRPCPort 创建客户端连接，连接惰性建立
func NewGRPCPort(config *GRPCConfig) (*GRPCPort, error) {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	opts := config.DialOptions
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(config.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client: %w", err)
	}

	p := &GRPCPort{config: config, conn: conn}
	p.dispatcher = newDispatcher("grpc", config.ContentPackage, config.Protocol, config.QueueSize, p.emit)
	return p, nil
}

func (p *GRPCPort) emit(env *protocol.Envelope) error {
	in, err := protocol.ToStruct(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	out := &structpb.Struct{}
	return p.conn.Invoke(ctx, protocol.EmitFullMethod, in, out)
}

// Close 排空队列后关闭连接
func (p *GRPCPort) Close() error {
	p.dispatcher.close()
	return p.conn.Close()
}

// Stats 投递统计
func (p *GRPCPort) Stats() Stats {
	return p.dispatcher.stats()
}
