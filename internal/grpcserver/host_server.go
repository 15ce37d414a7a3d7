package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"WebdevReplay/internal/ingest"
	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/logstore"
	"WebdevReplay/internal/protocol"
)

// HostServiceServer 宿主事件服务，请求和响应都是structpb.Struct
type HostServiceServer interface {
	Emit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// HostServiceDesc 手写的服务描述，无需代码生成
var HostServiceDesc = grpc.ServiceDesc{
	ServiceName: protocol.HostServiceName,
	HandlerType: (*HostServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: protocol.EmitMethodName,
			Handler:    emitHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "webdev/v1/host.proto",
}

func emitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HostServiceServer).Emit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: protocol.EmitFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(HostServiceServer).Emit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// HostServer gRPC接入实现
type HostServer struct {
	handler *ingest.Handler

	// 统计信息
	mu           sync.RWMutex
	requestCount int64
	errorCount   int64
	startTime    time.Time
}

// NewHostServer 创建服务实现
func NewHostServer(handler *ingest.Handler) *HostServer {
	return &HostServer{
		handler:   handler,
		startTime: time.Now(),
	}
}

// Register 注册到gRPC服务器
func Register(s *grpc.Server, srv HostServiceServer) {
	s.RegisterService(&HostServiceDesc, srv)
}

// NewServer 创建带日志与panic恢复拦截器的gRPC服务器
func NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(RecoveryInterceptor, LoggingInterceptor),
	}, opts...)
	return grpc.NewServer(opts...)
}

// Emit 处理一个宿主事件
func (s *HostServer) Emit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	s.requestCount++
	s.mu.Unlock()

	env, err := protocol.FromStruct(in)
	if err != nil {
		s.countError()
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	err = s.handler.Handle(ctx, ingest.Event{
		ContentPackage: env.ContentPackage,
		Message:        env.Message,
		Protocol:       env.Protocol,
	})
	if err != nil {
		s.countError()
		if errors.Is(err, ingest.ErrMissingPackage) ||
			errors.Is(err, logstore.ErrMissingProblemName) ||
			errors.Is(err, logstore.ErrInvalidPackage) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	return structpb.NewStruct(map[string]interface{}{
		"accepted": true,
		"event":    env.Message.Event(),
	})
}

func (s *HostServer) countError() {
	s.mu.Lock()
	s.errorCount++
	s.mu.Unlock()
}

// GetStats 获取服务器统计信息
func (s *HostServer) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"request_count":  s.requestCount,
		"error_count":    s.errorCount,
	}
}

// LoggingInterceptor 记录每次调用的方法、耗时和错误
func LoggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		logger.L().Warn("rpc failed", append(fields, zap.Error(err))...)
	} else {
		logger.L().Debug("rpc completed", fields...)
	}
	return resp, err
}

// RecoveryInterceptor panic转为codes.Internal
func RecoveryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("panic recovered in gRPC handler",
				zap.String("method", info.FullMethod),
				zap.String("panic", fmt.Sprintf("%v", r)),
				zap.ByteString("stack", debug.Stack()))
			err = status.Error(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}
