package protocol

// gRPC服务名与方法，请求和响应都是structpb.Struct，无需代码生成
const (
	HostServiceName = "webdev.v1.HostService"
	EmitMethodName  = "Emit"
	EmitFullMethod  = "/" + HostServiceName + "/" + EmitMethodName
)

// REST路径
const (
	EventsPathPrefix = "/api/v1/events"
)
