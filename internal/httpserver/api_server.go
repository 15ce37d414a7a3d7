package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"WebdevReplay/internal/database"
	"WebdevReplay/internal/host"
	"WebdevReplay/internal/ingest"
	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/logstore"
	"WebdevReplay/internal/protocol"
	"WebdevReplay/internal/session"
)

// 请求体上限，flush会携带完整日志
const maxBodySize = protocol.MaxFrameSize

// SessionLookup 按会话标识查询数据库镜像
type SessionLookup interface {
	LatestLog(ctx context.Context, sessionID string) (*database.StoredLog, error)
}

// APIResponse API响应结构
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// SessionReport 一次作答的分析结果
type SessionReport struct {
	Session     string                     `json:"session"`
	Package     string                     `json:"package,omitempty"`
	ProblemName string                     `json:"problem_name,omitempty"`
	User        string                     `json:"user"`
	AB          bool                       `json:"ab"`
	Status      string                     `json:"status"`
	ReceivedAt  time.Time                  `json:"received_at"`
	Summary     *session.TimelineSummary   `json:"summary"`
	Timeline    []session.Marker           `json:"timeline"`
	Checks      []*session.AssertionResult `json:"checks"`
}

// Option 服务器选项
type Option func(*APIServer)

// WithSessionLookup 启用按会话标识查询
func WithSessionLookup(l SessionLookup) Option {
	return func(s *APIServer) {
		s.lookup = l
	}
}

// WithEventStream 挂载 /ws/logs 实时事件流
func WithEventStream(es *logger.EventStream) Option {
	return func(s *APIServer) {
		s.stream = es
	}
}

// WithAllowedOrigins 设置CORS来源
func WithAllowedOrigins(origins []string) Option {
	return func(s *APIServer) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// APIServer 宿主事件的HTTP接口
type APIServer struct {
	router  *mux.Router
	server  *http.Server
	handler *ingest.Handler
	lookup  SessionLookup
	stream  *logger.EventStream
	origins []string

	// 统计信息
	mu           sync.RWMutex
	requestCount int64
	errorCount   int64
	eventCounts  map[string]int64
	startTime    time.Time
}

// NewAPIServer 创建HTTP服务器
func NewAPIServer(addr string, handler *ingest.Handler, opts ...Option) *APIServer {
	s := &APIServer{
		router:      mux.NewRouter(),
		handler:     handler,
		origins:     []string{"*"},
		eventCounts: make(map[string]int64),
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes 设置路由
func (s *APIServer) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/events/{package}/{event}", s.postEventHandler).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.getSessionHandler).Methods("GET")
	api.HandleFunc("/packages/{package}/problems/{problem}/sessions", s.listSessionsHandler).Methods("GET")
	api.HandleFunc("/packages/{package}/problems/{problem}/sessions/{id}", s.getFileSessionHandler).Methods("GET")
	api.HandleFunc("/health", s.healthCheckHandler).Methods("GET")
	api.HandleFunc("/metrics", s.metricsHandler).Methods("GET")

	if s.stream != nil {
		s.router.HandleFunc("/ws/logs", s.stream.HandleWebSocket)
	}
}

// 中间件
func (s *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.mu.Lock()
		s.requestCount++
		s.mu.Unlock()

		logger.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *APIServer) postEventHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pkg, event := vars["package"], vars["event"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Failed to read body")
		return
	}
	if len(body) > maxBodySize {
		s.writeErrorResponse(w, http.StatusRequestEntityTooLarge, "too_large", "Request body too large")
		return
	}

	var req host.EventRequest
	if err := json.Unmarshal(body, &req); err != nil || len(req.Payload) == 0 {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	msg, err := protocol.DecodeMessage(event, req.Payload)
	if err != nil {
		code := "invalid_payload"
		if errors.Is(err, protocol.ErrUnknownEvent) {
			code = "unknown_event"
		}
		s.writeErrorResponse(w, http.StatusBadRequest, code, err.Error())
		return
	}

	err = s.handler.Handle(r.Context(), ingest.Event{ContentPackage: pkg, Message: msg, Protocol: req.Protocol})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, logstore.ErrMissingProblemName) || errors.Is(err, logstore.ErrInvalidPackage) ||
			errors.Is(err, ingest.ErrMissingPackage) {
			status = http.StatusBadRequest
		}
		s.writeErrorResponse(w, status, "handle_failed", err.Error())
		return
	}

	s.mu.Lock()
	s.eventCounts[event]++
	s.mu.Unlock()

	s.writeJSONResponse(w, http.StatusAccepted, APIResponse{
		Success:   true,
		Data:      map[string]string{"event": event, "package": pkg},
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *APIServer) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	if s.lookup == nil {
		s.writeErrorResponse(w, http.StatusNotImplemented, "no_database", "Session lookup requires the database mirror")
		return
	}
	id := mux.Vars(r)["id"]
	stored, err := s.lookup.LatestLog(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", "Session not found")
		return
	}
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "lookup_failed", err.Error())
		return
	}
	s.writeReport(w, stored.ContentPackage, stored.Message, stored.ReceivedAt)
}

func (s *APIServer) getFileSessionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	msg, at, err := s.handler.Store().FindSession(vars["package"], vars["problem"], vars["id"])
	switch {
	case errors.Is(err, logstore.ErrSessionNotFound):
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", "Session not found")
		return
	case errors.Is(err, logstore.ErrInvalidPackage):
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_package", err.Error())
		return
	case err != nil:
		s.writeErrorResponse(w, http.StatusInternalServerError, "lookup_failed", err.Error())
		return
	}
	s.writeReport(w, vars["package"], *msg, at)
}

func (s *APIServer) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ids, err := s.handler.Store().Sessions(vars["package"], vars["problem"])
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "list_failed", err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeSuccessResponse(w, ids)
}

func (s *APIServer) writeReport(w http.ResponseWriter, pkg string, msg protocol.LogMessage, at time.Time) {
	entries, err := session.ParseLog(msg.Log)
	if err != nil {
		s.writeErrorResponse(w, http.StatusUnprocessableEntity, "corrupt_log", err.Error())
		return
	}
	s.writeSuccessResponse(w, SessionReport{
		Session:     msg.Session,
		Package:     pkg,
		ProblemName: msg.ProblemName,
		User:        msg.User,
		AB:          msg.AB,
		Status:      msg.Status,
		ReceivedAt:  at,
		Summary:     session.Summarize(entries),
		Timeline:    session.BuildTimeline(entries),
		Checks:      session.RunAssertions(entries),
	})
}

func (s *APIServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	s.writeSuccessResponse(w, map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *APIServer) metricsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeSuccessResponse(w, s.GetStats())
}

func (s *APIServer) writeSuccessResponse(w http.ResponseWriter, data interface{}) {
	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *APIServer) writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	s.mu.Lock()
	s.errorCount++
	s.mu.Unlock()

	s.writeJSONResponse(w, statusCode, APIResponse{
		Success:   false,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *APIServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// Handler 带CORS的根处理器
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

// Start 启动服务器，阻塞直到关闭
func (s *APIServer) Start() error {
	logger.L().Info("starting HTTP API server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *APIServer) Shutdown(ctx context.Context) error {
	logger.L().Info("stopping HTTP API server")
	return s.server.Shutdown(ctx)
}

// GetStats 获取服务器统计信息
func (s *APIServer) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make(map[string]int64, len(s.eventCounts))
	for k, v := range s.eventCounts {
		events[k] = v
	}
	return map[string]interface{}{
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"total_requests": s.requestCount,
		"error_count":    s.errorCount,
		"events":         events,
	}
}
