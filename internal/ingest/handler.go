package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/logstore"
	"WebdevReplay/internal/protocol"
)

var ErrMissingPackage = errors.New("content package is required")

// Repository 事件的数据库镜像，可选
type Repository interface {
	SaveLog(ctx context.Context, contentPackage string, msg protocol.LogMessage, protocolMeta map[string]interface{}) error
	SaveGrade(ctx context.Context, contentPackage string, msg protocol.GradeMessage) error
}

// Publisher 实时事件推送，可选
type Publisher interface {
	Info(event, pkg, session, message string, data interface{})
	Warn(event, pkg, session, message string, data interface{})
}

// Event 一次宿主事件
type Event struct {
	ContentPackage string
	Message        protocol.Message
	Protocol       map[string]interface{}
}

// Handler 服务端事件处理：log写文件，可选写库和推送
type Handler struct {
	store     *logstore.Store
	repo      Repository
	publisher Publisher
}

// Option 处理器选项
type Option func(*Handler)

// WithRepository 启用数据库镜像
func WithRepository(r Repository) Option {
	return func(h *Handler) {
		h.repo = r
	}
}

// WithPublisher 启用实时推送
func WithPublisher(p Publisher) Option {
	return func(h *Handler) {
		h.publisher = p
	}
}

// NewHandler 创建事件处理器
func NewHandler(store *logstore.Store, opts ...Option) *Handler {
	h := &Handler{store: store}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Store 文件日志存储
func (h *Handler) Store() *logstore.Store {
	return h.store
}

// Handle 处理事件。文件写入失败返回错误；数据库镜像失败只记录日志
func (h *Handler) Handle(ctx context.Context, ev Event) error {
	if ev.ContentPackage == "" {
		return ErrMissingPackage
	}

	switch msg := ev.Message.(type) {
	case protocol.LogMessage:
		if _, err := h.store.Append(ev.ContentPackage, msg, ev.Protocol); err != nil {
			h.warn(ev, msg.Session, err)
			return fmt.Errorf("store log: %w", err)
		}
		if h.repo != nil {
			if err := h.repo.SaveLog(ctx, ev.ContentPackage, msg, ev.Protocol); err != nil {
				logger.L().Warn("mirror log failed", zap.String("session", msg.Session), zap.Error(err))
			}
		}
		logger.L().Debug("log stored",
			zap.String("package", ev.ContentPackage),
			zap.String("problem", msg.ProblemName),
			zap.String("session", msg.Session),
			zap.String("status", msg.Status))
		if h.publisher != nil {
			h.publisher.Info(protocol.EventLog, ev.ContentPackage, msg.Session, msg.Status, nil)
		}

	case protocol.GradeMessage:
		if h.repo != nil {
			if err := h.repo.SaveGrade(ctx, ev.ContentPackage, msg); err != nil {
				logger.L().Warn("mirror grade failed", zap.String("session", msg.Session), zap.Error(err))
			}
		}
		if h.publisher != nil {
			h.publisher.Info(protocol.EventGrade, ev.ContentPackage, msg.Session,
				fmt.Sprintf("%d/%d", msg.Points, msg.MaxPoints), nil)
		}

	case protocol.ResizeMessage:
		// 只对嵌入页面有意义

	default:
		return fmt.Errorf("%w: %T", protocol.ErrUnknownEvent, ev.Message)
	}
	return nil
}

func (h *Handler) warn(ev Event, session string, err error) {
	logger.L().Warn("event handling failed",
		zap.String("package", ev.ContentPackage),
		zap.String("event", ev.Message.Event()),
		zap.Error(err))
	if h.publisher != nil {
		h.publisher.Warn(ev.Message.Event(), ev.ContentPackage, session, err.Error(), nil)
	}
}
