package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"WebdevReplay/internal/logger"
)

// Manager 持有当前配置，可监控文件变化热加载
type Manager struct {
	mu       sync.RWMutex
	path     string
	config   *Config
	viper    *viper.Viper
	watch    bool
	handlers []func(*Config)
}

// ManagerOption 配置管理器选项
type ManagerOption func(*Manager)

// WithConfigPath 设置配置文件路径
func WithConfigPath(path string) ManagerOption {
	return func(m *Manager) {
		m.path = path
	}
}

// WithWatchEnabled 启用配置文件监控
func WithWatchEnabled(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.watch = enabled
	}
}

// NewManager 创建配置管理器并立即加载
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}

	v := newViper(m.path)
	cfg, err := read(v)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	m.config = cfg
	m.viper = v

	if m.watch && v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			m.reload(e)
		})
		v.WatchConfig()
	}
	return m, nil
}

// Config 当前配置
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange 注册热加载回调
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Reload 重新读取配置文件
func (m *Manager) Reload() error {
	m.mu.Lock()
	cfg, err := read(m.viper)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("reload config: %w", err)
	}
	m.config = cfg
	handlers := make([]func(*Config), len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(cfg)
	}
	return nil
}

func (m *Manager) reload(e fsnotify.Event) {
	if err := m.Reload(); err != nil {
		// 保留旧配置
		logger.L().Warn("config reload failed", zap.String("file", e.Name), zap.Error(err))
		return
	}
	logger.L().Info("config reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
}
