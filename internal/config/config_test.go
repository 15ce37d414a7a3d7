package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WebdevReplay/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webdev.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestLoadDefaults 测试默认值
func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: debug\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, config.DefaultLogsDir, cfg.Logs.Directory)
	assert.Equal(t, 4, cfg.Recorder.FlushThreshold)
	assert.Equal(t, 100*time.Millisecond, cfg.Replay.Quantum)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Database.Enabled)
}

// TestLoadEnvOverride 测试环境变量覆盖
func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WEBDEV_LOGS_DIRECTORY", "/var/log/acos")
	t.Setenv("WEBDEV_REPLAY_QUANTUM", "250ms")

	cfg, err := config.Load(writeConfig(t, "server:\n  http_addr: \":9000\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "/var/log/acos", cfg.Logs.Directory)
	assert.Equal(t, 250*time.Millisecond, cfg.Replay.Quantum)
	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
}

// TestLoadValidation 测试校验
func TestLoadValidation(t *testing.T) {
	_, err := config.Load(writeConfig(t, "database:\n  enabled: true\n"))
	assert.ErrorContains(t, err, "database.dsn")

	_, err = config.Load(writeConfig(t, "recorder:\n  flush_threshold: 0\n"))
	assert.ErrorContains(t, err, "flush_threshold")

	_, err = config.Load(writeConfig(t, "logging:\n  format: xml\n"))
	assert.ErrorContains(t, err, "logging.format")

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestManagerReload 测试手动重新加载与回调
func TestManagerReload(t *testing.T) {
	path := writeConfig(t, "logs:\n  directory: /a\n")
	m, err := config.NewManager(config.WithConfigPath(path))
	require.NoError(t, err)
	assert.Equal(t, "/a", m.Config().Logs.Directory)

	var seen string
	m.OnChange(func(c *config.Config) { seen = c.Logs.Directory })

	require.NoError(t, os.WriteFile(path, []byte("logs:\n  directory: /b\n"), 0o644))
	require.NoError(t, m.Reload())
	assert.Equal(t, "/b", m.Config().Logs.Directory)
	assert.Equal(t, "/b", seen)

	// 非法内容保留旧配置
	require.NoError(t, os.WriteFile(path, []byte("recorder:\n  flush_threshold: -1\n"), 0o644))
	assert.Error(t, m.Reload())
	assert.Equal(t, "/b", m.Config().Logs.Directory)
}

// TestManagerReloadHandlers 测试回调按注册顺序执行，回调中可再注册回调
func TestManagerReloadHandlers(t *testing.T) {
	path := writeConfig(t, "logs:\n  directory: /a\n")
	m, err := config.NewManager(config.WithConfigPath(path))
	require.NoError(t, err)

	var order []string
	m.OnChange(func(c *config.Config) {
		order = append(order, "first:"+c.Logs.Directory)
		m.OnChange(func(c *config.Config) { order = append(order, "late:"+c.Logs.Directory) })
	})
	m.OnChange(func(c *config.Config) { order = append(order, "second:"+c.Logs.Directory) })

	require.NoError(t, os.WriteFile(path, []byte("logs:\n  directory: /b\n"), 0o644))
	require.NoError(t, m.Reload())
	assert.Equal(t, []string{"first:/b", "second:/b"}, order)

	order = nil
	require.NoError(t, m.Reload())
	assert.Equal(t, []string{"first:/b", "second:/b", "late:/b"}, order)
}
