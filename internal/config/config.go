package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix 环境变量前缀，例如 WEBDEV_SERVER_HTTP_ADDR
	EnvPrefix      = "WEBDEV"
	ConfigName     = "webdev"
	DefaultLogsDir = "./logs"
)

// ServerConfig 服务监听地址，为空表示不启动
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" mapstructure:"http_addr"`
	WSAddr          string        `yaml:"ws_addr" mapstructure:"ws_addr"`
	GRPCAddr        string        `yaml:"grpc_addr" mapstructure:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogsConfig 日志文件配置
type LogsConfig struct {
	Directory string `yaml:"directory" mapstructure:"directory"`
}

// DatabaseConfig 数据库镜像配置
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// RecorderConfig 录制配置
type RecorderConfig struct {
	FlushThreshold int `yaml:"flush_threshold" mapstructure:"flush_threshold"`
}

// ReplayConfig 回放配置
type ReplayConfig struct {
	Quantum time.Duration `yaml:"quantum" mapstructure:"quantum"`
}

// LoggingConfig 日志输出配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Config 全部配置
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Logs     LogsConfig     `yaml:"logs" mapstructure:"logs"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Recorder RecorderConfig `yaml:"recorder" mapstructure:"recorder"`
	Replay   ReplayConfig   `yaml:"replay" mapstructure:"replay"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// newViper 创建带默认值和环境变量绑定的viper实例。path为空时按搜索路径查找webdev.yaml
func newViper(path string) *viper.Viper {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaultValues(v)
	return v
}

func setDefaultValues(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.ws_addr", ":8081")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("logs.directory", DefaultLogsDir)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("recorder.flush_threshold", 4)
	v.SetDefault("replay.quantum", "100ms")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// read 读取配置文件，文件不存在时使用默认值
func read(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load 加载配置
func Load(path string) (*Config, error) {
	return read(newViper(path))
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Logs.Directory == "" {
		return errors.New("logs.directory is required")
	}
	if c.Recorder.FlushThreshold < 1 {
		return fmt.Errorf("invalid recorder.flush_threshold: %d", c.Recorder.FlushThreshold)
	}
	if c.Replay.Quantum <= 0 {
		return fmt.Errorf("invalid replay.quantum: %v", c.Replay.Quantum)
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return errors.New("database.dsn is required when database.enabled is true")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging.format: %q", c.Logging.Format)
	}
	return nil
}
