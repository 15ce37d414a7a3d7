package logstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/protocol"
)

const (
	// TypeDirectory 内容类型目录
	TypeDirectory = "webdev"
	DirPerm       = 0o775
	FilePerm      = 0o664
	maxLineSize   = 16 * 1024 * 1024
)

var (
	ErrMissingProblemName = errors.New("log event without problemName")
	ErrInvalidPackage     = errors.New("invalid content package name")
	ErrSessionNotFound    = errors.New("session not found")
)

var nameReplacer = strings.NewReplacer(".", "-", "/", "-", "\\", "-", "~", "-")

// FileName 练习名转换为日志文件名
func FileName(problemName string) string {
	return nameReplacer.Replace(problemName) + ".log"
}

// Store 按内容包与练习组织的追加式日志文件
type Store struct {
	root string
	now  func() time.Time
	mu   sync.Mutex
}

// Option 存储选项
type Option func(*Store)

// WithNow 替换时间来源（测试用）
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New 创建 <logDir>/webdev 目录
func New(logDir string, opts ...Option) (*Store, error) {
	root := filepath.Join(logDir, TypeDirectory)
	if err := os.MkdirAll(root, DirPerm); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", root, err)
	}
	s := &Store{root: root, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root 日志根目录
func (s *Store) Root() string {
	return s.root
}

// Path 练习日志文件路径
func (s *Store) Path(contentPackage, problemName string) (string, error) {
	if err := validatePackage(contentPackage); err != nil {
		return "", err
	}
	if problemName == "" {
		return "", ErrMissingProblemName
	}
	return filepath.Join(s.root, contentPackage, FileName(problemName)), nil
}

func validatePackage(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidPackage, name)
	}
	return nil
}

// Append 追加一条log事件，返回写入的行
func (s *Store) Append(contentPackage string, msg protocol.LogMessage, protocolMeta map[string]interface{}) (string, error) {
	path, err := s.Path(contentPackage, msg.ProblemName)
	if err != nil {
		return "", err
	}
	line, err := FormatLine(s.now(), msg, protocolMeta)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), DirPerm); err != nil {
		return "", fmt.Errorf("create package directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, FilePerm)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return "", fmt.Errorf("append %s: %w", path, err)
	}
	return line, nil
}

// ScanFile 逐行读取日志文件，格式错误的行记录后跳过
func ScanFile(path string, fn func(Line) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		n++
		raw := scanner.Text()
		if raw == "" {
			continue
		}
		line, err := ParseLine(raw)
		if err != nil {
			logger.L().Debug("skip log line", zap.String("file", path), zap.Int("line", n), zap.Error(err))
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// FindSession 会话的最后一次log事件
func (s *Store) FindSession(contentPackage, problemName, sessionID string) (*protocol.LogMessage, time.Time, error) {
	path, err := s.Path(contentPackage, problemName)
	if err != nil {
		return nil, time.Time{}, err
	}

	var (
		found *protocol.LogMessage
		at    time.Time
	)
	err = ScanFile(path, func(l Line) error {
		if sid, ok := l.Session(); !ok || sid != sessionID {
			return nil
		}
		var msg protocol.LogMessage
		if err := json.Unmarshal(l.Payload, &msg); err != nil {
			return nil
		}
		found, at = &msg, l.Time
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, time.Time{}, ErrSessionNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	if found == nil {
		return nil, time.Time{}, ErrSessionNotFound
	}
	return found, at, nil
}

// Sessions 文件中出现过的会话，按首次出现顺序
func (s *Store) Sessions(contentPackage, problemName string) ([]string, error) {
	path, err := s.Path(contentPackage, problemName)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	err = ScanFile(path, func(l Line) error {
		if sid, ok := l.Session(); ok && !seen[sid] {
			seen[sid] = true
			out = append(out, sid)
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return out, err
}
