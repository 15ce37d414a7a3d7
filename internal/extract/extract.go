package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/logstore"
)

// DateLayout 命令行日期格式 YYMMDD
const DateLayout = "060102"

var ErrInvalidDate = errors.New("date must be formatted as YYMMDD")

// Window 闭区间 [Begin, End]
type Window struct {
	Begin time.Time
	End   time.Time
	// 文件名中使用的原始参数
	BeginArg string
	EndArg   string
}

// ParseWindow begin当天00:00:00.000到end当天23:59:59.999，年份为20YY
func ParseWindow(begin, end string, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.Local
	}
	b, err := parseDay(begin, loc)
	if err != nil {
		return Window{}, err
	}
	e, err := parseDay(end, loc)
	if err != nil {
		return Window{}, err
	}
	return Window{
		Begin:    b,
		End:      e.Add(24*time.Hour - time.Millisecond),
		BeginArg: begin,
		EndArg:   end,
	}, nil
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	if len(s) != 6 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	t, err := time.ParseInLocation("20"+DateLayout, "20"+s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// Contains 是否在窗口内（含两端）
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Begin) && !t.After(w.End)
}

// Filter 只保留窗口内每个会话的最后一行，保持其在文件中的位置顺序。
// 负载没有session的行被丢弃
func Filter(lines []logstore.Line, w Window) []string {
	kept := make([]string, 0, len(lines))
	alive := make([]bool, 0, len(lines))
	bySession := make(map[string]int)

	for _, l := range lines {
		if !w.Contains(l.Time) {
			continue
		}
		sid, ok := l.Session()
		if !ok {
			continue
		}
		if prev, seen := bySession[sid]; seen {
			alive[prev] = false
		}
		bySession[sid] = len(kept)
		kept = append(kept, l.Raw)
		alive = append(alive, true)
	}

	out := kept[:0]
	for i, raw := range kept {
		if alive[i] {
			out = append(out, raw)
		}
	}
	return out
}

// OutputName <文件名去扩展名>_<begin>-<end>.log
func OutputName(inputPath string, w Window) string {
	base := filepath.Base(inputPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_%s-%s.log", name, w.BeginArg, w.EndArg)
}

// Result 单个文件的提取结果
type Result struct {
	Input  string
	Output string
	Lines  int
}

// File 提取一个日志文件，输出写入outDir
func File(inputPath, outDir string, w Window) (Result, error) {
	var lines []logstore.Line
	if err := logstore.ScanFile(inputPath, func(l logstore.Line) error {
		lines = append(lines, l)
		return nil
	}); err != nil {
		return Result{}, fmt.Errorf("read %s: %w", inputPath, err)
	}

	selected := Filter(lines, w)
	out := filepath.Join(outDir, OutputName(inputPath, w))
	if err := os.WriteFile(out, []byte(strings.Join(selected, "\n")), 0o644); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", out, err)
	}

	logger.L().Info("extracted log",
		zap.String("input", inputPath),
		zap.String("output", out),
		zap.Int("lines", len(selected)))
	return Result{Input: inputPath, Output: out, Lines: len(selected)}, nil
}
