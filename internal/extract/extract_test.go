package extract_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WebdevReplay/internal/extract"
	"WebdevReplay/internal/logstore"
)

func mustLine(t *testing.T, raw string) logstore.Line {
	t.Helper()
	l, err := logstore.ParseLine(raw)
	require.NoError(t, err)
	return l
}

// TestParseWindow 测试日期窗口
func TestParseWindow(t *testing.T) {
	w, err := extract.ParseWindow("240305", "240306", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), w.Begin)
	assert.Equal(t, time.Date(2024, 3, 6, 23, 59, 59, int(999*time.Millisecond), time.UTC), w.End)
	assert.True(t, w.Contains(w.Begin))
	assert.True(t, w.Contains(w.End))
	assert.False(t, w.Contains(w.End.Add(time.Millisecond)))

	_, err = extract.ParseWindow("2403", "240306", time.UTC)
	assert.ErrorIs(t, err, extract.ErrInvalidDate)
	_, err = extract.ParseWindow("241305", "240306", time.UTC)
	assert.ErrorIs(t, err, extract.ErrInvalidDate)
}

// TestFilterKeepsLastPerSession 测试同一会话只保留最后一行
func TestFilterKeepsLastPerSession(t *testing.T) {
	w, err := extract.ParseWindow("240305", "240305", time.UTC)
	require.NoError(t, err)

	lines := []logstore.Line{
		mustLine(t, "2024-03-05T10:00:00.000Z\t{\"session\":\"abc\",\"n\":1}\t{}"),
		mustLine(t, "2024-03-05T10:02:00.000Z\t{\"session\":\"xyz\"}\t{}"),
		mustLine(t, "2024-03-05T10:05:00.000Z\t{\"session\":\"abc\",\"n\":2}\t{}"),
		mustLine(t, "2024-03-05T10:06:00.000Z\t{\"nosession\":true}\t{}"),
		mustLine(t, "2024-03-06T00:00:00.000Z\t{\"session\":\"xyz\",\"late\":true}\t{}"),
	}
	got := extract.Filter(lines, w)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "xyz")
	assert.Contains(t, got[1], `"n":2`)
}

// TestFileWritesOutput 测试文件提取
func TestFileWritesOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "hidden-button.log")
	content := strings.Join([]string{
		"2024-03-04T23:59:59.999Z\t{\"session\":\"old\"}\t{}",
		"2024-03-05T10:00:00.000Z\t{\"session\":\"abc\"}\t{}",
		"garbage",
		"2024-03-05T10:05:00.000Z\t{\"session\":\"abc\",\"last\":true}\t{}",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(in, []byte(content), 0o644))

	w, err := extract.ParseWindow("240305", "240305", time.UTC)
	require.NoError(t, err)
	out := t.TempDir()
	res, err := extract.File(in, out, w)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Lines)
	assert.Equal(t, filepath.Join(out, "hidden-button_240305-240305.log"), res.Output)

	data, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05T10:05:00.000Z\t{\"session\":\"abc\",\"last\":true}\t{}", string(data))
}
