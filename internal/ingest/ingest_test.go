package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WebdevReplay/internal/ingest"
	"WebdevReplay/internal/logstore"
	"WebdevReplay/internal/protocol"
)

type fakeRepo struct {
	mu     sync.Mutex
	logs   []string
	grades []int
	err    error
}

func (r *fakeRepo) SaveLog(_ context.Context, pkg string, msg protocol.LogMessage, _ map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, pkg+"/"+msg.Session)
	return r.err
}

func (r *fakeRepo) SaveGrade(_ context.Context, _ string, msg protocol.GradeMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grades = append(r.grades, msg.Points)
	return r.err
}

type fakePublisher struct {
	events []string
}

func (p *fakePublisher) Info(event, _, session, _ string, _ interface{}) {
	p.events = append(p.events, "info:"+event+":"+session)
}

func (p *fakePublisher) Warn(event, _, session, _ string, _ interface{}) {
	p.events = append(p.events, "warn:"+event+":"+session)
}

// TestABFlag 测试AB分组
func TestABFlag(t *testing.T) {
	assert.Equal(t, "123", ingest.UniqueUserID("ab1c2-3"))
	assert.Equal(t, "0", ingest.UniqueUserID("nodigits"))
	assert.Equal(t, "0", ingest.UniqueUserID(""))
	assert.Equal(t, "7", ingest.UniqueUserID("007"))

	assert.True(t, ingest.ABFlag("user-13"))
	assert.False(t, ingest.ABFlag("user-12"))
	assert.False(t, ingest.ABFlag("anonymous"))
	assert.True(t, ingest.ABFlag("98765432109876543210987654321"))
}

// TestHandleLogPersists 测试log事件写文件、镜像和推送
func TestHandleLogPersists(t *testing.T) {
	dir := t.TempDir()
	store, err := logstore.New(dir)
	require.NoError(t, err)
	repo := &fakeRepo{}
	pub := &fakePublisher{}
	h := ingest.NewHandler(store, ingest.WithRepository(repo), ingest.WithPublisher(pub))

	err = h.Handle(context.Background(), ingest.Event{
		ContentPackage: "webdev-basics",
		Message: protocol.LogMessage{
			Session: "s1", Status: "logqueue", Log: json.RawMessage(`[]`), ProblemName: "p.one",
		},
		Protocol: map[string]interface{}{"protocol": "lti"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "webdev", "webdev-basics", "p-one.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session":"s1"`)
	assert.True(t, strings.HasSuffix(string(data), "\t{\"protocol\":\"lti\"}\n"))
	assert.Equal(t, []string{"webdev-basics/s1"}, repo.logs)
	assert.Equal(t, []string{"info:log:s1"}, pub.events)
}

// TestHandleGradeAndResize 测试grade镜像与resize忽略
func TestHandleGradeAndResize(t *testing.T) {
	store, err := logstore.New(t.TempDir())
	require.NoError(t, err)
	repo := &fakeRepo{err: errors.New("db down")}
	h := ingest.NewHandler(store, ingest.WithRepository(repo))

	ctx := context.Background()
	require.NoError(t, h.Handle(ctx, ingest.Event{ContentPackage: "p", Message: protocol.GradeMessage{Points: 3, MaxPoints: 5}}))
	require.NoError(t, h.Handle(ctx, ingest.Event{ContentPackage: "p", Message: protocol.ResizeMessage{Height: 10}}))
	assert.Equal(t, []int{3}, repo.grades)
}

// TestHandleErrors 测试错误路径
func TestHandleErrors(t *testing.T) {
	store, err := logstore.New(t.TempDir())
	require.NoError(t, err)
	pub := &fakePublisher{}
	h := ingest.NewHandler(store, ingest.WithPublisher(pub))
	ctx := context.Background()

	err = h.Handle(ctx, ingest.Event{Message: protocol.ResizeMessage{}})
	assert.ErrorIs(t, err, ingest.ErrMissingPackage)

	err = h.Handle(ctx, ingest.Event{ContentPackage: "p", Message: protocol.LogMessage{Session: "s"}})
	assert.ErrorIs(t, err, logstore.ErrMissingProblemName)
	assert.Equal(t, []string{"warn:log:s"}, pub.events)
}
