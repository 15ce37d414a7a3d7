package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WebdevReplay/internal/database"
	"WebdevReplay/internal/host"
	"WebdevReplay/internal/httpserver"
	"WebdevReplay/internal/ingest"
	"WebdevReplay/internal/logstore"
	"WebdevReplay/internal/protocol"
	"WebdevReplay/internal/session"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

func newTestServer(t *testing.T, opts ...httpserver.Option) (*httptest.Server, *httpserver.APIServer) {
	t.Helper()
	store, err := logstore.New(t.TempDir())
	require.NoError(t, err)
	api := httpserver.NewAPIServer("127.0.0.1:0", ingest.NewHandler(store), opts...)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv, api
}

func get(t *testing.T, url string) (int, apiResponse) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func post(t *testing.T, url, body string) (int, apiResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// TestHealthCheck 测试健康检查
func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t)

	status, resp := get(t, srv.URL+"/api/v1/health")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)
	assert.Contains(t, string(resp.Data), `"healthy"`)
}

// TestLiveWidgetOverHTTP 测试组件经HTTP端口上报后可查询会话
func TestLiveWidgetOverHTTP(t *testing.T) {
	srv, api := newTestServer(t)

	port := host.NewHTTPPort(&host.HTTPConfig{BaseURL: srv.URL, ContentPackage: "webdev-basics"})
	w := session.NewLiveWidget(session.WidgetConfig{
		ProblemName: "center.box",
		MaxPoints:   3,
		Height:      200,
		User:        "user-7",
		AB:          ingest.ABFlag("user-7"),
	}, port)

	require.NoError(t, w.Reset())
	require.NoError(t, w.Click(10, 20))
	_, ok, err := w.Grade(session.Trigger{})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, w.Unload())

	require.Eventually(t, func() bool {
		st := port.Stats()
		return st.Sent+st.Failed == 3
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, port.Close())
	assert.Equal(t, host.Stats{Sent: 3}, port.Stats())

	status, resp := get(t, srv.URL+"/api/v1/packages/webdev-basics/problems/center.box/sessions")
	require.Equal(t, http.StatusOK, status)
	var ids []string
	require.NoError(t, json.Unmarshal(resp.Data, &ids))
	assert.Equal(t, []string{w.SessionID()}, ids)

	status, resp = get(t, srv.URL+"/api/v1/packages/webdev-basics/problems/center.box/sessions/"+w.SessionID())
	require.Equal(t, http.StatusOK, status)
	var report httpserver.SessionReport
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.Equal(t, w.SessionID(), report.Session)
	assert.Equal(t, session.FlushUnload, report.Status)
	assert.True(t, report.AB)
	assert.Len(t, report.Timeline, len(w.Entries()))

	stats := api.GetStats()
	events := stats["events"].(map[string]int64)
	assert.Equal(t, int64(1), events[protocol.EventLog])
	assert.Equal(t, int64(1), events[protocol.EventGrade])
	assert.Equal(t, int64(1), events[protocol.EventResize])
}

// TestPostEventErrors 测试错误请求
func TestPostEventErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	status, resp := post(t, srv.URL+"/api/v1/events/pkg/explode", `{"payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unknown_event", resp.Code)

	status, resp = post(t, srv.URL+"/api/v1/events/pkg/log", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", resp.Code)

	status, resp = post(t, srv.URL+"/api/v1/events/pkg/log", `{"payload":{"session":"s1","log":[]}}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "handle_failed", resp.Code)

	status, resp = post(t, srv.URL+"/api/v1/events/pkg/resize", `{"payload":{"height":240}}`)
	assert.Equal(t, http.StatusAccepted, status)
	assert.True(t, resp.Success)
}

// TestFileSessionNotFound 测试未知会话
func TestFileSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	status, resp := get(t, srv.URL+"/api/v1/packages/pkg/problems/p/sessions/missing")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", resp.Code)

	status, resp = get(t, srv.URL+"/api/v1/packages/pkg/problems/p/sessions")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(resp.Data))
}

type fakeLookup struct {
	stored *database.StoredLog
}

func (f fakeLookup) LatestLog(_ context.Context, id string) (*database.StoredLog, error) {
	if f.stored == nil || f.stored.Message.Session != id {
		return nil, database.ErrNotFound
	}
	return f.stored, nil
}

// TestDatabaseSessionLookup 测试数据库镜像查询
func TestDatabaseSessionLookup(t *testing.T) {
	srv, _ := newTestServer(t)
	status, resp := get(t, srv.URL+"/api/v1/sessions/s1")
	assert.Equal(t, http.StatusNotImplemented, status)
	assert.Equal(t, "no_database", resp.Code)

	lookup := fakeLookup{stored: &database.StoredLog{
		ContentPackage: "pkg",
		Message: protocol.LogMessage{
			Session: "s1",
			Status:  "logqueue",
			Log:     json.RawMessage(`[{"type":"reset","time":1000},{"type":"grade","time":2000,"points":1,"maxPoints":2}]`),
		},
		ReceivedAt: time.Unix(5, 0).UTC(),
	}}
	srv, _ = newTestServer(t, httpserver.WithSessionLookup(lookup))

	status, resp = get(t, srv.URL+"/api/v1/sessions/s1")
	require.Equal(t, http.StatusOK, status)
	var report httpserver.SessionReport
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.Equal(t, "pkg", report.Package)
	require.Len(t, report.Timeline, 2)
	assert.Equal(t, session.MarkerGradePartial, report.Timeline[1].Class)

	status, _ = get(t, srv.URL+"/api/v1/sessions/other")
	assert.Equal(t, http.StatusNotFound, status)
}
