package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/auth"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/changefeed"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/reconcile"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/store"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type testEnv struct {
	handler *RealtimeHandler
	store   *fakeStore
	feed    *changefeed.MemoryFeed
	manager *reconcile.Manager
	router  *Router
	token   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	src := &fakeStore{
		devices: []models.Device{
			{ID: "d1", Name: "Boiler", Status: models.DeviceStatusOnline, UserID: "u1"},
			{ID: "d2", Name: "Pump", Status: models.DeviceStatusOffline, UserID: "u1"},
			{ID: "d9", Name: "Other", Status: models.DeviceStatusOnline, UserID: "u2"},
		},
		notifications: []models.Notification{
			{ID: "n1", UserID: "u1", Type: models.NotificationTypeAlert, Status: models.NotificationStatusUnread},
		},
	}
	feed := changefeed.NewMemoryFeed(zap.NewNop())
	manager := reconcile.NewManager(feed, src, src, src, reconcile.DefaultOptions(), zap.NewNop())
	t.Cleanup(manager.CloseAll)

	handler := NewRealtimeHandler(manager, nil, zap.NewNop())
	router := NewRouter(zap.NewNop())
	router.RegisterRealtimeRoutes(handler, NewAuthenticator(testSecret, zap.NewNop()))
	router.RegisterOpsRoutes(http.NotFoundHandler())

	token, err := auth.IssueJWT(auth.Viewer{UserID: "u1", Role: auth.RoleOperator}, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return &testEnv{handler: handler, store: src, feed: feed, manager: manager, router: router, token: token}
}

func (e *testEnv) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+e.token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestAuth_RejectsMissingOrInvalidToken(t *testing.T) {
	e := newTestEnv(t)

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ResultTokenExpired, decode(t, rec).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// 查询参数形式
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard?access_token="+e.token, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetDashboard(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/api/v1/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, ResultSuccess, env.Code)

	var state reconcile.State
	require.NoError(t, json.Unmarshal(env.Result, &state))
	assert.Len(t, state.Devices, 2)
	assert.Equal(t, 1, state.DeviceStatusCounts[models.DeviceStatusOnline])
	assert.Equal(t, 1, state.UnreadNotifications)
	assert.Equal(t, 0, e.manager.Count(), "one-shot dashboard does not keep a view")

	assert.Equal(t, http.StatusMethodNotAllowed, e.do(http.MethodPost, "/api/v1/dashboard").Code)
}

func TestGetDashboard_SnapshotFailure(t *testing.T) {
	e := newTestEnv(t)
	e.store.failSnapshot = true

	rec := e.do(http.MethodGet, "/api/v1/dashboard")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ResultSnapshotFailed, decode(t, rec).Code)

	rec = e.do(http.MethodGet, "/api/v1/dashboard/export.xlsx")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetDashboardSummary(t *testing.T) {
	e := newTestEnv(t)
	reader := &fakeSummaryReader{err: store.ErrCacheMiss}
	e.handler.WithSummaryCache(reader)

	var got DashboardSummary
	rec := e.do(http.MethodGet, "/api/v1/dashboard/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec).Result, &got))
	assert.Equal(t, "snapshot", got.Source)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, 2, got.Devices)
	assert.Equal(t, 1, got.UnreadNotifications)

	reader.err = nil
	reader.summary = &reconcile.Summary{UserID: "u1", Devices: 7, OpenAlerts: 3}
	rec = e.do(http.MethodGet, "/api/v1/dashboard/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec).Result, &got))
	assert.Equal(t, "cache", got.Source)
	assert.Equal(t, 7, got.Devices)
	assert.Equal(t, 2, reader.reads)

	// 缓存异常时退回快照
	reader.err = errors.New("redis down")
	rec = e.do(http.MethodGet, "/api/v1/dashboard/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec).Result, &got))
	assert.Equal(t, "snapshot", got.Source)
}

func TestExportDashboard(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/api/v1/dashboard/export.xlsx")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "dashboard_")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Devices")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestAlertActions(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/alerts/a1/acknowledge")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1"}, e.store.acknowledged)

	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/v1/alerts/a1/resolve").Code)
	rec = e.do(http.MethodPost, "/api/v1/alerts/missing/resolve")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ResultNotFound, decode(t, rec).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/api/v1/alerts/a1/explode").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/api/v1/alerts/a1").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, e.do(http.MethodGet, "/api/v1/alerts/a1/resolve").Code)
}

func TestNotificationActions(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/notifications/n1/read")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"n1"}, e.store.read)

	rec = e.do(http.MethodPost, "/api/v1/notifications/read-all")
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]int64
	require.NoError(t, json.Unmarshal(decode(t, rec).Result, &result))
	assert.Equal(t, int64(5), result["updated"])
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func readState(t *testing.T, conn *websocket.Conn) reconcile.State {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != "state" {
			continue
		}
		var st reconcile.State
		require.NoError(t, json.Unmarshal(msg.Data, &st))
		return st
	}
}

func TestWebSocket_PushesStateAndClosesView(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/realtime/ws?access_token=" + e.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	st := readState(t, conn)
	for st.Phase != reconcile.PhaseReady || !st.Live {
		st = readState(t, conn)
	}
	assert.Len(t, st.Devices, 2)
	assert.Equal(t, 1, e.manager.Count())

	raw, err := changefeed.NewRawChange(changefeed.EntityDevice, changefeed.OpInsert, nil,
		models.Device{ID: "d3", Name: "Fan", Status: models.DeviceStatusError, UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, e.feed.Publish(context.Background(), raw))

	st = readState(t, conn)
	assert.Len(t, st.Devices, 3)
	assert.Equal(t, 1, st.DeviceStatusCounts[models.DeviceStatusError])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var pong WSMessage
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong.Type)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return e.manager.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, e.feed.Subscribers(changefeed.EntityDevice))
}
