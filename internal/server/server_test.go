package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-trader/internal/health"
	"alert-trader/internal/metrics"
	"alert-trader/internal/models"
	"alert-trader/internal/notify"
	"alert-trader/internal/trading"
)

type fakeSupervisor struct {
	result    trading.Result
	alerts    []models.Alert
	loggedIn  bool
	logouts   int
	logoutErr error
	book      *trading.PositionBook
}

func (f *fakeSupervisor) ProcessAlert(_ context.Context, a models.Alert) trading.Result {
	f.alerts = append(f.alerts, a)
	return f.result
}

func (f *fakeSupervisor) LoggedIn() bool { return f.loggedIn }

func (f *fakeSupervisor) Logout(context.Context) error {
	f.logouts++
	return f.logoutErr
}

func (f *fakeSupervisor) Book() *trading.PositionBook { return f.book }

type fakeRecent struct {
	since time.Time
	n     int
}

func (f *fakeRecent) CountDeferredSince(_ context.Context, since time.Time) (int, error) {
	f.since = since
	return f.n, nil
}

func newTestServer(t *testing.T, sup *fakeSupervisor, recent RecentCounter, rec *notify.Recorder) *Server {
	t.Helper()
	if sup.book == nil {
		sup.book = trading.NewPositionBook()
	}
	s, err := New(Config{Addr: "127.0.0.1:0"}, sup, recent, rec, metrics.New(), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestWebhookPlacesAlert(t *testing.T) {
	sup := &fakeSupervisor{result: trading.Result{Status: trading.ResultPlaced, PositionID: "TCS_buy_1", EntryOrderID: "1"}}
	rec := &notify.Recorder{}
	s := newTestServer(t, sup, nil, rec)

	w := do(s, http.MethodPost, "/webhook", `{"action":"buy","symbol":"TCS","entry":3600.04,"stoploss":3590,"time":1}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res trading.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, trading.ResultPlaced, res.Status)
	assert.Equal(t, "TCS_buy_1", res.PositionID)

	require.Len(t, sup.alerts, 1)
	assert.Equal(t, 3600.0, sup.alerts[0].EntryPrice)
	assert.Equal(t, 1, rec.Count("Webhook received"))
	assert.Zero(t, rec.Alerts())
}

func TestWebhookInvalidPayload(t *testing.T) {
	sup := &fakeSupervisor{}
	rec := &notify.Recorder{}
	s := newTestServer(t, sup, nil, rec)

	w := do(s, http.MethodPost, "/webhook", `{"action":"buy","symbol":"TCS"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, sup.alerts)
	assert.Equal(t, 1, rec.Count("Invalid alert format"))
}

func TestWebhookResultCodes(t *testing.T) {
	tests := []struct {
		status trading.ResultStatus
		code   int
	}{
		{trading.ResultQueued, http.StatusAccepted},
		{trading.ResultRejected, http.StatusBadRequest},
		{trading.ResultFailed, http.StatusBadGateway},
	}
	for _, tt := range tests {
		sup := &fakeSupervisor{result: trading.Result{Status: tt.status, Reason: "x"}}
		s := newTestServer(t, sup, nil, &notify.Recorder{})
		w := do(s, http.MethodPost, "/webhook", `{"action":"sell","symbol":"TCS","entry":1,"stoploss":2,"time":"3"}`)
		assert.Equal(t, tt.code, w.Code, "status %s", tt.status)
	}
}

func TestPing(t *testing.T) {
	s := newTestServer(t, &fakeSupervisor{}, nil, &notify.Recorder{})
	w := do(s, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestStatus(t *testing.T) {
	recent := &fakeRecent{n: 3}
	s := newTestServer(t, &fakeSupervisor{loggedIn: true}, recent, &notify.Recorder{})
	now := time.Date(2026, 10, 15, 11, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	w := do(s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["logged_in"])
	assert.Equal(t, float64(3), body["active_alerts"])
	assert.Equal(t, now.Format(time.RFC3339), body["now"])
	assert.True(t, recent.since.Equal(now.Add(-10*time.Minute)))
}

func TestLogout(t *testing.T) {
	sup := &fakeSupervisor{}
	s := newTestServer(t, sup, nil, &notify.Recorder{})

	w := do(s, http.MethodGet, "/logout", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "logged out")
	assert.Equal(t, 1, sup.logouts)

	sup.logoutErr = errors.New("gateway down")
	w = do(s, http.MethodPost, "/logout", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestPositionsAndMetrics(t *testing.T) {
	sup := &fakeSupervisor{book: trading.NewPositionBook()}
	sup.book.AddPending(models.PendingEntry{EntryOrderID: "E1", Symbol: "TCS", Action: models.ActionBuy})
	s := newTestServer(t, sup, nil, &notify.Recorder{})

	w := do(s, http.MethodGet, "/positions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "E1")

	w = do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthz(t *testing.T) {
	sup := &fakeSupervisor{book: trading.NewPositionBook()}
	mon := health.NewMonitor(time.Second)
	var pingErr error
	mon.Register("ledger", health.DatabaseCheck(func(context.Context) error { return pingErr }, 0))
	mon.Register("session", health.SessionCheck(sup.LoggedIn))

	s, err := New(Config{Health: mon}, sup, nil, &notify.Recorder{}, nil, zerolog.Nop())
	require.NoError(t, err)

	w := do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"DEGRADED"`)

	pingErr = errors.New("database is locked")
	w = do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "database is locked")
}
