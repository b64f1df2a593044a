package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "alert-trader/internal/errors"
	"alert-trader/internal/models"
	"alert-trader/pkg/utils"
)

// fakeKite serves the Kite web login and the subset of the Connect API the
// gateway uses.
type fakeKite struct {
	srv        *httptest.Server
	sessions   atomic.Int32
	lastOrder  atomic.Value
	tokenError atomic.Bool
}

func newFakeKite(t *testing.T) *fakeKite {
	t.Helper()
	f := &fakeKite{}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"status":"error","message":"Invalid password"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "kf_session", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte(`{"status":"success","data":{"user_id":"AB1234","request_id":"req-1","twofa_type":"totp"}}`))
	})
	mux.HandleFunc("/api/twofa", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if _, err := r.Cookie("kf_session"); err != nil || r.PostForm.Get("request_id") != "req-1" || len(r.PostForm.Get("twofa_value")) != 6 {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"status":"error","message":"Invalid TOTP"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{}}`))
	})
	mux.HandleFunc("/connect/login", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/callback?request_token=tok-123&action=login&status=success", http.StatusFound)
	})
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/session/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			_, _ = w.Write([]byte(`{"status":"success","data":true}`))
			return
		}
		_ = r.ParseForm()
		if r.PostForm.Get("request_token") != "tok-123" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"status":"error","error_type":"TokenException","message":"Invalid request token"}`))
			return
		}
		f.sessions.Add(1)
		_, _ = w.Write([]byte(`{"status":"success","data":{"user_id":"AB1234","access_token":"access-xyz","public_token":"pub"}}`))
	})
	mux.HandleFunc("/orders/regular", func(w http.ResponseWriter, r *http.Request) {
		if f.tokenError.Load() {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"status":"error","error_type":"TokenException","message":"Incorrect api_key or access_token"}`))
			return
		}
		_ = r.ParseForm()
		f.lastOrder.Store(r.PostForm)
		_, _ = w.Write([]byte(`{"status":"success","data":{"order_id":"151220000000000"}}`))
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":[
			{"order_id":"151220000000000","status":"COMPLETE","tradingsymbol":"RELIANCE","transaction_type":"BUY","average_price":2501.5,"exchange_timestamp":"2026-10-15 11:20:05"},
			{"order_id":"151220000000001","status":"TRIGGER PENDING","tradingsymbol":"RELIANCE","transaction_type":"SELL","average_price":0}
		]}`))
	})
	mux.HandleFunc("/quote/ltp", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("i")
		payload := map[string]interface{}{
			"status": "success",
			"data": map[string]interface{}{
				key: map[string]interface{}{"instrument_token": 256265, "last_price": 19500.5},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeKite) gateway(t *testing.T, tokenPath string) *KiteGateway {
	t.Helper()
	return NewKiteGateway(KiteConfig{
		APIKey:       "key",
		APISecret:    "api-secret",
		UserID:       "AB1234",
		Password:     "secret",
		TOTPSecret:   "JBSWY3DPEHPK3PXP",
		TokenPath:    tokenPath,
		Timeout:      5 * time.Second,
		APIBaseURL:   f.srv.URL,
		LoginBaseURL: f.srv.URL,
		ConnectURL:   f.srv.URL + "/connect/login?api_key=key&v=3",
	}, zerolog.Nop())
}

func TestKiteLoginPersistsSealedSession(t *testing.T) {
	f := newFakeKite(t)
	tokenPath := filepath.Join(t.TempDir(), "session.json")

	gw := f.gateway(t, tokenPath)
	require.NoError(t, gw.Login(context.Background()))
	assert.True(t, gw.IsAuthenticated())
	assert.EqualValues(t, 1, f.sessions.Load())

	raw, err := os.ReadFile(tokenPath)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "access-xyz", "session file must be sealed")

	// A fresh gateway restores the session without another web login.
	again := f.gateway(t, tokenPath)
	require.NoError(t, again.Login(context.Background()))
	assert.True(t, again.IsAuthenticated())
	assert.EqualValues(t, 1, f.sessions.Load())

	require.NoError(t, again.Logout(context.Background()))
	assert.False(t, again.IsAuthenticated())
	_, err = os.Stat(tokenPath)
	assert.True(t, os.IsNotExist(err))
}

func TestKiteLoginRejectsBadPassword(t *testing.T) {
	f := newFakeKite(t)
	gw := NewKiteGateway(KiteConfig{
		APIKey:       "key",
		APISecret:    "api-secret",
		UserID:       "AB1234",
		Password:     "wrong",
		TOTPSecret:   "JBSWY3DPEHPK3PXP",
		TokenPath:    filepath.Join(t.TempDir(), "session.json"),
		APIBaseURL:   f.srv.URL,
		LoginBaseURL: f.srv.URL,
		ConnectURL:   f.srv.URL + "/connect/login",
	}, zerolog.Nop())

	err := gw.Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	assert.False(t, gw.IsAuthenticated())
}

func TestKiteOrdersAndQuote(t *testing.T) {
	f := newFakeKite(t)
	gw := f.gateway(t, filepath.Join(t.TempDir(), "session.json"))
	ctx := context.Background()

	_, err := gw.PlaceOrder(ctx, models.OrderRequest{Symbol: "RELIANCE-EQ"})
	require.ErrorIs(t, err, apperrors.ErrNotAuthenticated)

	require.NoError(t, gw.Login(ctx))

	ack, err := gw.PlaceOrder(ctx, models.OrderRequest{
		Symbol:       "RELIANCE-EQ",
		Exchange:     models.NSE,
		Side:         models.OrderSideSell,
		Type:         models.OrderTypeStopLoss,
		Product:      models.ProductMIS,
		Quantity:     1,
		Price:        2480,
		TriggerPrice: 2480,
		Validity:     "DAY",
		Remarks:      "stoploss for 2400",
	})
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Equal(t, "151220000000000", ack.OrderID)

	form := f.lastOrder.Load().(url.Values)
	assert.Equal(t, []string{"RELIANCE"}, form["tradingsymbol"])
	assert.Equal(t, []string{"SL"}, form["order_type"])
	assert.Equal(t, []string{"stoplossfor2400"}, form["tag"])

	book, err := gw.OrderBook(ctx)
	require.NoError(t, err)
	require.Len(t, book, 2)
	assert.Equal(t, models.OrderStatusComplete, book[0].Status)
	assert.Equal(t, 2501.5, book[0].AvgFillPrice)
	assert.Equal(t, models.OrderSideBuy, book[0].Side)
	fill := book[0].ExchangeTime
	assert.True(t, fill.Equal(time.Date(2026, 10, 15, 11, 20, 5, 0, utils.IndiaLocation)), "fill time %s", fill)
	assert.Equal(t, "11:20", utils.ClockOf(fill.In(utils.IndiaLocation)).String())
	assert.True(t, book[1].ExchangeTime.IsZero())
	assert.Equal(t, models.OrderStatusTriggerPending, book[1].Status)

	q, err := gw.Quote(ctx, models.NSE, "256265")
	require.NoError(t, err)
	assert.Equal(t, 19500.5, q.LastPrice)

	ltp, err := gw.LastPrice(ctx, models.NSE, "RELIANCE-EQ")
	require.NoError(t, err)
	assert.Equal(t, 19500.5, ltp)
}

func TestKiteTokenErrorDropsSession(t *testing.T) {
	f := newFakeKite(t)
	gw := f.gateway(t, filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, gw.Login(context.Background()))

	f.tokenError.Store(true)
	_, err := gw.PlaceOrder(context.Background(), models.OrderRequest{Symbol: "TCS-EQ", Type: models.OrderTypeMarket})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)
	assert.False(t, gw.IsAuthenticated())
}

func TestOrderTag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"entry", "entry"},
		{"stoploss for 2400", "stoplossfor2400"},
		{"exit 12:15 checkpoint for RELIANCE", "exit1215checkpointfo"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, orderTag(tt.in), tt.in)
	}
}

func TestExchangeTimeIsIndiaWallClock(t *testing.T) {
	sdk := time.Date(2026, 10, 15, 11, 20, 5, 0, time.UTC)
	got := exchangeTime(sdk)
	assert.Equal(t, utils.IndiaLocation, got.Location())
	assert.Equal(t, 11, got.Hour())
	assert.Equal(t, 20, got.Minute())
	assert.Equal(t, 5*time.Hour+30*time.Minute, sdk.Sub(got))

	assert.True(t, exchangeTime(time.Time{}).IsZero())
}
