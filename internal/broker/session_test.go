package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "alert-trader/internal/errors"
	"alert-trader/internal/models"
	"alert-trader/internal/notify"
	"alert-trader/pkg/utils"
)

var testWindow = utils.Window{Start: utils.MustClock("10:00"), End: utils.MustClock("15:15")}

func at(hhmm string) func() time.Time {
	return func() time.Time {
		return utils.MustClock(hhmm).On(time.Date(2026, 10, 15, 0, 0, 0, 0, utils.IndiaLocation))
	}
}

func newTestSession(gw Gateway, rec *notify.Recorder, now func() time.Time) *Session {
	return NewSession(gw, SessionConfig{
		CallTimeout:     time.Second,
		HeartbeatWindow: testWindow,
		ProbeExchange:   models.NSE,
		ProbeInstrument: "256265",
	}, WithNotifier(rec), WithNow(now))
}

func TestSessionCallLogsInFirst(t *testing.T) {
	gw := NewPaperGateway(PaperConfig{})
	s := newTestSession(gw, &notify.Recorder{}, at("11:00"))

	ack, err := s.PlaceOrder(context.Background(), models.OrderRequest{Symbol: "TCS-EQ", Type: models.OrderTypeLimit, Price: 10})
	require.NoError(t, err)
	assert.True(t, ack.OK)

	logins, logouts := gw.SessionCounts()
	assert.Equal(t, 1, logins)
	assert.Equal(t, 0, logouts)
}

func TestSessionReloginCyclesGateway(t *testing.T) {
	gw := NewPaperGateway(PaperConfig{})
	rec := &notify.Recorder{}
	s := newTestSession(gw, rec, at("11:00"))

	require.NoError(t, s.Login(context.Background()))
	require.NoError(t, s.Relogin(context.Background()))

	logins, logouts := gw.SessionCounts()
	assert.Equal(t, 2, logins)
	assert.Equal(t, 1, logouts)
	assert.True(t, s.IsAuthenticated())
}

func TestSessionReloginFailureAlerts(t *testing.T) {
	gw := NewPaperGateway(PaperConfig{})
	rec := &notify.Recorder{}
	s := newTestSession(gw, rec, at("11:00"))
	require.NoError(t, s.Login(context.Background()))

	gw.FailLogin(apperrors.ErrInvalidCredentials)
	err := s.Relogin(context.Background())
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	assert.Equal(t, 1, rec.Alerts())
}

func TestSessionConcurrentCallsDuringRelogin(t *testing.T) {
	gw := NewPaperGateway(PaperConfig{})
	s := newTestSession(gw, &notify.Recorder{}, at("11:00"))
	require.NoError(t, s.Login(context.Background()))

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.OrderBook(context.Background())
			errs <- err
		}()
		go func() {
			defer wg.Done()
			errs <- s.Relogin(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, s.IsAuthenticated())
}

// slowGateway blocks order book reads until the context ends.
type slowGateway struct {
	*PaperGateway
}

func (g slowGateway) OrderBook(ctx context.Context) ([]models.BookOrder, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSessionCallTimeout(t *testing.T) {
	gw := slowGateway{NewPaperGateway(PaperConfig{})}
	s := NewSession(gw, SessionConfig{CallTimeout: 20 * time.Millisecond})

	_, err := s.OrderBook(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTimeout), "got %v", err)
}

func TestKeepAliveOutsideWindowSkips(t *testing.T) {
	gw := NewPaperGateway(PaperConfig{})
	s := newTestSession(gw, &notify.Recorder{}, at("09:30"))
	require.NoError(t, s.Login(context.Background()))

	outcome, err := s.KeepAlive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HeartbeatSkipped, outcome)

	s.now = at("15:15")
	outcome, _ = s.KeepAlive(context.Background())
	assert.Equal(t, HeartbeatSkipped, outcome, "window end is exclusive")
}

func TestKeepAliveNotLoggedInSkips(t *testing.T) {
	gw := NewPaperGateway(PaperConfig{})
	s := newTestSession(gw, &notify.Recorder{}, at("11:00"))

	outcome, err := s.KeepAlive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HeartbeatSkipped, outcome)

	logins, _ := gw.SessionCounts()
	assert.Zero(t, logins, "heartbeat must not log in on its own")
}

func TestKeepAliveHealthy(t *testing.T) {
	gw := NewPaperGateway(PaperConfig{})
	s := newTestSession(gw, &notify.Recorder{}, at("11:00"))
	require.NoError(t, s.Login(context.Background()))

	outcome, err := s.KeepAlive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HeartbeatOK, outcome)

	_, logouts := gw.SessionCounts()
	assert.Zero(t, logouts)
}

func TestKeepAliveRestoresDeadSession(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		err   error
	}{
		{"empty quote", 0, nil},
		{"quote error", 0, apperrors.ErrSessionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := NewPaperGateway(PaperConfig{})
			rec := &notify.Recorder{}
			s := newTestSession(gw, rec, at("12:00"))
			require.NoError(t, s.Login(context.Background()))

			gw.SetQuote(tt.price, tt.err)
			outcome, err := s.KeepAlive(context.Background())
			require.NoError(t, err)
			assert.Equal(t, HeartbeatRestored, outcome)

			logins, logouts := gw.SessionCounts()
			assert.Equal(t, 2, logins)
			assert.Equal(t, 1, logouts)
			assert.Equal(t, 1, rec.Alerts())
			assert.Equal(t, 1, rec.Count("Session restored"))
		})
	}
}

func TestKeepAliveFailedRelogin(t *testing.T) {
	gw := NewPaperGateway(PaperConfig{})
	rec := &notify.Recorder{}
	s := newTestSession(gw, rec, at("12:00"))
	require.NoError(t, s.Login(context.Background()))

	gw.SetQuote(0, nil)
	gw.FailLogin(errors.New("gateway down"))
	outcome, err := s.KeepAlive(context.Background())
	require.Error(t, err)
	assert.Equal(t, HeartbeatFailed, outcome)
	assert.Equal(t, 2, rec.Alerts())
}
