package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	apperrors "alert-trader/internal/errors"
	"alert-trader/internal/logging"
	"alert-trader/internal/metrics"
	"alert-trader/internal/models"
	"alert-trader/internal/notify"
	"alert-trader/pkg/utils"
)

// SessionConfig holds the session's call limits and heartbeat probe.
type SessionConfig struct {
	CallTimeout     time.Duration
	RatePerSecond   float64
	Burst           int
	HeartbeatWindow utils.Window
	ProbeExchange   models.Exchange
	ProbeInstrument string
}

// HeartbeatOutcome is the result of one KeepAlive probe.
type HeartbeatOutcome string

const (
	HeartbeatSkipped  HeartbeatOutcome = "skipped"
	HeartbeatOK       HeartbeatOutcome = "ok"
	HeartbeatRestored HeartbeatOutcome = "restored"
	HeartbeatFailed   HeartbeatOutcome = "failed"
)

// Session is the single authenticated gateway session shared by every
// loop. Gateway calls hold the read side of mu and re-authentication holds
// the write side, so no call observes a half-finished re-login.
type Session struct {
	gw       Gateway
	cfg      SessionConfig
	limiter  *rate.Limiter
	group    singleflight.Group
	mu       sync.RWMutex
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithNotifier sets the operator notifier.
func WithNotifier(n notify.Notifier) SessionOption {
	return func(s *Session) { s.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) { s.logger = logging.WithComponent(logger, "session") }
}

// WithNow sets the clock used for the heartbeat window.
func WithNow(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession wraps gw in a rate-limited, re-authenticating session.
func NewSession(gw Gateway, cfg SessionConfig, opts ...SessionOption) *Session {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	s := &Session{
		gw:       gw,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, burst),
		notifier: notify.NewNoOpNotifier(),
		logger:   zerolog.Nop(),
		now:      utils.NowIST,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Gateway returns the wrapped gateway.
func (s *Session) Gateway() Gateway {
	return s.gw
}

// IsAuthenticated reports whether the gateway session is live.
func (s *Session) IsAuthenticated() bool {
	return s.gw.IsAuthenticated()
}

// Login authenticates unless a session is already live. Concurrent callers
// share one attempt.
func (s *Session) Login(ctx context.Context) error {
	_, err, _ := s.group.Do("login", func() (interface{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.gw.IsAuthenticated() {
			return nil, nil
		}
		if err := s.gw.Login(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Login failed")
			s.notifier.Alert(ctx, fmt.Sprintf("Login failed: %v", err))
			return nil, err
		}
		s.logger.Info().Msg("Logged in")
		s.notifier.Notify(ctx, "Logged in")
		return nil, nil
	})
	return err
}

// Logout ends the gateway session.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.gw.Logout(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Logout failed")
		return err
	}
	s.logger.Info().Msg("Logged out")
	s.notifier.Notify(ctx, "Logged out")
	return nil
}

// Relogin forces a logout+login cycle. Concurrent callers share one cycle.
func (s *Session) Relogin(ctx context.Context) error {
	_, err, _ := s.group.Do("relogin", func() (interface{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.metrics.Relogin()
		if err := s.gw.Logout(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Logout before re-login failed")
		}
		if err := s.gw.Login(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Re-login failed")
			s.notifier.Alert(ctx, fmt.Sprintf("Re-login failed: %v", err))
			return nil, err
		}
		s.logger.Info().Msg("Re-logged in")
		return nil, nil
	})
	return err
}

// PlaceOrder submits an order.
func (s *Session) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderAck, error) {
	var ack models.OrderAck
	err := s.call(ctx, "place_order", func(ctx context.Context) error {
		var err error
		ack, err = s.gw.PlaceOrder(ctx, req)
		return err
	})
	return ack, err
}

// CancelOrder cancels an order.
func (s *Session) CancelOrder(ctx context.Context, orderID string) error {
	return s.call(ctx, "cancel_order", func(ctx context.Context) error {
		return s.gw.CancelOrder(ctx, orderID)
	})
}

// OrderBook returns the day's order book.
func (s *Session) OrderBook(ctx context.Context) ([]models.BookOrder, error) {
	var book []models.BookOrder
	err := s.call(ctx, "order_book", func(ctx context.Context) error {
		var err error
		book, err = s.gw.OrderBook(ctx)
		return err
	})
	return book, err
}

// Quote returns the last traded price of an instrument.
func (s *Session) Quote(ctx context.Context, exchange models.Exchange, instrument string) (models.Quote, error) {
	var q models.Quote
	err := s.call(ctx, "quote", func(ctx context.Context) error {
		var err error
		q, err = s.gw.Quote(ctx, exchange, instrument)
		return err
	})
	return q, err
}

// KeepAlive probes the session with a quote inside the heartbeat window and
// re-authenticates when the probe comes back empty or fails.
func (s *Session) KeepAlive(ctx context.Context) (HeartbeatOutcome, error) {
	outcome, err := s.keepAlive(ctx)
	s.metrics.Heartbeat(string(outcome))
	return outcome, err
}

func (s *Session) keepAlive(ctx context.Context) (HeartbeatOutcome, error) {
	if !s.cfg.HeartbeatWindow.Contains(s.now()) {
		return HeartbeatSkipped, nil
	}
	if !s.gw.IsAuthenticated() {
		return HeartbeatSkipped, nil
	}

	q, err := s.Quote(ctx, s.cfg.ProbeExchange, s.cfg.ProbeInstrument)
	if err == nil && q.LastPrice > 0 {
		s.logger.Debug().Float64("ltp", q.LastPrice).Msg("Heartbeat ok")
		return HeartbeatOK, nil
	}

	reason := "empty quote"
	if err != nil {
		reason = err.Error()
	}
	s.logger.Warn().Str("reason", reason).Msg("Session probe failed, re-logging in")
	s.notifier.Alert(ctx, fmt.Sprintf("Session probe failed (%s), re-logging in", reason))

	if err := s.Relogin(ctx); err != nil {
		return HeartbeatFailed, fmt.Errorf("heartbeat re-login: %w", err)
	}
	s.notifier.Notify(ctx, "Session restored")
	return HeartbeatRestored, nil
}

// call runs fn under the read lock with rate limiting and a deadline,
// logging in first when no session is live.
func (s *Session) call(ctx context.Context, method string, fn func(context.Context) error) error {
	if !s.gw.IsAuthenticated() {
		if err := s.Login(ctx); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	callCtx := ctx
	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(callCtx)
	elapsed := time.Since(start)

	s.metrics.ObserveCall(method, elapsed)
	logging.LogAPICall(s.logger, method, elapsed, err)

	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", method, apperrors.ErrTimeout, err)
	}
	return err
}
