package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "alert-trader/internal/errors"
	"alert-trader/internal/logging"
	"alert-trader/internal/metrics"
	"alert-trader/internal/models"
	"alert-trader/internal/notify"
	"alert-trader/internal/symbols"
	"alert-trader/pkg/utils"
)

// entryAttempts bounds entry submission, re-authenticating in between.
const entryAttempts = 2

// EntryPlacer submits stop-limit entry orders.
type EntryPlacer struct {
	session    OrderSession
	defaults   OrderDefaults
	retryDelay time.Duration
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewEntryPlacer creates an entry placer.
func NewEntryPlacer(session OrderSession, defaults OrderDefaults, retryDelay time.Duration, n notify.Notifier, m *metrics.Metrics, logger zerolog.Logger) *EntryPlacer {
	return &EntryPlacer{
		session:    session,
		defaults:   defaults,
		retryDelay: retryDelay,
		notifier:   n,
		metrics:    m,
		logger:     logging.WithComponent(logger, "entry"),
	}
}

// PlaceEntry submits a stop-limit entry with trigger and limit at the
// tick-rounded price. A failed attempt forces a logout+login before the
// retry.
func (e *EntryPlacer) PlaceEntry(ctx context.Context, symbol string, action models.Action, price float64) (string, error) {
	apiSymbol := symbols.ToAPISymbol(symbol)
	px := models.RoundTick(price)
	req := e.defaults.request(apiSymbol, action.Side(), models.OrderTypeStopLoss, px, "entry")
	log := logging.WithSymbol(e.logger, symbols.Normalize(symbol))

	cfg := utils.RetryConfig{
		MaxAttempts:   entryAttempts,
		InitialDelay:  e.retryDelay,
		MaxDelay:      e.retryDelay,
		BackoffFactor: 1,
		OnRetry: func(ctx context.Context, attempt int, err error) {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Entry attempt failed, re-logging in")
			if rerr := e.session.Relogin(ctx); rerr != nil {
				log.Error().Err(rerr).Msg("Re-login before entry retry failed")
			}
		},
	}

	ack, err := utils.RetryWithResult(ctx, cfg, func() (models.OrderAck, error) {
		return submit(ctx, e.session, req)
	})
	e.metrics.Order("entry", err == nil)

	if err != nil {
		log.Error().Err(err).Float64("price", px).Msg("Entry order failed")
		e.notifier.Alert(ctx, fmt.Sprintf("Entry order FAILED: %s %s @ %.2f: %v", action.Side(), symbols.Normalize(symbol), px, err))
		return "", apperrors.NewOrderError("", symbols.Normalize(symbol), string(action), "entry placement failed", err)
	}

	logging.LogOrder(log, ack.OrderID, apiSymbol, string(req.Side), "entry")
	e.notifier.Notify(ctx, fmt.Sprintf("Entry order placed: %s %s @ %.2f (order %s)", action.Side(), symbols.Normalize(symbol), px, ack.OrderID))
	return ack.OrderID, nil
}

// submit places req and turns a non-success acknowledgment into an error.
func submit(ctx context.Context, session OrderSession, req models.OrderRequest) (models.OrderAck, error) {
	ack, err := session.PlaceOrder(ctx, req)
	if err != nil {
		return ack, err
	}
	if !ack.OK || ack.OrderID == "" {
		return ack, fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, ack.Message)
	}
	return ack, nil
}
