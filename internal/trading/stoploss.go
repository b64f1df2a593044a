package trading

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	apperrors "alert-trader/internal/errors"
	"alert-trader/internal/ledger"
	"alert-trader/internal/logging"
	"alert-trader/internal/metrics"
	"alert-trader/internal/models"
	"alert-trader/internal/notify"
	"alert-trader/internal/symbols"
)

// StopLossPlacer submits the protective order for a filled entry.
type StopLossPlacer struct {
	session  OrderSession
	ledger   *ledger.Ledger
	book     *PositionBook
	defaults OrderDefaults
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewStopLossPlacer creates a stop-loss placer.
func NewStopLossPlacer(session OrderSession, l *ledger.Ledger, book *PositionBook, defaults OrderDefaults, n notify.Notifier, m *metrics.Metrics, logger zerolog.Logger) *StopLossPlacer {
	return &StopLossPlacer{
		session:  session,
		ledger:   l,
		book:     book,
		defaults: defaults,
		notifier: n,
		metrics:  m,
		logger:   logging.WithComponent(logger, "stoploss"),
	}
}

// PlaceStopLoss places a stop-limit on the reversed side at the
// tick-rounded trigger. It refuses exited rows and rows without a recorded
// stoploss price, returns the recorded order for rows already protected and
// rejects concurrent placement for the same entry.
func (s *StopLossPlacer) PlaceStopLoss(ctx context.Context, symbol string, action models.Action, trigger float64, entryOrderID string) (string, error) {
	if !s.book.BeginStopLoss(entryOrderID) {
		return "", apperrors.ErrStopLossInFlight
	}
	defer s.book.EndStopLoss(entryOrderID)

	log := logging.WithOrderID(logging.WithSymbol(s.logger, symbols.Normalize(symbol)), entryOrderID)

	if p, ok := s.book.PositionForEntry(entryOrderID); ok {
		return p.SLOrderID, nil
	}

	row, err := s.ledger.Row(ctx, entryOrderID)
	if err != nil {
		log.Error().Err(err).Msg("Cannot read ledger row, stop-loss not placed")
		return "", err
	}
	switch {
	case row.Status == models.StatusExited:
		return "", apperrors.ErrAlreadyExited
	case row.Status == models.StatusSLPlaced && row.SLOrderID != "":
		return row.SLOrderID, nil
	case row.StopLoss() <= 0:
		return "", apperrors.ErrNoStopLossPrice
	}

	px := models.RoundTick(trigger)
	req := s.defaults.request(symbols.ToAPISymbol(symbol), action.Reverse().Side(), models.OrderTypeStopLoss, px, "stoploss")

	ack, err := submit(ctx, s.session, req)
	if err != nil {
		log.Warn().Err(err).Msg("Stop-loss submit failed, re-logging in")
		if rerr := s.session.Relogin(ctx); rerr != nil {
			log.Error().Err(rerr).Msg("Re-login before stop-loss retry failed")
		}
		ack, err = submit(ctx, s.session, req)
	}
	s.metrics.Order("stoploss", err == nil)

	if err != nil {
		log.Error().Err(err).Float64("trigger", px).Msg("Stop-loss placement failed, position unprotected")
		s.notifier.Alert(ctx, fmt.Sprintf("Stop-loss FAILED for %s (entry %s): position unprotected: %v", symbols.Normalize(symbol), entryOrderID, err))
		return "", apperrors.NewOrderError(entryOrderID, symbols.Normalize(symbol), string(action.Reverse()), "stop-loss placement failed", err)
	}

	if err := s.ledger.MarkStopLoss(ctx, entryOrderID, ack.OrderID); err != nil {
		log.Error().Err(err).Str("sl_order_id", ack.OrderID).Msg("Failed to record stop-loss in ledger")
	} else {
		s.metrics.Transition(string(models.StatusSLPlaced))
	}

	logging.LogOrder(log, ack.OrderID, req.Symbol, string(req.Side), "stoploss")
	s.notifier.Notify(ctx, fmt.Sprintf("Stop-loss placed: %s %s @ %.2f (order %s)", req.Side, symbols.Normalize(symbol), px, ack.OrderID))
	return ack.OrderID, nil
}
