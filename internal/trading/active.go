package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"alert-trader/internal/ledger"
	"alert-trader/internal/logging"
	"alert-trader/internal/metrics"
	"alert-trader/internal/models"
	"alert-trader/internal/notify"
	"alert-trader/internal/symbols"
	"alert-trader/pkg/utils"
)

// ActiveMonitor closes positions whose exit checkpoint has passed.
type ActiveMonitor struct {
	session  OrderSession
	ledger   *ledger.Ledger
	book     *PositionBook
	defaults OrderDefaults
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewActiveMonitor creates an active-position monitor.
func NewActiveMonitor(session OrderSession, l *ledger.Ledger, book *PositionBook, defaults OrderDefaults, n notify.Notifier, m *metrics.Metrics, logger zerolog.Logger) *ActiveMonitor {
	return &ActiveMonitor{
		session:  session,
		ledger:   l,
		book:     book,
		defaults: defaults,
		notifier: n,
		metrics:  m,
		logger:   logging.WithComponent(logger, "active"),
		now:      utils.NowIST,
	}
}

// Tick exits every position that is due.
func (m *ActiveMonitor) Tick(ctx context.Context) error {
	now := m.now()

	var due []models.Position
	for _, p := range m.book.Positions() {
		if !now.Before(p.ExitTime) {
			due = append(due, p)
		}
	}
	if len(due) == 0 {
		return nil
	}

	book, err := m.session.OrderBook(ctx)
	if err != nil {
		return fmt.Errorf("failed to read order book: %w", err)
	}

	for _, p := range due {
		m.exit(ctx, p, book)
	}
	return nil
}

func (m *ActiveMonitor) exit(ctx context.Context, p models.Position, book []models.BookOrder) {
	log := logging.WithPosition(logging.WithSymbol(m.logger, p.Symbol), p.PositionID)

	if sl, ok := models.FindOrder(book, p.SLOrderID); ok && sl.Status == models.OrderStatusComplete {
		if err := m.ledger.MarkStopLossFilled(ctx, p.EntryOrderID); err != nil {
			log.Error().Err(err).Msg("Failed to record stop-loss exit")
		} else {
			m.metrics.Transition(string(models.StatusExited))
		}
		m.book.RemovePosition(p.PositionID)
		log.Info().Float64("fill", sl.AvgFillPrice).Msg("Stop-loss already filled")
		m.notifier.Notify(ctx, fmt.Sprintf("Stop-loss hit for %s @ %.2f", p.Symbol, sl.AvgFillPrice))
		return
	}

	if err := m.session.CancelOrder(ctx, p.SLOrderID); err != nil {
		log.Warn().Err(err).Str("sl_order_id", p.SLOrderID).Msg("Failed to cancel stop-loss before exit")
	}

	req := m.defaults.request(symbols.ToAPISymbol(p.Symbol), p.Action.Reverse().Side(), models.OrderTypeMarket, 0, "exit")
	ack, err := submit(ctx, m.session, req)
	m.metrics.Order("exit", err == nil)
	if err != nil {
		log.Error().Err(err).Msg("Market exit failed, retrying next tick")
		m.notifier.Alert(ctx, fmt.Sprintf("Market exit FAILED for %s: %v", p.Symbol, err))
		return
	}
	logging.LogOrder(log, ack.OrderID, req.Symbol, string(req.Side), "exit")

	price := m.fillPrice(ctx, ack.OrderID)
	if err := m.ledger.MarkExited(ctx, p.EntryOrderID, price, ack.OrderID); err != nil {
		log.Error().Err(err).Msg("Failed to record market exit")
	} else {
		m.metrics.Transition(string(models.StatusExited))
	}
	m.book.RemovePosition(p.PositionID)

	log.Info().Float64("price", price).Msg("Position exited at checkpoint")
	m.notifier.Notify(ctx, fmt.Sprintf("Exited %s @ %s (order %s)", p.Symbol, utils.FormatPrice(models.FormatPrice(price)), ack.OrderID))
}

// fillPrice reads the average fill of an order, zero when not yet known.
func (m *ActiveMonitor) fillPrice(ctx context.Context, orderID string) float64 {
	book, err := m.session.OrderBook(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Str("order_id", orderID).Msg("Failed to read exit fill price")
		return 0
	}
	if o, ok := models.FindOrder(book, orderID); ok {
		return o.AvgFillPrice
	}
	return 0
}
