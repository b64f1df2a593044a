package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "alert-trader/internal/errors"
	"alert-trader/internal/ledger"
	"alert-trader/internal/logging"
	"alert-trader/internal/metrics"
	"alert-trader/internal/models"
	"alert-trader/internal/notify"
	"alert-trader/pkg/utils"
)

// PendingMonitor reconciles unfilled entries against the order book: stale
// entries are cancelled and fills are promoted to protected positions.
type PendingMonitor struct {
	session    OrderSession
	ledger     *ledger.Ledger
	book       *PositionBook
	stopLoss   *StopLossPlacer
	staleAfter time.Duration
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// NewPendingMonitor creates a pending-order monitor.
func NewPendingMonitor(session OrderSession, l *ledger.Ledger, book *PositionBook, sl *StopLossPlacer, staleAfter time.Duration, n notify.Notifier, m *metrics.Metrics, logger zerolog.Logger) *PendingMonitor {
	return &PendingMonitor{
		session:    session,
		ledger:     l,
		book:       book,
		stopLoss:   sl,
		staleAfter: staleAfter,
		notifier:   n,
		metrics:    m,
		logger:     logging.WithComponent(logger, "pending"),
		now:        utils.NowIST,
	}
}

// Tick runs one reconciliation pass over the open ledger rows.
func (m *PendingMonitor) Tick(ctx context.Context) error {
	m.backfill(ctx)

	rows, err := m.ledger.OpenRows(ctx)
	if err != nil {
		return fmt.Errorf("failed to read open rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	book, err := m.session.OrderBook(ctx)
	if err != nil {
		return fmt.Errorf("failed to read order book: %w", err)
	}

	now := m.now()
	for _, row := range rows {
		m.reconcile(ctx, row, book, now)
	}
	return nil
}

// backfill writes ledger rows for pending entries whose append failed when
// they were placed, so the pass below can cancel or protect them.
func (m *PendingMonitor) backfill(ctx context.Context) {
	for _, p := range m.book.PendingEntries() {
		_, err := m.ledger.Row(ctx, p.EntryOrderID)
		if err == nil || !apperrors.Is(err, apperrors.ErrRowNotFound) {
			continue
		}
		log := logging.WithOrderID(logging.WithSymbol(m.logger, p.Symbol), p.EntryOrderID)

		if _, err := m.ledger.RecordEntry(ctx, ledger.Entry{
			Symbol:        p.Symbol,
			Action:        p.Action,
			EntryPrice:    p.EntryPrice,
			StopLossPrice: p.StopLossPrice,
			EntryOrderID:  p.EntryOrderID,
			EnteredAt:     p.AlertTime,
		}); err != nil {
			log.Error().Err(err).Msg("Failed to backfill ledger row, retrying next tick")
			continue
		}
		m.metrics.Transition(string(models.StatusPending))
		log.Info().Msg("Backfilled ledger row for pending entry")
		m.notifier.Notify(ctx, fmt.Sprintf("Entry %s for %s recorded in the ledger", p.EntryOrderID, p.Symbol))
	}
}

func (m *PendingMonitor) reconcile(ctx context.Context, row models.LedgerRow, book []models.BookOrder, now time.Time) {
	if row.EntryOrderID == "" {
		return
	}
	log := logging.WithOrderID(logging.WithSymbol(m.logger, row.Symbol), row.EntryOrderID)

	entryAt, err := row.EntryTimeOn(now)
	if err != nil {
		log.Debug().Err(err).Msg("Skipping row with unreadable entry timestamp")
		return
	}

	order, ok := models.FindOrder(book, row.EntryOrderID)
	if !ok {
		return
	}

	switch {
	case order.Status.IsWorking():
		if now.Before(entryAt.Add(m.staleAfter)) {
			return
		}
		m.cancelStale(ctx, row, log)

	case order.Status == models.OrderStatusComplete && row.Status == models.StatusPending:
		m.promote(ctx, row, order, now, log)

	case order.Status.IsDead() && row.Status == models.StatusPending:
		if err := m.ledger.MarkCancelled(ctx, row.EntryOrderID); err != nil {
			log.Error().Err(err).Msg("Failed to record broker cancellation")
		} else {
			m.metrics.Transition(string(models.StatusCancelled))
		}
		m.book.RemovePending(row.EntryOrderID)
		log.Info().Str("status", string(order.Status)).Msg("Entry closed by broker")
		m.notifier.Notify(ctx, fmt.Sprintf("Entry %s for %s was %s by the broker", row.EntryOrderID, row.Symbol, order.Status))
	}
}

func (m *PendingMonitor) cancelStale(ctx context.Context, row models.LedgerRow, log zerolog.Logger) {
	if err := m.session.CancelOrder(ctx, row.EntryOrderID); err != nil {
		log.Warn().Err(err).Msg("Failed to cancel stale entry, retrying next tick")
		return
	}
	if err := m.ledger.MarkCancelled(ctx, row.EntryOrderID); err != nil {
		log.Error().Err(err).Msg("Failed to record cancellation")
	} else {
		m.metrics.Transition(string(models.StatusCancelled))
	}
	m.book.RemovePending(row.EntryOrderID)

	log.Info().Msg("Cancelled stale entry")
	m.notifier.Notify(ctx, fmt.Sprintf("Cancelled stale entry %s for %s (unfilled after %s)", row.EntryOrderID, row.Symbol, m.staleAfter))
}

func (m *PendingMonitor) promote(ctx context.Context, row models.LedgerRow, order models.BookOrder, now time.Time, log zerolog.Logger) {
	action, ok := row.ParsedAction()
	if !ok {
		log.Warn().Str("action", row.Action).Msg("Skipping filled row with unknown action")
		return
	}

	slID, err := m.stopLoss.PlaceStopLoss(ctx, row.Symbol, action, row.StopLoss(), row.EntryOrderID)
	switch {
	case apperrors.Is(err, apperrors.ErrAlreadyExited):
		m.book.RemovePending(row.EntryOrderID)
		return
	case err != nil:
		log.Warn().Err(err).Msg("Fill promotion deferred")
		return
	}

	entryAt := order.ExchangeTime
	if entryAt.IsZero() {
		entryAt = now
	}
	entryAt = entryAt.In(utils.IndiaLocation)

	entryPrice := row.Entry()
	if order.AvgFillPrice > 0 {
		entryPrice = order.AvgFillPrice
	}

	pos := models.Position{
		PositionID:    models.PositionID(row.Symbol, action, row.EntryOrderID),
		Symbol:        row.Symbol,
		Action:        action,
		EntryPrice:    entryPrice,
		StopLossPrice: row.StopLoss(),
		EntryOrderID:  row.EntryOrderID,
		SLOrderID:     slID,
		EntryTime:     entryAt,
		ExitTime:      ExitTime(entryAt),
	}
	if err := m.book.Promote(pos); err != nil {
		log.Error().Err(err).Msg("Failed to promote fill")
		return
	}
	posLog := logging.WithPosition(log, pos.PositionID)
	posLog.Info().
		Time("exit_at", pos.ExitTime).
		Msg("Entry filled, position protected")
}
