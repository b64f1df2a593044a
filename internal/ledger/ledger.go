// Package ledger maps position lifecycle transitions onto rows of the
// durable ledger store.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "alert-trader/internal/errors"
	"alert-trader/internal/logging"
	"alert-trader/internal/models"
	"alert-trader/internal/store"
	"alert-trader/pkg/utils"
)

// Ledger is the position ledger. Every method returns its error; callers
// decide whether a failed write is fatal to their transition.
type Ledger struct {
	store  store.LedgerStore
	now    func() time.Time
	logger zerolog.Logger

	mu    sync.Mutex
	index map[string]models.RowHandle // entry order id -> row
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for date and HH:MM cells.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.logger = logging.WithComponent(logger, "ledger") }
}

// New creates a ledger over the given row store.
func New(s store.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  s,
		now:    utils.NowIST,
		logger: zerolog.Nop(),
		index:  make(map[string]models.RowHandle),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Entry describes a freshly accepted entry order.
type Entry struct {
	Symbol        string
	Action        models.Action
	EntryPrice    float64
	StopLossPrice float64
	EntryOrderID  string
	// EnteredAt stamps the date and entry time cells; zero means now.
	EnteredAt time.Time
}

// RecordEntry appends a pending row for an accepted entry order.
func (l *Ledger) RecordEntry(ctx context.Context, e Entry) (models.LedgerRow, error) {
	now := e.EnteredAt
	if now.IsZero() {
		now = l.now()
	}
	row := models.LedgerRow{
		Date:           now.Format("2006-01-02"),
		Symbol:         e.Symbol,
		Action:         string(e.Action),
		EntryPrice:     models.FormatPrice(e.EntryPrice),
		StopLossPrice:  models.FormatPrice(e.StopLossPrice),
		EntryOrderID:   e.EntryOrderID,
		EntryTimestamp: now.Format(models.ClockLayout),
		Status:         models.StatusPending,
	}
	h, err := l.store.AppendRow(ctx, row)
	if err != nil {
		return models.LedgerRow{}, apperrors.NewLedgerError("append", e.EntryOrderID, err)
	}
	row.Handle = h

	l.mu.Lock()
	l.index[e.EntryOrderID] = h
	l.mu.Unlock()

	logging.LogTransition(l.logger, e.EntryOrderID, string(models.StatusPending))
	return row, nil
}

// Row returns the current ledger row for an entry order.
func (l *Ledger) Row(ctx context.Context, entryOrderID string) (models.LedgerRow, error) {
	h, err := l.handle(ctx, entryOrderID)
	if err != nil {
		return models.LedgerRow{}, apperrors.NewLedgerError("read", entryOrderID, err)
	}
	row, err := l.store.GetRow(ctx, h)
	if err != nil {
		l.forget(entryOrderID)
		return models.LedgerRow{}, apperrors.NewLedgerError("read", entryOrderID, err)
	}
	return row, nil
}

// Status returns the recorded status of an entry order.
func (l *Ledger) Status(ctx context.Context, entryOrderID string) (models.LedgerStatus, error) {
	row, err := l.Row(ctx, entryOrderID)
	if err != nil {
		return "", err
	}
	return row.Status, nil
}

// StopLossPrice returns the recorded stoploss price, zero when blank.
func (l *Ledger) StopLossPrice(ctx context.Context, entryOrderID string) (float64, error) {
	row, err := l.Row(ctx, entryOrderID)
	if err != nil {
		return 0, err
	}
	return row.StopLoss(), nil
}

// MarkStopLoss records the protective order and moves the row to sl_placed.
func (l *Ledger) MarkStopLoss(ctx context.Context, entryOrderID, slOrderID string) error {
	return l.transition(ctx, entryOrderID, models.StatusSLPlaced, map[models.Column]string{
		models.ColSLOrderID:   slOrderID,
		models.ColSLTimestamp: l.now().Format(models.ClockLayout),
	})
}

// MarkCancelled closes a row whose entry never filled.
func (l *Ledger) MarkCancelled(ctx context.Context, entryOrderID string) error {
	return l.transition(ctx, entryOrderID, models.StatusCancelled, nil)
}

// MarkStopLossFilled closes a row whose stop-loss filled on its own.
func (l *Ledger) MarkStopLossFilled(ctx context.Context, entryOrderID string) error {
	return l.transition(ctx, entryOrderID, models.StatusExited, nil)
}

// MarkExited records a market exit and closes the row.
func (l *Ledger) MarkExited(ctx context.Context, entryOrderID string, exitPrice float64, marketOrderID string) error {
	return l.transition(ctx, entryOrderID, models.StatusExited, map[models.Column]string{
		models.ColExitPrice:           models.FormatPrice(exitPrice),
		models.ColMarketOrderID:       marketOrderID,
		models.ColMarketExitTimestamp: l.now().Format(models.ClockLayout),
	})
}

// Rows returns every ledger row.
func (l *Ledger) Rows(ctx context.Context) ([]models.LedgerRow, error) {
	rows, err := l.store.ReadAllRows(ctx)
	if err != nil {
		return nil, apperrors.NewLedgerError("scan", "", err)
	}

	l.mu.Lock()
	for _, r := range rows {
		if r.EntryOrderID != "" {
			l.index[r.EntryOrderID] = r.Handle
		}
	}
	l.mu.Unlock()
	return rows, nil
}

// OpenRows returns rows without the closed flag.
func (l *Ledger) OpenRows(ctx context.Context) ([]models.LedgerRow, error) {
	rows, err := l.Rows(ctx)
	if err != nil {
		return nil, err
	}
	open := rows[:0]
	for _, r := range rows {
		if !r.IsClosed() {
			open = append(open, r)
		}
	}
	return open, nil
}

// transition writes status, the closed flag for terminal statuses and any
// extra cells in one update.
func (l *Ledger) transition(ctx context.Context, entryOrderID string, to models.LedgerStatus, extra map[models.Column]string) error {
	h, err := l.handle(ctx, entryOrderID)
	if err != nil {
		return apperrors.NewLedgerError(string(to), entryOrderID, err)
	}

	cells := map[models.Column]string{models.ColStatus: string(to)}
	for k, v := range extra {
		cells[k] = v
	}
	if to.IsTerminal() {
		cells[models.ColClosedFlag] = models.ClosedYes
	}

	if err := l.store.UpdateCells(ctx, h, cells); err != nil {
		l.forget(entryOrderID)
		return apperrors.NewLedgerError(string(to), entryOrderID, err)
	}

	logging.LogTransition(l.logger, entryOrderID, string(to))
	return nil
}

func (l *Ledger) handle(ctx context.Context, entryOrderID string) (models.RowHandle, error) {
	if entryOrderID == "" {
		return 0, apperrors.ErrRowNotFound
	}
	l.mu.Lock()
	h, ok := l.index[entryOrderID]
	l.mu.Unlock()
	if ok {
		return h, nil
	}

	h, err := l.store.FindRow(ctx, entryOrderID)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	l.index[entryOrderID] = h
	l.mu.Unlock()
	return h, nil
}

func (l *Ledger) forget(entryOrderID string) {
	l.mu.Lock()
	delete(l.index, entryOrderID)
	l.mu.Unlock()
}
