package trading

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alert-trader/internal/broker"
	"alert-trader/internal/config"
	"alert-trader/internal/ledger"
	"alert-trader/internal/metrics"
	"alert-trader/internal/models"
	"alert-trader/internal/notify"
	"alert-trader/internal/store"
	"alert-trader/pkg/utils"
)

// harness wires a supervisor over a paper gateway and a temp SQLite ledger,
// all driven by a settable clock.
type harness struct {
	t       *testing.T
	now     time.Time
	gw      *broker.PaperGateway
	session *broker.Session
	store   *store.SQLiteStore
	ledger  *ledger.Ledger
	rec     *notify.Recorder
	sup     *Supervisor
}

// clockAt places hhmm on a Thursday.
func clockAt(hhmm string) time.Time {
	return utils.MustClock(hhmm).On(time.Date(2026, 10, 15, 0, 0, 0, 0, utils.IndiaLocation))
}

// flakyStore fails the next appends, then behaves like the SQLite store.
type flakyStore struct {
	*store.SQLiteStore
	failAppends int
}

func (f *flakyStore) AppendRow(ctx context.Context, row models.LedgerRow) (models.RowHandle, error) {
	if f.failAppends > 0 {
		f.failAppends--
		return 0, errors.New("database is locked")
	}
	return f.SQLiteStore.AppendRow(ctx, row)
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	return newHarnessWithStore(t, start, nil)
}

// newHarnessWithStore lets wrap replace the row store behind the ledger.
func newHarnessWithStore(t *testing.T, start time.Time, wrap func(*store.SQLiteStore) store.LedgerStore) *harness {
	t.Helper()
	h := &harness{t: t, now: start, rec: &notify.Recorder{}}
	clock := func() time.Time { return h.now }

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	h.store = s
	var rows store.LedgerStore = s
	if wrap != nil {
		rows = wrap(s)
	}
	h.ledger = ledger.New(rows, ledger.WithClock(clock))

	h.gw = broker.NewPaperGateway(broker.PaperConfig{Now: clock})
	h.session = broker.NewSession(h.gw, broker.SessionConfig{
		CallTimeout:     time.Second,
		HeartbeatWindow: utils.Window{Start: utils.MustClock("10:00"), End: utils.MustClock("15:15")},
		ProbeExchange:   models.NSE,
		ProbeInstrument: "256265",
	}, broker.WithNotifier(h.rec), broker.WithNow(clock))

	cfg := config.Default(t.TempDir())
	cfg.Monitor.RetryDelay = 0

	h.sup, err = NewSupervisor(cfg, Deps{
		Session:  h.session,
		Ledger:   h.ledger,
		Queue:    s,
		Notifier: h.rec,
		Metrics:  metrics.New(),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	h.sup.SetClock(clock)
	return h
}

func (h *harness) at(hhmm string) {
	h.now = clockAt(hhmm)
}

// place processes a RELIANCE buy alert and returns the entry order id.
func (h *harness) place() string {
	h.t.Helper()
	res := h.sup.ProcessAlert(context.Background(), models.Alert{
		Symbol:        "reliance",
		Action:        models.ActionBuy,
		EntryPrice:    2500.03,
		StopLossPrice: 2480.07,
	})
	if res.Status != ResultPlaced {
		h.t.Fatalf("ProcessAlert = %+v", res)
	}
	return res.EntryOrderID
}

// fillAndProtect fills the entry and runs the pending monitor once.
func (h *harness) fillAndProtect(entryID string) models.Position {
	h.t.Helper()
	h.gw.Fill(entryID, 2500)
	if err := h.sup.pending.Tick(context.Background()); err != nil {
		h.t.Fatalf("pending tick: %v", err)
	}
	p, ok := h.sup.book.PositionForEntry(entryID)
	if !ok {
		h.t.Fatal("fill was not promoted")
	}
	return p
}

func (h *harness) row(entryID string) models.LedgerRow {
	h.t.Helper()
	row, err := h.ledger.Row(context.Background(), entryID)
	if err != nil {
		h.t.Fatalf("ledger row %s: %v", entryID, err)
	}
	return row
}
