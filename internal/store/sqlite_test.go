package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "alert-trader/internal/errors"
	"alert-trader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func pendingRow(orderID string) models.LedgerRow {
	return models.LedgerRow{
		Date:           "2026-10-15",
		Symbol:         "RELIANCE",
		Action:         "buy",
		EntryPrice:     "2500",
		StopLossPrice:  "2480.1",
		EntryOrderID:   orderID,
		EntryTimestamp: "11:20",
		Status:         models.StatusPending,
	}
}

func TestLedgerAppendFindUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	h, err := s.AppendRow(ctx, pendingRow("240001"))
	if err != nil {
		t.Fatalf("AppendRow: %v", err)
	}

	found, err := s.FindRow(ctx, "240001")
	if err != nil || found != h {
		t.Fatalf("FindRow = %v, %v; want %v", found, err, h)
	}

	if err := s.UpdateCells(ctx, h, map[models.Column]string{
		models.ColSLOrderID:   "240002",
		models.ColSLTimestamp: "11:25",
		models.ColStatus:      string(models.StatusSLPlaced),
	}); err != nil {
		t.Fatalf("UpdateCells: %v", err)
	}

	row, err := s.GetRow(ctx, h)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if row.SLOrderID != "240002" || row.Status != models.StatusSLPlaced || row.SLTimestamp != "11:25" {
		t.Fatalf("row not updated: %+v", row)
	}
	if row.Symbol != "RELIANCE" || row.ClosedFlag != "" {
		t.Fatalf("untouched cells changed: %+v", row)
	}
}

func TestLedgerMissingRowAndBadColumn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.FindRow(ctx, "nope"); !errors.Is(err, apperrors.ErrRowNotFound) {
		t.Fatalf("FindRow missing = %v, want ErrRowNotFound", err)
	}
	if err := s.UpdateCell(ctx, 999, models.ColStatus, "exited"); !errors.Is(err, apperrors.ErrRowNotFound) {
		t.Fatalf("UpdateCell missing = %v, want ErrRowNotFound", err)
	}

	h, _ := s.AppendRow(ctx, pendingRow("1"))
	err := s.UpdateCell(ctx, h, models.Column("status; DROP TABLE ledger_rows"), "x")
	if !errors.Is(err, apperrors.ErrUnknownField) {
		t.Fatalf("UpdateCell bad column = %v, want ErrUnknownField", err)
	}
}

func TestFindRowReturnsNewest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.AppendRow(ctx, pendingRow("dup"))
	second, _ := s.AppendRow(ctx, pendingRow("dup"))

	got, err := s.FindRow(ctx, "dup")
	if err != nil || got != second {
		t.Fatalf("FindRow = %v, %v; want %v", got, err, second)
	}
}

// Property: rows read back from the ledger carry exactly the cells appended.
func TestProperty_LedgerRowRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("append then read preserves cells", prop.ForAll(
		func(symbol string, price float64, n int) bool {
			row := pendingRow(fmt.Sprintf("oid-%d-%d", n, time.Now().UnixNano()))
			row.Symbol = symbol
			row.EntryPrice = models.FormatPrice(models.RoundTick(price))

			h, err := s.AppendRow(ctx, row)
			if err != nil {
				return false
			}
			got, err := s.GetRow(ctx, h)
			if err != nil {
				return false
			}
			row.Handle = h
			return got == row && got.Entry() == models.RoundTick(price)
		},
		gen.Identifier(),
		gen.Float64Range(1, 50000),
		gen.IntRange(0, 1000000),
	))

	properties.TestingRun(t)

	rows, err := s.ReadAllRows(ctx)
	if err != nil || len(rows) == 0 {
		t.Fatalf("ReadAllRows = %d rows, %v", len(rows), err)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Handle <= rows[i-1].Handle {
			t.Fatal("ReadAllRows must return rows in insertion order")
		}
	}
}

func TestDeferredAlerts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := &models.DeferredAlert{
		Alert:    models.Alert{Symbol: "INFY", Action: models.ActionSell, EntryPrice: 1500, StopLossPrice: 1510},
		Reason:   "order placement failed",
		QueuedAt: time.Now().Add(-time.Hour),
	}
	fresh := &models.DeferredAlert{
		Alert:  models.Alert{Symbol: "TCS", Action: models.ActionBuy, EntryPrice: 3500, StopLossPrice: 3480, ReceivedAt: time.Now()},
		Reason: "order placement failed",
	}
	for _, a := range []*models.DeferredAlert{old, fresh} {
		if err := s.SaveDeferred(ctx, a); err != nil {
			t.Fatalf("SaveDeferred: %v", err)
		}
		if a.ID == "" {
			t.Fatal("SaveDeferred must assign an id")
		}
	}

	list, err := s.ListDeferred(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListDeferred = %d, %v", len(list), err)
	}
	if list[0].Alert.Symbol != "INFY" || list[1].Alert.Action != models.ActionBuy {
		t.Fatalf("unexpected order or content: %+v", list)
	}

	n, err := s.CountDeferredSince(ctx, time.Now().Add(-10*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("CountDeferredSince = %d, %v; want 1", n, err)
	}

	if err := s.RemoveDeferred(ctx, old.ID); err != nil {
		t.Fatalf("RemoveDeferred: %v", err)
	}
	if err := s.RemoveDeferred(ctx, old.ID); err == nil {
		t.Fatal("removing twice should fail")
	}
	cleared, err := s.ClearDeferred(ctx)
	if err != nil || cleared != 1 {
		t.Fatalf("ClearDeferred = %d, %v; want 1", cleared, err)
	}
}

func TestRowFilter(t *testing.T) {
	open := pendingRow("1")
	closed := pendingRow("2")
	closed.Status = models.StatusExited
	closed.ClosedFlag = models.ClosedYes

	f := RowFilter{OpenOnly: true}
	if !f.Match(open) || f.Match(closed) {
		t.Fatal("OpenOnly should keep only rows without the closed flag")
	}
	if (RowFilter{Date: "2026-10-14"}).Match(open) {
		t.Fatal("Date filter should drop other days")
	}
}
