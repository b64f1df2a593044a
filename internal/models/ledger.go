package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LedgerStatus is the lifecycle status recorded in the ledger.
type LedgerStatus string

const (
	StatusPending   LedgerStatus = "pending"
	StatusSLPlaced  LedgerStatus = "sl_placed"
	StatusCancelled LedgerStatus = "cancelled"
	StatusExited    LedgerStatus = "exited"
)

// IsTerminal reports whether the status closes the row.
func (s LedgerStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExited
}

// ClosedYes is the closed_flag value of a terminal row.
const ClosedYes = "Yes"

// Column names a ledger column. The order of Columns is the on-disk layout.
type Column string

const (
	ColDate                Column = "date"
	ColSymbol              Column = "symbol"
	ColAction              Column = "action"
	ColEntryPrice          Column = "entry_price"
	ColStopLossPrice       Column = "stoploss_price"
	ColEntryOrderID        Column = "entry_order_id"
	ColEntryTimestamp      Column = "entry_timestamp"
	ColSLOrderID           Column = "sl_order_id"
	ColSLTimestamp         Column = "sl_timestamp"
	ColExitPrice           Column = "exit_price"
	ColMarketOrderID       Column = "market_order_id"
	ColMarketExitTimestamp Column = "market_exit_timestamp"
	ColStatus              Column = "status"
	ColClosedFlag          Column = "closed_flag"
)

// Columns lists the ledger layout, date first.
var Columns = []Column{
	ColDate, ColSymbol, ColAction, ColEntryPrice, ColStopLossPrice,
	ColEntryOrderID, ColEntryTimestamp, ColSLOrderID, ColSLTimestamp,
	ColExitPrice, ColMarketOrderID, ColMarketExitTimestamp, ColStatus, ColClosedFlag,
}

// IsColumn reports whether c is part of the ledger layout.
func IsColumn(c Column) bool {
	for _, col := range Columns {
		if col == c {
			return true
		}
	}
	return false
}

// RowHandle addresses a single ledger row.
type RowHandle int64

// LedgerRow mirrors one position lifecycle. Cells are kept as text, the way
// the row store holds them; typed accessors parse on demand.
type LedgerRow struct {
	Handle              RowHandle
	Date                string
	Symbol              string
	Action              string
	EntryPrice          string
	StopLossPrice       string
	EntryOrderID        string
	EntryTimestamp      string
	SLOrderID           string
	SLTimestamp         string
	ExitPrice           string
	MarketOrderID       string
	MarketExitTimestamp string
	Status              LedgerStatus
	ClosedFlag          string
}

// Cells returns the row values in Columns order.
func (r LedgerRow) Cells() []string {
	return []string{
		r.Date, r.Symbol, r.Action, r.EntryPrice, r.StopLossPrice,
		r.EntryOrderID, r.EntryTimestamp, r.SLOrderID, r.SLTimestamp,
		r.ExitPrice, r.MarketOrderID, r.MarketExitTimestamp, string(r.Status), r.ClosedFlag,
	}
}

// RowFromCells builds a row from values in Columns order.
func RowFromCells(handle RowHandle, cells []string) (LedgerRow, error) {
	if len(cells) != len(Columns) {
		return LedgerRow{}, fmt.Errorf("ledger row %d has %d cells, want %d", handle, len(cells), len(Columns))
	}
	return LedgerRow{
		Handle:              handle,
		Date:                cells[0],
		Symbol:              cells[1],
		Action:              cells[2],
		EntryPrice:          cells[3],
		StopLossPrice:       cells[4],
		EntryOrderID:        cells[5],
		EntryTimestamp:      cells[6],
		SLOrderID:           cells[7],
		SLTimestamp:         cells[8],
		ExitPrice:           cells[9],
		MarketOrderID:       cells[10],
		MarketExitTimestamp: cells[11],
		Status:              LedgerStatus(cells[12]),
		ClosedFlag:          cells[13],
	}, nil
}

// IsClosed reports whether the closed flag is set.
func (r LedgerRow) IsClosed() bool {
	return r.ClosedFlag == ClosedYes
}

// StopLoss parses the recorded stoploss price. Blank or malformed cells read as zero.
func (r LedgerRow) StopLoss() float64 {
	return parsePrice(r.StopLossPrice)
}

// Entry parses the recorded entry price.
func (r LedgerRow) Entry() float64 {
	return parsePrice(r.EntryPrice)
}

// ParsedAction returns the row's action, if valid.
func (r LedgerRow) ParsedAction() (Action, bool) {
	return ParseAction(r.Action)
}

// EntryTimeOn resolves the HH:MM entry timestamp on the calendar day of ref.
func (r LedgerRow) EntryTimeOn(ref time.Time) (time.Time, error) {
	return ClockOn(r.EntryTimestamp, ref)
}

// ClockLayout is the layout of ledger timestamps.
const ClockLayout = "15:04"

// ClockOn parses an HH:MM value and places it on ref's date in ref's zone.
func ClockOn(hhmm string, ref time.Time) (time.Time, error) {
	hhmm = strings.TrimSpace(hhmm)
	if hhmm == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	t, err := time.Parse(ClockLayout, hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", hhmm, err)
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour(), t.Minute(), 0, 0, ref.Location()), nil
}

// FormatPrice renders a price the way it is written into the ledger.
func FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func parsePrice(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
