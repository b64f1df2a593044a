package models

import (
	"fmt"
	"time"
)

// PendingEntry is an accepted entry order that has not filled yet.
type PendingEntry struct {
	PositionID    string
	Symbol        string
	Action        Action
	EntryPrice    float64
	StopLossPrice float64
	EntryOrderID  string
	AlertTime     time.Time
}

// Position is an active position. It only exists once the entry has filled
// and a stop-loss order is working, so SLOrderID is never empty.
type Position struct {
	PositionID    string
	Symbol        string
	Action        Action
	EntryPrice    float64
	StopLossPrice float64
	EntryOrderID  string
	SLOrderID     string
	EntryTime     time.Time
	ExitTime      time.Time
}

// PositionID builds the composite key symbol_action_orderid.
func PositionID(symbol string, action Action, entryOrderID string) string {
	return fmt.Sprintf("%s_%s_%s", symbol, action, entryOrderID)
}
