package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Alert is a validated trade signal. Prices are already snapped to the tick.
type Alert struct {
	Symbol        string    `json:"symbol"`
	Action        Action    `json:"action"`
	EntryPrice    float64   `json:"entry_price"`
	StopLossPrice float64   `json:"stoploss_price"`
	Timestamp     int64     `json:"timestamp"`
	ReceivedAt    time.Time `json:"alert_time"`
}

// DeferredAlert is an alert whose entry could not be placed and was queued
// for manual reprocessing.
type DeferredAlert struct {
	ID       string    `json:"id"`
	Alert    Alert     `json:"alert"`
	Reason   string    `json:"reason"`
	QueuedAt time.Time `json:"queued_at"`
}

var tickScale = decimal.NewFromInt(10)

// RoundTick snaps a price to the nearest 0.1 and then to two decimals.
func RoundTick(p float64) float64 {
	d := decimal.NewFromFloat(p).Mul(tickScale).Round(0).Div(tickScale).Round(2)
	f, _ := d.Float64()
	return f
}
