// Package models provides domain models for the alert trader.
package models

import (
	"strings"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// Action is the direction carried by an incoming alert.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// ParseAction converts free-form alert text into an Action.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionBuy:
		return ActionBuy, true
	case ActionSell:
		return ActionSell, true
	}
	return "", false
}

// Reverse returns the opposite action, used for stop-loss and exit orders.
func (a Action) Reverse() Action {
	if a == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

// Side maps the action onto the broker transaction type.
func (a Action) Side() OrderSide {
	if a == ActionBuy {
		return OrderSideBuy
	}
	return OrderSideSell
}

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeStopLoss OrderType = "SL" // stop-limit
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS ProductType = "MIS" // Intraday
	ProductCNC ProductType = "CNC" // Delivery
)

// OrderStatus is the status string reported by the order book.
type OrderStatus string

const (
	OrderStatusOpen           OrderStatus = "OPEN"
	OrderStatusTriggerPending OrderStatus = "TRIGGER PENDING"
	OrderStatusComplete       OrderStatus = "COMPLETE"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRejected       OrderStatus = "REJECTED"
)

// IsWorking reports whether the order is still resting at the exchange.
func (s OrderStatus) IsWorking() bool {
	return s == OrderStatusOpen || s == OrderStatusTriggerPending
}

// IsDead reports whether the order ended without a fill.
func (s OrderStatus) IsDead() bool {
	return s == OrderStatusCancelled || s == OrderStatusRejected
}
