package models

import "time"

// OrderRequest is what the core submits to the order gateway.
type OrderRequest struct {
	Symbol       string // API-ready trading symbol, see symbols.ToAPISymbol
	Exchange     Exchange
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int
	Price        float64
	TriggerPrice float64
	Validity     string // DAY, IOC
	Remarks      string
}

// OrderAck is the gateway acknowledgment for a placed order.
type OrderAck struct {
	OrderID string
	OK      bool
	Message string
}

// BookOrder is a single entry of the gateway order book.
type BookOrder struct {
	OrderID      string
	Symbol       string
	Side         OrderSide
	Status       OrderStatus
	AvgFillPrice float64
	ExchangeTime time.Time
}

// Quote is the subset of a market quote used for liveness probing.
type Quote struct {
	Instrument string
	LastPrice  float64
}

// FindOrder returns the book entry with the given order id.
func FindOrder(book []BookOrder, orderID string) (BookOrder, bool) {
	for _, o := range book {
		if o.OrderID == orderID {
			return o, true
		}
	}
	return BookOrder{}, false
}
