// Package broker provides the order gateway abstraction, its Kite Connect
// and paper implementations, and the shared authenticated session.
package broker

import (
	"context"

	"alert-trader/internal/models"
)

// Gateway is the external order gateway.
type Gateway interface {
	// Authentication
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	IsAuthenticated() bool

	// Orders
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderBook(ctx context.Context) ([]models.BookOrder, error)

	// Quote is used only to probe the session.
	Quote(ctx context.Context, exchange models.Exchange, instrument string) (models.Quote, error)
}

// PriceSource supplies last traded prices for paper fills.
type PriceSource interface {
	LastPrice(ctx context.Context, exchange models.Exchange, symbol string) (float64, error)
}
