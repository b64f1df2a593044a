// Package trading drives the order lifecycle: entry placement, stop-loss
// protection, stale-entry cancellation and scheduled exits.
package trading

import (
	"context"

	"alert-trader/internal/config"
	"alert-trader/internal/models"
)

// OrderSession is the authenticated gateway session the lifecycle runs on.
type OrderSession interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderBook(ctx context.Context) ([]models.BookOrder, error)
	Relogin(ctx context.Context) error
}

// OrderDefaults are the order fields shared by every submitted order.
type OrderDefaults struct {
	Exchange models.Exchange
	Product  models.ProductType
	Quantity int
	Validity string
}

// DefaultsFromConfig builds order defaults from the trading section.
func DefaultsFromConfig(cfg config.TradingConfig) OrderDefaults {
	d := OrderDefaults{
		Exchange: models.Exchange(cfg.Exchange),
		Product:  models.ProductType(cfg.Product),
		Quantity: cfg.Quantity,
		Validity: cfg.Validity,
	}
	if d.Exchange == "" {
		d.Exchange = models.NSE
	}
	if d.Product == "" {
		d.Product = models.ProductMIS
	}
	if d.Quantity <= 0 {
		d.Quantity = 1
	}
	if d.Validity == "" {
		d.Validity = "DAY"
	}
	return d
}

func (d OrderDefaults) request(symbol string, side models.OrderSide, typ models.OrderType, price float64, remarks string) models.OrderRequest {
	req := models.OrderRequest{
		Symbol:   symbol,
		Exchange: d.Exchange,
		Side:     side,
		Type:     typ,
		Product:  d.Product,
		Quantity: d.Quantity,
		Validity: d.Validity,
		Remarks:  remarks,
	}
	if typ == models.OrderTypeStopLoss {
		req.Price = price
		req.TriggerPrice = price
	}
	return req
}
