package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "alert-trader/internal/errors"
	"alert-trader/internal/models"
)

// PaperGateway implements Gateway for paper trading simulation. Orders rest
// in memory and fill against prices pushed with SetPrice or pulled from an
// optional PriceSource when the book is read.
type PaperGateway struct {
	prices PriceSource
	now    func() time.Time

	orders     map[string]*paperOrder
	sequence   []string
	lastPrice  map[string]float64
	counter    int
	probePrice float64

	authenticated bool
	logins        int
	logouts       int

	// Injected failures, consumed in order.
	loginErrs []error
	placeErrs []error
	cancelErr map[string]error
	bookErr   error
	quoteErr  error

	mu sync.Mutex
}

type paperOrder struct {
	req  models.OrderRequest
	book models.BookOrder
}

// PaperConfig holds configuration for the paper gateway.
type PaperConfig struct {
	Prices PriceSource
	Now    func() time.Time
}

// NewPaperGateway creates a new paper trading gateway.
func NewPaperGateway(cfg PaperConfig) *PaperGateway {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &PaperGateway{
		prices:     cfg.Prices,
		now:        now,
		orders:     make(map[string]*paperOrder),
		lastPrice:  make(map[string]float64),
		cancelErr:  make(map[string]error),
		probePrice: 1,
	}
}

// Login marks the simulated session live.
func (p *PaperGateway) Login(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logins++
	if len(p.loginErrs) > 0 {
		err := p.loginErrs[0]
		p.loginErrs = p.loginErrs[1:]
		return err
	}
	p.authenticated = true
	return nil
}

// Logout ends the simulated session.
func (p *PaperGateway) Logout(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts++
	p.authenticated = false
	return nil
}

// IsAuthenticated reports whether the simulated session is live.
func (p *PaperGateway) IsAuthenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticated
}

// PlaceOrder simulates order placement. Market orders fill immediately at
// the last known price; limit and stop-limit orders rest until crossed.
func (p *PaperGateway) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderAck, error) {
	price := p.fetchPrice(ctx, req.Exchange, req.Symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.authenticated {
		return models.OrderAck{}, apperrors.ErrNotAuthenticated
	}
	if len(p.placeErrs) > 0 {
		err := p.placeErrs[0]
		p.placeErrs = p.placeErrs[1:]
		return models.OrderAck{OK: false, Message: err.Error()}, err
	}

	p.counter++
	orderID := fmt.Sprintf("PAPER%06d", p.counter)

	o := &paperOrder{
		req: req,
		book: models.BookOrder{
			OrderID: orderID,
			Symbol:  req.Symbol,
			Side:    req.Side,
			Status:  models.OrderStatusOpen,
		},
	}
	if req.Type == models.OrderTypeStopLoss {
		o.book.Status = models.OrderStatusTriggerPending
	}
	p.orders[orderID] = o
	p.sequence = append(p.sequence, orderID)

	if price > 0 {
		p.lastPrice[req.Symbol] = price
	}
	p.match(o)

	return models.OrderAck{OrderID: orderID, OK: true, Message: "Paper order placed"}, nil
}

// CancelOrder simulates order cancellation.
func (p *PaperGateway) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.authenticated {
		return apperrors.ErrNotAuthenticated
	}
	if err, ok := p.cancelErr[orderID]; ok {
		delete(p.cancelErr, orderID)
		return err
	}

	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	if !o.book.Status.IsWorking() {
		return fmt.Errorf("cannot cancel order with status: %s", o.book.Status)
	}
	o.book.Status = models.OrderStatusCancelled
	return nil
}

// OrderBook returns all paper orders in placement order, after matching
// working orders against fresh prices.
func (p *PaperGateway) OrderBook(ctx context.Context) ([]models.BookOrder, error) {
	p.refreshPrices(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.authenticated {
		return nil, apperrors.ErrNotAuthenticated
	}
	if p.bookErr != nil {
		return nil, p.bookErr
	}

	book := make([]models.BookOrder, 0, len(p.sequence))
	for _, id := range p.sequence {
		o := p.orders[id]
		p.match(o)
		book = append(book, o.book)
	}
	return book, nil
}

// Quote returns the last known price of an instrument, or a fixed positive
// price so the simulated session always looks live.
func (p *PaperGateway) Quote(ctx context.Context, exchange models.Exchange, instrument string) (models.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.authenticated {
		return models.Quote{}, apperrors.ErrNotAuthenticated
	}
	if p.quoteErr != nil {
		return models.Quote{}, p.quoteErr
	}
	if price, ok := p.lastPrice[instrument]; ok {
		return models.Quote{Instrument: instrument, LastPrice: price}, nil
	}
	return models.Quote{Instrument: instrument, LastPrice: p.probePrice}, nil
}

// SetPrice records a traded price and matches resting orders against it.
func (p *PaperGateway) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastPrice[symbol] = price
	for _, id := range p.sequence {
		if o := p.orders[id]; o.req.Symbol == symbol {
			p.match(o)
		}
	}
}

// Fill forces an order to COMPLETE at the given price.
func (p *PaperGateway) Fill(orderID string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.orders[orderID]; ok {
		p.complete(o, price)
	}
}

// SetStatus forces an order into the given status.
func (p *PaperGateway) SetStatus(orderID string, status models.OrderStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.orders[orderID]; ok {
		o.book.Status = status
	}
}

// Order returns the request and book entry of an order.
func (p *PaperGateway) Order(orderID string) (models.OrderRequest, models.BookOrder, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return models.OrderRequest{}, models.BookOrder{}, false
	}
	return o.req, o.book, true
}

// Placed returns every accepted order request in placement order.
func (p *PaperGateway) Placed() []models.OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.OrderRequest, 0, len(p.sequence))
	for _, id := range p.sequence {
		out = append(out, p.orders[id].req)
	}
	return out
}

// SessionCounts returns how many times Login and Logout were called.
func (p *PaperGateway) SessionCounts() (logins, logouts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logins, p.logouts
}

// ExpireSession drops the session as if the gateway had invalidated it.
func (p *PaperGateway) ExpireSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authenticated = false
}

// FailLogin makes the next Login calls fail with errs, in order.
func (p *PaperGateway) FailLogin(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loginErrs = append(p.loginErrs, errs...)
}

// FailPlace makes the next PlaceOrder calls fail with errs, in order.
func (p *PaperGateway) FailPlace(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placeErrs = append(p.placeErrs, errs...)
}

// FailCancel makes the next cancel of orderID fail with err.
func (p *PaperGateway) FailCancel(orderID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelErr[orderID] = err
}

// FailBook makes OrderBook fail with err until cleared with nil.
func (p *PaperGateway) FailBook(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bookErr = err
}

// SetQuote sets the probe price and error returned by Quote.
func (p *PaperGateway) SetQuote(lastPrice float64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probePrice = lastPrice
	p.quoteErr = err
}

// match fills o if the last price crosses its limit or trigger.
// Caller must hold p.mu.
func (p *PaperGateway) match(o *paperOrder) {
	if !o.book.Status.IsWorking() {
		return
	}
	ltp, ok := p.lastPrice[o.req.Symbol]
	if !ok || ltp <= 0 {
		return
	}

	buy := o.req.Side == models.OrderSideBuy
	switch o.req.Type {
	case models.OrderTypeMarket:
		p.complete(o, ltp)
	case models.OrderTypeLimit:
		if (buy && ltp <= o.req.Price) || (!buy && ltp >= o.req.Price) {
			p.complete(o, o.req.Price)
		}
	case models.OrderTypeStopLoss:
		if (buy && ltp >= o.req.TriggerPrice) || (!buy && ltp <= o.req.TriggerPrice) {
			p.complete(o, o.req.Price)
		}
	}
}

func (p *PaperGateway) complete(o *paperOrder, price float64) {
	o.book.Status = models.OrderStatusComplete
	o.book.AvgFillPrice = price
	o.book.ExchangeTime = p.now()
}

func (p *PaperGateway) fetchPrice(ctx context.Context, exchange models.Exchange, symbol string) float64 {
	if p.prices == nil {
		return 0
	}
	price, err := p.prices.LastPrice(ctx, exchange, symbol)
	if err != nil {
		return 0
	}
	return price
}

func (p *PaperGateway) refreshPrices(ctx context.Context) {
	if p.prices == nil {
		return
	}

	p.mu.Lock()
	working := make(map[string]models.Exchange)
	for _, o := range p.orders {
		if o.book.Status.IsWorking() {
			working[o.req.Symbol] = o.req.Exchange
		}
	}
	p.mu.Unlock()

	for symbol, exchange := range working {
		if price := p.fetchPrice(ctx, exchange, symbol); price > 0 {
			p.mu.Lock()
			p.lastPrice[symbol] = price
			p.mu.Unlock()
		}
	}
}
