package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "alert-trader/internal/errors"
	"alert-trader/internal/models"
	"alert-trader/internal/security"
	"alert-trader/internal/symbols"
	"alert-trader/pkg/utils"
)

// KiteGateway implements Gateway against Zerodha Kite Connect.
type KiteGateway struct {
	client        *kiteconnect.Client
	cfg           KiteConfig
	web           *webLogin
	authenticated bool
	logger        zerolog.Logger
	mu            sync.RWMutex
}

// KiteConfig holds configuration for the Kite gateway.
type KiteConfig struct {
	APIKey     string
	APISecret  string
	UserID     string
	Password   string
	TOTPSecret string
	TokenPath  string
	Timeout    time.Duration

	// Overrides for tests.
	APIBaseURL   string
	LoginBaseURL string
	ConnectURL   string
}

// NewKiteGateway creates a new Kite gateway. A persisted session that has
// not expired is picked up on the first Login.
func NewKiteGateway(cfg KiteConfig, logger zerolog.Logger) *KiteGateway {
	client := kiteconnect.New(cfg.APIKey)
	if cfg.Timeout > 0 {
		client.SetHTTPClient(&http.Client{Timeout: cfg.Timeout})
	}
	if cfg.APIBaseURL != "" {
		client.SetBaseURI(cfg.APIBaseURL)
	}

	if cfg.TokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		cfg.TokenPath = filepath.Join(homeDir, ".config", "alert-trader", "session.json")
	}
	connectURL := cfg.ConnectURL
	if connectURL == "" {
		connectURL = client.GetLoginURL()
	}

	return &KiteGateway{
		client: client,
		cfg:    cfg,
		web:    newWebLogin(cfg, connectURL),
		logger: logger.With().Str("component", "kite").Logger(),
	}
}

// sessionData represents persisted session data.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login restores the persisted session or runs the web login with TOTP.
func (k *KiteGateway) Login(ctx context.Context) error {
	if err := k.loadSession(); err == nil {
		k.logger.Info().Msg("Restored persisted session")
		return nil
	}

	requestToken, err := k.web.requestToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain request token: %w", err)
	}

	session, err := k.client.GenerateSession(requestToken, k.cfg.APISecret)
	if err != nil {
		return fmt.Errorf("failed to generate session: %w", classify(err))
	}

	k.mu.Lock()
	k.authenticated = true
	k.client.SetAccessToken(session.AccessToken)
	k.mu.Unlock()

	if err := k.saveSession(session.AccessToken); err != nil {
		k.logger.Warn().Err(err).Msg("Failed to persist session")
	}
	return nil
}

// Logout invalidates the session and clears the persisted token.
func (k *KiteGateway) Logout(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.authenticated {
		if _, err := k.client.InvalidateAccessToken(); err != nil {
			k.logger.Warn().Err(err).Msg("Failed to invalidate token")
		}
	}
	k.authenticated = false
	k.client.SetAccessToken("")

	if err := os.Remove(k.cfg.TokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// IsAuthenticated returns whether the gateway holds an access token.
func (k *KiteGateway) IsAuthenticated() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.authenticated
}

// PlaceOrder places a regular order.
func (k *KiteGateway) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderAck, error) {
	if err := k.requireAuth(); err != nil {
		return models.OrderAck{}, err
	}

	params := kiteconnect.OrderParams{
		Exchange:        string(req.Exchange),
		Tradingsymbol:   symbols.FromAPISymbol(req.Symbol),
		TransactionType: string(req.Side),
		OrderType:       string(req.Type),
		Product:         string(req.Product),
		Quantity:        req.Quantity,
		Validity:        req.Validity,
		Tag:             orderTag(req.Remarks),
	}
	if req.Type != models.OrderTypeMarket {
		params.Price = req.Price
	}
	if req.Type == models.OrderTypeStopLoss {
		params.TriggerPrice = req.TriggerPrice
	}

	resp, err := k.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		err = k.classify(err)
		return models.OrderAck{OK: false, Message: err.Error()}, err
	}
	if resp.OrderID == "" {
		return models.OrderAck{OK: false, Message: "empty order id"}, apperrors.ErrOrderRejected
	}
	return models.OrderAck{OrderID: resp.OrderID, OK: true}, nil
}

// CancelOrder cancels a regular order.
func (k *KiteGateway) CancelOrder(ctx context.Context, orderID string) error {
	if err := k.requireAuth(); err != nil {
		return err
	}
	if _, err := k.client.CancelOrder(kiteconnect.VarietyRegular, orderID, nil); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, k.classify(err))
	}
	return nil
}

// OrderBook returns all orders for the day.
func (k *KiteGateway) OrderBook(ctx context.Context) ([]models.BookOrder, error) {
	if err := k.requireAuth(); err != nil {
		return nil, err
	}

	orders, err := k.client.GetOrders()
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", k.classify(err))
	}

	book := make([]models.BookOrder, 0, len(orders))
	for _, o := range orders {
		book = append(book, models.BookOrder{
			OrderID:      o.OrderID,
			Symbol:       o.TradingSymbol,
			Side:         models.OrderSide(o.TransactionType),
			Status:       models.OrderStatus(o.Status),
			AvgFillPrice: o.AveragePrice,
			ExchangeTime: exchangeTime(o.ExchangeTimestamp.Time),
		})
	}
	return book, nil
}

// exchangeTime reads Kite's offset-less exchange timestamp as IST wall
// clock. The SDK tags it UTC.
func exchangeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), utils.IndiaLocation)
}

// Quote returns the last traded price of an instrument. Numeric instruments
// are treated as instrument tokens.
func (k *KiteGateway) Quote(ctx context.Context, exchange models.Exchange, instrument string) (models.Quote, error) {
	if err := k.requireAuth(); err != nil {
		return models.Quote{}, err
	}

	key := instrument
	if _, err := strconv.Atoi(instrument); err != nil {
		key = fmt.Sprintf("%s:%s", exchange, instrument)
	}

	ltp, err := k.client.GetLTP(key)
	if err != nil {
		return models.Quote{}, fmt.Errorf("failed to get quote: %w", k.classify(err))
	}
	q, ok := ltp[key]
	if !ok {
		return models.Quote{Instrument: key}, nil
	}
	return models.Quote{Instrument: key, LastPrice: q.LastPrice}, nil
}

// LastPrice implements PriceSource.
func (k *KiteGateway) LastPrice(ctx context.Context, exchange models.Exchange, symbol string) (float64, error) {
	q, err := k.Quote(ctx, exchange, symbols.FromAPISymbol(symbol))
	if err != nil {
		return 0, err
	}
	return q.LastPrice, nil
}

// LoginURL returns the Kite Connect login URL for manual logins.
func (k *KiteGateway) LoginURL() string {
	return k.client.GetLoginURL()
}

func (k *KiteGateway) requireAuth() error {
	if !k.IsAuthenticated() {
		return apperrors.ErrNotAuthenticated
	}
	return nil
}

// classify maps API errors onto sentinels and drops the session on token
// errors.
func (k *KiteGateway) classify(err error) error {
	err = classify(err)
	if apperrors.Is(err, apperrors.ErrSessionExpired) {
		k.mu.Lock()
		k.authenticated = false
		k.mu.Unlock()
	}
	return err
}

func classify(err error) error {
	var kerr kiteconnect.Error
	if !apperrors.As(err, &kerr) {
		return err
	}
	switch kerr.ErrorType {
	case kiteconnect.TokenError:
		return apperrors.NewBrokerError(kerr.ErrorType, kerr.Message, apperrors.ErrSessionExpired)
	case kiteconnect.OrderError, kiteconnect.InputError:
		return apperrors.NewBrokerError(kerr.ErrorType, kerr.Message, apperrors.ErrOrderRejected)
	case kiteconnect.UserError, kiteconnect.TwoFAError:
		return apperrors.NewBrokerError(kerr.ErrorType, kerr.Message, apperrors.ErrInvalidCredentials)
	}
	if kerr.Code == http.StatusTooManyRequests {
		return apperrors.NewBrokerError(kerr.ErrorType, kerr.Message, apperrors.ErrRateLimited)
	}
	return apperrors.NewBrokerError(kerr.ErrorType, kerr.Message, err)
}

var tagPattern = regexp.MustCompile(`[^A-Za-z0-9]`)

// orderTag squeezes free-form remarks into a Kite order tag.
func orderTag(remarks string) string {
	tag := tagPattern.ReplaceAllString(remarks, "")
	if len(tag) > 20 {
		tag = tag[:20]
	}
	return tag
}

func (k *KiteGateway) loadSession() error {
	sealed, err := os.ReadFile(k.cfg.TokenPath)
	if err != nil {
		return err
	}

	data, err := security.Open(sealed, k.cfg.APISecret)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	// Kite tokens expire at 6 AM IST next day
	if time.Now().After(session.ExpiresAt) {
		return apperrors.ErrSessionExpired
	}

	k.mu.Lock()
	k.authenticated = true
	k.client.SetAccessToken(session.AccessToken)
	k.mu.Unlock()
	return nil
}

func (k *KiteGateway) saveSession(accessToken string) error {
	if err := os.MkdirAll(filepath.Dir(k.cfg.TokenPath), 0700); err != nil {
		return err
	}

	now := utils.NowIST()
	session := sessionData{
		AccessToken: accessToken,
		UserID:      k.cfg.UserID,
		ExpiresAt:   time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, utils.IndiaLocation),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	sealed, err := security.Seal(data, k.cfg.APISecret)
	if err != nil {
		return err
	}
	return os.WriteFile(k.cfg.TokenPath, sealed, 0600)
}
