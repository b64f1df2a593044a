package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"alert-trader/internal/broker"
	"alert-trader/internal/config"
	"alert-trader/internal/ledger"
	"alert-trader/internal/metrics"
	"alert-trader/internal/models"
	"alert-trader/internal/notify"
	"alert-trader/internal/store"
)

// App holds the application dependencies shared by every command.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// openStore opens the ledger database.
func (a *App) openStore() (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(a.Config.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return s, nil
}

// openLedger opens the ledger database and wraps it in a Ledger.
func (a *App) openLedger() (*ledger.Ledger, *store.SQLiteStore, error) {
	s, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	return ledger.New(s, ledger.WithLogger(a.Logger)), s, nil
}

// kiteGateway builds the Kite gateway, or nil when no API key is configured.
func (a *App) kiteGateway() *broker.KiteGateway {
	creds := a.Config.Credentials.Kite
	if creds.APIKey == "" {
		return nil
	}
	return broker.NewKiteGateway(broker.KiteConfig{
		APIKey:     creds.APIKey,
		APISecret:  creds.APISecret,
		UserID:     creds.UserID,
		Password:   creds.Password,
		TOTPSecret: creds.TOTPSecret,
		TokenPath:  a.Config.Session.TokenFile,
		Timeout:    a.Config.Gateway.CallTimeout,
	}, a.Logger)
}

// gateway selects the order gateway for the configured mode. Paper mode
// prices fills from Kite quotes when credentials are present.
func (a *App) gateway(ctx context.Context) (broker.Gateway, error) {
	kite := a.kiteGateway()

	if a.Config.IsPaperMode() {
		cfg := broker.PaperConfig{}
		if kite != nil {
			if err := kite.Login(ctx); err != nil {
				a.Logger.Warn().Err(err).Msg("Kite login failed, paper fills use injected prices only")
			} else {
				cfg.Prices = kite
			}
		}
		a.Logger.Info().Msg("Paper trading mode")
		return broker.NewPaperGateway(cfg), nil
	}

	if kite == nil {
		return nil, errors.New("live mode requires kite credentials")
	}
	a.Logger.Warn().Msg("LIVE trading mode")
	return kite, nil
}

// session wraps gw in a re-authenticating session configured from Config.
func (a *App) session(gw broker.Gateway, n notify.Notifier, m *metrics.Metrics) (*broker.Session, error) {
	window, err := a.Config.Session.HeartbeatWindow()
	if err != nil {
		return nil, err
	}
	return broker.NewSession(gw, broker.SessionConfig{
		CallTimeout:     a.Config.Gateway.CallTimeout,
		RatePerSecond:   a.Config.Gateway.RatePerSecond,
		Burst:           a.Config.Gateway.Burst,
		HeartbeatWindow: window,
		ProbeExchange:   models.Exchange(a.Config.Session.ProbeExchange),
		ProbeInstrument: a.Config.Session.ProbeToken,
	}, broker.WithNotifier(n), broker.WithMetrics(m), broker.WithLogger(a.Logger)), nil
}
