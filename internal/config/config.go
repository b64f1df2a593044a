// Package config provides configuration management for the alert trader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"alert-trader/pkg/utils"
)

// Config holds all application configuration.
type Config struct {
	Trading       TradingConfig      `mapstructure:"trading"`
	Monitor       MonitorConfig      `mapstructure:"monitor"`
	Session       SessionConfig      `mapstructure:"session"`
	Gateway       GatewayConfig      `mapstructure:"gateway"`
	Ledger        LedgerConfig       `mapstructure:"ledger"`
	Server        ServerConfig       `mapstructure:"server"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds order parameters shared by every placed order.
type TradingConfig struct {
	Mode     string `mapstructure:"mode"`     // "live", "paper"
	Exchange string `mapstructure:"exchange"` // NSE, BSE
	Product  string `mapstructure:"product"`  // MIS, CNC
	Quantity int    `mapstructure:"quantity"`
	Validity string `mapstructure:"validity"`
}

// MonitorConfig holds polling cadences and deadlines.
type MonitorConfig struct {
	PendingInterval   time.Duration `mapstructure:"pending_interval"`
	ActiveInterval    time.Duration `mapstructure:"active_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
}

// SessionConfig holds the trading-day session schedule, as HH:MM IST.
type SessionConfig struct {
	HeartbeatStart string `mapstructure:"heartbeat_start"`
	HeartbeatEnd   string `mapstructure:"heartbeat_end"`
	LoginAt        string `mapstructure:"login_at"`
	LogoutAt       string `mapstructure:"logout_at"`
	ResetBefore    string `mapstructure:"reset_before"`
	ProbeExchange  string `mapstructure:"probe_exchange"`
	ProbeToken     string `mapstructure:"probe_token"`
	TokenFile      string `mapstructure:"token_file"`
}

// GatewayConfig bounds outbound broker calls.
type GatewayConfig struct {
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// LedgerConfig locates the ledger database.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds the alert ingestion server settings.
type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	RecentWindow time.Duration `mapstructure:"recent_window"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	BotToken string   `mapstructure:"bot_token"`
	ChatIDs  []string `mapstructure:"chat_ids"`
}

// LoggingConfig holds log sink configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// Credentials holds API credentials.
type Credentials struct {
	Kite KiteCredentials `mapstructure:"kite"`
}

// KiteCredentials holds Kite Connect API credentials.
type KiteCredentials struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	UserID     string `mapstructure:"user_id"`
	Password   string `mapstructure:"password"`    // For auto-login
	TOTPSecret string `mapstructure:"totp_secret"` // For auto-login with 2FA
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/alert-trader"
	}
	return filepath.Join(home, ".config", "alert-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.resolvePaths(configDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in defaults, rooted at configDir.
func Default(configDir string) *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	cfg.resolvePaths(configDir)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.exchange", "NSE")
	v.SetDefault("trading.product", "MIS")
	v.SetDefault("trading.quantity", 1)
	v.SetDefault("trading.validity", "DAY")

	v.SetDefault("monitor.pending_interval", "30s")
	v.SetDefault("monitor.active_interval", "10s")
	v.SetDefault("monitor.heartbeat_interval", "90s")
	v.SetDefault("monitor.stale_after", "1h")
	v.SetDefault("monitor.retry_delay", "2s")

	v.SetDefault("session.heartbeat_start", "10:00")
	v.SetDefault("session.heartbeat_end", "15:15")
	v.SetDefault("session.login_at", "10:15")
	v.SetDefault("session.logout_at", "15:30")
	v.SetDefault("session.reset_before", "10:00")
	v.SetDefault("session.probe_exchange", "NSE")
	v.SetDefault("session.probe_token", "256265")
	v.SetDefault("session.token_file", "session.json")

	v.SetDefault("gateway.call_timeout", "10s")
	v.SetDefault("gateway.rate_per_second", 5.0)
	v.SetDefault("gateway.burst", 5)

	v.SetDefault("ledger.path", "ledger.db")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.recent_window", "10m")

	v.SetDefault("notifications.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join("logs", "trader.log"))
	v.SetDefault("logging.max_size", 50)
	v.SetDefault("logging.max_backups", 10)
	v.SetDefault("logging.max_age", 30)
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_API_SECRET"); v != "" {
		cfg.Credentials.Kite.APISecret = v
	}
	if v := os.Getenv("KITE_USER_ID"); v != "" {
		cfg.Credentials.Kite.UserID = v
	}
	if v := os.Getenv("KITE_PASSWORD"); v != "" {
		cfg.Credentials.Kite.Password = v
	}
	if v := os.Getenv("KITE_TOTP_SECRET"); v != "" {
		cfg.Credentials.Kite.TOTPSecret = v
	}

	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
}

// resolvePaths anchors relative file paths at the config directory.
func (c *Config) resolvePaths(configDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(configDir, p)
	}
	c.Ledger.Path = abs(c.Ledger.Path)
	c.Session.TokenFile = abs(c.Session.TokenFile)
	c.Logging.FilePath = abs(c.Logging.FilePath)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'paper')", c.Trading.Mode)
	}
	if c.Trading.Quantity < 1 {
		return fmt.Errorf("trading.quantity must be at least 1")
	}

	intervals := map[string]time.Duration{
		"monitor.pending_interval":   c.Monitor.PendingInterval,
		"monitor.active_interval":    c.Monitor.ActiveInterval,
		"monitor.heartbeat_interval": c.Monitor.HeartbeatInterval,
		"monitor.stale_after":        c.Monitor.StaleAfter,
		"gateway.call_timeout":       c.Gateway.CallTimeout,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Monitor.RetryDelay < 0 {
		return fmt.Errorf("monitor.retry_delay must not be negative")
	}
	if c.Gateway.RatePerSecond <= 0 || c.Gateway.Burst < 1 {
		return fmt.Errorf("gateway.rate_per_second and gateway.burst must be positive")
	}

	if _, err := c.Session.HeartbeatWindow(); err != nil {
		return err
	}
	for _, s := range []string{c.Session.LoginAt, c.Session.LogoutAt, c.Session.ResetBefore} {
		if _, err := utils.ParseClock(s); err != nil {
			return fmt.Errorf("session: %w", err)
		}
	}

	if c.Notifications.Telegram.Enabled {
		if c.Notifications.Telegram.BotToken == "" || len(c.Notifications.Telegram.ChatIDs) == 0 {
			return fmt.Errorf("telegram notifications need bot_token and chat_ids")
		}
	}
	if c.Notifications.Webhook.Enabled && !strings.HasPrefix(c.Notifications.Webhook.URL, "http") {
		return fmt.Errorf("webhook notifications need an http(s) url")
	}

	if c.IsLiveMode() && c.Credentials.Kite.APIKey == "" {
		return fmt.Errorf("live mode requires kite api_key")
	}

	return nil
}

// HeartbeatWindow returns the span during which the session is probed.
func (s SessionConfig) HeartbeatWindow() (utils.Window, error) {
	start, err := utils.ParseClock(s.HeartbeatStart)
	if err != nil {
		return utils.Window{}, fmt.Errorf("session.heartbeat_start: %w", err)
	}
	end, err := utils.ParseClock(s.HeartbeatEnd)
	if err != nil {
		return utils.Window{}, fmt.Errorf("session.heartbeat_end: %w", err)
	}
	if end <= start {
		return utils.Window{}, fmt.Errorf("session heartbeat window %s-%s is empty", start, end)
	}
	return utils.Window{Start: start, End: end}, nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}

// IsLiveMode returns true if orders go to the real broker.
func (c *Config) IsLiveMode() bool {
	return c.Trading.Mode == "live"
}
