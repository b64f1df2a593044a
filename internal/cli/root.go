// Package cli provides the command-line interface for the alert trader.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"alert-trader/internal/config"
	"alert-trader/internal/logging"
	"alert-trader/internal/security"
)

// Version information
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Alert trader - turns chart alerts into protected intraday orders",
		Long: `Alert trader receives buy/sell alerts, places entry orders on Zerodha
Kite, protects every fill with a stop-loss, cancels entries that stay
unfilled for an hour and exits open positions at fixed intraday checkpoints.

State is kept in a local SQLite ledger, so a restart picks up where the
previous run stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if cmd.Annotations[skipConfig] == "true" {
				if debug {
					logging.SetDebugLevel()
				}
				return nil
			}

			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.ConfigDir = dir
			app.Config = cfg
			app.Logger = logging.NewLoggerWithConfig(logging.LogConfig{
				Level:      cfg.Logging.Level,
				Console:    cfg.Logging.Console,
				File:       cfg.Logging.File,
				FilePath:   cfg.Logging.FilePath,
				MaxSize:    cfg.Logging.MaxSize,
				MaxBackups: cfg.Logging.MaxBackups,
				MaxAge:     cfg.Logging.MaxAge,
			})
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/alert-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newLoginCmd(app))
	rootCmd.AddCommand(newLedgerCmd(app))
	rootCmd.AddCommand(newQueueCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Alert Trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg with secrets masked.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	k := &c.Credentials.Kite
	k.APISecret = security.Mask(k.APISecret)
	k.Password = security.Mask(k.Password)
	k.TOTPSecret = security.Mask(k.TOTPSecret)
	c.Notifications.Telegram.BotToken = security.Mask(c.Notifications.Telegram.BotToken)
	return c
}

func showConfig(output *Output, app *App) {
	cfg := app.Config

	output.Bold("Trading")
	output.Printf("  Mode:             %s\n", cfg.Trading.Mode)
	output.Printf("  Exchange/Product: %s / %s\n", cfg.Trading.Exchange, cfg.Trading.Product)
	output.Printf("  Quantity:         %d (%s)\n", cfg.Trading.Quantity, cfg.Trading.Validity)
	output.Println()

	output.Bold("Monitors")
	output.Printf("  Pending every:    %s (stale after %s)\n", cfg.Monitor.PendingInterval, cfg.Monitor.StaleAfter)
	output.Printf("  Active every:     %s\n", cfg.Monitor.ActiveInterval)
	output.Printf("  Heartbeat every:  %s\n", cfg.Monitor.HeartbeatInterval)
	output.Println()

	output.Bold("Session")
	output.Printf("  Heartbeat window: %s-%s\n", cfg.Session.HeartbeatStart, cfg.Session.HeartbeatEnd)
	output.Printf("  Login/Logout:     %s / %s\n", cfg.Session.LoginAt, cfg.Session.LogoutAt)
	output.Printf("  Kite API key:     %s\n", output.Bool(cfg.Credentials.Kite.APIKey != ""))
	output.Println()

	output.Bold("Storage & Server")
	output.Printf("  Config dir:       %s\n", app.ConfigDir)
	output.Printf("  Ledger:           %s\n", cfg.Ledger.Path)
	output.Printf("  Webhook server:   %s (%s)\n", output.Bool(cfg.Server.Enabled), cfg.Server.Addr)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:          %s\n", output.Bool(cfg.Notifications.Enabled))
	output.Printf("  Webhook:          %s\n", output.Bool(cfg.Notifications.Webhook.Enabled))
	output.Printf("  Telegram:         %s\n", output.Bool(cfg.Notifications.Telegram.Enabled))
}
