package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"alert-trader/internal/health"
	"alert-trader/internal/ledger"
	"alert-trader/internal/metrics"
	"alert-trader/internal/notify"
	"alert-trader/internal/server"
	"alert-trader/internal/trading"
)

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the order supervisor and the alert webhook server",
		Long: `Run recovers open positions from the ledger, logs in to the broker and
then supervises every entry until it is cancelled or exited. Alerts are
accepted on the webhook server when it is enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := app.Config
			logger := app.Logger

			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			m := metrics.New()
			notifier := notify.NewMultiNotifier(cfg.Notifications, logger)
			defer notifier.Wait()

			gw, err := app.gateway(ctx)
			if err != nil {
				return err
			}
			session, err := app.session(gw, notifier, m)
			if err != nil {
				return err
			}

			sup, err := trading.NewSupervisor(cfg, trading.Deps{
				Session:  session,
				Ledger:   ledger.New(st, ledger.WithLogger(logger)),
				Queue:    st,
				Notifier: notifier,
				Metrics:  m,
				Logger:   logger,
			})
			if err != nil {
				return fmt.Errorf("failed to build supervisor: %w", err)
			}

			if err := session.Login(ctx); err != nil {
				logger.Warn().Err(err).Msg("Startup login failed, the scheduler and heartbeat will retry")
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return sup.Run(gctx) })

			if cfg.Server.Enabled {
				mon := health.NewMonitor(5 * time.Second)
				mon.Register("ledger", health.DatabaseCheck(st.Ping, 100*time.Millisecond))
				mon.Register("session", health.SessionCheck(sup.LoggedIn))

				srv, err := server.New(server.Config{
					Addr:         cfg.Server.Addr,
					RecentWindow: cfg.Server.RecentWindow,
					Health:       mon,
				}, sup, st, notifier, m, logger)
				if err != nil {
					stop()
					_ = g.Wait()
					return fmt.Errorf("failed to build server: %w", err)
				}
				g.Go(func() error { return srv.Start(gctx) })
			}

			NewOutput(cmd).Success("Supervisor running (mode: %s). Press Ctrl+C to stop.", cfg.Trading.Mode)
			err = g.Wait()
			logger.Info().Msg("Supervisor stopped")
			return err
		},
	}
}
