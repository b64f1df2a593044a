package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"alert-trader/internal/security"
)

func newLoginCmd(app *App) *cobra.Command {
	var showURL bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to Kite Connect and persist the session",
		Long: `Log in to Kite Connect with the configured user id, password and TOTP
secret. The access token is sealed with the API secret and written to the
session file, so a later 'trader run' on the same day reuses it.`,
		Example: `  trader login
  trader login --url   # print the browser login URL instead`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			kite := app.kiteGateway()
			if kite == nil {
				output.Error("Kite credentials not configured. Please check your credentials.toml")
				return errors.New("kite credentials not configured")
			}

			if showURL {
				if output.IsJSON() {
					return output.JSON(map[string]string{"login_url": kite.LoginURL()})
				}
				output.Bold("Login URL:")
				output.Println(kite.LoginURL())
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			if err := kite.Login(ctx); err != nil {
				output.Error("Login failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"logged_in": true,
					"user_id":   app.Config.Credentials.Kite.UserID,
				})
			}
			output.Success("✓ Logged in as %s", security.Mask(app.Config.Credentials.Kite.UserID))
			output.Dim("Session file: %s", app.Config.Session.TokenFile)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showURL, "url", false, "print the Kite login URL and exit")
	return cmd
}
