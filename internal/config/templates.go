package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Alert Trader Configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
exchange = "NSE"
# Product type: MIS (intraday), CNC
product = "MIS"
quantity = 1
validity = "DAY"

[monitor]
# Pending entries are checked for staleness and fills
pending_interval = "30s"
# Active positions are checked against their exit checkpoint
active_interval = "10s"
heartbeat_interval = "90s"
# Unfilled entries are cancelled this long after entry
stale_after = "1h"
# Pause between a failed entry attempt and the retry
retry_delay = "2s"

[session]
# All times are HH:MM, Asia/Kolkata
heartbeat_start = "10:00"
heartbeat_end = "15:15"
login_at = "10:15"
logout_at = "15:30"
reset_before = "10:00"
# Instrument quoted to probe the session (NIFTY 50 index)
probe_exchange = "NSE"
probe_token = "256265"
token_file = "session.json"

[gateway]
call_timeout = "10s"
rate_per_second = 5.0
burst = 5

[ledger]
path = "ledger.db"

[server]
enabled = true
addr = ":5000"
# Window for the recent-alerts count on /status
recent_window = "10m"

[notifications]
enabled = false

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_ids = []

[logging]
level = "info"
console = true
file = true
file_path = "logs/trader.log"
`

const credentialsTemplate = `# Alert Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[kite]
api_key = ""
api_secret = ""
user_id = ""
password = ""
totp_secret = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return fmt.Errorf("credentials file not found, created template at %s", path)
}
