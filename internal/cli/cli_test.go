package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-trader/internal/models"
	"alert-trader/internal/store"
)

const testConfig = `
[trading]
mode = "paper"

[logging]
console = false
file = false
`

func configDir(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"KITE_API_KEY", "KITE_API_SECRET", "TRADING_MODE", "TELEGRAM_BOT_TOKEN"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(testConfig), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte("[kite]\n"), 0600))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(zerolog.Nop())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, Version, v["version"])
}

func TestConfigValidate(t *testing.T) {
	dir := configDir(t)
	out, err := execute(t, "config", "validate", "--config", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
}

func TestConfigMissingCreatesTemplate(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "config", "show", "--config", dir)
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(dir, "config.toml"))
}

func TestLedgerAndQueueCommands(t *testing.T) {
	dir := configDir(t)
	ctx := context.Background()

	st, err := store.NewSQLiteStore(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	_, err = st.AppendRow(ctx, models.LedgerRow{
		Date: "2026-10-15", Symbol: "TCS", Action: "buy", EntryPrice: "3600",
		StopLossPrice: "3590", EntryOrderID: "E1", EntryTimestamp: "11:05", Status: models.StatusPending,
	})
	require.NoError(t, err)
	_, err = st.AppendRow(ctx, models.LedgerRow{
		Symbol: "INFY", Action: "sell", EntryOrderID: "E2", Status: models.StatusCancelled, ClosedFlag: models.ClosedYes,
	})
	require.NoError(t, err)
	require.NoError(t, st.SaveDeferred(ctx, &models.DeferredAlert{
		Alert:  models.Alert{Symbol: "SBIN", Action: models.ActionBuy, EntryPrice: 800},
		Reason: "order rejected",
	}))
	require.NoError(t, st.Close())

	out, err := execute(t, "ledger", "--open", "--json", "--config", dir)
	require.NoError(t, err)
	var rows []models.LedgerRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "E1", rows[0].EntryOrderID)

	out, err = execute(t, "ledger", "--config", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "INFY")
	assert.Contains(t, out, "2 rows")

	out, err = execute(t, "queue", "list", "--config", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "SBIN")

	out, err = execute(t, "queue", "clear", "--json", "--config", dir)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cleared":1}`, out)
}

func TestLoginWithoutCredentials(t *testing.T) {
	dir := configDir(t)
	_, err := execute(t, "login", "--config", dir)
	assert.Error(t, err)
}
