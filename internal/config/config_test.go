package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 600*time.Second, cfg.Flow.QuoteTimeBuffer)
	assert.Equal(t, 3*time.Second, cfg.Flow.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Flow.SuccessResetDelay)
	assert.Equal(t, 2*time.Second, cfg.Flow.RefetchDelay)
	assert.Equal(t, 50, cfg.Flow.ScanLimit)
	assert.Equal(t, "0xEB36260fc0647D9ca4b67F40E1310697074897d4", cfg.Addresses().PremiumConsumer.Hex())
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
logging:
  level: debug
database:
  enabled: true
  host: db.internal
chain:
  rpc_url: http://localhost:8545
  chain_id: 31337
flow:
  poll_interval: 500ms
  scan_limit: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("WALLETCONNECT_PROJECT_ID", "project-123")
	t.Setenv("SERVER_PORT", "9191")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, int64(31337), cfg.Chain.ChainID)
	assert.Equal(t, 500*time.Millisecond, cfg.Flow.PollInterval)
	assert.Equal(t, 10, cfg.Flow.ScanLimit)
	assert.Equal(t, "project-123", cfg.Chain.WalletConnectID)
	// untouched sections keep defaults
	assert.Equal(t, 5*time.Second, cfg.Flow.SuccessResetDelay)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("SERVER_PORT", "eighty")
	_, err = LoadConfig("")
	assert.ErrorContains(t, err, "SERVER_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "bad address", mutate: func(c *Config) { c.Contracts.Vault = "nope" }, want: "contracts.vault"},
		{name: "zero poll", mutate: func(c *Config) { c.Flow.PollInterval = 0 }, want: "flow.poll_interval"},
		{name: "no rpc", mutate: func(c *Config) { c.Chain.RPCURL = "" }, want: "chain.rpc_url"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "zero scan", mutate: func(c *Config) { c.Flow.ScanLimit = 0 }, want: "flow.scan_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestDatabaseClientConfig(t *testing.T) {
	cfg := Default()
	cfg.Database.Password = "secret"

	db := cfg.DatabaseClientConfig()
	assert.Equal(t, "host=localhost port=5432 user=postgres password=secret dbname=weather_options sslmode=disable", db.DSN())
	assert.Equal(t, 10, db.MaxOpenConns)
}
