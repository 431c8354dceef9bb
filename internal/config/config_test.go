package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"StableLedger/internal/ledger"
	"StableLedger/internal/oracle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stableledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, oracle.SOLUSDFeedID, cfg.Oracle.FeedID)
	assert.Equal(t, 60*time.Second, cfg.Oracle.MaxAge)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr)
	assert.Equal(t, 1024, cfg.Engine.PersistChanSize)
	assert.Equal(t, int64(100_000), cfg.Snapshot.Interval)
	assert.Equal(t, "postgres", cfg.Snapshot.Store)
	assert.Nil(t, cfg.Protocol)
	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	authority := ledger.Principal{0x01, 9}
	mint := ledger.Principal{0xAA, 9}

	path := writeFile(t, `
[oracle]
max_age = "30s"
stream_url = "wss://hermes.example/ws"

[snapshot]
store = "sqlite"
sqlite_path = "/var/lib/stable/snap.db"

[server]
http_addr = ":18080"

[protocol]
authority = "`+authority.String()+`"
mint_address = "`+mint.String()+`"
liq_threshold = 5000
liq_bonus = 10000
min_health_factor = 1
close_factor = 5000
bump = 254
mint_bump = 253
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Oracle.MaxAge)
	assert.Equal(t, "wss://hermes.example/ws", cfg.Oracle.StreamURL)
	assert.Equal(t, "sqlite", cfg.Snapshot.Store)
	assert.Equal(t, ":18080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr, "unset keys keep defaults")

	require.NotNil(t, cfg.Protocol)
	assert.Equal(t, authority, cfg.Protocol.Authority)
	assert.Equal(t, mint, cfg.Protocol.MintAddress)
	assert.Equal(t, uint64(5000), cfg.Protocol.LiqThreshold)
	assert.Equal(t, uint8(253), cfg.Protocol.MintBump)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeFile(t, "[server]\ngrpc_adr = \":1\"\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_InvalidProtocol(t *testing.T) {
	path := writeFile(t, "[protocol]\nliq_threshold = 5000\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "[server]\ngrpc_addr = \":7000\"\n")
	t.Setenv("STABLE_GRPC_ADDR", ":7001")
	t.Setenv("STABLE_SNAPSHOT_INTERVAL", "500")
	t.Setenv("STABLE_ORACLE_MAX_AGE", "15s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.Server.GRPCAddr)
	assert.Equal(t, int64(500), cfg.Snapshot.Interval)
	assert.Equal(t, 15*time.Second, cfg.Oracle.MaxAge)
}

func TestApplyEnv_BadInteger(t *testing.T) {
	cfg := Default()
	env := map[string]string{"STABLE_PERSIST_BATCH_SIZE": "fifty"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	err := applyEnv(&cfg, lookup)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad store", func(c *Config) { c.Snapshot.Store = "s3" }},
		{"short feed id", func(c *Config) { c.Oracle.FeedID = "0xabc" }},
		{"short secret", func(c *Config) { c.Auth.Secret = "hunter2" }},
		{"zero max age", func(c *Config) { c.Oracle.MaxAge = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
