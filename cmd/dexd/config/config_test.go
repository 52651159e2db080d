package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultMetricsAddr, cfg.MetricsAddr)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "py/dexpl", cfg.ModuleID)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Empty(t, cfg.Store.DSN)
}

func TestParse_SQLiteDefaultDSN(t *testing.T) {
	cfg, err := Parse([]byte("store:\n  driver: sqlite\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSQLiteDSN, cfg.Store.DSN)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dexd.yaml")
	body := `
listen_addr: 0.0.0.0:9000
module_id: ab/cdefg
log_level: debug
store:
  driver: sqlite
  dsn: "file:test.db"
genesis:
  balances:
    - asset: 1
      account: "0x00000000000000000000000000000000000000aa"
      amount: "1000000000000000000000"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	assert.Equal(t, "ab/cdefg", cfg.ModuleID)
	assert.Equal(t, "file:test.db", cfg.Store.DSN)
	require.Len(t, cfg.Genesis.Balances, 1)

	account, amount, err := cfg.Genesis.Balances[0].Parse()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xaa"), account)
	assert.Equal(t, "1000000000000000000000", amount.Dec())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"short module id", "module_id: dex", "module_id"},
		{"unknown driver", "store:\n  driver: postgres", "unknown store.driver"},
		{"unknown log level", "log_level: loud", "unknown log_level"},
		{"bad genesis account", "genesis:\n  balances:\n    - {asset: 1, account: nope, amount: \"1\"}", "invalid account"},
		{"bad genesis amount", "genesis:\n  balances:\n    - {asset: 1, account: \"0x00000000000000000000000000000000000000aa\", amount: \"-1\"}", "invalid amount"},
		{"malformed yaml", "store: [", "failed to parse config"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
