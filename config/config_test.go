package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "royaltyd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
ledger:
  endpoint: http://ledger.internal:8545
claims:
  fee_collector: "0x8888888888888888888888888888888888888888"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7090", cfg.ListenAddress)
	require.Equal(t, 30*time.Second, cfg.Ledger.CallTimeout.Duration)
	require.Equal(t, 3, cfg.Ledger.RetryAttempts)
	require.Equal(t, 10, cfg.Claims.ClaimsPerHour)
	require.Equal(t, 20, cfg.Notify.PerHour)
	require.Equal(t, 15*time.Minute, cfg.Detect.ScanInterval.Duration)
	require.Equal(t, 10*time.Second, cfg.Detect.OracleTimeout.Duration)
}

func TestLoadParsesOverrides(t *testing.T) {
	path := writeConfig(t, `
listen: ":9999"
ledger:
  endpoint: http://ledger.internal:8545
  call_timeout: 5s
claims:
  fee_collector: "0x8888888888888888888888888888888888888888"
  claims_per_hour: 4
  min_claim: "200000000000000"
detect:
  scan_interval: 1m
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.ListenAddress)
	require.Equal(t, 5*time.Second, cfg.Ledger.CallTimeout.Duration)
	require.Equal(t, 4, cfg.Claims.ClaimsPerHour)
	require.Equal(t, time.Minute, cfg.Detect.ScanInterval.Duration)
	require.Zero(t, cfg.Claims.MinClaimAmount().Cmp(big.NewInt(200_000_000_000_000)))
}

func TestLoadRejectsMissingLedgerEndpoint(t *testing.T) {
	path := writeConfig(t, `
claims:
  fee_collector: "0x8888888888888888888888888888888888888888"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "ledger endpoint")
}

func TestLoadRejectsBadMinClaim(t *testing.T) {
	path := writeConfig(t, `
ledger:
  endpoint: http://ledger.internal:8545
claims:
  fee_collector: "0x8888888888888888888888888888888888888888"
  min_claim: "not-a-number"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "min_claim")
}

func TestSecretFileIndirection(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(tokenPath, []byte("s3cret\n"), 0o600))
	path := writeConfig(t, `
ledger:
  endpoint: http://ledger.internal:8545
claims:
  fee_collector: "0x8888888888888888888888888888888888888888"
admin:
  bearer_token_file: `+tokenPath+`
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.Admin.BearerToken)
}

func TestTierRatesDefaultsValidated(t *testing.T) {
	path := writeConfig(t, `
ledger:
  endpoint: http://ledger.internal:8545
claims:
  fee_collector: "0x8888888888888888888888888888888888888888"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	rates, err := cfg.TierRates()
	require.NoError(t, err)
	require.Len(t, rates, 3)
}
