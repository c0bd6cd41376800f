//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ontime-cli/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"fetch", "retry", "status", "plan"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "ontime-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestFetchCommand_Flags(t *testing.T) {
	for _, name := range []string{"from", "to", "out", "concurrency", "interval", "verify-existing", "retry-rounds", "report", "strict"} {
		assert.NotNil(t, fetchCmd.Flags().Lookup(name), "fetch should have --%s flag", name)
	}
	flag := fetchCmd.Flags().Lookup("retry-rounds")
	require.NotNil(t, flag)
	assert.Equal(t, "-1", flag.DefValue)
}

func TestRetryCommand_Flags(t *testing.T) {
	for _, name := range []string{"run", "transient-only", "out", "retry-rounds", "report"} {
		assert.NotNil(t, retryCmd.Flags().Lookup(name), "retry should have --%s flag", name)
	}
}

func TestStatusCommand_Flags(t *testing.T) {
	flag := statusCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
	assert.NotNil(t, statusCmd.Flags().Lookup("run"))
}

func TestApplyLogFlags(t *testing.T) {
	require.NoError(t, rootCmd.ParseFlags([]string{"--log-level", "debug"}))
	t.Cleanup(func() { _ = rootCmd.PersistentFlags().Set("log-level", "") })

	lc := config.LogConfig{Level: "info", Format: "json"}
	applyLogFlags(rootCmd, &lc)
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "json", lc.Format)
}

func TestOpenLedger_Disabled(t *testing.T) {
	useTestConfig(t, "http://127.0.0.1:1/")
	cfg.Ledger.Driver = config.LedgerNone

	store, err := openLedger(t.Context())
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestOpenLedger_UnknownDriver(t *testing.T) {
	useTestConfig(t, "http://127.0.0.1:1/")
	cfg.Ledger.Driver = "mysql"

	_, err := openLedger(t.Context())
	assert.Error(t, err)
}
