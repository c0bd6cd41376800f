package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ontime-cli/internal/config"
	"github.com/sells-group/ontime-cli/internal/ledger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ontime-cli",
	Short: "Bulk fetch of BTS On-Time Performance archives",
	Long: `Downloads the monthly BTS On-Time Performance ZIP archives for a range of
months into a local directory. Requests are paced, partial downloads never
appear under a final name, and months already on disk are skipped, so an
interrupted run can simply be started again.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyLogFlags(cmd, &c.Log)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "override log.format (json or console)")
}

// applyLogFlags lets the persistent log flags win over file and env settings.
func applyLogFlags(cmd *cobra.Command, lc *config.LogConfig) {
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		lc.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		lc.Format = v
	}
}

// openLedger opens the configured run ledger. It returns a nil store when the
// ledger is disabled.
func openLedger(ctx context.Context) (ledger.Store, error) {
	if cfg.Ledger.Driver == config.LedgerNone {
		return nil, nil
	}
	store, err := ledger.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open ledger")
	}
	return store, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
