package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
	"github.com/sells-group/ontime-cli/internal/config"
	"github.com/sells-group/ontime-cli/internal/ledger"
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run the periods an earlier run could not fetch",
	Long: `Look up the failed and not-available periods of a recorded run (the latest
finished run unless --run is given) and fetch just those again. The retry is
recorded as a run of its own, so repeated retries narrow down to whatever is
still missing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rf := applyFetchFlags(cmd.Flags())
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}
		if cfg.Ledger.Driver == config.LedgerNone {
			return eris.New("retry: needs a run ledger, but ledger.driver is none")
		}

		runID, _ := cmd.Flags().GetString("run")
		transientOnly, _ := cmd.Flags().GetBool("transient-only")
		periods, source, err := retryPeriods(ctx, runID, transientOnly)
		if err != nil {
			return err
		}
		if len(periods) == 0 {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Run %s has nothing to retry\n", source)
			return nil
		}

		job := fetchJob{
			command:   "retry",
			label:     "retry:" + source,
			planned:   len(periods),
			outputDir: cfg.Fetch.OutputDir,
			opts:      engineOptions(),
			retry:     retryConfig(rf.rounds),
			report:    rf.report,
			first: func(ctx context.Context, e *bulkfetch.Engine) (*bulkfetch.Summary, error) {
				return e.RunPeriods(ctx, periods, cfg.Fetch.OutputDir)
			},
		}

		res, err := runFetchJob(ctx, job, newFetcher(), cmd.OutOrStdout())
		if err != nil {
			return eris.Wrap(err, "retry")
		}
		return rf.check(res)
	},
}

func init() {
	retryCmd.Flags().String("run", "", "run ID to retry (default: latest finished run)")
	retryCmd.Flags().Bool("transient-only", false, "only retry failures that looked transient")
	addFetchFlags(retryCmd.Flags())
	rootCmd.AddCommand(retryCmd)
}

// retryPeriods resolves the run to retry and returns its missing periods
// along with the run ID they came from.
func retryPeriods(ctx context.Context, runID string, transientOnly bool) ([]bulkfetch.Period, string, error) {
	store, err := openLedger(ctx)
	if err != nil {
		return nil, "", err
	}
	defer store.Close() //nolint:errcheck

	if runID == "" {
		run, err := store.LatestRun(ctx)
		if err != nil {
			return nil, "", eris.Wrap(err, "retry: latest run")
		}
		if run == nil {
			return nil, "", eris.New("retry: no finished run recorded yet, run 'fetch' first")
		}
		runID = run.ID
	}

	periods, err := ledger.FailedPeriods(ctx, store, runID, transientOnly)
	if err != nil {
		return nil, "", eris.Wrapf(err, "retry: periods of run %s", runID)
	}
	return periods, runID, nil
}
