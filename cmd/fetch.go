package main

import (
	"context"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the archives for a range of months",
	Long: `Download the On-Time Performance archive of every month from --from to
--to inclusive into the output directory.

Months already present are skipped, so re-running the same range resumes an
interrupted fetch. Months the origin does not have yet are reported as not
available. Use --retry-rounds to re-run transient failures before returning.`,
	Example: `  ontime-cli fetch --from 2024-01 --to 2024-12
  ontime-cli fetch --from 2019 --to 2024 --out /data/ontime --report run.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")
		start, end, err := parseRange(fromStr, toStr)
		if err != nil {
			return err
		}

		rf := applyFetchFlags(cmd.Flags())
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		plan, err := bulkfetch.NewPlanner(cfg.Fetch.BaseURL, cfg.Fetch.OutputDir).Plan(start, end)
		if err != nil {
			return eris.Wrap(err, "fetch")
		}

		job := fetchJob{
			command:   "fetch",
			label:     start.String() + ".." + end.String(),
			planned:   plan.Len(),
			outputDir: cfg.Fetch.OutputDir,
			opts:      engineOptions(),
			retry:     retryConfig(rf.rounds),
			report:    rf.report,
			first: func(ctx context.Context, e *bulkfetch.Engine) (*bulkfetch.Summary, error) {
				return e.Run(ctx, start, end, cfg.Fetch.OutputDir)
			},
		}

		res, err := runFetchJob(ctx, job, newFetcher(), cmd.OutOrStdout())
		if err != nil {
			return eris.Wrap(err, "fetch")
		}
		return rf.check(res)
	},
}

func init() {
	fetchCmd.Flags().String("from", "", "first month, YYYY-MM (or YYYY for January)")
	fetchCmd.Flags().String("to", "", "last month, YYYY-MM (or YYYY for December)")
	_ = fetchCmd.MarkFlagRequired("from")
	_ = fetchCmd.MarkFlagRequired("to")
	addFetchFlags(fetchCmd.Flags())
	rootCmd.AddCommand(fetchCmd)
}

// addFetchFlags registers the flags shared by fetch and retry.
func addFetchFlags(fs *pflag.FlagSet) {
	fs.String("out", "", "output directory (overrides fetch.output_dir)")
	fs.Int("concurrency", 0, "number of concurrent downloads (overrides fetch.concurrency)")
	fs.Duration("interval", 0, "minimum spacing between request starts (overrides fetch.min_request_interval)")
	fs.Bool("verify-existing", false, "require files already present to be valid ZIP archives")
	fs.Int("retry-rounds", -1, "extra rounds for transient failures (overrides retry.rounds)")
	fs.String("report", "", "write a run report to this .json or .yaml file")
	fs.Bool("strict", false, "exit non-zero when any period failed")
}

// runFlags holds the shared flags that are not config overrides.
type runFlags struct {
	rounds int
	report string
	strict bool
}

// check turns a finished run into the command's exit status.
func (rf runFlags) check(res *fetchResult) error {
	if rf.strict && res.Summary.Failed > 0 {
		return eris.Errorf("%d periods failed: %s", res.Summary.Failed, joinPeriods(res.Summary.FailedPeriods()))
	}
	return nil
}

// applyFetchFlags copies explicitly set flags over the loaded config and
// returns the remaining run flags.
func applyFetchFlags(fs *pflag.FlagSet) runFlags {
	if fs.Changed("out") {
		cfg.Fetch.OutputDir, _ = fs.GetString("out")
	}
	if fs.Changed("concurrency") {
		cfg.Fetch.Concurrency, _ = fs.GetInt("concurrency")
	}
	if fs.Changed("interval") {
		cfg.Fetch.MinRequestInterval, _ = fs.GetDuration("interval")
	}
	if fs.Changed("verify-existing") {
		cfg.Fetch.VerifyExisting, _ = fs.GetBool("verify-existing")
	}
	if fs.Changed("retry-rounds") {
		cfg.Retry.Rounds, _ = fs.GetInt("retry-rounds")
	}

	rf := runFlags{rounds: cfg.Retry.Rounds}
	rf.report, _ = fs.GetString("report")
	rf.strict, _ = fs.GetBool("strict")
	return rf
}

// parseRange parses the --from and --to flags. A bare year selects January
// for from and December for to.
func parseRange(from, to string) (bulkfetch.Period, bulkfetch.Period, error) {
	start, err := parseMonthFlag(from, time.January)
	if err != nil {
		return bulkfetch.Period{}, bulkfetch.Period{}, eris.Wrap(err, "--from")
	}
	end, err := parseMonthFlag(to, time.December)
	if err != nil {
		return bulkfetch.Period{}, bulkfetch.Period{}, eris.Wrap(err, "--to")
	}
	return start, end, nil
}

func parseMonthFlag(s string, yearMonth time.Month) (bulkfetch.Period, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "-") {
		return bulkfetch.ParsePeriod(s)
	}
	y, err := strconv.Atoi(s)
	if err != nil {
		return bulkfetch.Period{}, eris.Errorf("%q is neither YYYY nor YYYY-MM", s)
	}
	p := bulkfetch.NewPeriod(y, yearMonth)
	if !p.Valid() {
		return bulkfetch.Period{}, eris.Errorf("year %d out of range", y)
	}
	return p, nil
}
