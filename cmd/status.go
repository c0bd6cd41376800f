package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/ontime-cli/internal/config"
	"github.com/sells-group/ontime-cli/internal/ledger"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the run ledger",
	Long:  "Lists recorded fetch and retry runs, newest first. With --run, lists the per-period outcomes of one run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ledger"); err != nil {
			return err
		}
		if cfg.Ledger.Driver == config.LedgerNone {
			return eris.New("status: ledger.driver is none, nothing is recorded")
		}

		store, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		if runID, _ := cmd.Flags().GetString("run"); runID != "" {
			run, err := store.GetRun(ctx, runID)
			if err != nil {
				return eris.Wrap(err, "status")
			}
			outcomes, err := store.Outcomes(ctx, runID)
			if err != nil {
				return eris.Wrap(err, "status")
			}
			formatRuns(os.Stdout, []ledger.Run{*run})
			_, _ = fmt.Fprintln(os.Stdout)
			formatOutcomes(os.Stdout, outcomes)
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := store.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(runs) == 0 {
			zap.L().Info("no runs recorded, run 'fetch' to start downloading")
			return nil
		}

		formatRuns(os.Stdout, runs)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 20, "number of runs to list")
	statusCmd.Flags().String("run", "", "show the per-period outcomes of this run")
	rootCmd.AddCommand(statusCmd)
}

// formatRuns writes a tabular representation of runs to out.
func formatRuns(out io.Writer, runs []ledger.Run) {
	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOMMAND\tRANGE\tSTATUS\tSTARTED\tDURATION\tOK\tN/A\tFAILED\tBYTES\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-------\t-----\t------\t-------\t--------\t--\t---\t------\t-----\t-----")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID,
			r.Command,
			r.Label,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.AlreadySatisfied+r.Succeeded,
			r.SkippedUnavailable,
			r.Failed,
			p.Sprintf("%d", r.Bytes),
			truncate(r.Error, 60),
		)
	}
	_ = w.Flush()
}

// formatOutcomes writes the per-period outcomes of one run to out.
func formatOutcomes(out io.Writer, outcomes []ledger.PeriodOutcome) {
	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PERIOD\tOUTCOME\tHTTP\tBYTES\tTRANSIENT\tREASON")
	_, _ = fmt.Fprintln(w, "------\t-------\t----\t-----\t---------\t------")

	for _, o := range outcomes {
		status := "-"
		if o.StatusCode != 0 {
			status = fmt.Sprint(o.StatusCode)
		}
		transient := ""
		if o.Transient {
			transient = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.Period,
			o.Kind,
			status,
			p.Sprintf("%d", o.Size),
			transient,
			truncate(o.Reason, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
