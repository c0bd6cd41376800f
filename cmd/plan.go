package main

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "List the downloads a fetch would make, without making them",
	Long:  "Plans the same range as fetch and shows, per month, the remote URL, the local path and whether a file is already present. No request is sent.",
	RunE: func(cmd *cobra.Command, args []string) error {
		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")
		start, end, err := parseRange(fromStr, toStr)
		if err != nil {
			return err
		}
		if out, _ := cmd.Flags().GetString("out"); out != "" {
			cfg.Fetch.OutputDir = out
		}
		if verify, _ := cmd.Flags().GetBool("verify-existing"); verify {
			cfg.Fetch.VerifyExisting = true
		}
		if err := cfg.Validate("plan"); err != nil {
			return err
		}

		plan, err := bulkfetch.NewPlanner(cfg.Fetch.BaseURL, cfg.Fetch.OutputDir).Plan(start, end)
		if err != nil {
			return eris.Wrap(err, "plan")
		}

		formatPlan(cmd.OutOrStdout(), plan, bulkfetch.NewGate(cfg.Fetch.VerifyExisting))
		return nil
	},
}

func init() {
	planCmd.Flags().String("from", "", "first month, YYYY-MM (or YYYY for January)")
	planCmd.Flags().String("to", "", "last month, YYYY-MM (or YYYY for December)")
	planCmd.Flags().String("out", "", "output directory (overrides fetch.output_dir)")
	planCmd.Flags().Bool("verify-existing", false, "require files already present to be valid ZIP archives")
	_ = planCmd.MarkFlagRequired("from")
	_ = planCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(planCmd)
}

// formatPlan writes one line per planned task, marking the ones the gate
// would skip, followed by a count of the downloads left to make.
func formatPlan(out io.Writer, plan *bulkfetch.Plan, gate *bulkfetch.Gate) {
	pending := 0
	for task := range plan.Tasks() {
		state := "fetch"
		if _, ok := gate.Check(task); ok {
			state = "present"
		} else {
			pending++
		}
		_, _ = fmt.Fprintf(out, "%s  %-7s  %s -> %s\n", task.Period, state, task.RemoteURL, task.LocalPath)
	}
	_, _ = fmt.Fprintf(out, "%d of %d months to fetch\n", pending, plan.Len())
}
