package runs

import (
	"fmt"
	"text/tabwriter"

	"github.com/dcshock/scrapepipe/config"
	"github.com/dcshock/scrapepipe/observer"
	"github.com/spf13/cobra"
)

// NewCmd returns the `scrape runs` command.
func NewCmd() *cobra.Command {
	var (
		cfgPath string
		name    string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs from the run log",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if f.RunLog == "" {
				return fmt.Errorf("%s: run_log is not set", cfgPath)
			}
			runLog, err := observer.OpenRunLog(f.RunLog)
			if err != nil {
				return err
			}
			defer runLog.Close()

			recent, err := runLog.Recent(cmd.Context(), name, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tPIPELINE\tRUN\tSTATE\tITEMS\tELAPSED\tERROR")
			for _, r := range recent {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Pipeline, r.RunID, r.State, r.Items, r.Elapsed, r.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "scrape.yaml", "Path to config file (.yaml)")
	cmd.Flags().StringVarP(&name, "pipeline", "p", "", "Only list runs of this pipeline")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	return cmd
}
