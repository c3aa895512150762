package root

import (
	"github.com/dcshock/scrapepipe/cmd/scrape/run"
	"github.com/dcshock/scrapepipe/cmd/scrape/runs"
	"github.com/dcshock/scrapepipe/cmd/scrape/version"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for scrape.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run and debug scraping pipelines defined in a YAML file",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is fine; variables may come from the shell.
			_ = godotenv.Load()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Show help when no subcommand is provided.
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(version.NewCmd())
	cmd.AddCommand(run.NewCmd())
	cmd.AddCommand(runs.NewCmd())

	return cmd
}

// Execute runs the root command with provided args.
func Execute(args []string) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}
