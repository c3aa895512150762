package run

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/dcshock/scrapepipe/config"
	"github.com/dcshock/scrapepipe/observer"
	"github.com/dcshock/scrapepipe/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	cfgPath    string
	name       string
	replay     bool
	resetCache bool
	cacheDir   string
	limit      int
	verbose    bool
}

// NewCmd returns the `scrape run` command.
func NewCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pipeline and print every value as a JSON line",
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.name == "" {
				return fmt.Errorf("missing required flag: --pipeline")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return execute(ctx, o, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&o.cfgPath, "config", "c", "scrape.yaml", "Path to config file (.yaml)")
	cmd.Flags().StringVarP(&o.name, "pipeline", "p", "", "Name of the pipeline to run")
	cmd.Flags().BoolVar(&o.replay, "replay", false, "Serve repeated requests from the replay store")
	cmd.Flags().BoolVar(&o.resetCache, "reset-cache", false, "Start the replay store empty")
	cmd.Flags().StringVar(&o.cacheDir, "cache-dir", "", "Directory of replay stores (overrides cache_dir)")
	cmd.Flags().IntVar(&o.limit, "limit", 0, "Stop after this many values")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "Log requests and stages")
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func execute(ctx context.Context, o options, stdout, stderr io.Writer) error {
	f, err := config.Load(o.cfgPath)
	if err != nil {
		return err
	}
	cfg, ok := f.Pipelines[o.name]
	if !ok {
		return fmt.Errorf("pipeline %q not defined in %s", o.name, o.cfgPath)
	}
	if o.replay {
		cfg.Replay = true
	}
	if o.limit > 0 {
		cfg.Stages = append(cfg.Stages, config.StageRef{Name: "limit", Args: map[string]any{"n": o.limit}})
	}
	p, err := config.BuildPipeline(config.DefaultRegistry(), &cfg, &config.BuildOptions{Throttle: f.Throttle})
	if err != nil {
		return fmt.Errorf("pipeline %q: %w", o.name, err)
	}

	logger, err := newLogger(o.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := f.RunOptions()
	opts.Logger = logger
	opts.ResetCache = o.resetCache
	if o.cacheDir != "" {
		opts.CacheDir = o.cacheDir
	}
	observers := []pipeline.Observer{observer.NewLogObserver(logger)}
	if f.RunLog != "" {
		runLog, err := observer.OpenRunLog(f.RunLog)
		if err != nil {
			return err
		}
		defer runLog.Close()
		observers = append(observers, runLog)
	}
	opts.Observer = pipeline.MultiObserver(observers)

	enc := json.NewEncoder(stdout)
	opts.Each = func(v any) error {
		if err := enc.Encode(v); err != nil {
			// Values without a JSON form (parsed documents, open files) are
			// printed as their Go representation.
			return enc.Encode(fmt.Sprintf("%v", v))
		}
		return nil
	}

	stats, err := p.Run(ctx, opts)
	fmt.Fprintf(stderr, "run %s: %s, %d items in %s\n", stats.RunID, stats.State, stats.Items, stats.Elapsed.Round(time.Millisecond))
	return err
}
