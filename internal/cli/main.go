package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/forPelevin/clipscout/internal/config"
	"github.com/forPelevin/clipscout/internal/logging"
	"github.com/forPelevin/clipscout/internal/metrics"
)

// app carries what every subcommand needs once the root pre-run has loaded it.
type app struct {
	cfg     *config.Config
	metrics *metrics.Metrics
}

func Main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "clipscout",
		Short:        "Find, rank and export highlight clips in a local video",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load() // best-effort: load .env if present

			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if v, _ := cmd.Flags().GetBool("verbose"); v {
				cfg.Verbose = true
			}
			logging.Init(cfg.Verbose)

			a.cfg = cfg
			a.metrics = metrics.New()
			return nil
		},
	}

	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	root.PersistentFlags().String("config", "", "Config file (default ./clipscout.yaml if present)")
	root.PersistentFlags().BoolP("verbose", "v", false, "Debug logging")

	root.AddCommand(
		newAnalyzeCmd(a),
		newSearchCmd(a),
		newServeCmd(a),
		newExportCmd(a),
	)
	return root
}
