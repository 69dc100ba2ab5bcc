package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forPelevin/clipscout/internal/pipeline"
	"github.com/forPelevin/clipscout/internal/types"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <input>",
		Short: "Analyze a video and write manifest.json with its highlight clips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, a, args[0])
		},
	}
	cmd.Flags().String("out", "", "Output directory (default from config)")
	cmd.Flags().String("query", "", "Rank clips against this query and store the results")
	cmd.Flags().String("sort", string(types.SortChronological), "Clip order: chronological or virality")
	cmd.Flags().Int("max-frames", 0, "Max frames sent to visual analysis (default from config)")

	// Hidden tuning flag (internal)
	cmd.Flags().Float64("interval", 0, "Base frame sampling interval seconds")
	_ = cmd.Flags().MarkHidden("interval")
	return cmd
}

func runAnalyze(cmd *cobra.Command, a *app, input string) error {
	if a.cfg.OpenRouter.APIKey == "" {
		return errors.New("OPENROUTER_API_KEY is required (set it in .env)")
	}

	absIn, err := filepath.Abs(input)
	if err != nil {
		return err
	}

	cfg := pipelineConfig(a)
	cfg.InputMP4 = absIn
	if cmd.Flags().Changed("out") {
		cfg.OutDir, _ = cmd.Flags().GetString("out")
	}
	cfg.Query, _ = cmd.Flags().GetString("query")
	sortOrder, _ := cmd.Flags().GetString("sort")
	cfg.SortOrder = types.SortOrder(sortOrder)
	if cmd.Flags().Changed("max-frames") {
		cfg.MaxFrames, _ = cmd.Flags().GetInt("max-frames")
	}
	if cmd.Flags().Changed("interval") {
		cfg.BaseInterval, _ = cmd.Flags().GetFloat64("interval")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Hour)
	defer cancel()

	res, err := pipeline.Run(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.ManifestPath)
	return nil
}

func pipelineConfig(a *app) pipeline.Config {
	cfg := pipeline.FromConfig(a.cfg)
	cfg.Logger = log.Logger
	cfg.Metrics = a.metrics
	return cfg
}
