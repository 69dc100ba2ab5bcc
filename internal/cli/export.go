package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forPelevin/clipscout/internal/pipeline"
)

func newExportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <manifest.json> <clip-id>",
		Short: "Trim one analyzed clip into its own MP4",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			subs, _ := cmd.Flags().GetBool("subtitles")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()

			path, err := pipeline.Export(ctx, pipeline.ExportConfig{
				ManifestPath:  args[0],
				ClipID:        args[1],
				OutPath:       out,
				BurnSubtitles: subs,
				FFmpegPath:    a.cfg.FFmpeg.FFmpegPath,
				FFprobePath:   a.cfg.FFmpeg.FFprobePath,
				Logger:        log.Logger,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().String("out", "", "Output MP4 (default clips/<id>.mp4 next to the manifest)")
	cmd.Flags().Bool("subtitles", false, "Burn transcript subtitles into the clip")
	return cmd
}
