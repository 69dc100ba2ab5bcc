package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forPelevin/clipscout/internal/pipeline"
	"github.com/forPelevin/clipscout/internal/types"
)

func newSearchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <manifest.json> <query>",
		Short: "Rank the clips of an analyzed video against a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := pipelineConfig(a)
			cfg.SortOrder = ""
			if cmd.Flags().Changed("sort") {
				s, _ := cmd.Flags().GetString("sort")
				cfg.SortOrder = types.SortOrder(s)
				if !cfg.SortOrder.Valid() {
					return fmt.Errorf("unknown sort order %q", s)
				}
			}
			limit, _ := cmd.Flags().GetInt("limit")

			res, err := pipeline.Search(cmd.Context(), cfg, args[0], args[1], limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSPAN\tSCORE\tVIRALITY\tTITLE")
			for _, c := range res.Clips {
				fmt.Fprintf(w, "%s\t%.1f-%.1f\t%.3f\t%d\t%s\n", c.ID, c.Start, c.End, c.Score, c.ViralityScore, c.Title)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(res.Segments) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "\ntranscript:")
				for _, s := range res.Segments {
					fmt.Fprintf(cmd.OutOrStdout(), "  [%.1f-%.1f] %s\n", s.Start, s.End, s.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 10, "Max clips and transcript hits to show")
	cmd.Flags().String("sort", "", "Clip order: chronological or virality (default from manifest)")
	return cmd
}
