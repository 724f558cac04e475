package commands

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evdetect/internal/repository/sqlite"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show snapshot and preemption totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := sqlite.NewSnapshotRepository(db).GetStats()
			if err != nil {
				return err
			}
			activations, err := sqlite.NewSignalEventRepository(db).CountActivationsByIntersection()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Snapshots: %d (%.1f MB)\n\n", stats.TotalSnapshots, float64(stats.TotalSizeBytes)/(1<<20))

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CAMERA\tSNAPSHOTS")
			for _, k := range sortedKeys(stats.PerCamera) {
				fmt.Fprintf(w, "%s\t%d\n", k, stats.PerCamera[k])
			}
			fmt.Fprintln(w, "\nLABEL\tDETECTIONS")
			for _, k := range sortedKeys(stats.LabelCounts) {
				fmt.Fprintf(w, "%s\t%d\n", k, stats.LabelCounts[k])
			}
			fmt.Fprintln(w, "\nINTERSECTION\tACTIVATIONS")
			for _, k := range sortedKeys(activations) {
				fmt.Fprintf(w, "%s\t%d\n", k, activations[k])
			}
			return w.Flush()
		},
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
