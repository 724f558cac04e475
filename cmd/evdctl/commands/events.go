package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"evdetect/internal/dto"
	"evdetect/internal/repository/sqlite"
)

func eventsCmd() *cobra.Command {
	var (
		intersection string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent signal changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			events, err := sqlite.NewSignalEventRepository(db).GetAll(&dto.EventFilters{Intersection: intersection, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No signal events")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tINTERSECTION\tSTATE\tREASON\tCAMERA\tCONFIDENCE\tPUBLISH ERROR")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.Intersection, e.State, e.Reason, e.Camera, e.Confidence, e.PublishError)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&intersection, "intersection", "", "only this intersection")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	return cmd
}
