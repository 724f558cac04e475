package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"evdetect/internal/repository/sqlite"
	"evdetect/internal/service/storage"
)

func importCmd() *cobra.Command {
	var imagesDir string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Index snapshot files that are not in the database yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			if imagesDir == "" {
				imagesDir = cfg.ImageDirectory
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Importing snapshots from %s into %s\n", imagesDir, dbPath)
			result, err := storage.ImportDirectory(imagesDir, sqlite.NewSnapshotRepository(db), sqlite.NewDetectionRepository(db), cfg.IntersectionFor)
			if err != nil {
				return err
			}

			for _, name := range result.Skipped {
				fmt.Fprintf(out, "⚠️  Skipped %s: not a snapshot filename\n", name)
			}
			fmt.Fprintf(out, "✅ Imported %d snapshots (%d already indexed, %d skipped)\n", result.Imported, result.Existing, len(result.Skipped))
			return nil
		},
	}

	cmd.Flags().StringVar(&imagesDir, "images", "", "snapshot directory (default IMAGE_DIR)")
	return cmd
}
