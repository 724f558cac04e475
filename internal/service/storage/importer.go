package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"evdetect/internal/model"
	"evdetect/internal/repository"
)

// ImportResult summarises an ImportDirectory run.
type ImportResult struct {
	Imported int
	Existing int
	Skipped  []string
}

// ImportDirectory indexes snapshot files that are on disk but not in the
// database. Names that do not parse are skipped; intersectionFor maps the
// camera in the filename to its intersection.
func ImportDirectory(dir string, snapshotRepo repository.SnapshotRepository, detectionRepo repository.DetectionRepository, intersectionFor func(string) string) (ImportResult, error) {
	var result ImportResult

	files, err := os.ReadDir(dir)
	if err != nil {
		return result, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".jpg" {
			continue
		}

		ts, camera, labels, err := ParseFilename(file.Name())
		if err != nil {
			result.Skipped = append(result.Skipped, file.Name())
			continue
		}

		if _, err := snapshotRepo.GetByFilename(file.Name()); err == nil {
			result.Existing++
			continue
		} else if !errors.Is(err, repository.ErrNotFound) {
			return result, err
		}

		info, err := file.Info()
		if err != nil {
			result.Skipped = append(result.Skipped, file.Name())
			continue
		}

		intersection := camera
		if intersectionFor != nil {
			intersection = intersectionFor(camera)
		}

		id, err := snapshotRepo.Insert(&model.Snapshot{
			Filename:     file.Name(),
			Camera:       camera,
			Intersection: intersection,
			Timestamp:    ts,
			FilePath:     filepath.Join(dir, file.Name()),
			FileSize:     info.Size(),
		})
		if err != nil {
			return result, fmt.Errorf("failed to import %s: %w", file.Name(), err)
		}

		// boxes are not recoverable from the name, only labels
		if detectionRepo != nil && len(labels) > 0 {
			rows := make([]model.Detection, 0, len(labels))
			for _, l := range labels {
				rows = append(rows, model.Detection{SnapshotID: id, Label: l})
			}
			if err := detectionRepo.InsertBatch(rows); err != nil {
				return result, fmt.Errorf("failed to import labels of %s: %w", file.Name(), err)
			}
		}
		result.Imported++
	}
	return result, nil
}
