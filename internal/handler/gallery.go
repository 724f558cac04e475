package handler

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"evdetect/internal/config"
	"evdetect/internal/dto"
	"evdetect/internal/logger"
	"evdetect/internal/repository"
)

// GetSnapshotsHandler returns a filtered, paginated list of snapshots from the database.
func GetSnapshotsHandler(cfg *config.Config, logger *logger.Logger,
	snapshotRepo repository.SnapshotRepository, detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, limit, offset := paging(r, 24)

		filter := &dto.SnapshotFilters{
			Camera:     q.Get("camera"),
			Label:      q.Get("label"),
			DateAfter:  parseDate(q.Get("dateAfter")),
			DateBefore: parseDate(q.Get("dateBefore")),
			TimeAfter:  parseTimeOfDay(q.Get("timeAfter")),
			TimeBefore: parseTimeOfDay(q.Get("timeBefore")),
			Limit:      limit,
			Offset:     offset,
		}

		snapshots, err := snapshotRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying snapshots from database: %v", err)
			writeError(w, logger, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		totalSize, err := snapshotRepo.GetTotalSize()
		if err != nil {
			logger.Error("Error getting snapshot directory size: %v", err)
		}

		totalCount, err := snapshotRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting snapshots: %v", err)
			totalCount = len(snapshots)
		}

		infos := make([]dto.SnapshotInfo, 0, len(snapshots))
		for _, s := range snapshots {
			labels := []string{}
			if detectionRepo != nil {
				if labels, err = detectionRepo.GetLabelsBySnapshotID(s.ID); err != nil {
					logger.Error("Error getting labels for snapshot %d: %v", s.ID, err)
					labels = []string{}
				}
			}

			local := s.Timestamp.Local()
			infos = append(infos, dto.SnapshotInfo{
				Name:         s.Filename,
				Date:         local,
				TimeOfDay:    local,
				Camera:       s.Camera,
				Intersection: s.Intersection,
				Labels:       labels,
			})
		}

		writeJSON(w, logger, http.StatusOK, dto.SnapshotsData{
			Snapshots:   infos,
			ImagesDir:   cfg.ImageDirectory,
			Size:        totalSize,
			Length:      totalCount,
			TotalPages:  totalPages(totalCount, limit),
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// SnapshotStatsHandler returns counts per camera and label plus total size.
func SnapshotStatsHandler(logger *logger.Logger, snapshotRepo repository.SnapshotRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := snapshotRepo.GetStats()
		if err != nil {
			logger.Error("Error getting snapshot stats: %v", err)
			writeError(w, logger, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		writeJSON(w, logger, http.StatusOK, stats)
	}
}

// DeleteSnapshotHandler removes a snapshot from disk and database.
func DeleteSnapshotHandler(cfg *config.Config, logger *logger.Logger, snapshotRepo repository.SnapshotRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := r.URL.Query().Get("filename")
		if !isValidFilename(filename) {
			writeError(w, logger, http.StatusBadRequest, "Valid filename required")
			return
		}

		_, lookupErr := snapshotRepo.GetByFilename(filename)
		if lookupErr != nil && !errors.Is(lookupErr, repository.ErrNotFound) {
			logger.Error("Failed to look up snapshot %s: %v", filename, lookupErr)
			writeError(w, logger, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if err := snapshotRepo.DeleteByFilename(filename); err != nil {
			logger.Error("Failed to delete %s from database: %v", filename, err)
			writeError(w, logger, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		filePath := filepath.Join(cfg.ImageDirectory, filename)
		fileErr := os.Remove(filePath)
		if fileErr != nil && !os.IsNotExist(fileErr) {
			logger.Error("Failed to delete file %s: %v", filePath, fileErr)
		}

		if lookupErr != nil && os.IsNotExist(fileErr) {
			writeError(w, logger, http.StatusNotFound, "Snapshot not found")
			return
		}

		logger.Info("Deleted snapshot: %s", filename)
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "deleted", "filename": filename})
	}
}

// ClearSnapshotsHandler deletes every snapshot file and clears the database.
func ClearSnapshotsHandler(cfg *config.Config, logger *logger.Logger, snapshotRepo repository.SnapshotRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := snapshotRepo.DeleteAll(); err != nil {
			logger.Error("Error clearing database: %v", err)
			writeError(w, logger, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		files, err := os.ReadDir(cfg.ImageDirectory)
		if err != nil && !os.IsNotExist(err) {
			logger.Error("Error reading snapshot directory: %v", err)
		}
		for _, file := range files {
			if file.IsDir() || filepath.Ext(file.Name()) != ".jpg" {
				continue
			}
			if err := os.Remove(filepath.Join(cfg.ImageDirectory, file.Name())); err != nil {
				logger.Error("Error deleting file %s: %v", file.Name(), err)
			}
		}

		logger.Info("All snapshots cleared from directory: %s", cfg.ImageDirectory)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ViewSnapshotHandler serves a single snapshot named by the "image" query parameter.
func ViewSnapshotHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		image := r.URL.Query().Get("image")
		if !isValidFilename(image) {
			http.Error(w, "Valid image parameter is required", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(cfg.ImageDirectory, image))
	}
}
