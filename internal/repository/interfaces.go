package repository

import (
	"errors"

	"evdetect/internal/dto"
	"evdetect/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// SnapshotRepository defines the interface for snapshot data operations.
type SnapshotRepository interface {
	// Create operations
	Insert(s *model.Snapshot) (int64, error)

	// Read operations
	GetByID(id int64) (*model.Snapshot, error)
	GetByFilename(filename string) (*model.Snapshot, error)
	GetAll(filter *dto.SnapshotFilters) ([]model.Snapshot, error)
	GetTotalCount(filter *dto.SnapshotFilters) (int, error)
	GetTotalSize() (int64, error)
	GetCameras() ([]string, error)
	GetStats() (*model.SnapshotStats, error)

	// Delete operations
	Delete(id int64) error
	DeleteByFilename(filename string) error
	DeleteAll() error
}

// DetectionRepository defines the interface for detection data operations.
type DetectionRepository interface {
	// Create operations
	InsertBatch(detections []model.Detection) error

	// Read operations
	GetBySnapshotID(snapshotID int64) ([]model.Detection, error)
	GetLabelsBySnapshotID(snapshotID int64) ([]string, error)
	GetAllLabels() ([]string, error)
}

// SignalEventRepository defines the interface for preemption history.
type SignalEventRepository interface {
	Insert(e *model.SignalEvent) error
	GetAll(filter *dto.EventFilters) ([]model.SignalEvent, error)
	GetTotalCount(filter *dto.EventFilters) (int, error)
	CountActivationsByIntersection() (map[string]int, error)
}
