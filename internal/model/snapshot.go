package model

import "time"

// Snapshot is an annotated frame kept because it contained an emergency vehicle.
type Snapshot struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	Camera       string    `json:"camera"`
	Intersection string    `json:"intersection"`
	Timestamp    time.Time `json:"timestamp"`
	FilePath     string    `json:"filepath"`
	FileSize     int64     `json:"filesize"`
}

// SnapshotStats contains statistics about stored snapshots.
type SnapshotStats struct {
	TotalSnapshots int            `json:"total_snapshots"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	PerCamera      map[string]int `json:"per_camera"`
	LabelCounts    map[string]int `json:"label_counts"`
}
