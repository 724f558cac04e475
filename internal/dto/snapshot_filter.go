package dto

import "time"

// SnapshotFilters describe user-provided filters to narrow the snapshot list.
type SnapshotFilters struct {
	Camera     string
	Label      string
	DateAfter  time.Time
	DateBefore time.Time
	TimeAfter  time.Time
	TimeBefore time.Time
	Limit      int
	Offset     int
}
