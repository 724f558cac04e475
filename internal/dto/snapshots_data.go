package dto

// SnapshotsData is a paginated response payload for the snapshot gallery.
type SnapshotsData struct {
	Snapshots   []SnapshotInfo `json:"snapshots"`
	ImagesDir   string         `json:"imagesDir"`
	Size        int64          `json:"size"`
	Length      int            `json:"length"`
	TotalPages  int            `json:"totalPages"`
	CurrentPage int            `json:"currentPage"`
	Limit       int            `json:"pageSize"`
}
