package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"evdetect/internal/dto"
	"evdetect/internal/model"
	"evdetect/internal/repository"
)

// SnapshotRepository implements repository.SnapshotRepository for SQLite.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new SQLite snapshot repository.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

const snapshotColumns = `s.id, s.filename, s.camera, s.intersection, s.timestamp, s.filepath, s.filesize`

func scanSnapshot(row interface{ Scan(...any) error }) (*model.Snapshot, error) {
	var s model.Snapshot
	if err := row.Scan(&s.ID, &s.Filename, &s.Camera, &s.Intersection, &s.Timestamp, &s.FilePath, &s.FileSize); err != nil {
		return nil, err
	}
	return &s, nil
}

// Insert adds a new snapshot record to the database.
func (r *SnapshotRepository) Insert(s *model.Snapshot) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO snapshots (filename, camera, intersection, timestamp, filepath, filesize)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.Filename, s.Camera, s.Intersection, s.Timestamp.UTC(), s.FilePath, s.FileSize)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot id: %w", err)
	}
	s.ID = id
	return id, nil
}

// GetByID retrieves a snapshot by its ID.
func (r *SnapshotRepository) GetByID(id int64) (*model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	s, err := scanSnapshot(r.db.Conn().QueryRow(`SELECT `+snapshotColumns+` FROM snapshots s WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return s, nil
}

// GetByFilename retrieves a snapshot by its filename.
func (r *SnapshotRepository) GetByFilename(filename string) (*model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	s, err := scanSnapshot(r.db.Conn().QueryRow(`SELECT `+snapshotColumns+` FROM snapshots s WHERE s.filename = ?`, filename))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return s, nil
}

// snapshotWhere builds the shared filter clause for list and count queries.
func snapshotWhere(filter *dto.SnapshotFilters) (string, []interface{}) {
	clause := ` FROM snapshots s LEFT JOIN detections d ON s.id = d.snapshot_id WHERE 1=1`
	args := []interface{}{}
	if filter == nil {
		return clause, args
	}

	if filter.Camera != "" {
		clause += " AND s.camera = ?"
		args = append(args, filter.Camera)
	}
	if filter.Label != "" {
		clause += " AND d.label = ? COLLATE NOCASE"
		args = append(args, filter.Label)
	}
	if !filter.DateAfter.IsZero() {
		clause += " AND DATE(s.timestamp) >= DATE(?)"
		args = append(args, filter.DateAfter.Format("2006-01-02"))
	}
	if !filter.DateBefore.IsZero() {
		clause += " AND DATE(s.timestamp) <= DATE(?)"
		args = append(args, filter.DateBefore.Format("2006-01-02"))
	}
	if !filter.TimeAfter.IsZero() {
		clause += " AND TIME(s.timestamp) >= TIME(?)"
		args = append(args, filter.TimeAfter.Format("15:04:05"))
	}
	if !filter.TimeBefore.IsZero() {
		clause += " AND TIME(s.timestamp) <= TIME(?)"
		args = append(args, filter.TimeBefore.Format("15:04:05"))
	}
	return clause, args
}

// GetAll retrieves snapshots based on filter criteria, newest first.
func (r *SnapshotRepository) GetAll(filter *dto.SnapshotFilters) ([]model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := snapshotWhere(filter)
	query := `SELECT DISTINCT ` + snapshotColumns + where + ` ORDER BY s.timestamp DESC, s.id DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []model.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, *s)
	}
	return snapshots, rows.Err()
}

// GetTotalCount returns the total count of snapshots matching the filter.
func (r *SnapshotRepository) GetTotalCount(filter *dto.SnapshotFilters) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := snapshotWhere(filter)

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(DISTINCT s.id)`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

// GetTotalSize returns the summed size of all stored snapshot files.
func (r *SnapshotRepository) GetTotalSize() (int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var size int64
	if err := r.db.Conn().QueryRow(`SELECT COALESCE(SUM(filesize), 0) FROM snapshots`).Scan(&size); err != nil {
		return 0, fmt.Errorf("failed to sum snapshot sizes: %w", err)
	}
	return size, nil
}

// GetCameras returns a list of unique camera names.
func (r *SnapshotRepository) GetCameras() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT camera FROM snapshots ORDER BY camera`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cameras: %w", err)
	}
	defer rows.Close()

	var cameras []string
	for rows.Next() {
		var camera string
		if err := rows.Scan(&camera); err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, camera)
	}
	return cameras, rows.Err()
}

// GetStats returns statistics about stored snapshots.
func (r *SnapshotRepository) GetStats() (*model.SnapshotStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &model.SnapshotStats{
		PerCamera:   make(map[string]int),
		LabelCounts: make(map[string]int),
	}

	if err := r.db.Conn().QueryRow(`SELECT COUNT(*), COALESCE(SUM(filesize), 0) FROM snapshots`).
		Scan(&stats.TotalSnapshots, &stats.TotalSizeBytes); err != nil {
		return nil, fmt.Errorf("failed to read totals: %w", err)
	}

	if err := collectCounts(r.db.Conn(), `SELECT camera, COUNT(*) FROM snapshots GROUP BY camera`, stats.PerCamera); err != nil {
		return nil, fmt.Errorf("failed to count per camera: %w", err)
	}

	if err := collectCounts(r.db.Conn(), `
		SELECT label, COUNT(*) AS cnt
		FROM detections
		GROUP BY label
		ORDER BY cnt DESC
		LIMIT 10
	`, stats.LabelCounts); err != nil {
		return nil, fmt.Errorf("failed to count labels: %w", err)
	}

	return stats, nil
}

// Delete removes a snapshot and its detections by ID.
func (r *SnapshotRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	return r.deleteLocked(id)
}

// DeleteByFilename removes a snapshot by its filename. Missing rows are not an error.
func (r *SnapshotRepository) DeleteByFilename(filename string) error {
	r.db.Lock()
	defer r.db.Unlock()

	var id int64
	err := r.db.Conn().QueryRow(`SELECT id FROM snapshots WHERE filename = ?`, filename).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get snapshot id: %w", err)
	}
	return r.deleteLocked(id)
}

func (r *SnapshotRepository) deleteLocked(id int64) error {
	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM detections WHERE snapshot_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return tx.Commit()
}

// DeleteAll removes all snapshots and their detections.
func (r *SnapshotRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections`); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	if _, err := r.db.Conn().Exec(`DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}

func collectCounts(conn *sql.DB, query string, into map[string]int) error {
	rows, err := conn.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}
