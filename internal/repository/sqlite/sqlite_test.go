package sqlite

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"evdetect/internal/dto"
	"evdetect/internal/model"
	"evdetect/internal/repository"
)

// ========================================
// Test Setup Helpers
// ========================================

func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	return db, func() { db.Close() }
}

func insertSnapshot(t *testing.T, repo *SnapshotRepository, name, camera string, ts time.Time) int64 {
	t.Helper()

	id, err := repo.Insert(&model.Snapshot{
		Filename:     name,
		Camera:       camera,
		Intersection: "main-5th",
		Timestamp:    ts,
		FilePath:     "/images/" + name,
		FileSize:     1000,
	})
	if err != nil {
		t.Fatalf("Insert %s failed: %v", name, err)
	}
	return id
}

// ========================================
// Database
// ========================================

func TestDatabase_CreatesFileAndDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "evdetect.db")

	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should exist")
	}
}

func TestDatabase_MigrationIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 2; i++ {
		db, err := New(dbPath)
		if err != nil {
			t.Fatalf("Open %d failed: %v", i, err)
		}
		db.Close()
	}
}

// ========================================
// Snapshot Repository
// ========================================

func TestSnapshotRepository_InsertAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSnapshotRepository(db)
	ts := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)
	id := insertSnapshot(t, repo, "a.jpg", "north", ts)

	got, err := repo.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Filename != "a.jpg" || got.Camera != "north" || got.Intersection != "main-5th" {
		t.Errorf("Unexpected snapshot: %+v", got)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("Expected timestamp %v, got %v", ts, got.Timestamp)
	}

	byName, err := repo.GetByFilename("a.jpg")
	if err != nil || byName.ID != id {
		t.Errorf("GetByFilename mismatch: %+v, %v", byName, err)
	}
}

func TestSnapshotRepository_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSnapshotRepository(db)
	if _, err := repo.GetByID(42); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetByFilename("missing.jpg"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotRepository_DuplicateFilename(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSnapshotRepository(db)
	insertSnapshot(t, repo, "dup.jpg", "north", time.Now())

	_, err := repo.Insert(&model.Snapshot{Filename: "dup.jpg", Camera: "north", Timestamp: time.Now(), FilePath: "x"})
	if err == nil {
		t.Error("Expected error for duplicate filename, got nil")
	}
}

func TestSnapshotRepository_FiltersAndPaging(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSnapshotRepository(db)
	detRepo := NewDetectionRepository(db)

	base := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)
	a := insertSnapshot(t, repo, "a.jpg", "north", base)
	b := insertSnapshot(t, repo, "b.jpg", "north", base.Add(6*time.Hour))
	c := insertSnapshot(t, repo, "c.jpg", "south", base.AddDate(0, 0, 1))

	if err := detRepo.InsertBatch([]model.Detection{
		{SnapshotID: a, Label: "ambulance", Confidence: 0.9},
		{SnapshotID: a, Label: "ambulance", Confidence: 0.8},
		{SnapshotID: b, Label: "fire_truck", Confidence: 0.75},
		{SnapshotID: c, Label: "Ambulance", Confidence: 0.95},
	}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	tests := []struct {
		name     string
		filter   *dto.SnapshotFilters
		expected []string
	}{
		{"all newest first", &dto.SnapshotFilters{}, []string{"c.jpg", "b.jpg", "a.jpg"}},
		{"by camera", &dto.SnapshotFilters{Camera: "north"}, []string{"b.jpg", "a.jpg"}},
		{"by label ignores case", &dto.SnapshotFilters{Label: "ambulance"}, []string{"c.jpg", "a.jpg"}},
		{"date after", &dto.SnapshotFilters{DateAfter: base.AddDate(0, 0, 1)}, []string{"c.jpg"}},
		{"date before", &dto.SnapshotFilters{DateBefore: base}, []string{"b.jpg", "a.jpg"}},
		{"time after", &dto.SnapshotFilters{TimeAfter: time.Date(0, 1, 1, 12, 0, 0, 0, time.UTC)}, []string{"b.jpg"}},
		{"time before", &dto.SnapshotFilters{TimeBefore: time.Date(0, 1, 1, 9, 0, 0, 0, time.UTC)}, []string{"c.jpg", "a.jpg"}},
		{"paged", &dto.SnapshotFilters{Limit: 1, Offset: 1}, []string{"b.jpg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.GetAll(tt.filter)
			if err != nil {
				t.Fatalf("GetAll failed: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %d snapshots, got %d", len(tt.expected), len(got))
			}
			for i, name := range tt.expected {
				if got[i].Filename != name {
					t.Errorf("Position %d: expected %s, got %s", i, name, got[i].Filename)
				}
			}
		})
	}

	count, err := repo.GetTotalCount(&dto.SnapshotFilters{Label: "ambulance"})
	if err != nil {
		t.Fatalf("GetTotalCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 distinct snapshots, got %d", count)
	}
}

func TestSnapshotRepository_StatsAndCameras(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSnapshotRepository(db)
	detRepo := NewDetectionRepository(db)

	a := insertSnapshot(t, repo, "a.jpg", "north", time.Now())
	insertSnapshot(t, repo, "b.jpg", "south", time.Now())
	if err := detRepo.InsertBatch([]model.Detection{{SnapshotID: a, Label: "ambulance", Confidence: 0.9}}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	stats, err := repo.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalSnapshots != 2 || stats.TotalSizeBytes != 2000 {
		t.Errorf("Unexpected totals: %+v", stats)
	}
	if stats.PerCamera["north"] != 1 || stats.LabelCounts["ambulance"] != 1 {
		t.Errorf("Unexpected breakdown: %+v", stats)
	}

	size, err := repo.GetTotalSize()
	if err != nil || size != 2000 {
		t.Errorf("Expected size 2000, got %d (%v)", size, err)
	}

	cameras, err := repo.GetCameras()
	if err != nil || len(cameras) != 2 || cameras[0] != "north" {
		t.Errorf("Unexpected cameras %v (%v)", cameras, err)
	}
}

func TestSnapshotRepository_Delete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSnapshotRepository(db)
	detRepo := NewDetectionRepository(db)

	a := insertSnapshot(t, repo, "a.jpg", "north", time.Now())
	insertSnapshot(t, repo, "b.jpg", "north", time.Now())
	if err := detRepo.InsertBatch([]model.Detection{{SnapshotID: a, Label: "ambulance"}}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	if err := repo.DeleteByFilename("a.jpg"); err != nil {
		t.Fatalf("DeleteByFilename failed: %v", err)
	}
	if err := repo.DeleteByFilename("a.jpg"); err != nil {
		t.Errorf("Deleting a missing snapshot should not fail: %v", err)
	}
	dets, err := detRepo.GetBySnapshotID(a)
	if err != nil || len(dets) != 0 {
		t.Errorf("Detections should be removed with the snapshot, got %v (%v)", dets, err)
	}

	if err := repo.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	count, _ := repo.GetTotalCount(nil)
	if count != 0 {
		t.Errorf("Expected empty table, got %d", count)
	}
}

// ========================================
// Detection Repository
// ========================================

func TestDetectionRepository_Labels(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSnapshotRepository(db)
	detRepo := NewDetectionRepository(db)

	a := insertSnapshot(t, repo, "a.jpg", "north", time.Now())
	if err := detRepo.InsertBatch([]model.Detection{
		{SnapshotID: a, Label: "ambulance", Confidence: 0.7, X1: 1, Y1: 2, X2: 3, Y2: 4},
		{SnapshotID: a, Label: "ambulance", Confidence: 0.9},
		{SnapshotID: a, Label: "fire_truck", Confidence: 0.8},
	}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	labels, err := detRepo.GetLabelsBySnapshotID(a)
	if err != nil {
		t.Fatalf("GetLabelsBySnapshotID failed: %v", err)
	}
	if len(labels) != 2 || labels[0] != "ambulance" {
		t.Errorf("Unexpected labels %v", labels)
	}

	dets, err := detRepo.GetBySnapshotID(a)
	if err != nil {
		t.Fatalf("GetBySnapshotID failed: %v", err)
	}
	if len(dets) != 3 || dets[0].Confidence != 0.9 {
		t.Errorf("Expected detections ordered by confidence, got %+v", dets)
	}

	all, err := detRepo.GetAllLabels()
	if err != nil || len(all) != 2 {
		t.Errorf("Unexpected labels %v (%v)", all, err)
	}

	if err := detRepo.InsertBatch(nil); err != nil {
		t.Errorf("Empty batch should be a no-op: %v", err)
	}
}

// ========================================
// Signal Event Repository
// ========================================

func TestSignalEventRepository_InsertAndFilter(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSignalEventRepository(db)
	base := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)

	events := []model.SignalEvent{
		{ID: "e1", Intersection: "main-5th", Camera: "north", State: model.SignalGreen, Reason: model.ReasonDetection, Confidence: 0.9, CreatedAt: base},
		{ID: "e2", Intersection: "main-5th", State: model.SignalRed, Reason: model.ReasonTimeout, CreatedAt: base.Add(30 * time.Second)},
		{ID: "e3", Intersection: "oak-2nd", Camera: "east", State: model.SignalGreen, Reason: model.ReasonManual, PublishError: "circuit open", CreatedAt: base.AddDate(0, 0, 1)},
	}
	for i := range events {
		if err := repo.Insert(&events[i]); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	all, err := repo.GetAll(&dto.EventFilters{})
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "e3" {
		t.Fatalf("Expected newest first, got %+v", all)
	}
	if all[0].PublishError != "circuit open" || all[0].State != model.SignalGreen {
		t.Errorf("Fields not round-tripped: %+v", all[0])
	}

	byIntersection, err := repo.GetAll(&dto.EventFilters{Intersection: "main-5th", State: model.SignalGreen})
	if err != nil || len(byIntersection) != 1 || byIntersection[0].ID != "e1" {
		t.Errorf("Unexpected filtered events %+v (%v)", byIntersection, err)
	}

	count, err := repo.GetTotalCount(&dto.EventFilters{DateAfter: base.AddDate(0, 0, 1)})
	if err != nil || count != 1 {
		t.Errorf("Expected 1 event after date, got %d (%v)", count, err)
	}

	paged, err := repo.GetAll(&dto.EventFilters{Limit: 1, Offset: 2})
	if err != nil || len(paged) != 1 || paged[0].ID != "e1" {
		t.Errorf("Unexpected page %+v (%v)", paged, err)
	}

	activations, err := repo.CountActivationsByIntersection()
	if err != nil {
		t.Fatalf("CountActivationsByIntersection failed: %v", err)
	}
	if activations["main-5th"] != 1 || activations["oak-2nd"] != 1 {
		t.Errorf("Unexpected activations %v", activations)
	}
}
