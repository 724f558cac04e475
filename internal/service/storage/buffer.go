// Package storage keeps annotated emergency snapshots on disk and in the database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"evdetect/internal/config"
	"evdetect/internal/dto"
	"evdetect/internal/logger"
	"evdetect/internal/metrics"
	"evdetect/internal/model"
	"evdetect/internal/repository"
	"evdetect/internal/vision"
)

// TimestampLayout prefixes every snapshot filename.
const TimestampLayout = "2006-01-02_15-04-05.000"

const maxNameSuffix = 1000

// BufferService buffers snapshots in memory and periodically flushes them to disk.
type BufferService struct {
	imagesDir     string
	limit         int
	interval      time.Duration
	snapshots     []dto.BufferedSnapshot
	bufferCount   map[string]int
	mu            sync.Mutex
	logger        *logger.Logger
	metrics       *metrics.Metrics
	snapshotRepo  repository.SnapshotRepository
	detectionRepo repository.DetectionRepository
	now           func() time.Time
}

// NewBufferService creates a BufferService. Repositories may be nil, in which
// case snapshots are only written to disk.
func NewBufferService(cfg *config.Config, logger *logger.Logger, m *metrics.Metrics, snapshotRepo repository.SnapshotRepository, detectionRepo repository.DetectionRepository) *BufferService {
	if m == nil {
		m = metrics.New(nil)
	}
	interval := cfg.ImageBufferFlushInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &BufferService{
		imagesDir:     cfg.ImageDirectory,
		limit:         cfg.ImageBufferLimit,
		interval:      interval,
		bufferCount:   make(map[string]int),
		logger:        logger,
		metrics:       m,
		snapshotRepo:  snapshotRepo,
		detectionRepo: detectionRepo,
		now:           time.Now,
	}
}

// Run flushes on every interval until ctx is cancelled, then flushes once more.
func (s *BufferService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.FlushSnapshots()
			return
		case <-ticker.C:
			s.FlushSnapshots()
		}
	}
}

// AddSnapshot buffers an annotated frame. Frames beyond the per-camera limit
// are discarded until the next flush; the result reports whether it was kept.
func (s *BufferService) AddSnapshot(data []byte, camera, intersection string, detections []vision.Detection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limit > 0 && s.bufferCount[camera] >= s.limit {
		return false
	}

	s.snapshots = append(s.snapshots, dto.BufferedSnapshot{
		Timestamp:    s.now(),
		Camera:       camera,
		Intersection: intersection,
		Detections:   detections,
		Data:         data,
	})
	s.bufferCount[camera]++
	s.metrics.SnapshotBuffer.Set(float64(len(s.snapshots)))
	return true
}

// Pending returns the number of buffered snapshots.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// FlushSnapshots writes buffered snapshots to disk and the database and resets
// the buffer. It returns how many were saved.
func (s *BufferService) FlushSnapshots() int {
	s.mu.Lock()
	pending := s.snapshots
	s.snapshots = nil
	s.bufferCount = make(map[string]int)
	s.metrics.SnapshotBuffer.Set(0)
	s.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	saved := 0
	for _, snap := range pending {
		if err := s.save(snap); err != nil {
			s.logger.Error("%v", err)
			continue
		}
		saved++
	}

	s.logger.Info("Flushed %d snapshots to disk", saved)
	return saved
}

func (s *BufferService) save(snap dto.BufferedSnapshot) error {
	filename, err := s.writeUnique(SnapshotFilename(snap.Timestamp, snap.Camera, snap.Detections), snap.Data)
	if err != nil {
		return err
	}
	fullpath := filepath.Join(s.imagesDir, filename)

	if s.snapshotRepo == nil {
		return nil
	}

	id, err := s.snapshotRepo.Insert(&model.Snapshot{
		Filename:     filename,
		Camera:       snap.Camera,
		Intersection: snap.Intersection,
		Timestamp:    snap.Timestamp,
		FilePath:     fullpath,
		FileSize:     int64(len(snap.Data)),
	})
	if err != nil {
		os.Remove(fullpath)
		return fmt.Errorf("error saving snapshot to database %s: %w", filename, err)
	}

	if s.detectionRepo == nil || len(snap.Detections) == 0 {
		return nil
	}

	rows := make([]model.Detection, 0, len(snap.Detections))
	for _, d := range snap.Detections {
		rows = append(rows, model.Detection{
			SnapshotID: id,
			Label:      d.Label,
			Confidence: d.Confidence,
			X1:         d.Box.X1,
			Y1:         d.Box.Y1,
			X2:         d.Box.X2,
			Y2:         d.Box.Y2,
		})
	}
	if err := s.detectionRepo.InsertBatch(rows); err != nil {
		return fmt.Errorf("error saving detections for %s: %w", filename, err)
	}
	return nil
}

// writeUnique creates name in the images directory without replacing an
// existing file. On collision it tries name with a "_2", "_3", ... suffix.
func (s *BufferService) writeUnique(name string, data []byte) (string, error) {
	base := strings.TrimSuffix(name, ".jpg")
	for n := 1; n <= maxNameSuffix; n++ {
		candidate := name
		if n > 1 {
			candidate = fmt.Sprintf("%s_%d.jpg", base, n)
		}

		f, err := os.OpenFile(filepath.Join(s.imagesDir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("error saving snapshot %s: %w", candidate, err)
		}

		_, err = f.Write(data)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(f.Name())
			return "", fmt.Errorf("error saving snapshot %s: %w", candidate, err)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("error saving snapshot %s: too many files with the same name", name)
}

// SnapshotFilename builds "<timestamp>_<camera>_<label+label>.jpg". Camera and
// labels are sanitized so the name can be parsed back.
func SnapshotFilename(ts time.Time, camera string, detections []vision.Detection) string {
	seen := make(map[string]bool)
	var labels []string
	for _, d := range detections {
		l := sanitize(strings.ToLower(d.Label))
		if l != "" && !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	sort.Strings(labels)

	return fmt.Sprintf("%s_%s_%s.jpg", ts.Format(TimestampLayout), sanitize(camera), strings.Join(labels, "+"))
}

// ParseFilename recovers timestamp, camera and labels from a snapshot filename.
func ParseFilename(name string) (time.Time, string, []string, error) {
	base := strings.TrimSuffix(filepath.Base(name), ".jpg")
	if len(base) < len(TimestampLayout)+2 || base[len(TimestampLayout)] != '_' {
		return time.Time{}, "", nil, fmt.Errorf("invalid snapshot filename: %s", name)
	}

	ts, err := time.ParseInLocation(TimestampLayout, base[:len(TimestampLayout)], time.Local)
	if err != nil {
		return time.Time{}, "", nil, fmt.Errorf("invalid snapshot timestamp in %s: %w", name, err)
	}

	camera, rawLabels, ok := strings.Cut(base[len(TimestampLayout)+1:], "_")
	if !ok || camera == "" {
		return time.Time{}, "", nil, fmt.Errorf("missing camera in snapshot filename: %s", name)
	}

	// "_N" is a collision suffix added by writeUnique
	rawLabels, _, _ = strings.Cut(rawLabels, "_")

	var labels []string
	for _, l := range strings.Split(rawLabels, "+") {
		if l != "" {
			labels = append(labels, l)
		}
	}
	return ts, camera, labels, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '-'
		}
	}, s)
}
