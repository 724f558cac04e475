// Package service wires camera frames through detection, preemption and storage.
package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"evdetect/internal/config"
	"evdetect/internal/dto"
	"evdetect/internal/logger"
	"evdetect/internal/metrics"
	"evdetect/internal/service/preemption"
	"evdetect/internal/vision"
)

// Detector finds emergency vehicles in JPEG frames. Implementations need not
// be safe for concurrent use; every worker owns one.
type Detector interface {
	Detect(frame []byte) ([]vision.Detection, error)
	DetectMotion(frame []byte, camera string) (bool, error)
	Annotate(frame []byte, detections []vision.Detection, overlay vision.Overlay) ([]byte, error)
}

// Preemptor is the emergency protocol the pipeline feeds.
type Preemptor interface {
	Observe(ctx context.Context, camera string, detections []vision.Detection) (bool, error)
	IntersectionFor(camera string) string
	Get(id string) (dto.IntersectionStatus, error)
	Snapshot() []dto.IntersectionStatus
	Stats() (signalChanges int64, active int)
}

// SnapshotStore keeps annotated frames with detections.
type SnapshotStore interface {
	AddSnapshot(data []byte, camera, intersection string, detections []vision.Detection) bool
}

// Broadcaster pushes live frames and status to viewers.
type Broadcaster interface {
	BroadcastFrame(image []byte, camera string)
	BroadcastJSON(v interface{}) error
	GetClientCount() int
}

type frameTask struct {
	frame      []byte
	camera     string
	receivedAt time.Time
}

type cameraStats struct {
	received      int64
	processed     int64
	detections    int64
	lastDetection time.Time
	fps           vision.FPSCounter
}

type Manager struct {
	detectors  []Detector
	preemption Preemptor
	snapshots  SnapshotStore
	viewers    Broadcaster
	metrics    *metrics.Metrics
	logger     *logger.Logger

	processingQueue chan frameTask
	processEveryNth int
	frameCounters   map[string]int
	cameras         map[string]*cameraStats
	mu              sync.Mutex

	framesReceived  atomic.Int64
	framesProcessed atomic.Int64
	framesDropped   atomic.Int64
	totalDetections atomic.Int64
	startedAt       time.Time

	// guards processingQueue against sends after Stop closes it
	stopMu  sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewManager starts one processing worker per detector.
func NewManager(cfg *config.Config, detectors []Detector, preemption Preemptor, snapshots SnapshotStore, viewers Broadcaster, m *metrics.Metrics, logger *logger.Logger) *Manager {
	if m == nil {
		m = metrics.New(nil)
	}
	every := cfg.ProcessingInterval
	if every <= 0 {
		every = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}

	manager := &Manager{
		detectors:       detectors,
		preemption:      preemption,
		snapshots:       snapshots,
		viewers:         viewers,
		metrics:         m,
		logger:          logger,
		processingQueue: make(chan frameTask, queueSize),
		processEveryNth: every,
		frameCounters:   make(map[string]int),
		cameras:         make(map[string]*cameraStats),
		startedAt:       time.Now(),
	}

	for i, d := range detectors {
		manager.wg.Add(1)
		go manager.processingWorker(i, d)
	}

	manager.logger.Info("🎬 Manager started - %d worker(s), processing every %d frame(s)", len(detectors), every)
	return manager
}

// HandleCameraImage accepts one JPEG frame from a camera. The frame always
// goes to live viewers; every Nth frame that passes the motion gate is
// queued for detection. A full queue drops the frame.
func (m *Manager) HandleCameraImage(frame []byte, camera string) {
	now := time.Now()
	m.framesReceived.Add(1)
	m.metrics.FramesReceived.WithLabelValues(camera).Inc()

	m.mu.Lock()
	m.cameraLocked(camera).received++
	m.frameCounters[camera]++
	due := m.frameCounters[camera] >= m.processEveryNth
	if due {
		m.frameCounters[camera] = 0
	}
	m.mu.Unlock()

	if m.viewers != nil {
		m.viewers.BroadcastFrame(frame, camera)
	}

	if !due || len(m.detectors) == 0 {
		return
	}

	motion, err := m.detectors[0].DetectMotion(frame, camera)
	if err != nil {
		m.logger.Error("Error detecting motion for camera %s: %v", camera, err)
		return
	}
	if !motion {
		return
	}

	m.stopMu.RLock()
	defer m.stopMu.RUnlock()
	if m.stopped {
		return
	}

	select {
	case m.processingQueue <- frameTask{frame: frame, camera: camera, receivedAt: now}:
	default:
		m.framesDropped.Add(1)
		m.metrics.FramesDropped.WithLabelValues(camera).Inc()
		m.logger.Warning("⚠️  Processing queue full for camera %s - skipping detection", camera)
	}
}

func (m *Manager) cameraLocked(camera string) *cameraStats {
	cs, ok := m.cameras[camera]
	if !ok {
		cs = &cameraStats{}
		m.cameras[camera] = cs
	}
	return cs
}

func (m *Manager) processingWorker(workerID int, detector Detector) {
	defer m.wg.Done()

	m.logger.Info("🔧 Processing worker %d started", workerID)
	for task := range m.processingQueue {
		m.processFrame(task, detector)
	}
	m.logger.Info("🔧 Processing worker %d stopped", workerID)
}

func (m *Manager) processFrame(task frameTask, detector Detector) {
	start := time.Now()

	detections, err := detector.Detect(task.frame)
	m.metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.logger.Error("Error detecting objects for camera %s: %v", task.camera, err)
		return
	}

	m.framesProcessed.Add(1)
	m.metrics.FramesProcessed.WithLabelValues(task.camera).Inc()

	if n := int64(len(detections)); n > 0 {
		m.totalDetections.Add(n)
		m.metrics.Detections.WithLabelValues(task.camera).Add(float64(n))
	}

	triggered, err := m.preemption.Observe(context.Background(), task.camera, detections)
	if err != nil && !errors.Is(err, preemption.ErrClosed) {
		m.logger.Warning("Preemption for camera %s: %v", task.camera, err)
	}
	if triggered {
		m.metrics.PreemptLatency.Observe(time.Since(task.receivedAt).Seconds())
	}

	m.mu.Lock()
	cs := m.cameraLocked(task.camera)
	cs.processed++
	if len(detections) > 0 {
		cs.detections += int64(len(detections))
		cs.lastDetection = time.Now()
	}
	m.mu.Unlock()

	if len(detections) > 0 {
		m.keepSnapshot(task, detections, detector, &cs.fps)
	}

	cs.fps.Observe(time.Since(start))
	m.broadcastStatus()
}

func (m *Manager) keepSnapshot(task frameTask, detections []vision.Detection, detector Detector, fps *vision.FPSCounter) {
	intersection := m.preemption.IntersectionFor(task.camera)
	st, _ := m.preemption.Get(intersection)
	changes, _ := m.preemption.Stats()

	overlay := vision.Overlay{
		Detections:      m.totalDetections.Load(),
		SignalChanges:   changes,
		EmergencyActive: st.EmergencyActive,
		Signal:          st.Signal,
		FPS:             fps.Average(),
	}

	annotated, err := detector.Annotate(task.frame, detections, overlay)
	if err != nil {
		m.logger.Error("Failed to annotate frame from %s: %v", task.camera, err)
		annotated = task.frame
	}

	m.logger.Info("🚑 Camera %s: %d emergency vehicle(s), best confidence %.2f", task.camera, len(detections), vision.MaxConfidence(detections))

	if m.snapshots != nil {
		m.snapshots.AddSnapshot(annotated, task.camera, intersection, detections)
	}
}

func (m *Manager) broadcastStatus() {
	if m.viewers == nil || m.viewers.GetClientCount() == 0 {
		return
	}
	if err := m.viewers.BroadcastJSON(m.Status()); err != nil {
		m.logger.Error("Failed to broadcast status: %v", err)
	}
}

// Status returns the pipeline analytics and every intersection's signal.
func (m *Manager) Status() dto.SystemStatus {
	changes, active := m.preemption.Stats()

	status := dto.SystemStatus{
		Type:            "status",
		StartedAt:       m.startedAt,
		FramesReceived:  m.framesReceived.Load(),
		FramesProcessed: m.framesProcessed.Load(),
		FramesDropped:   m.framesDropped.Load(),
		TotalDetections: m.totalDetections.Load(),
		SignalChanges:   changes,
		ActiveEmergency: active,
		Intersections:   m.preemption.Snapshot(),
	}
	if m.viewers != nil {
		status.Viewers = m.viewers.GetClientCount()
	}

	m.mu.Lock()
	for name, cs := range m.cameras {
		status.Cameras = append(status.Cameras, dto.CameraStatus{
			Camera:          name,
			Intersection:    m.preemption.IntersectionFor(name),
			FramesReceived:  cs.received,
			FramesProcessed: cs.processed,
			Detections:      cs.detections,
			FPS:             cs.fps.Average(),
			LastDetection:   cs.lastDetection,
		})
	}
	m.mu.Unlock()

	sort.Slice(status.Cameras, func(i, j int) bool { return status.Cameras[i].Camera < status.Cameras[j].Camera })
	return status
}

// Stop stops accepting frames and waits for queued ones to be processed.
func (m *Manager) Stop() {
	m.stopMu.Lock()
	if m.stopped {
		m.stopMu.Unlock()
		return
	}
	m.stopped = true
	close(m.processingQueue)
	m.stopMu.Unlock()

	m.wg.Wait()
	m.logger.Info("🛑 All processing workers stopped")
}
