package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"evdetect/internal/auth"
	"evdetect/internal/config"
	"evdetect/internal/handler"
	"evdetect/internal/logger"
	"evdetect/internal/metrics"
	"evdetect/internal/repository/sqlite"
	"evdetect/internal/route"
	"evdetect/internal/service"
	"evdetect/internal/service/ai"
	"evdetect/internal/service/alert"
	"evdetect/internal/service/preemption"
	"evdetect/internal/service/signal"
	"evdetect/internal/service/storage"
	"evdetect/internal/service/video"
	"evdetect/internal/service/websocket"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *config.Config
	logger    *logger.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	startedAt time.Time

	db         *sqlite.DB
	detectors  []*ai.DetectorService
	buffer     *storage.BufferService
	hub        *websocket.HubService
	preemption *preemption.Controller
	manager    *service.Manager
	capture    *video.CaptureService
	redis      *redis.Client
	kafka      *alert.KafkaSink
	server     *http.Server
}

// NewApp builds every service. Nothing runs until Run is called.
func NewApp(cfg *config.Config, log *logger.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &App{
		config:    cfg,
		logger:    log,
		registry:  registry,
		metrics:   m,
		startedAt: time.Now(),
		db:        db,
		hub:       websocket.NewHubService(log),
	}

	snapshotRepo := sqlite.NewSnapshotRepository(db)
	detectionRepo := sqlite.NewDetectionRepository(db)
	eventRepo := sqlite.NewSignalEventRepository(db)

	dispatcher := alert.NewDispatcher(log, a.hub)
	if sink := alert.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAlertTopic); sink != nil {
		a.kafka = sink
		dispatcher.AddSink(sink)
		log.Info("Alerts are also written to Kafka topic %s", cfg.KafkaAlertTopic)
	}

	a.preemption = preemption.NewController(preemption.Options{
		HoldDuration:    cfg.HoldDuration,
		MinConsecutive:  cfg.MinConsecutive,
		Intersections:   knownIntersections(cfg),
		IntersectionFor: cfg.IntersectionFor,
	}, a.newPublisher(), eventRepo, dispatcher, m, log)

	a.buffer = storage.NewBufferService(cfg, log, m, snapshotRepo, detectionRepo)

	detectors := make([]service.Detector, 0, cfg.ProcessingWorkers)
	for i := 0; i < cfg.ProcessingWorkers; i++ {
		d := ai.NewDetectorService(cfg, log)
		a.detectors = append(a.detectors, d)
		detectors = append(detectors, d)
	}

	a.manager = service.NewManager(cfg, detectors, a.preemption, a.buffer, a.hub, m, log)

	if len(cfg.VideoSources) > 0 {
		a.capture = video.NewCaptureService(cfg.VideoSources, a.manager.HandleCameraImage, log)
	}

	router := route.SetupRoutes(route.Deps{
		Config:      cfg,
		Logger:      log,
		Sessions:    auth.NewSessions(cfg),
		Frames:      a.manager,
		Viewers:     a.hub,
		Status:      a.manager,
		Signals:     a.preemption,
		Snapshots:   snapshotRepo,
		Detections:  detectionRepo,
		Events:      eventRepo,
		Gatherer:    registry,
		ModelLoaded: a.modelLoaded,
		StartedAt:   a.startedAt,
	})

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Password == "" && cfg.PasswordHash == "" {
		log.Warning("No PASSWORD or PASSWORD_HASH set - dashboard login is disabled")
	}
	return a, nil
}

// newPublisher uses Redis when configured and falls back to logging commands.
func (a *App) newPublisher() signal.Publisher {
	if a.config.RedisAddr == "" {
		a.logger.Warning("REDIS_ADDR not set - signal commands are only logged")
		return signal.NewLogPublisher(a.logger)
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.config.RedisAddr,
		Password: a.config.RedisPassword,
		DB:       a.config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.redis.Ping(ctx).Err(); err != nil {
		a.logger.Warning("Redis at %s not reachable yet: %v", a.config.RedisAddr, err)
	}

	opts := signal.DefaultReliableOptions()
	opts.RateLimit = a.config.SignalRateLimit
	opts.OnStateChange = func(name string, to gobreaker.State) {
		a.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		if to == gobreaker.StateOpen {
			a.logger.Error("Circuit %s opened - signal controllers unreachable", name)
		} else {
			a.logger.Info("Circuit %s is now %s", name, to)
		}
	}
	a.metrics.CircuitBreakerState.WithLabelValues("signal-bus").Set(0)

	a.logger.Info("Signal commands published to Redis %s (prefix %s)", a.config.RedisAddr, a.config.SignalChannelPrefix)
	return signal.NewReliablePublisher(signal.NewRedisPublisher(a.redis, a.config.SignalChannelPrefix), opts)
}

func (a *App) modelLoaded() bool {
	for _, d := range a.detectors {
		if !d.Loaded() {
			return false
		}
	}
	return len(a.detectors) > 0
}

// knownIntersections lists every intersection reachable from configured cameras.
func knownIntersections(cfg *config.Config) []string {
	seen := make(map[string]bool)
	for _, id := range cfg.CameraIntersections {
		seen[id] = true
	}
	for _, camera := range cfg.CameraNames {
		seen[cfg.IntersectionFor(camera)] = true
	}
	for camera := range cfg.VideoSources {
		seen[cfg.IntersectionFor(camera)] = true
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Run serves until ctx is cancelled, then shuts down in order: stop intake,
// drain workers, return signals to RED, flush snapshots.
func (a *App) Run(ctx context.Context) error {
	ctx, stopIngest := context.WithCancel(ctx)
	defer stopIngest()

	// hub and buffer outlive ctx so shutdown can still notify and flush
	hubCtx, stopHub := context.WithCancel(context.Background())
	bufferCtx, stopBuffer := context.WithCancel(context.Background())
	defer stopHub()
	defer stopBuffer()

	var background sync.WaitGroup
	background.Add(2)
	go func() { defer background.Done(); a.hub.Run(hubCtx) }()
	go func() { defer background.Done(); a.buffer.Run(bufferCtx) }()

	var ingest sync.WaitGroup
	if a.config.CamerasPort > 0 {
		ingest.Add(1)
		go func() {
			defer ingest.Done()
			if err := handler.UDPCameraHandler(ctx, a.manager, a.logger, a.config); err != nil {
				a.logger.Error("UDP camera handler: %v", err)
			}
		}()
	}
	if a.capture != nil {
		ingest.Add(1)
		go func() { defer ingest.Done(); a.capture.Run(ctx) }()
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("🚀 Emergency vehicle detection server on http://localhost%s", a.server.Addr)
		a.logger.Info("📁 Snapshots: %s", a.config.ImageDirectory)
		a.logger.Info("🤖 Model: %s (target %q, confidence > %.2f)", a.config.ModelPath, a.config.TargetClass, a.config.ConfidenceThreshold)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down")
	case err := <-serverErr:
		runErr = err
		a.logger.Error("HTTP server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP shutdown: %v", err)
	}
	stopIngest()
	ingest.Wait()
	a.manager.Stop()

	if err := a.preemption.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Some signals could not be returned to normal: %v", err)
	}

	stopBuffer()
	stopHub()
	background.Wait()

	a.close()
	return runErr
}

func (a *App) close() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Error("Kafka writer close: %v", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("Redis close: %v", err)
		}
	}
	for _, d := range a.detectors {
		d.Close()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("Database close: %v", err)
	}
}
