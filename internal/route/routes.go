package route

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evdetect/internal/auth"
	"evdetect/internal/config"
	"evdetect/internal/handler"
	"evdetect/internal/logger"
	"evdetect/internal/middleware"
	"evdetect/internal/repository"
)

// Deps are the services the HTTP API is built on.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	Sessions    *auth.Sessions
	Frames      handler.FrameSink
	Viewers     handler.ViewerHub
	Status      handler.StatusProvider
	Signals     handler.SignalController
	Snapshots   repository.SnapshotRepository
	Detections  repository.DetectionRepository
	Events      repository.SignalEventRepository
	Gatherer    prometheus.Gatherer
	ModelLoaded func() bool
	StartedAt   time.Time
	StaticDir   string
}

// staticPage serves /path as <dir>/path.html if the file exists; otherwise 404.
func staticPage(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(dir, filepath.Clean("/"+path)+".html")
		if _, err := os.Stat(filePath); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers pages, ingest, the JSON API and the log endpoints.
func SetupRoutes(d Deps) http.Handler {
	if d.StaticDir == "" {
		d.StaticDir = "static"
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Public
	r.Group(func(r chi.Router) {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(d.StaticDir))))
		r.Get("/login", staticPage(d.StaticDir))
		r.Post("/auth/login", handler.LoginHandler(d.Sessions, d.Logger))
		r.HandleFunc("/auth/logout", handler.LogoutHandler)

		r.Get("/health", handler.HealthHandler(d.ModelLoaded, d.StartedAt, d.Logger))
		if d.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
		}

		// cameras authenticate by network placement, not sessions
		r.Get("/api/camera", handler.CameraWebsocketHandler(d.Frames, d.Logger))
		r.Post("/api/upload", handler.UploadHandler(d.Frames, d.Logger))
	})

	// Authenticated
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(d.Sessions))

		r.Get("/api/view", handler.ViewWebsocketHandler(d.Viewers, d.Logger))
		r.Get("/api/status", handler.StatusHandler(d.Status, d.Logger))

		r.Route("/api/signals", func(r chi.Router) {
			r.Get("/", handler.ListSignalsHandler(d.Signals, d.Logger))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handler.GetSignalHandler(d.Signals, d.Logger))
				r.Post("/trigger", handler.TriggerSignalHandler(d.Signals, d.Logger))
				r.Post("/reset", handler.ResetSignalHandler(d.Signals, d.Logger))
			})
		})

		r.Get("/api/events", handler.EventsHandler(d.Logger, d.Events))

		r.Route("/api/snapshots", func(r chi.Router) {
			r.Get("/", handler.GetSnapshotsHandler(d.Config, d.Logger, d.Snapshots, d.Detections))
			r.Delete("/", handler.DeleteSnapshotHandler(d.Config, d.Logger, d.Snapshots))
			r.Delete("/all", handler.ClearSnapshotsHandler(d.Config, d.Logger, d.Snapshots))
			r.Get("/view", handler.ViewSnapshotHandler(d.Config))
			r.Get("/stats", handler.SnapshotStatsHandler(d.Logger, d.Snapshots))
		})

		r.Get("/logs/{level}", handler.ShowLogsHandler(d.Logger))
		r.Post("/logs/{level}/clear", handler.ClearLogsHandler(d.Logger))

		// /settings -> <static>/settings.html
		r.Get("/*", staticPage(d.StaticDir))
	})

	return r
}
