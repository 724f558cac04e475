package handler

import (
	"net/http"
	"time"

	"evdetect/internal/logger"
)

// HealthHandler reports liveness and whether the detection model is loaded.
func HealthHandler(modelLoaded func() bool, startedAt time.Time, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		loaded := modelLoaded == nil || modelLoaded()
		if !loaded {
			status = "degraded"
		}
		writeJSON(w, logger, http.StatusOK, map[string]interface{}{
			"status":       status,
			"model_loaded": loaded,
			"uptime":       time.Since(startedAt).Round(time.Second).String(),
		})
	}
}
