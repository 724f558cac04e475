package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"evdetect/internal/dto"
	"evdetect/internal/logger"
	"evdetect/internal/model"
	"evdetect/internal/service/preemption"
)

// SignalController is the manual side of the emergency protocol.
type SignalController interface {
	Snapshot() []dto.IntersectionStatus
	Get(id string) (dto.IntersectionStatus, error)
	Trigger(ctx context.Context, id, source string) (bool, error)
	Reset(ctx context.Context, id, reason string) (bool, error)
}

// StatusProvider reports live pipeline analytics.
type StatusProvider interface {
	Status() dto.SystemStatus
}

type signalResponse struct {
	Changed      bool                   `json:"changed"`
	PublishError string                 `json:"publish_error,omitempty"`
	Intersection dto.IntersectionStatus `json:"intersection"`
}

// StatusHandler returns frame, detection and signal counters.
func StatusHandler(status StatusProvider, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, status.Status())
	}
}

// ListSignalsHandler returns every known intersection.
func ListSignalsHandler(ctrl SignalController, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, ctrl.Snapshot())
	}
}

// GetSignalHandler returns one intersection.
func GetSignalHandler(ctrl SignalController, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := ctrl.Get(chi.URLParam(r, "id"))
		if err != nil {
			signalError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, st)
	}
}

// TriggerSignalHandler starts the emergency protocol by hand.
func TriggerSignalHandler(ctrl SignalController, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		changed, err := ctrl.Trigger(r.Context(), id, "operator")
		respondTransition(w, logger, ctrl, id, changed, err)
		if changed {
			logger.Info("Operator triggered emergency protocol at %s", id)
		}
	}
}

// ResetSignalHandler ends the emergency protocol by hand.
func ResetSignalHandler(ctrl SignalController, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		changed, err := ctrl.Reset(r.Context(), id, model.ReasonManual)
		respondTransition(w, logger, ctrl, id, changed, err)
		if changed {
			logger.Info("Operator reset emergency protocol at %s", id)
		}
	}
}

// respondTransition reports the new state. A publish failure after the state
// changed is returned alongside the state rather than as an error status.
func respondTransition(w http.ResponseWriter, logger *logger.Logger, ctrl SignalController, id string, changed bool, err error) {
	if err != nil && !changed {
		signalError(w, logger, err)
		return
	}

	st, getErr := ctrl.Get(id)
	if getErr != nil {
		signalError(w, logger, getErr)
		return
	}

	resp := signalResponse{Changed: changed, Intersection: st}
	if err != nil {
		resp.PublishError = err.Error()
	}
	writeJSON(w, logger, http.StatusOK, resp)
}

func signalError(w http.ResponseWriter, logger *logger.Logger, err error) {
	switch {
	case errors.Is(err, preemption.ErrUnknownIntersection):
		writeError(w, logger, http.StatusNotFound, err.Error())
	case errors.Is(err, preemption.ErrClosed):
		writeError(w, logger, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("Signal operation failed: %v", err)
		writeError(w, logger, http.StatusInternalServerError, "Internal Server Error")
	}
}
