package handler

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gorilla/websocket"

	"evdetect/internal/logger"
)

// maxUploadSize bounds frames posted to the upload endpoint.
const maxUploadSize = 10 << 20

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewerHub keeps track of connected viewers.
type ViewerHub interface {
	Register(client *websocket.Conn)
	Unregister(client *websocket.Conn)
}

// ViewWebsocketHandler registers viewers so they receive live frames, status and alerts.
func ViewWebsocketHandler(hub ViewerHub, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		hub.Register(connection)
		defer hub.Unregister(connection)

		logger.Info("Viewer connected")

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer disconnected normally")
				} else {
					logger.Error("Viewer disconnected with error: %v", err)
				}
				return
			}
		}
	}
}

// CameraWebsocketHandler accepts binary JPEG frames from a camera named by the "id" query parameter.
func CameraWebsocketHandler(sink FrameSink, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		camera := r.URL.Query().Get("id")
		if !isValidName(camera) {
			http.Error(w, "Camera id required", http.StatusBadRequest)
			return
		}

		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		defer connection.Close()
		connection.SetReadLimit(maxUploadSize)

		logger.Info("Camera %s connected", camera)

		for {
			messageType, data, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Camera %s disconnected", camera)
				} else {
					logger.Warning("Camera %s disconnected with error: %v", camera, err)
				}
				return
			}
			if messageType != websocket.BinaryMessage || !bytes.HasPrefix(data, jpegHeader) {
				continue
			}
			sink.HandleCameraImage(data, camera)
		}
	}
}

// UploadHandler accepts a single JPEG frame as the request body.
func UploadHandler(sink FrameSink, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		camera := r.URL.Query().Get("camera")
		if !isValidName(camera) {
			http.Error(w, "Camera name required", http.StatusBadRequest)
			return
		}

		frame, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
		if err != nil {
			http.Error(w, "Frame too large", http.StatusRequestEntityTooLarge)
			return
		}
		if !bytes.HasPrefix(frame, jpegHeader) {
			http.Error(w, "Body must be a JPEG image", http.StatusUnsupportedMediaType)
			return
		}

		sink.HandleCameraImage(frame, camera)
		writeJSON(w, logger, http.StatusAccepted, map[string]interface{}{"status": "accepted", "camera": camera, "bytes": len(frame)})
	}
}
