package dto

import (
	"time"

	"evdetect/internal/vision"
)

// BufferedSnapshot holds an annotated frame and its detections before flushing to disk.
type BufferedSnapshot struct {
	Timestamp    time.Time
	Camera       string
	Intersection string
	Detections   []vision.Detection
	Data         []byte
}
