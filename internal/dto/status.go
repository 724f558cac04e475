package dto

import "time"

// CameraStatus is the live view of one camera's pipeline.
type CameraStatus struct {
	Camera          string    `json:"camera"`
	Intersection    string    `json:"intersection"`
	FramesReceived  int64     `json:"frames_received"`
	FramesProcessed int64     `json:"frames_processed"`
	Detections      int64     `json:"detections"`
	FPS             float64   `json:"fps"`
	LastDetection   time.Time `json:"last_detection,omitempty"`
}

// IntersectionStatus is the live signal state of one intersection.
type IntersectionStatus struct {
	ID              string    `json:"id"`
	Signal          string    `json:"signal"`
	EmergencyActive bool      `json:"emergency_active"`
	ActivatedAt     time.Time `json:"activated_at,omitempty"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
	TriggeredBy     string    `json:"triggered_by,omitempty"`
	Activations     int       `json:"activations"`
}

// SystemStatus aggregates pipeline and preemption counters.
type SystemStatus struct {
	Type            string               `json:"type"`
	StartedAt       time.Time            `json:"started_at"`
	FramesReceived  int64                `json:"frames_received"`
	FramesProcessed int64                `json:"frames_processed"`
	FramesDropped   int64                `json:"frames_dropped"`
	TotalDetections int64                `json:"total_detections"`
	SignalChanges   int64                `json:"signal_changes"`
	ActiveEmergency int                  `json:"active_emergencies"`
	Viewers         int                  `json:"viewers"`
	Cameras         []CameraStatus       `json:"cameras"`
	Intersections   []IntersectionStatus `json:"intersections"`
}
