package model

import "time"

// SignalState is the aspect a traffic signal shows toward the emergency approach.
type SignalState string

const (
	SignalRed   SignalState = "RED"
	SignalGreen SignalState = "GREEN"
)

// Reasons recorded on signal events.
const (
	ReasonDetection = "detection"
	ReasonManual    = "manual"
	ReasonTimeout   = "timeout"
	ReasonShutdown  = "shutdown"
)

// SignalEvent records one preemption transition of an intersection.
type SignalEvent struct {
	ID           string      `json:"id"`
	Intersection string      `json:"intersection"`
	Camera       string      `json:"camera,omitempty"`
	State        SignalState `json:"state"`
	Reason       string      `json:"reason"`
	Confidence   float64     `json:"confidence"`
	PublishError string      `json:"publish_error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// AlertType distinguishes activation from reset alerts.
type AlertType string

const (
	AlertActivated AlertType = "activated"
	AlertReset     AlertType = "reset"
)

// Alert is emitted to operators whenever an emergency protocol starts or ends.
type Alert struct {
	ID           string      `json:"id"`
	Type         AlertType   `json:"type"`
	Intersection string      `json:"intersection"`
	Camera       string      `json:"camera,omitempty"`
	State        SignalState `json:"state"`
	Confidence   float64     `json:"confidence,omitempty"`
	Reason       string      `json:"reason"`
	At           time.Time   `json:"at"`
}
