package vision

import (
	"fmt"
	"strings"
)

// Overlay is the status drawn onto annotated frames.
type Overlay struct {
	Detections      int64
	SignalChanges   int64
	EmergencyActive bool
	Signal          string
	FPS             float64
}

// OverlayLine is one line of the status panel. Highlight lines are drawn
// in the alert color.
type OverlayLine struct {
	Text      string
	Highlight bool
}

// Lines returns the status panel text in drawing order.
func (o Overlay) Lines() []OverlayLine {
	emergency := "NORMAL"
	if o.EmergencyActive {
		emergency = "ACTIVE"
	}
	signal := o.Signal
	if signal == "" {
		signal = "RED"
	}
	return []OverlayLine{
		{Text: fmt.Sprintf("Detections: %d", o.Detections)},
		{Text: fmt.Sprintf("Signal Changes: %d", o.SignalChanges)},
		{Text: "Emergency: " + emergency, Highlight: o.EmergencyActive},
		{Text: "Signal: " + signal, Highlight: o.EmergencyActive && signal == "GREEN"},
	}
}

// FPSText is drawn in the top left corner.
func (o Overlay) FPSText() string {
	return fmt.Sprintf("FPS: %.1f", o.FPS)
}

// DetectionLabel is the caption drawn above a bounding box, e.g. "AMBULANCE 0.87".
func DetectionLabel(d Detection) string {
	return fmt.Sprintf("%s %.2f", strings.ToUpper(d.Label), d.Confidence)
}
