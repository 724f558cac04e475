package vision

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ========================================
// YOLO decoding
// ========================================

// yoloBuffer builds a [4+classes][anchors] buffer from per-anchor rows.
func yoloBuffer(classes int, anchors [][]float32) YOLOOutput {
	rows := 4 + classes
	data := make([]float32, rows*len(anchors))
	for a, values := range anchors {
		for r, v := range values {
			data[r*len(anchors)+a] = v
		}
	}
	return YOLOOutput{Data: data, Rows: rows, Anchors: len(anchors)}
}

func TestDecodeYOLOv8_ThresholdIsStrict(t *testing.T) {
	out := yoloBuffer(2, [][]float32{
		{100, 100, 40, 20, 0.9, 0.1},
		{200, 200, 40, 20, 0.7, 0.2},
		{300, 300, 40, 20, 0.1, 0.3},
	})

	dets, err := DecodeYOLOv8(out, []string{"ambulance", "car"}, 1, 1, 0.7)
	if err != nil {
		t.Fatalf("DecodeYOLOv8 failed: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("Expected 1 detection above 0.7, got %d", len(dets))
	}
	d := dets[0]
	if d.Label != "ambulance" || d.ClassID != 0 {
		t.Errorf("Unexpected class: %+v", d)
	}
	if want := (Box{X1: 80, Y1: 90, X2: 120, Y2: 110}); d.Box != want {
		t.Errorf("Expected box %+v, got %+v", want, d.Box)
	}
}

func TestDecodeYOLOv8_ScalesToFrame(t *testing.T) {
	out := yoloBuffer(1, [][]float32{{320, 320, 64, 64, 0.95}})

	dets, err := DecodeYOLOv8(out, []string{"ambulance"}, 2, 0.5, 0.5)
	if err != nil {
		t.Fatalf("DecodeYOLOv8 failed: %v", err)
	}
	if want := (Box{X1: 576, Y1: 144, X2: 704, Y2: 176}); dets[0].Box != want {
		t.Errorf("Expected %+v, got %+v", want, dets[0].Box)
	}
}

func TestDecodeYOLOv8_ShapeErrors(t *testing.T) {
	tests := []struct {
		name    string
		out     YOLOOutput
		classes []string
	}{
		{"too few rows", YOLOOutput{Data: make([]float32, 8), Rows: 4, Anchors: 2}, nil},
		{"short buffer", YOLOOutput{Data: make([]float32, 5), Rows: 5, Anchors: 2}, nil},
		{"class mismatch", YOLOOutput{Data: make([]float32, 12), Rows: 6, Anchors: 2}, []string{"ambulance"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeYOLOv8(tt.out, tt.classes, 1, 1, 0.5); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

// ========================================
// Suppression and filtering
// ========================================

func TestIoU(t *testing.T) {
	a := Box{0, 0, 10, 10}
	if got := IoU(a, a); got != 1 {
		t.Errorf("Identical boxes should have IoU 1, got %v", got)
	}
	if got := IoU(a, Box{20, 20, 30, 30}); got != 0 {
		t.Errorf("Disjoint boxes should have IoU 0, got %v", got)
	}
	got := IoU(a, Box{5, 0, 15, 10})
	if math.Abs(got-1.0/3.0) > 1e-9 {
		t.Errorf("Expected 1/3, got %v", got)
	}
}

func TestNMS_SuppressesOverlapsPerClass(t *testing.T) {
	dets := []Detection{
		{Label: "ambulance", ClassID: 0, Confidence: 0.8, Box: Box{0, 0, 100, 100}},
		{Label: "ambulance", ClassID: 0, Confidence: 0.95, Box: Box{5, 5, 105, 105}},
		{Label: "car", ClassID: 1, Confidence: 0.9, Box: Box{0, 0, 100, 100}},
		{Label: "ambulance", ClassID: 0, Confidence: 0.75, Box: Box{300, 300, 400, 400}},
	}

	kept := NMS(dets, 0.45)
	if len(kept) != 3 {
		t.Fatalf("Expected 3 detections, got %d: %+v", len(kept), kept)
	}
	if kept[0].Confidence != 0.95 {
		t.Errorf("Most confident box should come first, got %v", kept[0].Confidence)
	}
	for _, d := range kept {
		if d.Confidence == 0.8 {
			t.Error("Overlapping lower-confidence ambulance should be suppressed")
		}
	}
}

func TestFilterLabel_CaseInsensitive(t *testing.T) {
	dets := []Detection{
		{Label: "Ambulance", Confidence: 0.9},
		{Label: "car", Confidence: 0.9},
		{Label: "AMBULANCE", Confidence: 0.8},
	}
	got := FilterLabel(dets, "ambulance")
	if len(got) != 2 {
		t.Fatalf("Expected 2 ambulances, got %d", len(got))
	}
	if MaxConfidence(got) != 0.9 {
		t.Errorf("Expected max confidence 0.9, got %v", MaxConfidence(got))
	}
	if MaxConfidence(nil) != 0 {
		t.Error("Expected 0 for no detections")
	}
}

func TestBox_Clamp(t *testing.T) {
	b := Box{-5, -5, 700, 500}.Clamp(640, 480)
	if b != (Box{0, 0, 640, 480}) {
		t.Errorf("Unexpected clamp result %+v", b)
	}
}

// ========================================
// Class names and FPS
// ========================================

func TestLoadClassNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.txt")
	if err := os.WriteFile(path, []byte("car\n\nambulance\n\n"), 0644); err != nil {
		t.Fatalf("Failed to write classes: %v", err)
	}

	names, err := LoadClassNames(path)
	if err != nil {
		t.Fatalf("LoadClassNames failed: %v", err)
	}
	if len(names) != 3 || names[2] != "ambulance" {
		t.Errorf("Unexpected names: %q", names)
	}
	if got := ClassLabel(names, 1); got != "class1" {
		t.Errorf("Blank name should fall back to class id, got %s", got)
	}
}

func TestFPSCounter_RollingAverage(t *testing.T) {
	var c FPSCounter
	if c.Average() != 0 {
		t.Error("Empty counter should average 0")
	}

	c.Observe(100 * time.Millisecond)
	c.Observe(50 * time.Millisecond)
	if got := c.Average(); math.Abs(got-15) > 1e-9 {
		t.Errorf("Expected 15 fps, got %v", got)
	}

	for i := 0; i < FPSWindow; i++ {
		c.Observe(time.Second)
	}
	if got := c.Average(); math.Abs(got-1) > 1e-9 {
		t.Errorf("Old samples should roll out, got %v", got)
	}
}

func TestOverlay_Lines(t *testing.T) {
	o := Overlay{Detections: 3, SignalChanges: 1, EmergencyActive: true, Signal: "GREEN", FPS: 24.46}
	lines := o.Lines()

	want := []OverlayLine{
		{Text: "Detections: 3"},
		{Text: "Signal Changes: 1"},
		{Text: "Emergency: ACTIVE", Highlight: true},
		{Text: "Signal: GREEN", Highlight: true},
	}
	if len(lines) != len(want) {
		t.Fatalf("Expected %d lines, got %d", len(want), len(lines))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("Line %d: expected %+v, got %+v", i, want[i], lines[i])
		}
	}
	if got := o.FPSText(); got != "FPS: 24.5" {
		t.Errorf("Unexpected FPS text %q", got)
	}

	normal := Overlay{}.Lines()
	if normal[2].Text != "Emergency: NORMAL" || normal[2].Highlight || normal[3].Text != "Signal: RED" {
		t.Errorf("Unexpected idle overlay: %+v", normal)
	}
}

func TestDetectionLabel(t *testing.T) {
	if got := DetectionLabel(Detection{Label: "ambulance", Confidence: 0.8712}); got != "AMBULANCE 0.87" {
		t.Errorf("Unexpected label %q", got)
	}
}
