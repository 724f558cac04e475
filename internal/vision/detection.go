// Package vision holds the model-independent parts of emergency vehicle
// detection: decoding raw network output, suppression and label filtering.
package vision

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Box is an axis-aligned rectangle in frame pixels, X2/Y2 exclusive.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width of the box, never negative.
func (b Box) Width() int {
	if b.X2 < b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

// Height of the box, never negative.
func (b Box) Height() int {
	if b.Y2 < b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

// Area of the box.
func (b Box) Area() int {
	return b.Width() * b.Height()
}

// Clamp restricts the box to a width x height frame.
func (b Box) Clamp(width, height int) Box {
	return Box{
		X1: clamp(b.X1, 0, width),
		Y1: clamp(b.Y1, 0, height),
		X2: clamp(b.X2, 0, width),
		Y2: clamp(b.Y2, 0, height),
	}
}

// Detection is a single object found in a frame.
type Detection struct {
	Label      string  `json:"label"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"bbox"`
}

// FilterLabel keeps detections whose label matches, ignoring case.
func FilterLabel(dets []Detection, label string) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if strings.EqualFold(d.Label, label) {
			out = append(out, d)
		}
	}
	return out
}

// MaxConfidence returns the highest confidence among dets, 0 when empty.
func MaxConfidence(dets []Detection) float64 {
	best := 0.0
	for _, d := range dets {
		if d.Confidence > best {
			best = d.Confidence
		}
	}
	return best
}

// LoadClassNames reads one class name per line. Blank lines keep their
// index so class ids stay aligned with the model.
func LoadClassNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open class names: %w", err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		names = append(names, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read class names: %w", err)
	}
	for len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("class names file %s is empty", path)
	}
	return names, nil
}

// ClassLabel maps a class id to its name.
func ClassLabel(classes []string, id int) string {
	if id >= 0 && id < len(classes) && classes[id] != "" {
		return classes[id]
	}
	return fmt.Sprintf("class%d", id)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
