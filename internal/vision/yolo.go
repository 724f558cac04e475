package vision

import (
	"fmt"
	"math"
)

// YOLOOutput describes a YOLOv8 detection head laid out as
// [4+classes][anchors]: rows 0-3 are cx, cy, w, h in network input pixels,
// the remaining rows are per-class scores.
type YOLOOutput struct {
	Data    []float32
	Rows    int
	Anchors int
}

// Validate checks the buffer matches the declared shape.
func (o YOLOOutput) Validate(numClasses int) error {
	if o.Rows < 5 || o.Anchors <= 0 {
		return fmt.Errorf("unexpected output shape %dx%d", o.Rows, o.Anchors)
	}
	if len(o.Data) < o.Rows*o.Anchors {
		return fmt.Errorf("output buffer has %d values, shape needs %d", len(o.Data), o.Rows*o.Anchors)
	}
	if numClasses > 0 && o.Rows-4 != numClasses {
		return fmt.Errorf("model predicts %d classes, %d names configured", o.Rows-4, numClasses)
	}
	return nil
}

// DecodeYOLOv8 turns raw head output into detections. A candidate is kept
// when its best class score is strictly above threshold. scaleX/scaleY map
// network input pixels back to frame pixels.
func DecodeYOLOv8(out YOLOOutput, classes []string, scaleX, scaleY, threshold float64) ([]Detection, error) {
	if err := out.Validate(len(classes)); err != nil {
		return nil, err
	}

	at := func(row, anchor int) float64 {
		return float64(out.Data[row*out.Anchors+anchor])
	}

	var dets []Detection
	for a := 0; a < out.Anchors; a++ {
		classID := -1
		score := 0.0
		for r := 4; r < out.Rows; r++ {
			if s := at(r, a); s > score {
				score = s
				classID = r - 4
			}
		}
		if classID < 0 || score <= threshold {
			continue
		}

		cx, cy, w, h := at(0, a), at(1, a), at(2, a), at(3, a)
		dets = append(dets, Detection{
			Label:      ClassLabel(classes, classID),
			ClassID:    classID,
			Confidence: score,
			Box: Box{
				X1: int(math.Round((cx - w/2) * scaleX)),
				Y1: int(math.Round((cy - h/2) * scaleY)),
				X2: int(math.Round((cx + w/2) * scaleX)),
				Y2: int(math.Round((cy + h/2) * scaleY)),
			},
		})
	}
	return dets, nil
}
