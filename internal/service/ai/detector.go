// Package ai runs the emergency vehicle detection network with OpenCV.
package ai

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"evdetect/internal/config"
	"evdetect/internal/logger"
	"evdetect/internal/vision"
)

// ErrNetworkNotLoaded is returned by Detect when the model could not be loaded.
var ErrNetworkNotLoaded = errors.New("detection network not initialized")

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.RGBA{A: 255}
)

// CameraState holds motion detection state for a single camera.
type CameraState struct {
	previousMat gocv.Mat
	hasPrevious bool
	mutex       sync.Mutex
}

// DetectorService owns one network instance; it is not safe for concurrent
// Detect calls, so each processing worker gets its own.
type DetectorService struct {
	cameraStates map[string]*CameraState
	statesMutex  sync.RWMutex
	net          gocv.Net
	loaded       bool
	classes      []string
	targetClass  string
	threshold    float64
	nmsThreshold float64
	inputSize    int
	motionPixels int
	modelPath    string
	logger       *logger.Logger
}

// NewDetectorService creates a detector and tries to load the ONNX model.
// A missing model is logged and reported by Detect.
func NewDetectorService(cfg *config.Config, logger *logger.Logger) *DetectorService {
	s := &DetectorService{
		cameraStates: make(map[string]*CameraState),
		targetClass:  cfg.TargetClass,
		threshold:    cfg.ConfidenceThreshold,
		nmsThreshold: cfg.NMSThreshold,
		inputSize:    cfg.InputSize,
		motionPixels: cfg.MotionThreshold,
		modelPath:    cfg.ModelPath,
		logger:       logger,
		classes:      []string{cfg.TargetClass},
	}

	if cfg.ClassNamesPath != "" {
		classes, err := vision.LoadClassNames(cfg.ClassNamesPath)
		if err != nil {
			logger.Warning("Could not read class names, assuming single class %q: %v", cfg.TargetClass, err)
		} else {
			s.classes = classes
		}
	}

	if err := s.initializeNet(); err != nil {
		logger.Warning("Could not initialize detection network: %v", err)
	}
	return s
}

func (s *DetectorService) initializeNet() error {
	if _, err := os.Stat(s.modelPath); err != nil {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}

	net := gocv.ReadNet(s.modelPath, "")
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", s.modelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return fmt.Errorf("failed to set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return fmt.Errorf("failed to set target: %w", err)
	}

	s.net = net
	s.loaded = true
	s.logger.Info("Detection network loaded from %s (%d classes)", s.modelPath, len(s.classes))
	return nil
}

// Loaded reports whether the network is ready.
func (s *DetectorService) Loaded() bool {
	return s.loaded
}

// Detect runs the network on a JPEG frame and returns the target class
// detections above the confidence threshold after suppression.
func (s *DetectorService) Detect(frame []byte) ([]vision.Detection, error) {
	if !s.loaded {
		return nil, ErrNetworkNotLoaded
	}

	mat, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, errors.New("decoded image is empty")
	}

	size := image.Pt(s.inputSize, s.inputSize)
	blob := gocv.BlobFromImage(mat, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	// [1, 4+classes, anchors]
	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected output dimensions %v", dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}

	scaleX := float64(mat.Cols()) / float64(s.inputSize)
	scaleY := float64(mat.Rows()) / float64(s.inputSize)

	candidates, err := vision.DecodeYOLOv8(vision.YOLOOutput{Data: data, Rows: dims[1], Anchors: dims[2]}, s.classes, scaleX, scaleY, s.threshold)
	if err != nil {
		return nil, err
	}

	kept := vision.NMS(candidates, s.nmsThreshold)
	results := vision.FilterLabel(kept, s.targetClass)
	for i := range results {
		results[i].Box = results[i].Box.Clamp(mat.Cols(), mat.Rows())
	}
	return results, nil
}

// DetectMotion compares the frame with the camera's previous one. With the
// motion threshold at 0 every frame counts as motion.
func (s *DetectorService) DetectMotion(frame []byte, cameraID string) (bool, error) {
	if s.motionPixels <= 0 {
		return true, nil
	}

	state := s.getCameraState(cameraID)
	state.mutex.Lock()
	defer state.mutex.Unlock()

	mat, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return false, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return false, errors.New("decoded image is empty")
	}

	if !state.hasPrevious || state.previousMat.Cols() != mat.Cols() || state.previousMat.Rows() != mat.Rows() {
		if state.hasPrevious {
			state.previousMat.Close()
		}
		state.previousMat = mat.Clone()
		state.hasPrevious = true
		return false, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	if err := gocv.AbsDiff(state.previousMat, mat, &diff); err != nil {
		return false, fmt.Errorf("failed to compute absolute difference: %w", err)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(diff, &gray, gocv.ColorBGRToGray); err != nil {
		return false, fmt.Errorf("failed to convert image to grayscale: %w", err)
	}

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(gray, &thresh, 30, 255, gocv.ThresholdBinary)

	changed := gocv.CountNonZero(thresh)

	state.previousMat.Close()
	state.previousMat = mat.Clone()

	return changed > s.motionPixels, nil
}

// Annotate draws detection boxes and the status overlay and re-encodes the frame as JPEG.
func (s *DetectorService) Annotate(frame []byte, detections []vision.Detection, overlay vision.Overlay) ([]byte, error) {
	mat, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, errors.New("decoded image is empty")
	}

	for _, d := range detections {
		if err := drawDetection(&mat, d); err != nil {
			return nil, err
		}
	}

	if err := gocv.PutText(&mat, overlay.FPSText(), image.Pt(10, 30), gocv.FontHersheySimplex, 0.7, green, 2); err != nil {
		return nil, fmt.Errorf("failed to draw text: %w", err)
	}
	if err := drawStatusPanel(&mat, overlay); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

func drawDetection(mat *gocv.Mat, d vision.Detection) error {
	rect := image.Rect(d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
	if err := gocv.Rectangle(mat, rect, red, 2); err != nil {
		return fmt.Errorf("failed to draw rectangle: %w", err)
	}

	label := vision.DetectionLabel(d)
	size := gocv.GetTextSize(label, gocv.FontHersheySimplex, 0.6, 2)
	background := image.Rect(d.Box.X1, d.Box.Y1-size.Y-10, d.Box.X1+size.X, d.Box.Y1-5)
	if err := gocv.Rectangle(mat, background, red, -1); err != nil {
		return fmt.Errorf("failed to draw label background: %w", err)
	}
	if err := gocv.PutText(mat, label, image.Pt(d.Box.X1, d.Box.Y1-10), gocv.FontHersheySimplex, 0.6, white, 2); err != nil {
		return fmt.Errorf("failed to draw text: %w", err)
	}
	return nil
}

// drawStatusPanel blends a dark panel into the top right corner and writes the status lines on it.
func drawStatusPanel(mat *gocv.Mat, overlay vision.Overlay) error {
	width := mat.Cols()

	layer := mat.Clone()
	defer layer.Close()
	if err := gocv.Rectangle(&layer, image.Rect(width-300, 10, width-10, 120), black, -1); err != nil {
		return fmt.Errorf("failed to draw status panel: %w", err)
	}
	if err := gocv.AddWeighted(layer, 0.6, *mat, 0.4, 0, mat); err != nil {
		return fmt.Errorf("failed to blend status panel: %w", err)
	}

	for i, line := range overlay.Lines() {
		c := white
		if line.Highlight {
			c = green
		}
		pt := image.Pt(width-290, 35+i*25)
		if err := gocv.PutText(mat, line.Text, pt, gocv.FontHersheySimplex, 0.6, c, 2); err != nil {
			return fmt.Errorf("failed to draw text: %w", err)
		}
	}
	return nil
}

// Close releases the network and motion state.
func (s *DetectorService) Close() error {
	s.statesMutex.Lock()
	for id, state := range s.cameraStates {
		state.mutex.Lock()
		if state.hasPrevious {
			state.previousMat.Close()
			state.hasPrevious = false
		}
		state.mutex.Unlock()
		delete(s.cameraStates, id)
	}
	s.statesMutex.Unlock()

	if !s.loaded {
		return nil
	}
	s.loaded = false
	return s.net.Close()
}

// getCameraState returns the per-camera state, creating it when absent.
func (s *DetectorService) getCameraState(cameraID string) *CameraState {
	s.statesMutex.RLock()
	state, exists := s.cameraStates[cameraID]
	s.statesMutex.RUnlock()

	if exists {
		return state
	}

	s.statesMutex.Lock()
	defer s.statesMutex.Unlock()
	if state, exists := s.cameraStates[cameraID]; exists {
		return state
	}

	state = &CameraState{}
	s.cameraStates[cameraID] = state
	s.logger.Info("Created motion detection state for camera: %s", cameraID)
	return state
}
