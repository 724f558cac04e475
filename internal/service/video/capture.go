// Package video reads frames from local devices, files and stream URLs.
package video

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"evdetect/internal/logger"
)

const defaultFPS = 25

// FrameHandler receives every JPEG-encoded frame of a source.
type FrameHandler func(frame []byte, camera string)

// CaptureService feeds configured video sources into the pipeline.
type CaptureService struct {
	sources map[string]string // camera -> device index, file or url
	handle  FrameHandler
	logger  *logger.Logger
}

func NewCaptureService(sources map[string]string, handle FrameHandler, logger *logger.Logger) *CaptureService {
	return &CaptureService{sources: sources, handle: handle, logger: logger}
}

// Run reads every source until ctx is cancelled or all streams end.
func (s *CaptureService) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for camera, uri := range s.sources {
		wg.Add(1)
		go func(camera, uri string) {
			defer wg.Done()
			if err := s.capture(ctx, camera, uri); err != nil {
				s.logger.Error("Video source %s: %v", camera, err)
			}
		}(camera, uri)
	}
	wg.Wait()
}

func (s *CaptureService) capture(ctx context.Context, camera, uri string) error {
	vc, err := open(uri)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", uri, err)
	}
	defer vc.Close()

	if !vc.IsOpened() {
		return fmt.Errorf("could not open video source %s", uri)
	}

	fps := vc.Get(gocv.VideoCaptureFPS)
	if fps <= 0 || fps > 120 {
		fps = defaultFPS
	}
	s.logger.Info("📼 Camera %s reading from %s at %.1f fps", camera, uri, fps)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	mat := gocv.NewMat()
	defer mat.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if ok := vc.Read(&mat); !ok || mat.Empty() {
			s.logger.Warning("End of video stream for camera %s", camera)
			return nil
		}

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
		if err != nil {
			s.logger.Error("Failed to encode frame from %s: %v", camera, err)
			continue
		}
		frame := make([]byte, buf.Len())
		copy(frame, buf.GetBytes())
		buf.Close()

		s.handle(frame, camera)
	}
}

// open treats a bare integer as a device index.
func open(uri string) (*gocv.VideoCapture, error) {
	if idx, err := strconv.Atoi(uri); err == nil {
		return gocv.OpenVideoCapture(idx)
	}
	return gocv.OpenVideoCapture(uri)
}
