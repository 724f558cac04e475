package vision

import (
	"sync"
	"time"
)

// FPSWindow is how many samples FPSCounter averages over.
const FPSWindow = 30

// FPSCounter keeps a rolling average of per-frame processing rate.
type FPSCounter struct {
	mu      sync.Mutex
	samples [FPSWindow]float64
	next    int
	count   int
}

// Observe records the processing time of one frame.
func (c *FPSCounter) Observe(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples[c.next] = 1 / d.Seconds()
	c.next = (c.next + 1) % FPSWindow
	if c.count < FPSWindow {
		c.count++
	}
}

// Average returns the mean of the recorded samples, 0 before any.
func (c *FPSCounter) Average() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < c.count; i++ {
		sum += c.samples[i]
	}
	return sum / float64(c.count)
}
