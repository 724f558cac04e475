// Package preemption runs the emergency protocol: when an emergency vehicle
// is seen the intersection's signal turns GREEN, is held for a fixed time
// and then returns to RED.
package preemption

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"evdetect/internal/dto"
	"evdetect/internal/logger"
	"evdetect/internal/metrics"
	"evdetect/internal/model"
	"evdetect/internal/service/signal"
	"evdetect/internal/vision"
)

var (
	ErrUnknownIntersection = errors.New("unknown intersection")
	ErrClosed              = errors.New("preemption controller is shut down")
)

// Recorder persists signal events.
type Recorder interface {
	Insert(e *model.SignalEvent) error
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, a model.Alert)
}

type Options struct {
	HoldDuration    time.Duration
	MinConsecutive  int
	Intersections   []string
	IntersectionFor func(camera string) string
	Clock           Clock
}

type intersection struct {
	id          string
	signal      model.SignalState
	active      bool
	activatedAt time.Time
	expiresAt   time.Time
	triggeredBy string
	activations int
	generation  uint64
	timer       Timer

	// serializes transitions so commands reach the bus in state order
	transition sync.Mutex
}

type Controller struct {
	mu            sync.Mutex
	intersections map[string]*intersection
	streaks       map[string]int // camera -> consecutive frames with detections
	signalChanges int64
	closed        bool

	hold            time.Duration
	minConsecutive  int
	intersectionFor func(string) string
	clock           Clock

	publisher signal.Publisher
	recorder  Recorder
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewController builds a controller. recorder and notifier may be nil.
func NewController(opts Options, publisher signal.Publisher, recorder Recorder, notifier Notifier, m *metrics.Metrics, logger *logger.Logger) *Controller {
	if opts.HoldDuration <= 0 {
		opts.HoldDuration = 30 * time.Second
	}
	if opts.MinConsecutive <= 0 {
		opts.MinConsecutive = 1
	}
	if opts.IntersectionFor == nil {
		opts.IntersectionFor = func(camera string) string { return camera }
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if m == nil {
		m = metrics.New(nil)
	}

	c := &Controller{
		intersections:   make(map[string]*intersection),
		streaks:         make(map[string]int),
		hold:            opts.HoldDuration,
		minConsecutive:  opts.MinConsecutive,
		intersectionFor: opts.IntersectionFor,
		clock:           opts.Clock,
		publisher:       publisher,
		recorder:        recorder,
		notifier:        notifier,
		metrics:         m,
		logger:          logger,
	}
	for _, id := range opts.Intersections {
		c.ensureLocked(id)
	}
	return c
}

func (c *Controller) ensureLocked(id string) *intersection {
	st, ok := c.intersections[id]
	if !ok {
		st = &intersection{id: id, signal: model.SignalRed}
		c.intersections[id] = st
		c.metrics.EmergencyActive.WithLabelValues(id).Set(0)
	}
	return st
}

// IntersectionFor returns the intersection a camera controls.
func (c *Controller) IntersectionFor(camera string) string {
	return c.intersectionFor(camera)
}

// Observe feeds the detections of one processed frame. Once a camera has
// produced MinConsecutive frames with detections in a row its intersection
// is triggered. It reports whether this call started an emergency protocol.
func (c *Controller) Observe(ctx context.Context, camera string, dets []vision.Detection) (bool, error) {
	id := c.intersectionFor(camera)

	c.mu.Lock()
	c.ensureLocked(id)
	if len(dets) == 0 {
		c.streaks[camera] = 0
		c.mu.Unlock()
		return false, nil
	}
	c.streaks[camera]++
	ready := c.streaks[camera] >= c.minConsecutive
	c.mu.Unlock()

	if !ready {
		return false, nil
	}
	return c.trigger(ctx, id, camera, model.ReasonDetection, vision.MaxConfidence(dets))
}

// Trigger manually starts the emergency protocol at a known intersection.
func (c *Controller) Trigger(ctx context.Context, id, source string) (bool, error) {
	if !c.known(id) {
		return false, fmt.Errorf("%w: %s", ErrUnknownIntersection, id)
	}
	return c.trigger(ctx, id, source, model.ReasonManual, 0)
}

// Reset returns a known intersection to normal operation.
func (c *Controller) Reset(ctx context.Context, id, reason string) (bool, error) {
	if !c.known(id) {
		return false, fmt.Errorf("%w: %s", ErrUnknownIntersection, id)
	}
	return c.reset(ctx, id, reason, 0)
}

func (c *Controller) known(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.intersections[id]
	return ok
}

// trigger turns the signal GREEN unless the intersection is already in an
// emergency; an ongoing hold is not extended.
func (c *Controller) trigger(ctx context.Context, id, camera, reason string, confidence float64) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	st := c.ensureLocked(id)
	if st.active {
		c.mu.Unlock()
		return false, nil
	}
	c.mu.Unlock()

	st.transition.Lock()
	defer st.transition.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	if st.active {
		c.mu.Unlock()
		return false, nil
	}
	now := c.clock.Now()
	st.active = true
	st.signal = model.SignalGreen
	st.activatedAt = now
	st.expiresAt = now.Add(c.hold)
	st.triggeredBy = camera
	st.activations++
	st.generation++
	gen := st.generation
	st.timer = c.clock.AfterFunc(c.hold, func() { c.expire(id, gen) })
	c.signalChanges++
	c.mu.Unlock()

	c.metrics.SignalChanges.WithLabelValues(id).Inc()
	c.metrics.EmergencyActive.WithLabelValues(id).Set(1)
	c.logger.Info("🚨 Emergency protocol activated at %s (%s, %s) - signal GREEN for %s", id, reason, camera, c.hold)

	return true, c.emit(ctx, id, camera, model.SignalGreen, reason, confidence)
}

func (c *Controller) expire(id string, gen uint64) {
	if _, err := c.reset(context.Background(), id, model.ReasonTimeout, gen); err != nil {
		c.logger.Error("Failed to deliver reset for %s: %v", id, err)
	}
}

// reset returns the intersection to RED. A non-zero gen only resets that
// activation, so a stale timer cannot end a newer emergency.
func (c *Controller) reset(ctx context.Context, id, reason string, gen uint64) (bool, error) {
	c.mu.Lock()
	st, ok := c.intersections[id]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}

	st.transition.Lock()
	defer st.transition.Unlock()

	c.mu.Lock()
	if !st.active || (gen != 0 && st.generation != gen) {
		c.mu.Unlock()
		return false, nil
	}
	st.active = false
	st.signal = model.SignalRed
	st.expiresAt = time.Time{}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	c.mu.Unlock()

	c.metrics.EmergencyActive.WithLabelValues(id).Set(0)
	c.logger.Info("✅ Emergency protocol reset at %s (%s) - signal returned to normal", id, reason)

	return true, c.emit(ctx, id, "", model.SignalRed, reason, 0)
}

// emit publishes the command, records the event and raises the alert. The
// returned error is the publish failure, if any; state is not rolled back.
func (c *Controller) emit(ctx context.Context, id, camera string, state model.SignalState, reason string, confidence float64) error {
	now := c.clock.Now()
	eventID := uuid.NewString()

	var publishErr error
	if c.publisher != nil {
		publishErr = c.publisher.Publish(ctx, signal.Command{
			EventID:      eventID,
			Intersection: id,
			State:        state,
			Reason:       reason,
			IssuedAt:     now,
		})
	}
	if publishErr != nil {
		c.metrics.PublishFailures.WithLabelValues(id).Inc()
		c.logger.Error("Signal command %s for %s not delivered: %v", state, id, publishErr)
	}

	if c.recorder != nil {
		event := &model.SignalEvent{
			ID:           eventID,
			Intersection: id,
			Camera:       camera,
			State:        state,
			Reason:       reason,
			Confidence:   confidence,
			CreatedAt:    now,
		}
		if publishErr != nil {
			event.PublishError = publishErr.Error()
		}
		if err := c.recorder.Insert(event); err != nil {
			c.logger.Error("Failed to record signal event for %s: %v", id, err)
		}
	}

	if c.notifier != nil {
		alertType := model.AlertActivated
		if state == model.SignalRed {
			alertType = model.AlertReset
		}
		c.notifier.Notify(ctx, model.Alert{
			ID:           eventID,
			Type:         alertType,
			Intersection: id,
			Camera:       camera,
			State:        state,
			Confidence:   confidence,
			Reason:       reason,
			At:           now,
		})
	}

	return publishErr
}

// Shutdown rejects further triggers and returns every active intersection to RED.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	var active []string
	for id, st := range c.intersections {
		if st.active {
			active = append(active, id)
		}
	}
	c.mu.Unlock()

	sort.Strings(active)
	var errs []error
	for _, id := range active {
		if _, err := c.reset(ctx, id, model.ReasonShutdown, 0); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Get returns the status of one intersection.
func (c *Controller) Get(id string) (dto.IntersectionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.intersections[id]
	if !ok {
		return dto.IntersectionStatus{}, fmt.Errorf("%w: %s", ErrUnknownIntersection, id)
	}
	return statusOf(st), nil
}

// Snapshot returns every intersection ordered by id.
func (c *Controller) Snapshot() []dto.IntersectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]dto.IntersectionStatus, 0, len(c.intersections))
	for _, st := range c.intersections {
		out = append(out, statusOf(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns total signal changes and how many intersections are in an emergency.
func (c *Controller) Stats() (signalChanges int64, active int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, st := range c.intersections {
		if st.active {
			active++
		}
	}
	return c.signalChanges, active
}

func statusOf(st *intersection) dto.IntersectionStatus {
	return dto.IntersectionStatus{
		ID:              st.id,
		Signal:          string(st.signal),
		EmergencyActive: st.active,
		ActivatedAt:     st.activatedAt,
		ExpiresAt:       st.expiresAt,
		TriggeredBy:     st.triggeredBy,
		Activations:     st.activations,
	}
}
