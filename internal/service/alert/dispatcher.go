// Package alert fans emergency protocol alerts out to operator-facing sinks.
package alert

import (
	"context"
	"time"

	"evdetect/internal/logger"
	"evdetect/internal/model"
)

// Sink receives alerts.
type Sink interface {
	Name() string
	Send(ctx context.Context, a model.Alert) error
}

// Dispatcher sends every alert to all sinks. Sink failures are logged only.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *logger.Logger
}

func NewDispatcher(logger *logger.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, timeout: 3 * time.Second, logger: logger}
}

// AddSink registers another sink. Not safe to call concurrently with Notify.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Notify delivers a to every sink, each bounded by the dispatcher timeout.
func (d *Dispatcher) Notify(ctx context.Context, a model.Alert) {
	for _, s := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		if err := s.Send(sendCtx, a); err != nil {
			d.logger.Error("Alert sink %s failed for %s/%s: %v", s.Name(), a.Intersection, a.Type, err)
		}
		cancel()
	}
}
