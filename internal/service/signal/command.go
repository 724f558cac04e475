// Package signal delivers preemption commands to traffic signal controllers.
package signal

import (
	"context"
	"time"

	"evdetect/internal/logger"
	"evdetect/internal/model"
)

// Command instructs an intersection controller to show a signal state.
type Command struct {
	EventID      string            `json:"event_id"`
	Intersection string            `json:"intersection"`
	State        model.SignalState `json:"state"`
	Reason       string            `json:"reason"`
	IssuedAt     time.Time         `json:"issued_at"`
}

// Publisher delivers commands to the controllers.
type Publisher interface {
	Publish(ctx context.Context, cmd Command) error
}

// LogPublisher only logs commands; used when no controller bus is configured.
type LogPublisher struct {
	logger *logger.Logger
}

func NewLogPublisher(logger *logger.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, cmd Command) error {
	p.logger.Info("🚦 Signal %s -> %s (%s, event %s)", cmd.Intersection, cmd.State, cmd.Reason, cmd.EventID)
	return nil
}
