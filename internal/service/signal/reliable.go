package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned while the breaker rejects commands.
var ErrCircuitOpen = errors.New("signal bus circuit open")

type ReliableOptions struct {
	RateLimit      float64 // commands per second
	Burst          int
	Attempts       uint
	AttemptTimeout time.Duration
	FailuresToTrip uint32
	OpenTimeout    time.Duration
	OnStateChange  func(name string, to gobreaker.State)
}

// DefaultReliableOptions trips after 5 consecutive failures and stays open for 30s.
func DefaultReliableOptions() ReliableOptions {
	return ReliableOptions{
		RateLimit:      20,
		Burst:          10,
		Attempts:       3,
		AttemptTimeout: 2 * time.Second,
		FailuresToTrip: 5,
		OpenTimeout:    30 * time.Second,
	}
}

// ReliablePublisher wraps a Publisher with rate limiting, a circuit breaker and retries.
type ReliablePublisher struct {
	next           Publisher
	cb             *gobreaker.CircuitBreaker
	limiter        *rate.Limiter
	attempts       uint
	attemptTimeout time.Duration
}

func NewReliablePublisher(next Publisher, opts ReliableOptions) *ReliablePublisher {
	defaults := DefaultReliableOptions()
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaults.RateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = defaults.Burst
	}
	if opts.Attempts == 0 {
		opts.Attempts = defaults.Attempts
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaults.AttemptTimeout
	}
	if opts.FailuresToTrip == 0 {
		opts.FailuresToTrip = defaults.FailuresToTrip
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaults.OpenTimeout
	}

	tripAt := opts.FailuresToTrip
	onChange := opts.OnStateChange
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "signal-bus",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAt
		},
		OnStateChange: func(name string, _ gobreaker.State, to gobreaker.State) {
			if onChange != nil {
				onChange(name, to)
			}
		},
	})

	return &ReliablePublisher{
		next:           next,
		cb:             cb,
		limiter:        rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		attempts:       opts.Attempts,
		attemptTimeout: opts.AttemptTimeout,
	}
}

// State reports the breaker state.
func (p *ReliablePublisher) State() gobreaker.State {
	return p.cb.State()
}

func (p *ReliablePublisher) Publish(ctx context.Context, cmd Command) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("signal rate limit: %w", err)
	}

	_, err := p.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(p.attempts),
			retry.DelayType(retry.BackOffDelay),
		)

		return nil, r.Do(func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
			defer cancel()
			return p.next.Publish(attemptCtx, cmd)
		})
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}
