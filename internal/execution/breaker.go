package execution

import (
	"fmt"
	"sync"
	"time"

	"cryptoSpotBot/internal/ports"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeNeutral // validation rejections and cancellations say nothing about exchange health
)

// breaker opens after threshold consecutive failures and rejects calls for cooldown.
// After the cooldown one trial call is let through; its outcome closes or reopens the breaker.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(open bool)

	state    breakerState
	failures int
	openedAt time.Time
	trial    bool
}

func newBreaker(threshold int, cooldown time.Duration, now func() time.Time, onChange func(bool)) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown, now: now, onChange: onChange}
}

// allow returns ErrCircuitOpen while the breaker is open or a half-open trial is running.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		remaining := b.cooldown - b.now().Sub(b.openedAt)
		if remaining > 0 {
			return fmt.Errorf("%w: retry in %s", ports.ErrCircuitOpen, remaining.Round(time.Second))
		}
		b.state = breakerHalfOpen
		b.trial = true
		return nil
	case breakerHalfOpen:
		if b.trial {
			return fmt.Errorf("%w: trial call in progress", ports.ErrCircuitOpen)
		}
		b.trial = true
		return nil
	default:
		return nil
	}
}

func (b *breaker) record(o outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
	switch o {
	case outcomeSuccess:
		b.failures = 0
		if b.state != breakerClosed {
			b.state = breakerClosed
			b.notify(false)
		}
	case outcomeFailure:
		b.failures++
		if b.state == breakerHalfOpen || (b.state == breakerClosed && b.failures >= b.threshold) {
			b.state = breakerOpen
			b.openedAt = b.now()
			b.notify(true)
		}
	}
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen && b.now().Sub(b.openedAt) < b.cooldown
}

func (b *breaker) notify(open bool) {
	if b.onChange != nil {
		b.onChange(open)
	}
}

// classifyOutcome maps an Execute error onto the breaker.
func classifyOutcome(err error) outcome {
	if err == nil {
		return outcomeSuccess
	}
	switch ports.Classify(err) {
	case ports.ClassValidation, ports.ClassDataUnavailable, ports.ClassCanceled, ports.ClassCircuitOpen:
		return outcomeNeutral
	default:
		return outcomeFailure
	}
}
