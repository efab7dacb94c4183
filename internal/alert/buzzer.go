package alert

import (
	"time"

	"go.uber.org/zap"
)

// Pin is a single digital output.
type Pin interface {
	High()
	Low()
}

// Buzzer drives a Pin with fixed length pulses without blocking the caller.
// Pulse asserts the pin and Poll releases it once the hold has elapsed, so the
// run loop keeps draining samples during the hold.
type Buzzer struct {
	pin    Pin
	hold   time.Duration
	logger *zap.Logger

	on       bool
	deadline time.Time
	pulses   uint64
}

// NewBuzzer creates a released Buzzer.
func NewBuzzer(pin Pin, hold time.Duration, logger *zap.Logger) *Buzzer {
	pin.Low()
	return &Buzzer{pin: pin, hold: hold, logger: logger}
}

// Pulse starts a pulse at now. A pulse already in progress is not extended.
func (b *Buzzer) Pulse(now time.Time) bool {
	if b.on {
		return false
	}
	b.pin.High()
	b.on = true
	b.deadline = now.Add(b.hold)
	b.pulses++
	b.logger.Debug("Buzzer on", zap.Duration("hold", b.hold))
	return true
}

// Poll releases the pin when the pulse deadline has passed.
func (b *Buzzer) Poll(now time.Time) {
	if b.on && !now.Before(b.deadline) {
		b.Release()
	}
}

// Release forces the pin low. Safe to call at any time.
func (b *Buzzer) Release() {
	if !b.on {
		return
	}
	b.pin.Low()
	b.on = false
	b.logger.Debug("Buzzer off")
}

// On reports whether a pulse is in progress.
func (b *Buzzer) On() bool { return b.on }

// Pulses returns the number of pulses started.
func (b *Buzzer) Pulses() uint64 { return b.pulses }
