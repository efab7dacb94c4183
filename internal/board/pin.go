package board

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// LogPin is an output pin that keeps its level in memory and logs every change.
type LogPin struct {
	name   string
	logger *zap.Logger

	level atomic.Bool
	rises atomic.Uint64
}

// NewLogPin creates a low pin.
func NewLogPin(name string, logger *zap.Logger) *LogPin {
	return &LogPin{name: name, logger: logger}
}

// High drives the pin high.
func (p *LogPin) High() { p.Set(true) }

// Low drives the pin low.
func (p *LogPin) Low() { p.Set(false) }

// Set drives the pin to on.
func (p *LogPin) Set(on bool) {
	if p.level.Swap(on) == on {
		return
	}
	if on {
		p.rises.Add(1)
	}
	p.logger.Info("Pin level changed",
		zap.String("pin", p.name),
		zap.Bool("high", on),
	)
}

// Get returns the current level.
func (p *LogPin) Get() bool { return p.level.Load() }

// Rises returns the number of low to high transitions.
func (p *LogPin) Rises() uint64 { return p.rises.Load() }
