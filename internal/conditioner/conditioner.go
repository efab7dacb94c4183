// Package conditioner removes baseline drift and high-frequency noise from raw PPG samples.
package conditioner

import (
	"math"
	"time"

	"wisefido-ppg/internal/models"
)

// MaxWindow bounds the smoothing window so its state fits a fixed array.
const MaxWindow = 4

// Config tunes the filter stage.
type Config struct {
	// Baseline is the time constant of the DC baseline EMA. It must be long
	// against the slowest beat so the baseline does not follow the pulse.
	Baseline time.Duration
	// Smoothing is the moving-average span; converted to 1..MaxWindow samples at SampleRateHz.
	Smoothing    time.Duration
	SampleRateHz float64
}

// Alpha returns the EMA coefficient that gives the Baseline time constant at
// SampleRateHz. A zero Baseline makes the baseline follow the input.
func (c Config) Alpha() float64 {
	if c.Baseline <= 0 || c.SampleRateHz <= 0 {
		return 1
	}
	return 1 - math.Exp(-1/(c.Baseline.Seconds()*c.SampleRateHz))
}

// WindowSamples returns the smoothing window in samples for c.
func (c Config) WindowSamples() int {
	n := int(math.Round(c.Smoothing.Seconds() * c.SampleRateHz))
	if n < 1 {
		return 1
	}
	if n > MaxWindow {
		return MaxWindow
	}
	return n
}

type channel struct {
	baseline float64
	window   [MaxWindow]float64
	pos      int
	filled   int
	sum      float64
}

func (ch *channel) step(raw float64, alpha float64, size int, first bool) float64 {
	if first {
		ch.baseline = raw
	} else {
		ch.baseline += alpha * (raw - ch.baseline)
	}
	ac := raw - ch.baseline

	if ch.filled == size {
		ch.sum -= ch.window[ch.pos]
	} else {
		ch.filled++
	}
	ch.window[ch.pos] = ac
	ch.sum += ac
	ch.pos = (ch.pos + 1) % size

	return ch.sum / float64(ch.filled)
}

// Conditioner carries the baseline and smoothing state between calls.
type Conditioner struct {
	alpha  float64
	size   int
	primed bool
	ir     channel
	red    channel
}

// New creates a Conditioner. The baseline is initialized from the first sample seen.
func New(cfg Config) *Conditioner {
	return &Conditioner{
		alpha: cfg.Alpha(),
		size:  cfg.WindowSamples(),
	}
}

// Condition appends one conditioned sample per input, in order, to dst.
func (c *Conditioner) Condition(samples []models.Sample, dst []models.ConditionedSample) []models.ConditionedSample {
	for _, s := range samples {
		first := !c.primed
		c.primed = true
		dst = append(dst, models.ConditionedSample{
			Value:    c.ir.step(float64(s.Infrared), c.alpha, c.size, first),
			Red:      c.red.step(float64(s.Red), c.alpha, c.size, first),
			Sequence: s.Sequence,
		})
	}
	return dst
}

// Baseline returns the current infrared DC estimate.
func (c *Conditioner) Baseline() float64 { return c.ir.baseline }

// Reset forgets the baseline and smoothing history.
func (c *Conditioner) Reset() {
	c.primed = false
	c.ir = channel{}
	c.red = channel{}
}
