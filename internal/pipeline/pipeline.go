// Package pipeline runs the acquisition loop: source, ring buffer,
// conditioner, peak detector, alert policy and diagnostic sink, strictly in
// that order within one iteration.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"wisefido-ppg/internal/alert"
	"wisefido-ppg/internal/buffer"
	"wisefido-ppg/internal/conditioner"
	"wisefido-ppg/internal/detector"
	"wisefido-ppg/internal/models"
	"wisefido-ppg/internal/report"
)

// Source yields samples without blocking.
type Source interface {
	// TryRead returns the next sample, or ok == false when none is pending.
	TryRead() (models.Sample, bool, error)
	// TakeOverflow returns the samples lost upstream since the last call.
	TakeOverflow() int
}

// Waiter is the loop's single suspension point, normally a board.EdgeLatch.
type Waiter interface {
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
}

// Options tune the loop.
type Options struct {
	// RawEvery emits a raw sample line every n samples; zero disables.
	RawEvery int
	// RateEvery repeats the rate line every n samples; zero disables.
	// A line is always emitted when the estimate changes.
	RateEvery int
	// IdlePoll bounds a wait without data.
	IdlePoll time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Stats counts what the loop has seen.
type Stats struct {
	Samples         uint64
	Beats           uint64
	Estimates       uint64
	TransportFaults uint64
	Overflows       uint64
	LostSamples     uint64
	RingSkipped     uint64
	Pulses          uint64
	Report          report.Stats
}

// Pipeline owns every stage. It is driven from one goroutine.
type Pipeline struct {
	source Source
	ring   *buffer.Ring
	cond   *conditioner.Conditioner
	det    *detector.Detector
	policy *alert.Policy
	buzzer *alert.Buzzer
	sink   *report.LineSink
	opts   Options
	logger *zap.Logger

	fresh       []models.Sample
	conditioned []models.ConditionedSample

	last       models.HeartRateEstimate
	lastSample time.Time
	sinceRaw   int
	sinceRate  int
	stats      Stats
}

// New wires the stages. Scratch buffers are sized to the ring capacity.
func New(
	source Source,
	ring *buffer.Ring,
	cond *conditioner.Conditioner,
	det *detector.Detector,
	policy *alert.Policy,
	buzzer *alert.Buzzer,
	sink *report.LineSink,
	opts Options,
	logger *zap.Logger,
) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		source:      source,
		ring:        ring,
		cond:        cond,
		det:         det,
		policy:      policy,
		buzzer:      buzzer,
		sink:        sink,
		opts:        opts,
		logger:      logger,
		fresh:       make([]models.Sample, 0, ring.Cap()),
		conditioned: make([]models.ConditionedSample, 0, ring.Cap()),
	}
}

// Run loops until ctx is done. The buzzer is released on every exit path.
func (p *Pipeline) Run(ctx context.Context, ready Waiter) error {
	defer p.buzzer.Release()
	defer p.sink.Flush()

	p.logger.Info("Pipeline started",
		zap.Int("ring_capacity", p.ring.Cap()),
		zap.Duration("idle_poll", p.opts.IdlePoll),
	)
	for {
		_, err := ready.Wait(ctx, p.opts.IdlePoll)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				p.logger.Info("Pipeline stopped")
				return nil
			}
			return err
		}
		p.Step(p.opts.Now())
	}
}

// Step runs one loop iteration at now: drain the source, process what was
// acquired, then service the buzzer and the diagnostic sink. An estimate is
// dropped once the source has been silent for the stale timeout.
func (p *Pipeline) Step(now time.Time) {
	for {
		n, more := p.acquire()
		if lost := p.source.TakeOverflow(); lost > 0 {
			p.stats.Overflows++
			p.stats.LostSamples += uint64(lost)
			p.sink.Overflow(lost)
		}
		if n > 0 {
			p.process(now)
		}
		if !more {
			break
		}
	}
	p.expire(now)

	p.buzzer.Poll(now)
	p.sink.Flush()
}

// acquire pushes at most one ring's worth of samples so none is overwritten
// before it is processed. more reports that the source may hold further data.
func (p *Pipeline) acquire() (n int, more bool) {
	for n < p.ring.Cap() {
		s, ok, err := p.source.TryRead()
		if err != nil {
			p.stats.TransportFaults++
			p.logger.Warn("Sample read failed", zap.Error(err))
			return n, false
		}
		if !ok {
			return n, false
		}
		p.ring.Push(s)
		n++
	}
	return n, true
}

func (p *Pipeline) process(now time.Time) {
	p.lastSample = now
	var skipped int
	p.fresh, skipped = p.ring.ReadNew(p.fresh[:0])
	if skipped > 0 {
		p.stats.RingSkipped += uint64(skipped)
	}
	p.conditioned = p.cond.Condition(p.fresh, p.conditioned[:0])

	for i, c := range p.conditioned {
		p.stats.Samples++

		if ev, ok := p.det.Process(c); ok {
			p.stats.Beats++
			p.logger.Debug("Beat confirmed",
				zap.Uint32("sequence", ev.Sequence),
				zap.Duration("interval", ev.Interval),
				zap.Float64("amplitude", ev.Amplitude),
			)
		}

		est := p.det.Estimate()
		if est != p.last {
			p.onEstimate(est, now)
		}

		if p.opts.RawEvery > 0 {
			if p.sinceRaw++; p.sinceRaw >= p.opts.RawEvery {
				p.sinceRaw = 0
				p.sink.Sample(p.fresh[i])
			}
		}
		if p.opts.RateEvery > 0 {
			if p.sinceRate++; p.sinceRate >= p.opts.RateEvery {
				p.sinceRate = 0
				p.sink.Estimate(est)
			}
		}
	}
}

// expire covers a source that stopped delivering: the detector only sees time
// pass through sample sequence numbers.
func (p *Pipeline) expire(now time.Time) {
	if p.last.Confidence != models.ConfidenceOK || p.lastSample.IsZero() {
		return
	}
	silent := now.Sub(p.lastSample)
	if silent <= p.det.Config().StaleTimeout || !p.det.Expire() {
		return
	}
	p.logger.Warn("No samples received, dropping heart rate estimate",
		zap.Duration("silent_for", silent),
		zap.Uint64("transport_faults", p.stats.TransportFaults),
	)
	p.onEstimate(p.det.Estimate(), now)
}

func (p *Pipeline) onEstimate(est models.HeartRateEstimate, now time.Time) {
	if est.Confidence != p.last.Confidence {
		p.logger.Info("Heart rate confidence changed",
			zap.String("confidence", est.Confidence.String()),
			zap.Uint32("bpm", est.BPM),
		)
	}
	p.last = est
	p.stats.Estimates++
	p.sinceRate = 0
	p.sink.Estimate(est)

	state := p.policy.Evaluate(est)
	if state.Actuate && p.buzzer.Pulse(now) {
		p.stats.Pulses++
	}
}

// Estimate returns the latest heart rate estimate.
func (p *Pipeline) Estimate() models.HeartRateEstimate { return p.last }

// Alert returns the latest alert state.
func (p *Pipeline) Alert() models.AlertState { return p.policy.State() }

// Stats returns the loop counters.
func (p *Pipeline) Stats() Stats {
	s := p.stats
	s.Report = p.sink.Stats()
	return s
}
