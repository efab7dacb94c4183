// Package detector finds systolic peaks in the conditioned infrared signal and
// maintains a rolling heart rate estimate.
package detector

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"wisefido-ppg/internal/models"
)

// MaxHistory bounds the interval history.
const MaxHistory = 8

// State of the peak search.
type State int

const (
	SearchingRise State = iota
	Confirming
	SearchingFall
)

func (s State) String() string {
	switch s {
	case SearchingRise:
		return "SEARCHING_RISE"
	case Confirming:
		return "CONFIRMING"
	case SearchingFall:
		return "SEARCHING_FALL"
	default:
		return "UNKNOWN"
	}
}

// Config tunes peak detection. Durations are converted to samples at SampleRateHz.
type Config struct {
	SampleRateHz float64

	// InitialAmplitude is the minimum rise (conditioned counts) accepted before
	// the first beat sets an adaptive threshold.
	InitialAmplitude  float64
	ThresholdFraction float64

	Refractory   time.Duration
	MinInterval  time.Duration
	MaxInterval  time.Duration
	StaleTimeout time.Duration

	// HistorySize is the number of intervals averaged, 1..MaxHistory.
	HistorySize int
	// MaxGaps is the number of sequence gaps tolerated between valid beats
	// before the estimate is dropped. Zero disables the check.
	MaxGaps int
}

// Detector is the peak detection state machine. It is not safe for concurrent use.
type Detector struct {
	cfg Config

	state   State
	primed  bool
	prev    float64
	prevSeq uint32

	trough    float64
	peak      float64
	peakSeq   uint32
	threshold float64

	hasBeat     bool
	lastBeatSeq uint32
	lastAmp     float64

	// rejected is the largest cycle below threshold since the last beat.
	rejected    float64
	rejectedSeq uint32
	lowered     bool
	loweredSeq  uint32

	hasValid     bool
	lastValidSeq uint32

	intervals [MaxHistory]float64
	count     int
	next      int
	gaps      int
	mean      time.Duration

	estimate models.HeartRateEstimate
}

// New creates a Detector in SearchingRise.
func New(cfg Config) *Detector {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 1
	}
	if cfg.HistorySize > MaxHistory {
		cfg.HistorySize = MaxHistory
	}
	return &Detector{
		cfg:       cfg,
		state:     SearchingRise,
		threshold: cfg.InitialAmplitude,
	}
}

// State returns the current search state.
func (d *Detector) State() State { return d.state }

// Threshold returns the rise currently required for a candidate peak.
func (d *Detector) Threshold() float64 { return d.threshold }

// Config returns the tuning the detector was built with.
func (d *Detector) Config() Config { return d.cfg }

// Estimate returns the current heart rate estimate.
func (d *Detector) Estimate() models.HeartRateEstimate { return d.estimate }

// Intervals returns the number of intervals in the rolling history.
func (d *Detector) Intervals() int { return d.count }

func (d *Detector) elapsed(from, to uint32) time.Duration {
	return time.Duration(float64(to-from) * float64(time.Second) / d.cfg.SampleRateHz)
}

// Process feeds one conditioned sample. It returns a BeatEvent when a peak is
// confirmed and its interval to the previous beat is within bounds.
func (d *Detector) Process(c models.ConditionedSample) (models.BeatEvent, bool) {
	v, seq := c.Value, c.Sequence
	if !d.primed {
		d.primed = true
		d.rearm(v, seq)
		d.prev, d.prevSeq = v, seq
		return models.BeatEvent{}, false
	}

	if seq != d.prevSeq+1 {
		d.noteGap(v, seq)
	}
	d.checkStale(seq)

	var (
		ev models.BeatEvent
		ok bool
	)
	switch d.state {
	case SearchingRise:
		rise := d.peak - d.trough
		switch {
		case v > d.peak:
			d.peak, d.peakSeq = v, seq
		case rise > 0 && d.peak-v >= rise/2:
			// the cycle is over once the signal has fallen back half its rise
			d.state = Confirming
			if rise >= d.threshold {
				ev, ok = d.confirm(seq)
			} else if rise > d.rejected {
				d.rejected, d.rejectedSeq = rise, d.peakSeq
			}
			d.state = SearchingFall
			d.trough = v
		case v < d.trough:
			d.rearm(v, seq)
		}
	case SearchingFall:
		switch {
		case v < d.trough:
			d.trough = v
		case v > d.prev:
			d.state = SearchingRise
			d.peak, d.peakSeq = v, seq
		}
	}

	d.prev, d.prevSeq = v, seq
	return ev, ok
}

func (d *Detector) rearm(v float64, seq uint32) {
	d.trough = v
	d.peak, d.peakSeq = v, seq
}

// confirm validates the candidate at d.peakSeq against the refractory period
// and the interval bounds.
func (d *Detector) confirm(seq uint32) (models.BeatEvent, bool) {
	amplitude := d.peak - d.trough
	d.rejected = 0

	// The first peak, or one that dwarfs the previous beat, only sets the
	// reference: the previous beat was likely a secondary peak.
	if !d.hasBeat || d.cfg.ThresholdFraction*amplitude > d.lastAmp {
		d.reference(amplitude)
		return models.BeatEvent{}, false
	}

	interval := d.elapsed(d.lastBeatSeq, d.peakSeq)
	if interval < d.cfg.Refractory || interval < d.cfg.MinInterval {
		return models.BeatEvent{}, false
	}

	prevSeq, lowered := d.lastBeatSeq, d.lowered
	d.reference(amplitude)
	if lowered {
		// A rejected cycle midway between the beats was a weak beat, not a
		// secondary peak.
		f := float64(d.elapsed(prevSeq, d.loweredSeq)) / float64(interval)
		if f >= 0.4 && f <= 0.6 {
			interval = d.elapsed(d.loweredSeq, d.peakSeq)
		}
	}
	if interval > d.cfg.MaxInterval {
		return models.BeatEvent{}, false
	}

	d.record(interval, seq)
	return models.BeatEvent{
		Sequence:  d.peakSeq,
		Interval:  interval,
		Amplitude: amplitude,
	}, true
}

func (d *Detector) reference(amplitude float64) {
	d.hasBeat, d.lastBeatSeq = true, d.peakSeq
	d.lastAmp = amplitude
	d.threshold = d.cfg.ThresholdFraction * amplitude
	d.lowered = false
}

func (d *Detector) record(interval time.Duration, seq uint32) {
	d.intervals[d.next] = interval.Seconds()
	d.next = (d.next + 1) % d.cfg.HistorySize
	if d.count < d.cfg.HistorySize {
		d.count++
	}
	d.hasValid, d.lastValidSeq = true, d.peakSeq
	d.gaps = 0

	mean := stat.Mean(d.intervals[:d.count], nil)
	d.mean = time.Duration(mean * float64(time.Second))
	d.estimate = models.HeartRateEstimate{
		BPM:        uint32(math.Round(60 / mean)),
		Confidence: models.ConfidenceOK,
		UpdatedAt:  seq,
	}
}

// checkStale drops the estimate when no valid beat arrived within StaleTimeout
// and falls back to the initial threshold when no peak at all was confirmed.
// When a beat is overdue by half the mean interval, the threshold decays to the
// largest rejected cycle so a drop in perfusion does not stall detection.
func (d *Detector) checkStale(seq uint32) {
	if d.hasValid && d.elapsed(d.lastValidSeq, seq) > d.cfg.StaleTimeout {
		d.invalidate(seq)
		return
	}
	if !d.hasValid && d.hasBeat && d.elapsed(d.lastBeatSeq, seq) > d.cfg.StaleTimeout {
		d.hasBeat = false
		d.threshold = d.cfg.InitialAmplitude
		d.rejected = 0
		return
	}
	if d.hasValid && d.hasBeat && !d.lowered && d.rejected > 0 &&
		d.elapsed(d.lastBeatSeq, seq) > d.mean*3/2 {
		d.threshold = d.cfg.ThresholdFraction * math.Max(d.rejected, d.cfg.InitialAmplitude)
		d.lowered, d.loweredSeq = true, d.rejectedSeq
	}
}

// Expire drops a held estimate when samples stopped arriving altogether, so
// the sequence-based timeout can never fire. It reports whether an OK
// estimate was dropped.
func (d *Detector) Expire() bool {
	if !d.hasValid {
		return false
	}
	d.invalidate(d.prevSeq)
	return true
}

// noteGap handles samples lost upstream: the beat reference no longer spans a
// known time, so the search restarts at this sample.
func (d *Detector) noteGap(v float64, seq uint32) {
	d.gaps++
	d.hasBeat = false
	d.rejected = 0
	d.state = SearchingRise
	d.rearm(v, seq)
	d.prev = v
	if d.cfg.MaxGaps > 0 && d.gaps >= d.cfg.MaxGaps && d.estimate.Confidence == models.ConfidenceOK {
		d.invalidate(seq)
	}
}

func (d *Detector) invalidate(seq uint32) {
	d.hasValid, d.hasBeat = false, false
	d.count, d.next = 0, 0
	d.threshold = d.cfg.InitialAmplitude
	d.rejected = 0
	if d.estimate.Confidence == models.ConfidenceOK || d.estimate.BPM != 0 {
		d.estimate = models.HeartRateEstimate{
			Confidence: models.ConfidenceLow,
			UpdatedAt:  seq,
		}
	}
}
