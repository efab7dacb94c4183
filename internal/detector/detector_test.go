package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-ppg/internal/models"
)

func testConfig() Config {
	return Config{
		SampleRateHz:      100,
		InitialAmplitude:  20,
		ThresholdFraction: 0.4,
		Refractory:        300 * time.Millisecond,
		MinInterval:       272 * time.Millisecond,
		MaxInterval:       3 * time.Second,
		StaleTimeout:      5 * time.Second,
		HistorySize:       4,
		MaxGaps:           3,
	}
}

// pulses builds n samples of triangular pulses of height 100 and half width 10
// centred on each index in peaks.
func pulses(n int, peaks ...int) []float64 {
	return addPulses(make([]float64, n), 100, peaks...)
}

// addPulses overlays triangular pulses of the given height on signal.
func addPulses(signal []float64, height float64, peaks ...int) []float64 {
	for i := range signal {
		for _, p := range peaks {
			d := i - p
			if d < 0 {
				d = -d
			}
			if d < 10 {
				v := height * (1 - float64(d)/10)
				if v > signal[i] {
					signal[i] = v
				}
			}
		}
	}
	return signal
}

func offset(peaks []int, by int) []int {
	out := make([]int, len(peaks))
	for i, p := range peaks {
		out[i] = p + by
	}
	return out
}

func every(first, step, count int) []int {
	out := make([]int, count)
	for i := range out {
		out[i] = first + i*step
	}
	return out
}

type beat struct {
	at uint32
	ev models.BeatEvent
}

// feed runs signal through d, skipping the listed sequence numbers.
func feed(d *Detector, signal []float64, skip ...int) []beat {
	skipped := make(map[int]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}
	var beats []beat
	for i, v := range signal {
		if skipped[i] {
			continue
		}
		if ev, ok := d.Process(models.ConditionedSample{Value: v, Sequence: uint32(i)}); ok {
			beats = append(beats, beat{at: uint32(i), ev: ev})
		}
	}
	return beats
}

func TestDetector_NewStartsLow(t *testing.T) {
	d := New(testConfig())

	assert.Equal(t, SearchingRise, d.State())
	assert.Equal(t, 20.0, d.Threshold())
	assert.Equal(t, models.ConfidenceLow, d.Estimate().Confidence)
	assert.Equal(t, uint32(0), d.Estimate().BPM)
}

func TestDetector_FixedIntervals(t *testing.T) {
	d := New(testConfig())
	peaks := every(20, 80, 10)

	beats := feed(d, pulses(20+80*9+30, peaks...))

	require.Len(t, beats, 9)
	for i, b := range beats {
		assert.Equal(t, 800*time.Millisecond, b.ev.Interval)
		assert.Equal(t, uint32(peaks[i+1]), b.ev.Sequence)
		// confirmed once the pulse has fallen back half its height
		assert.Equal(t, b.ev.Sequence+5, b.at)
		assert.InDelta(t, 100, b.ev.Amplitude, 1e-9)
	}

	est := d.Estimate()
	assert.Equal(t, uint32(75), est.BPM)
	assert.Equal(t, models.ConfidenceOK, est.Confidence)
	assert.Equal(t, uint32(peaks[9]+5), est.UpdatedAt)
	assert.Equal(t, 4, d.Intervals())
}

func TestDetector_LowUntilTwoPeaks(t *testing.T) {
	d := New(testConfig())

	beats := feed(d, pulses(60, 20))
	assert.Empty(t, beats)
	assert.Equal(t, models.ConfidenceLow, d.Estimate().Confidence)
	assert.Equal(t, SearchingFall, d.State())

	d = New(testConfig())
	beats = feed(d, pulses(130, 20, 100))
	require.Len(t, beats, 1)
	assert.Equal(t, models.ConfidenceOK, d.Estimate().Confidence)
	assert.Equal(t, uint32(75), d.Estimate().BPM)
}

func TestDetector_ThresholdAdaptsToAmplitude(t *testing.T) {
	d := New(testConfig())
	feed(d, pulses(40, 20))

	assert.InDelta(t, 40.0, d.Threshold(), 1e-9)
}

func TestDetector_SecondaryPeaksRejected(t *testing.T) {
	d := New(testConfig())
	peaks := every(20, 80, 8)
	signal := addPulses(pulses(20+80*8, peaks...), 35, offset(peaks, 30)...)

	beats := feed(d, signal)

	require.Len(t, beats, 7)
	for i, b := range beats {
		assert.Equal(t, uint32(peaks[i+1]), b.ev.Sequence)
		assert.Equal(t, 800*time.Millisecond, b.ev.Interval)
	}
	assert.Equal(t, uint32(75), d.Estimate().BPM)
}

func TestDetector_LargerPeakReplacesSecondaryReference(t *testing.T) {
	d := New(testConfig())
	peaks := every(70, 80, 6)
	// the trace opens on a secondary peak 50 samples before the first systole
	signal := addPulses(pulses(70+80*5+30, peaks...), 35, 20)

	beats := feed(d, signal)

	require.Len(t, beats, 5)
	assert.Equal(t, uint32(150), beats[0].ev.Sequence)
	for _, b := range beats {
		assert.Equal(t, 800*time.Millisecond, b.ev.Interval)
	}
	assert.Equal(t, uint32(75), d.Estimate().BPM)
	assert.InDelta(t, 40.0, d.Threshold(), 1e-9)
}

func TestDetector_ThresholdDecaysAfterPerfusionDrop(t *testing.T) {
	d := New(testConfig())
	strong := every(20, 80, 5)
	weak := every(20+80*5, 80, 6)
	signal := addPulses(pulses(20+80*11, strong...), 30, weak...)

	var beats []beat
	for i, v := range signal {
		if ev, ok := d.Process(models.ConditionedSample{Value: v, Sequence: uint32(i)}); ok {
			beats = append(beats, beat{at: uint32(i), ev: ev})
		}
		if i > 105 {
			require.Equal(t, models.ConfidenceOK, d.Estimate().Confidence, "sample %d", i)
		}
	}

	// the first weak pulse is rejected, then the threshold decays and the
	// second is measured from it
	require.Len(t, beats, 9)
	assert.Equal(t, uint32(340), beats[3].ev.Sequence)
	assert.Equal(t, uint32(500), beats[4].ev.Sequence)
	for _, b := range beats {
		assert.Equal(t, 800*time.Millisecond, b.ev.Interval)
	}
	assert.InDelta(t, 30.0, beats[8].ev.Amplitude, 1e-9)
	assert.InDelta(t, 12.0, d.Threshold(), 1e-9)
	assert.Equal(t, uint32(75), d.Estimate().BPM)
}

func TestDetector_SlowdownKeepsTracking(t *testing.T) {
	d := New(testConfig())
	fast := every(20, 80, 6)
	slow := every(420+150, 150, 5)
	signal := pulses(420+150*5+30, append(fast, slow...)...)
	signal = addPulses(signal, 35, offset(append(fast, slow...), 30)...)

	var beats []beat
	for i, v := range signal {
		if ev, ok := d.Process(models.ConditionedSample{Value: v, Sequence: uint32(i)}); ok {
			beats = append(beats, beat{at: uint32(i), ev: ev})
		}
		if i > 105 {
			require.Equal(t, models.ConfidenceOK, d.Estimate().Confidence, "sample %d", i)
		}
	}

	// secondary peaks left behind by the lowered threshold are not beats
	require.Len(t, beats, 10)
	for i, b := range beats[5:] {
		assert.Equal(t, uint32(slow[i]), b.ev.Sequence)
		assert.Equal(t, 1500*time.Millisecond, b.ev.Interval)
	}
	assert.Equal(t, uint32(40), d.Estimate().BPM)
}

func TestDetector_Expire(t *testing.T) {
	d := New(testConfig())
	assert.False(t, d.Expire())

	feed(d, pulses(300, 20, 100, 180))
	require.Equal(t, models.ConfidenceOK, d.Estimate().Confidence)

	assert.True(t, d.Expire())
	est := d.Estimate()
	assert.Equal(t, models.ConfidenceLow, est.Confidence)
	assert.Equal(t, uint32(0), est.BPM)
	assert.Equal(t, uint32(299), est.UpdatedAt)
	assert.Equal(t, 20.0, d.Threshold())
	assert.Equal(t, 0, d.Intervals())
	assert.False(t, d.Expire())
}

func TestDetector_SmallRipplesIgnored(t *testing.T) {
	d := New(testConfig())
	signal := make([]float64, 400)
	for i := range signal {
		if i%10 < 5 {
			signal[i] = 5
		}
	}

	assert.Empty(t, feed(d, signal))
	assert.Equal(t, models.ConfidenceLow, d.Estimate().Confidence)
}

func TestDetector_RefractoryRejectsEarlyPeak(t *testing.T) {
	d := New(testConfig())
	peaks := every(20, 80, 5)
	last := peaks[len(peaks)-1]
	all := append(append([]int{}, peaks...), last+25)
	all = append(all, every(last+80, 80, 3)...)

	beats := feed(d, pulses(last+80*3+30, all...))

	require.Len(t, beats, 7)
	for _, b := range beats {
		assert.Equal(t, 800*time.Millisecond, b.ev.Interval)
		assert.NotEqual(t, uint32(last+25), b.ev.Sequence)
	}
	assert.Equal(t, uint32(75), d.Estimate().BPM)
}

func TestDetector_LongIntervalDiscarded(t *testing.T) {
	d := New(testConfig())
	late := 180 + 350
	signal := pulses(late+200, 20, 100, 180, late, late+80, late+160)

	var beats []beat
	for i, v := range signal {
		if ev, ok := d.Process(models.ConditionedSample{Value: v, Sequence: uint32(i)}); ok {
			beats = append(beats, beat{at: uint32(i), ev: ev})
		}
		if i == late+5 {
			// the 3.5 s interval is not averaged in
			assert.Equal(t, uint32(75), d.Estimate().BPM)
			assert.Equal(t, 2, d.Intervals())
		}
	}

	require.Len(t, beats, 4)
	assert.Equal(t, uint32(late+80), beats[2].ev.Sequence)
	assert.Equal(t, 800*time.Millisecond, beats[2].ev.Interval)
	assert.Equal(t, uint32(75), d.Estimate().BPM)
}

func TestDetector_StaleDropsEstimate(t *testing.T) {
	d := New(testConfig())
	signal := pulses(180+520, 20, 100, 180)

	for i, v := range signal {
		d.Process(models.ConditionedSample{Value: v, Sequence: uint32(i)})
		if i == 180+500 {
			assert.Equal(t, models.ConfidenceOK, d.Estimate().Confidence)
		}
	}

	est := d.Estimate()
	assert.Equal(t, models.ConfidenceLow, est.Confidence)
	assert.Equal(t, uint32(0), est.BPM)
	assert.Equal(t, uint32(180+501), est.UpdatedAt)
	assert.Equal(t, 20.0, d.Threshold())
	assert.Equal(t, 0, d.Intervals())
}

func TestDetector_RecoversAfterStale(t *testing.T) {
	d := New(testConfig())
	restart := 180 + 600
	signal := pulses(restart+200, 20, 100, 180, restart, restart+80)

	beats := feed(d, signal)

	require.Len(t, beats, 3)
	assert.Equal(t, uint32(restart+80), beats[2].ev.Sequence)
	assert.Equal(t, 800*time.Millisecond, beats[2].ev.Interval)
	assert.Equal(t, models.ConfidenceOK, d.Estimate().Confidence)
	assert.Equal(t, uint32(75), d.Estimate().BPM)
	assert.Equal(t, 1, d.Intervals())
}

func TestDetector_GapResetsReference(t *testing.T) {
	d := New(testConfig())

	beats := feed(d, pulses(400, 20, 100, 180, 260, 340), 200)

	require.Len(t, beats, 3)
	assert.Equal(t, uint32(100), beats[0].ev.Sequence)
	assert.Equal(t, uint32(180), beats[1].ev.Sequence)
	// 260 only re-establishes the reference after the gap
	assert.Equal(t, uint32(340), beats[2].ev.Sequence)
	assert.Equal(t, uint32(75), d.Estimate().BPM)
}

func TestDetector_RepeatedGapsDropEstimate(t *testing.T) {
	d := New(testConfig())
	signal := pulses(260, 20, 100, 180)

	feed(d, signal[:212], 200, 210)
	assert.Equal(t, models.ConfidenceOK, d.Estimate().Confidence)

	for i := 212; i < len(signal); i++ {
		if i == 220 {
			continue
		}
		d.Process(models.ConditionedSample{Value: signal[i], Sequence: uint32(i)})
	}

	est := d.Estimate()
	assert.Equal(t, models.ConfidenceLow, est.Confidence)
	assert.Equal(t, uint32(0), est.BPM)
	assert.Equal(t, uint32(221), est.UpdatedAt)
}

func TestDetector_HistoryClamped(t *testing.T) {
	cfg := testConfig()
	cfg.HistorySize = 50
	d := New(cfg)
	feed(d, pulses(20+80*12+30, every(20, 80, 13)...))
	assert.Equal(t, MaxHistory, d.Intervals())

	cfg.HistorySize = 0
	d = New(cfg)
	feed(d, pulses(300, 20, 100, 180))
	assert.Equal(t, 1, d.Intervals())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "SEARCHING_RISE", SearchingRise.String())
	assert.Equal(t, "CONFIRMING", Confirming.String())
	assert.Equal(t, "SEARCHING_FALL", SearchingFall.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}
