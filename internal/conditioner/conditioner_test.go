package conditioner

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-ppg/internal/models"
)

func samplesFrom(ir []uint32) []models.Sample {
	out := make([]models.Sample, len(ir))
	for i, v := range ir {
		out[i] = models.Sample{Infrared: v, Red: v / 2, Sequence: uint32(i)}
	}
	return out
}

func TestConfig_WindowSamples(t *testing.T) {
	assert.Equal(t, 4, Config{Smoothing: 40 * time.Millisecond, SampleRateHz: 100}.WindowSamples())
	assert.Equal(t, 2, Config{Smoothing: 20 * time.Millisecond, SampleRateHz: 100}.WindowSamples())
	assert.Equal(t, 1, Config{Smoothing: 40 * time.Millisecond, SampleRateHz: 4}.WindowSamples())
	assert.Equal(t, MaxWindow, Config{Smoothing: time.Second, SampleRateHz: 100}.WindowSamples())
}

func TestConfig_Alpha(t *testing.T) {
	// one time constant is 200 samples at 100 Hz
	assert.InDelta(t, 1-math.Exp(-1.0/200), Config{Baseline: 2 * time.Second, SampleRateHz: 100}.Alpha(), 1e-12)
	assert.InDelta(t, 0.0488, Config{Baseline: 200 * time.Millisecond, SampleRateHz: 100}.Alpha(), 1e-4)
	assert.Equal(t, 1.0, Config{SampleRateHz: 100}.Alpha())
}

// At 30 bpm the baseline must not chase the systolic wave, or the diastolic
// recovery turns into a rise the detector can mistake for a beat.
func TestConditioner_SlowPulsePreserved(t *testing.T) {
	c := New(Config{Baseline: 2 * time.Second, SampleRateHz: 100})

	var in []models.Sample
	for i := 0; i < 3000; i++ {
		phase := math.Mod(float64(i)/200, 1)
		v := 90000 + 1500*math.Exp(-0.5*math.Pow((phase-0.25)/0.07, 2))
		in = append(in, models.Sample{Infrared: uint32(v), Red: uint32(v), Sequence: uint32(i)})
	}
	out := c.Condition(in, nil)

	// one cycle: systole near 2050, diastole until 2200
	cycle := out[2000:2200]
	low, hi := 0, 0
	for i, o := range cycle {
		if o.Value < cycle[low].Value {
			low = i
		}
		if o.Value > cycle[hi].Value {
			hi = i
		}
	}
	require.Greater(t, low, hi)
	assert.Greater(t, cycle[hi].Value-cycle[low].Value, 1200.0)
	assert.Less(t, cycle[150].Value-cycle[low].Value, 150.0)
}

func TestConditioner_OneOutputPerInputInOrder(t *testing.T) {
	c := New(Config{Baseline: 500 * time.Millisecond, Smoothing: 20 * time.Millisecond, SampleRateHz: 100})
	in := samplesFrom([]uint32{1000, 1010, 1020, 1010, 1000})

	out := c.Condition(in, nil)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].Sequence, out[i].Sequence)
	}
}

func TestConditioner_BaselineStartsAtFirstSample(t *testing.T) {
	c := New(Config{Baseline: 200 * time.Millisecond, Smoothing: 0, SampleRateHz: 100})
	out := c.Condition(samplesFrom([]uint32{50000}), nil)

	assert.Equal(t, 50000.0, c.Baseline())
	assert.Equal(t, 0.0, out[0].Value)
	assert.Equal(t, 0.0, out[0].Red)
}

func TestConditioner_RemovesDCOffset(t *testing.T) {
	c := New(Config{Baseline: 200 * time.Millisecond, Smoothing: 30 * time.Millisecond, SampleRateHz: 100})

	// A 1.25 Hz oscillation of +-200 counts riding on a 90000 count DC level
	// that starts 2000 counts off the first reading.
	var in []models.Sample
	for i := 0; i < 2000; i++ {
		v := 90000 + 200*math.Sin(2*math.Pi*1.25*float64(i)/100)
		if i == 0 {
			v = 92000
		}
		in = append(in, models.Sample{Infrared: uint32(v), Red: uint32(v), Sequence: uint32(i)})
	}
	out := c.Condition(in, nil)

	var mean float64
	tail := out[1000:]
	for _, o := range tail {
		mean += o.Value
	}
	mean /= float64(len(tail))

	assert.InDelta(t, 0, mean, 20)
	assert.InDelta(t, 90000, c.Baseline(), 150)
}

func TestConditioner_StateCarriesAcrossCalls(t *testing.T) {
	cfg := Config{Baseline: 300 * time.Millisecond, Smoothing: 30 * time.Millisecond, SampleRateHz: 100}
	in := samplesFrom([]uint32{1000, 1100, 1300, 1200, 900, 950, 1250, 1400})

	whole := New(cfg).Condition(in, nil)

	split := New(cfg)
	parts := split.Condition(in[:3], nil)
	parts = split.Condition(in[3:], parts)

	require.Len(t, parts, len(whole))
	for i := range whole {
		assert.InDelta(t, whole[i].Value, parts[i].Value, 1e-9)
	}
}

func TestConditioner_RedConditionedIdentically(t *testing.T) {
	c := New(Config{Baseline: 500 * time.Millisecond, Smoothing: 20 * time.Millisecond, SampleRateHz: 100})
	in := []models.Sample{
		{Infrared: 500, Red: 500, Sequence: 0},
		{Infrared: 600, Red: 600, Sequence: 1},
		{Infrared: 550, Red: 550, Sequence: 2},
	}
	for _, o := range c.Condition(in, nil) {
		assert.Equal(t, o.Value, o.Red)
	}
}

func TestConditioner_Reset(t *testing.T) {
	c := New(Config{Baseline: 500 * time.Millisecond, SampleRateHz: 100})
	c.Condition(samplesFrom([]uint32{100, 200}), nil)
	c.Reset()

	out := c.Condition([]models.Sample{{Infrared: 7000, Sequence: 5}}, nil)
	assert.Equal(t, 7000.0, c.Baseline())
	assert.Equal(t, 0.0, out[0].Value)
}
