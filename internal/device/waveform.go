package device

import "math"

// Waveform generates a synthetic PPG trace at a fixed rate: a DC level, a
// systolic and a dicrotic gaussian per cardiac cycle, slow respiratory drift
// and cheap deterministic noise.
type Waveform struct {
	rateHz float64
	bpm    float64
	noise  float64

	phase float64
	resp  float64

	// DC and AC are the infrared levels in ADC counts; red is scaled from them.
	DC       float64
	AC       float64
	RedRatio float64
}

// NewWaveform creates a generator. noise is relative to AC, typically 0..0.1.
func NewWaveform(rateHz, bpm, noise float64) *Waveform {
	return &Waveform{
		rateHz:   rateHz,
		bpm:      bpm,
		noise:    noise,
		DC:       90000,
		AC:       1500,
		RedRatio: 0.8,
	}
}

// RateHz returns the sample rate.
func (w *Waveform) RateHz() float64 { return w.rateHz }

// SetBPM changes the heart rate from the next sample on.
func (w *Waveform) SetBPM(bpm float64) { w.bpm = bpm }

// Next advances one sample and returns the red and infrared counts.
func (w *Waveform) Next() (red, ir uint32) {
	w.phase += w.bpm / 60 / w.rateHz
	if w.phase >= 1 {
		w.phase -= math.Floor(w.phase)
	}
	w.resp += 0.25 / w.rateHz
	if w.resp >= 1 {
		w.resp -= 1
	}

	t := w.phase
	pulse := gauss(t, 0.25, 0.07) + 0.35*gauss(t, 0.55, 0.06)
	drift := 0.3 * math.Sin(2*math.Pi*w.resp)
	n := w.noise * (2*fract(math.Sin(12345.678*t+w.resp)*9876.543) - 1)

	ac := w.AC * (pulse + drift + n)
	return clamp(w.RedRatio * (w.DC + ac)), clamp(w.DC + ac)
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

func fract(x float64) float64 { return x - math.Floor(x) }

func clamp(v float64) uint32 {
	if v < 0 {
		return 0
	}
	if v > channelMask {
		return channelMask
	}
	return uint32(v)
}
