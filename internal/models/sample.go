package models

import "time"

// Sample is one (infrared, red) intensity pair read from the sensor FIFO.
// Sequence increases by one per acquired sample; a jump marks samples lost
// to a device FIFO overflow.
type Sample struct {
	Infrared uint32
	Red      uint32
	Sequence uint32
}

// ConditionedSample is the filtered signal aligned with the raw sample sequence.
// Red is conditioned identically to Value (infrared) but is not used for beat detection.
type ConditionedSample struct {
	Value    float64
	Red      float64
	Sequence uint32
}

// BeatEvent is a confirmed beat whose interval to the previous beat passed validation.
type BeatEvent struct {
	Sequence  uint32
	Interval  time.Duration
	Amplitude float64
}

// Confidence of a heart rate estimate.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceOK
)

func (c Confidence) String() string {
	if c == ConfidenceOK {
		return "OK"
	}
	return "LOW"
}

// HeartRateEstimate is the detector's current rate. BPM is zero while no estimate exists.
type HeartRateEstimate struct {
	BPM        uint32
	Confidence Confidence
	UpdatedAt  uint32
}

// AlertState is the output of the alert policy.
// Actuate is set on evaluations that must pulse the buzzer.
type AlertState struct {
	Active         bool
	LastTransition uint32
	Actuate        bool
}
