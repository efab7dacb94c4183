package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration decodes TOML strings such as "300ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// FileConfig is the optional TOML tuning file. Unset keys keep their current value.
type FileConfig struct {
	Sensor   SensorFile   `toml:"sensor"`
	Pipeline PipelineFile `toml:"pipeline"`
	Alert    AlertFile    `toml:"alert"`
	Report   ReportFile   `toml:"report"`
	Source   SourceFile   `toml:"source"`
}

// SensorFile maps [sensor].
type SensorFile struct {
	SampleRateHz *int     `toml:"sample-rate"`
	Averaging    *int     `toml:"averaging"`
	PulseWidthUS *int     `toml:"pulse-width-us"`
	ADCRangeNA   *int     `toml:"adc-range-na"`
	LEDCurrentMA *float64 `toml:"led-current-ma"`
	AlmostFull   *int     `toml:"fifo-almost-full"`
	Rollover     *bool    `toml:"fifo-rollover"`
	Retries      *int     `toml:"retries"`
}

// PipelineFile maps [pipeline].
type PipelineFile struct {
	RingCapacity      *int      `toml:"ring-capacity"`
	Baseline          *Duration `toml:"baseline"`
	Smoothing         *Duration `toml:"smoothing"`
	ThresholdFraction *float64  `toml:"threshold-fraction"`
	InitialAmplitude  *float64  `toml:"initial-amplitude"`
	Refractory        *Duration `toml:"refractory"`
	MinInterval       *Duration `toml:"min-interval"`
	MaxInterval       *Duration `toml:"max-interval"`
	StaleTimeout      *Duration `toml:"stale-timeout"`
	HistorySize       *int      `toml:"history"`
	MaxGaps           *int      `toml:"max-gaps"`
}

// AlertFile maps [alert].
type AlertFile struct {
	Enabled      *bool     `toml:"enabled"`
	ThresholdBPM *int      `toml:"threshold-bpm"`
	ConfirmCount *int      `toml:"confirm"`
	PulseHold    *Duration `toml:"pulse-hold"`
}

// ReportFile maps [report].
type ReportFile struct {
	MaxLine   *int `toml:"max-line"`
	RawEvery  *int `toml:"raw-every"`
	RateEvery *int `toml:"rate-every"`
}

// SourceFile maps [source].
type SourceFile struct {
	Kind         *string  `toml:"kind"`
	SimHeartRate *float64 `toml:"sim-heart-rate"`
	SimNoise     *float64 `toml:"sim-noise"`
}

// LoadFile reads a TOML config from path. A missing file is not an error.
func LoadFile(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return fc, nil
}

// Apply copies the keys present in the file onto cfg.
func (f FileConfig) Apply(cfg *Config) {
	setInt(&cfg.Sensor.SampleRateHz, f.Sensor.SampleRateHz)
	setInt(&cfg.Sensor.Averaging, f.Sensor.Averaging)
	setInt(&cfg.Sensor.PulseWidthUS, f.Sensor.PulseWidthUS)
	setInt(&cfg.Sensor.ADCRangeNA, f.Sensor.ADCRangeNA)
	setFloat(&cfg.Sensor.LEDCurrentMA, f.Sensor.LEDCurrentMA)
	setInt(&cfg.Sensor.AlmostFull, f.Sensor.AlmostFull)
	setBool(&cfg.Sensor.Rollover, f.Sensor.Rollover)
	setInt(&cfg.Sensor.Retries, f.Sensor.Retries)

	setInt(&cfg.Pipeline.RingCapacity, f.Pipeline.RingCapacity)
	setDuration(&cfg.Pipeline.Baseline, f.Pipeline.Baseline)
	setDuration(&cfg.Pipeline.Smoothing, f.Pipeline.Smoothing)
	setFloat(&cfg.Pipeline.ThresholdFraction, f.Pipeline.ThresholdFraction)
	setFloat(&cfg.Pipeline.InitialAmplitude, f.Pipeline.InitialAmplitude)
	setDuration(&cfg.Pipeline.Refractory, f.Pipeline.Refractory)
	setDuration(&cfg.Pipeline.MinInterval, f.Pipeline.MinInterval)
	setDuration(&cfg.Pipeline.MaxInterval, f.Pipeline.MaxInterval)
	setDuration(&cfg.Pipeline.StaleTimeout, f.Pipeline.StaleTimeout)
	setInt(&cfg.Pipeline.HistorySize, f.Pipeline.HistorySize)
	setInt(&cfg.Pipeline.MaxGaps, f.Pipeline.MaxGaps)

	setBool(&cfg.Alert.Enabled, f.Alert.Enabled)
	setInt(&cfg.Alert.ThresholdBPM, f.Alert.ThresholdBPM)
	setInt(&cfg.Alert.ConfirmCount, f.Alert.ConfirmCount)
	setDuration(&cfg.Alert.PulseHold, f.Alert.PulseHold)

	setInt(&cfg.Report.MaxLine, f.Report.MaxLine)
	setInt(&cfg.Report.RawEvery, f.Report.RawEvery)
	setInt(&cfg.Report.RateEvery, f.Report.RateEvery)

	if f.Source.Kind != nil {
		cfg.Source.Kind = *f.Source.Kind
	}
	setFloat(&cfg.Source.SimHeartRate, f.Source.SimHeartRate)
	setFloat(&cfg.Source.SimNoise, f.Source.SimNoise)
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
