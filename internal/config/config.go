package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"wisefido-ppg/internal/alert"
	"wisefido-ppg/internal/common/config"
	"wisefido-ppg/internal/conditioner"
	"wisefido-ppg/internal/detector"
	"wisefido-ppg/internal/device"
	"wisefido-ppg/internal/report"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Source kinds.
const (
	SourceSimulator = "simulator"
	SourceRedis     = "redis"
	SourceMQTT      = "mqtt"
)

// Config is the monitor service configuration.
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// Sensor settings are forwarded to the MAX30102 unchanged.
	Sensor struct {
		SampleRateHz int
		Averaging    int
		PulseWidthUS int
		ADCRangeNA   int
		LEDCurrentMA float64
		AlmostFull   int
		Rollover     bool
		Retries      int
	}

	Pipeline struct {
		RingCapacity      int
		Baseline          time.Duration
		Smoothing         time.Duration
		ThresholdFraction float64
		InitialAmplitude  float64
		Refractory        time.Duration
		MinInterval       time.Duration
		MaxInterval       time.Duration
		StaleTimeout      time.Duration
		HistorySize       int
		MaxGaps           int
		// IdlePoll wakes the loop without data so a buzzer pulse still ends on time.
		IdlePoll time.Duration
	}

	Alert struct {
		Enabled      bool
		ThresholdBPM int
		ConfirmCount int
		PulseHold    time.Duration
	}

	Report struct {
		MaxLine    int
		RawEvery   int
		RateEvery  int
		QueueBytes int
		FlushBytes int
	}

	// Source selects where samples come from.
	Source struct {
		Kind      string
		Stream    string
		Group     string
		Consumer  string
		Topic     string
		QueueSize int

		SimHeartRate float64
		SimNoise     float64
	}

	Monitor struct {
		TenantID string
		DeviceID string
		// AlarmFromDatabase reads the per-device alarm threshold at start.
		AlarmFromDatabase bool
	}

	Log struct {
		Level  string
		Format string
	}
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	cfg := &Config{}

	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "owlrd",
		SSLMode:  "disable",
		MaxConns: 5,
		MaxIdle:  2,
	}
	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.MQTT = config.MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "wisefido-ppg", QoS: 1}

	// 800 Hz with 8x averaging, as the board firmware programs it
	cfg.Sensor.SampleRateHz = 800
	cfg.Sensor.Averaging = 8
	cfg.Sensor.PulseWidthUS = 118
	cfg.Sensor.ADCRangeNA = 2048
	cfg.Sensor.LEDCurrentMA = 6.2
	cfg.Sensor.AlmostFull = 7
	cfg.Sensor.Rollover = true
	cfg.Sensor.Retries = 3

	cfg.Pipeline.RingCapacity = 64
	// long enough that the baseline ignores a 20 bpm pulse
	cfg.Pipeline.Baseline = 2 * time.Second
	cfg.Pipeline.Smoothing = 40 * time.Millisecond
	cfg.Pipeline.ThresholdFraction = 0.45
	cfg.Pipeline.InitialAmplitude = 20
	cfg.Pipeline.Refractory = 300 * time.Millisecond
	cfg.Pipeline.MinInterval = 272 * time.Millisecond
	cfg.Pipeline.MaxInterval = 3000 * time.Millisecond
	cfg.Pipeline.StaleTimeout = 5 * time.Second
	cfg.Pipeline.HistorySize = 4
	cfg.Pipeline.MaxGaps = 3
	cfg.Pipeline.IdlePoll = 100 * time.Millisecond

	cfg.Alert.Enabled = true
	cfg.Alert.ThresholdBPM = 50
	cfg.Alert.ConfirmCount = 2
	cfg.Alert.PulseHold = 500 * time.Millisecond

	cfg.Report.MaxLine = 50
	cfg.Report.RawEvery = 10
	cfg.Report.RateEvery = 100
	cfg.Report.QueueBytes = 1024
	cfg.Report.FlushBytes = 64

	cfg.Source.Kind = SourceSimulator
	cfg.Source.Stream = "ppg:fifo:stream"
	cfg.Source.Group = "wisefido-ppg"
	cfg.Source.Consumer = "ppg-1"
	cfg.Source.Topic = "ppg/+/fifo"
	cfg.Source.QueueSize = 256
	cfg.Source.SimHeartRate = 72
	cfg.Source.SimNoise = 0.02

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

// Load builds the configuration from defaults, the optional TOML file named
// by PPG_CONFIG_FILE, then environment variables, and validates the result.
func Load() (*Config, error) {
	cfg := Defaults()

	// 1. tuning file
	if path := getEnv("PPG_CONFIG_FILE", ""); path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		file.Apply(cfg)
	}

	// 2. connections
	cfg.Database.LoadFromEnv("DB")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT.LoadFromEnv("MQTT")

	// 3. sensor
	cfg.Sensor.SampleRateHz = getEnvInt("PPG_SAMPLE_RATE", cfg.Sensor.SampleRateHz)
	cfg.Sensor.Averaging = getEnvInt("PPG_AVERAGING", cfg.Sensor.Averaging)
	cfg.Sensor.PulseWidthUS = getEnvInt("PPG_PULSE_WIDTH_US", cfg.Sensor.PulseWidthUS)
	cfg.Sensor.ADCRangeNA = getEnvInt("PPG_ADC_RANGE_NA", cfg.Sensor.ADCRangeNA)
	cfg.Sensor.LEDCurrentMA = getEnvFloat("PPG_LED_CURRENT_MA", cfg.Sensor.LEDCurrentMA)
	cfg.Sensor.AlmostFull = getEnvInt("PPG_FIFO_ALMOST_FULL", cfg.Sensor.AlmostFull)
	cfg.Sensor.Rollover = getEnvBool("PPG_FIFO_ROLLOVER", cfg.Sensor.Rollover)
	cfg.Sensor.Retries = getEnvInt("PPG_BUS_RETRIES", cfg.Sensor.Retries)

	// 4. pipeline
	cfg.Pipeline.RingCapacity = getEnvInt("PPG_RING_CAPACITY", cfg.Pipeline.RingCapacity)
	cfg.Pipeline.Baseline = getEnvDuration("PPG_BASELINE", cfg.Pipeline.Baseline)
	cfg.Pipeline.Smoothing = getEnvDuration("PPG_SMOOTHING", cfg.Pipeline.Smoothing)
	cfg.Pipeline.ThresholdFraction = getEnvFloat("PPG_THRESHOLD_FRACTION", cfg.Pipeline.ThresholdFraction)
	cfg.Pipeline.InitialAmplitude = getEnvFloat("PPG_INITIAL_AMPLITUDE", cfg.Pipeline.InitialAmplitude)
	cfg.Pipeline.Refractory = getEnvDuration("PPG_REFRACTORY", cfg.Pipeline.Refractory)
	cfg.Pipeline.MinInterval = getEnvDuration("PPG_MIN_INTERVAL", cfg.Pipeline.MinInterval)
	cfg.Pipeline.MaxInterval = getEnvDuration("PPG_MAX_INTERVAL", cfg.Pipeline.MaxInterval)
	cfg.Pipeline.StaleTimeout = getEnvDuration("PPG_STALE_TIMEOUT", cfg.Pipeline.StaleTimeout)
	cfg.Pipeline.HistorySize = getEnvInt("PPG_HISTORY_SIZE", cfg.Pipeline.HistorySize)
	cfg.Pipeline.MaxGaps = getEnvInt("PPG_MAX_GAPS", cfg.Pipeline.MaxGaps)
	cfg.Pipeline.IdlePoll = getEnvDuration("PPG_IDLE_POLL", cfg.Pipeline.IdlePoll)

	// 5. alert
	cfg.Alert.Enabled = getEnvBool("ALERT_ENABLED", cfg.Alert.Enabled)
	cfg.Alert.ThresholdBPM = getEnvInt("ALERT_THRESHOLD_BPM", cfg.Alert.ThresholdBPM)
	cfg.Alert.ConfirmCount = getEnvInt("ALERT_CONFIRM_COUNT", cfg.Alert.ConfirmCount)
	cfg.Alert.PulseHold = getEnvDuration("ALERT_PULSE_HOLD", cfg.Alert.PulseHold)

	// 6. report
	cfg.Report.MaxLine = getEnvInt("REPORT_MAX_LINE", cfg.Report.MaxLine)
	cfg.Report.RawEvery = getEnvInt("REPORT_RAW_EVERY", cfg.Report.RawEvery)
	cfg.Report.RateEvery = getEnvInt("REPORT_RATE_EVERY", cfg.Report.RateEvery)
	cfg.Report.QueueBytes = getEnvInt("REPORT_QUEUE_BYTES", cfg.Report.QueueBytes)
	cfg.Report.FlushBytes = getEnvInt("REPORT_FLUSH_BYTES", cfg.Report.FlushBytes)

	// 7. source
	cfg.Source.Kind = getEnv("PPG_SOURCE", cfg.Source.Kind)
	cfg.Source.Stream = getEnv("PPG_STREAM", cfg.Source.Stream)
	cfg.Source.Group = getEnv("PPG_STREAM_GROUP", cfg.Source.Group)
	cfg.Source.Consumer = getEnv("PPG_STREAM_CONSUMER", cfg.Source.Consumer)
	cfg.Source.Topic = getEnv("PPG_MQTT_TOPIC", cfg.Source.Topic)
	cfg.Source.QueueSize = getEnvInt("PPG_QUEUE_SIZE", cfg.Source.QueueSize)
	cfg.Source.SimHeartRate = getEnvFloat("SIM_HEART_RATE", cfg.Source.SimHeartRate)
	cfg.Source.SimNoise = getEnvFloat("SIM_NOISE", cfg.Source.SimNoise)

	// 8. monitor
	cfg.Monitor.TenantID = getEnv("TENANT_ID", cfg.Monitor.TenantID)
	cfg.Monitor.DeviceID = getEnv("PPG_DEVICE_ID", cfg.Monitor.DeviceID)
	cfg.Monitor.AlarmFromDatabase = getEnvBool("PPG_ALARM_FROM_DB", cfg.Monitor.AlarmFromDatabase)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	s := c.SensorSettings()
	if _, err := s.FIFOConfig(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := s.SpO2Config(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := s.LEDAmplitude(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	p := c.Pipeline
	switch {
	case p.RingCapacity < 1:
		return fmt.Errorf("%w: ring capacity %d", ErrInvalid, p.RingCapacity)
	case p.Baseline <= 0:
		return fmt.Errorf("%w: baseline time constant %s", ErrInvalid, p.Baseline)
	case p.ThresholdFraction <= 0 || p.ThresholdFraction > 1:
		return fmt.Errorf("%w: threshold fraction %g", ErrInvalid, p.ThresholdFraction)
	case p.InitialAmplitude <= 0:
		return fmt.Errorf("%w: initial amplitude %g", ErrInvalid, p.InitialAmplitude)
	case p.MinInterval <= 0 || p.MinInterval >= p.MaxInterval:
		return fmt.Errorf("%w: interval bounds [%s, %s]", ErrInvalid, p.MinInterval, p.MaxInterval)
	case p.StaleTimeout <= 0:
		return fmt.Errorf("%w: stale timeout %s", ErrInvalid, p.StaleTimeout)
	case p.HistorySize < 1 || p.HistorySize > detector.MaxHistory:
		return fmt.Errorf("%w: history size %d", ErrInvalid, p.HistorySize)
	}

	if c.Alert.ThresholdBPM < 1 || c.Alert.ConfirmCount < 1 || c.Alert.PulseHold <= 0 {
		return fmt.Errorf("%w: alert threshold %d, confirm %d, hold %s",
			ErrInvalid, c.Alert.ThresholdBPM, c.Alert.ConfirmCount, c.Alert.PulseHold)
	}
	if c.Report.MaxLine < 3 || c.Report.QueueBytes < c.Report.MaxLine {
		return fmt.Errorf("%w: report line %d, queue %d", ErrInvalid, c.Report.MaxLine, c.Report.QueueBytes)
	}

	switch c.Source.Kind {
	case SourceSimulator:
		if c.Source.SimHeartRate <= 0 {
			return fmt.Errorf("%w: simulated heart rate %g", ErrInvalid, c.Source.SimHeartRate)
		}
	case SourceRedis, SourceMQTT:
		if c.Source.QueueSize < 1 {
			return fmt.Errorf("%w: queue size %d", ErrInvalid, c.Source.QueueSize)
		}
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalid, c.Source.Kind)
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// SensorSettings returns the device bring-up settings.
func (c *Config) SensorSettings() device.Settings {
	return device.Settings{
		SampleRateHz: c.Sensor.SampleRateHz,
		Averaging:    c.Sensor.Averaging,
		PulseWidthUS: c.Sensor.PulseWidthUS,
		ADCRangeNA:   c.Sensor.ADCRangeNA,
		LEDCurrentMA: c.Sensor.LEDCurrentMA,
		AlmostFull:   c.Sensor.AlmostFull,
		Rollover:     c.Sensor.Rollover,
		Retries:      c.Sensor.Retries,
	}
}

// SampleRateHz is the rate samples reach the pipeline.
func (c *Config) SampleRateHz() float64 {
	return c.SensorSettings().EffectiveRateHz()
}

// ConditionerConfig returns the signal conditioner settings.
func (c *Config) ConditionerConfig() conditioner.Config {
	return conditioner.Config{
		Baseline:     c.Pipeline.Baseline,
		Smoothing:    c.Pipeline.Smoothing,
		SampleRateHz: c.SampleRateHz(),
	}
}

// DetectorConfig returns the peak detector settings.
func (c *Config) DetectorConfig() detector.Config {
	return detector.Config{
		SampleRateHz:      c.SampleRateHz(),
		InitialAmplitude:  c.Pipeline.InitialAmplitude,
		ThresholdFraction: c.Pipeline.ThresholdFraction,
		Refractory:        c.Pipeline.Refractory,
		MinInterval:       c.Pipeline.MinInterval,
		MaxInterval:       c.Pipeline.MaxInterval,
		StaleTimeout:      c.Pipeline.StaleTimeout,
		HistorySize:       c.Pipeline.HistorySize,
		MaxGaps:           c.Pipeline.MaxGaps,
	}
}

// AlertConfig returns the alert policy settings.
func (c *Config) AlertConfig() alert.Config {
	return alert.Config{
		Enabled:      c.Alert.Enabled,
		ThresholdBPM: uint32(c.Alert.ThresholdBPM),
		ConfirmCount: c.Alert.ConfirmCount,
	}
}

// ReportConfig returns the diagnostic sink settings.
func (c *Config) ReportConfig() report.Config {
	return report.Config{
		MaxLine:    c.Report.MaxLine,
		QueueBytes: c.Report.QueueBytes,
		FlushBytes: c.Report.FlushBytes,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
