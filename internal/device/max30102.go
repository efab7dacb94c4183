// Package device talks to the MAX30102 pulse oximetry sensor over a
// register-addressed bus and adapts its FIFO into a stream of samples.
package device

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrTransport is returned when a bus transfer keeps failing after retries.
	ErrTransport = errors.New("device transport fault")
	// ErrWrongDevice is returned when PART_ID does not identify a MAX30102.
	ErrWrongDevice = errors.New("device is not a MAX30102")
	// ErrResetTimeout is returned when the soft reset bit does not clear.
	ErrResetTimeout = errors.New("device reset timeout")
	// ErrInvalidSetting is returned for settings the device cannot encode.
	ErrInvalidSetting = errors.New("invalid device setting")
)

// Bus is a register-addressed transport (I2C on the board).
type Bus interface {
	ReadRegister(addr, reg uint8, buf []byte) error
	WriteRegister(addr, reg uint8, buf []byte) error
}

// Settings configure the acquisition chain of the sensor.
type Settings struct {
	SampleRateHz int
	Averaging    int
	PulseWidthUS int
	ADCRangeNA   int
	LEDCurrentMA float64
	// AlmostFull is the number of free FIFO slots left when A_FULL fires.
	AlmostFull int
	Rollover   bool
	// Retries is the number of attempts per bus transfer.
	Retries int
	// ResetPolls bounds the MODE_CONFIG polls after a soft reset.
	ResetPolls int
}

// EffectiveRateHz is the rate at which averaged samples reach the FIFO.
func (s Settings) EffectiveRateHz() float64 {
	if s.Averaging <= 1 {
		return float64(s.SampleRateHz)
	}
	return float64(s.SampleRateHz) / float64(s.Averaging)
}

var (
	sampleRateCodes = map[int]byte{50: 0, 100: 1, 200: 2, 400: 3, 800: 4, 1000: 5, 1600: 6, 3200: 7}
	averagingCodes  = map[int]byte{1: 0, 2: 1, 4: 2, 8: 3, 16: 4, 32: 5}
	pulseWidthCodes = map[int]byte{69: 0, 118: 1, 215: 2, 411: 3}
	adcRangeCodes   = map[int]byte{2048: 0, 4096: 1, 8192: 2, 16384: 3}
)

// FIFOConfig encodes FIFO_CONFIG.
func (s Settings) FIFOConfig() (byte, error) {
	ave, ok := averagingCodes[s.Averaging]
	if !ok {
		return 0, fmt.Errorf("%w: sample averaging %d", ErrInvalidSetting, s.Averaging)
	}
	if s.AlmostFull < 0 || s.AlmostFull > 15 {
		return 0, fmt.Errorf("%w: fifo almost full %d", ErrInvalidSetting, s.AlmostFull)
	}
	v := ave<<5 | byte(s.AlmostFull)
	if s.Rollover {
		v |= 1 << 4
	}
	return v, nil
}

// SpO2Config encodes SPO2_CONFIG.
func (s Settings) SpO2Config() (byte, error) {
	adc, ok := adcRangeCodes[s.ADCRangeNA]
	if !ok {
		return 0, fmt.Errorf("%w: adc range %d nA", ErrInvalidSetting, s.ADCRangeNA)
	}
	sr, ok := sampleRateCodes[s.SampleRateHz]
	if !ok {
		return 0, fmt.Errorf("%w: sample rate %d Hz", ErrInvalidSetting, s.SampleRateHz)
	}
	pw, ok := pulseWidthCodes[s.PulseWidthUS]
	if !ok {
		return 0, fmt.Errorf("%w: pulse width %d us", ErrInvalidSetting, s.PulseWidthUS)
	}
	return adc<<5 | sr<<2 | pw, nil
}

// LEDAmplitude encodes a LEDx_PA value.
func (s Settings) LEDAmplitude() (byte, error) {
	steps := math.Round(s.LEDCurrentMA / LEDCurrentStepMA)
	if steps < 0 || steps > 0xFF {
		return 0, fmt.Errorf("%w: led current %.1f mA", ErrInvalidSetting, s.LEDCurrentMA)
	}
	return byte(steps), nil
}

// registers wraps a Bus with bounded retries.
type registers struct {
	bus     Bus
	addr    uint8
	retries int
}

func newRegisters(bus Bus, retries int) registers {
	if retries < 1 {
		retries = 1
	}
	return registers{bus: bus, addr: Address, retries: retries}
}

func (r registers) read(reg uint8, buf []byte) error {
	var err error
	for i := 0; i < r.retries; i++ {
		if err = r.bus.ReadRegister(r.addr, reg, buf); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: read 0x%02X: %w", ErrTransport, reg, err)
}

func (r registers) write(reg uint8, v byte) error {
	var err error
	for i := 0; i < r.retries; i++ {
		if err = r.bus.WriteRegister(r.addr, reg, []byte{v}); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: write 0x%02X: %w", ErrTransport, reg, err)
}

func (r registers) readByte(reg uint8) (byte, error) {
	var b [1]byte
	err := r.read(reg, b[:])
	return b[0], err
}

// Init brings the sensor up: identify, soft reset, clear the FIFO and
// program acquisition and interrupts. Any error is an initialization fault.
func Init(bus Bus, s Settings, logger *zap.Logger) error {
	r := newRegisters(bus, s.Retries)

	// 1. identify
	id, err := r.readByte(RegPartID)
	if err != nil {
		return fmt.Errorf("read part id: %w", err)
	}
	if id != PartID {
		return fmt.Errorf("%w: part id 0x%02X", ErrWrongDevice, id)
	}
	rev, err := r.readByte(RegRevID)
	if err != nil {
		return fmt.Errorf("read revision: %w", err)
	}

	// 2. soft reset
	if err := r.write(RegModeConfig, ModeReset); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	polls := s.ResetPolls
	if polls < 1 {
		polls = 100
	}
	reset := false
	for i := 0; i < polls; i++ {
		mode, err := r.readByte(RegModeConfig)
		if err != nil {
			return fmt.Errorf("poll reset: %w", err)
		}
		if mode&ModeReset == 0 {
			reset = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !reset {
		return ErrResetTimeout
	}

	// 3. clear fifo
	for _, reg := range []uint8{RegFIFOWrPtr, RegOvfCounter, RegFIFORdPtr} {
		if err := r.write(reg, 0); err != nil {
			return fmt.Errorf("clear fifo: %w", err)
		}
	}

	// 4. acquisition
	fifoCfg, err := s.FIFOConfig()
	if err != nil {
		return err
	}
	spo2Cfg, err := s.SpO2Config()
	if err != nil {
		return err
	}
	led, err := s.LEDAmplitude()
	if err != nil {
		return err
	}
	writes := []struct {
		reg uint8
		val byte
	}{
		{RegFIFOConfig, fifoCfg},
		{RegSpO2Config, spo2Cfg},
		{RegLED1PA, led},
		{RegLED2PA, led},
		{RegModeConfig, ModeSpO2},
		{RegIntEnable1, IntAlmostFull | IntPPGReady},
		{RegIntEnable2, IntDieTempReady},
		{RegTempConfig, TempEnable},
	}
	for _, w := range writes {
		if err := r.write(w.reg, w.val); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
	}

	// 5. drop power-on status
	if _, err := r.readByte(RegIntStatus1); err != nil {
		return fmt.Errorf("clear status: %w", err)
	}
	if _, err := r.readByte(RegIntStatus2); err != nil {
		return fmt.Errorf("clear status: %w", err)
	}

	logger.Info("MAX30102 initialized",
		zap.Uint8("revision", rev),
		zap.Int("sample_rate_hz", s.SampleRateHz),
		zap.Int("averaging", s.Averaging),
		zap.Float64("effective_rate_hz", s.EffectiveRateHz()),
		zap.Float64("led_current_ma", float64(led)*LEDCurrentStepMA),
		zap.Bool("rollover", s.Rollover),
	)
	return nil
}

// ReadTemperature runs one die temperature conversion and returns degrees Celsius.
func ReadTemperature(bus Bus, retries int) (float64, error) {
	r := newRegisters(bus, retries)

	if err := r.write(RegTempConfig, TempEnable); err != nil {
		return 0, fmt.Errorf("start conversion: %w", err)
	}
	done := false
	for i := 0; i < 100; i++ {
		cfg, err := r.readByte(RegTempConfig)
		if err != nil {
			return 0, fmt.Errorf("poll conversion: %w", err)
		}
		if cfg&TempEnable == 0 {
			done = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !done {
		return 0, fmt.Errorf("%w: temperature conversion did not finish", ErrTransport)
	}

	var b [2]byte
	if err := r.read(RegTempInt, b[:]); err != nil {
		return 0, fmt.Errorf("read temperature: %w", err)
	}
	return float64(int8(b[0])) + float64(b[1]&0x0F)*0.0625, nil
}
