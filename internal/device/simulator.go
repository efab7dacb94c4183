package device

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// ErrNoAck is returned by the Simulator for transfers to another address.
var ErrNoAck = errors.New("i2c: no ack")

// simRevision is reported in REV_ID.
const simRevision = 0x03

// Trigger receives interrupt edges, normally a board.EdgeLatch.
type Trigger interface {
	Trigger()
}

// Simulator is an in-memory MAX30102: register file, 32 slot FIFO with
// wrapping pointers and overflow counter, die temperature and an interrupt
// line. It implements Bus and is safe for concurrent use.
type Simulator struct {
	mu sync.Mutex

	regs  [256]byte
	fifo  [FIFODepth][WordSize]byte
	count int

	irq         Trigger
	wave        *Waveform
	temperature float64
	failReads   int
}

// NewSimulator creates a powered-up device. irq and wave may be nil.
func NewSimulator(irq Trigger, wave *Waveform) *Simulator {
	s := &Simulator{irq: irq, wave: wave, temperature: 30.5}
	s.reset()
	return s
}

func (s *Simulator) reset() {
	s.regs = [256]byte{}
	s.regs[RegPartID] = PartID
	s.regs[RegRevID] = simRevision
	s.regs[RegIntStatus1] = IntPowerReady
	s.count = 0
}

// SetTemperature sets the die temperature returned by the next conversion.
func (s *Simulator) SetTemperature(c float64) {
	s.mu.Lock()
	s.temperature = c
	s.mu.Unlock()
}

// FailReads makes the next n reads fail.
func (s *Simulator) FailReads(n int) {
	s.mu.Lock()
	s.failReads = n
	s.mu.Unlock()
}

// Register returns the raw value of a register.
func (s *Simulator) Register(reg uint8) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[reg]
}

// Unread returns the number of samples held in the FIFO.
func (s *Simulator) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// ReadRegister implements Bus. Reads auto-increment the register address,
// except FIFO_DATA which pops one sample per 6 bytes.
func (s *Simulator) ReadRegister(addr, reg uint8, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr != Address {
		return ErrNoAck
	}
	if s.failReads > 0 {
		s.failReads--
		return errors.New("i2c: arbitration lost")
	}

	if reg == RegFIFOData {
		s.popInto(buf)
		return nil
	}
	for i := range buf {
		r := reg + uint8(i)
		buf[i] = s.regs[r]
		if r == RegIntStatus1 || r == RegIntStatus2 {
			s.regs[r] = 0
		}
	}
	return nil
}

func (s *Simulator) popInto(buf []byte) {
	for off := 0; off < len(buf); off += WordSize {
		end := off + WordSize
		if end > len(buf) || s.count == 0 {
			for i := off; i < len(buf); i++ {
				buf[i] = 0
			}
			return
		}
		rd := s.regs[RegFIFORdPtr]
		copy(buf[off:end], s.fifo[rd][:])
		s.regs[RegFIFORdPtr] = (rd + 1) & ptrMask
		s.regs[RegOvfCounter] = 0
		s.count--
	}
}

// WriteRegister implements Bus.
func (s *Simulator) WriteRegister(addr, reg uint8, buf []byte) error {
	s.mu.Lock()
	if addr != Address {
		s.mu.Unlock()
		return ErrNoAck
	}
	fire := false
	for i, v := range buf {
		fire = s.write(reg+uint8(i), v) || fire
	}
	irq := s.irq
	s.mu.Unlock()

	if fire && irq != nil {
		irq.Trigger()
	}
	return nil
}

func (s *Simulator) write(reg uint8, v byte) bool {
	switch reg {
	case RegModeConfig:
		if v&ModeReset != 0 {
			s.reset()
			return false
		}
		s.regs[reg] = v
	case RegFIFOWrPtr, RegFIFORdPtr:
		s.regs[reg] = v & ptrMask
		s.count = int((s.regs[RegFIFOWrPtr] - s.regs[RegFIFORdPtr]) & ptrMask)
	case RegOvfCounter:
		s.regs[reg] = v & ovfMax
	case RegIntStatus1, RegIntStatus2, RegPartID, RegRevID, RegTempInt, RegTempFrac:
		// read only
	case RegTempConfig:
		if v&TempEnable == 0 {
			return false
		}
		whole := math.Floor(s.temperature)
		s.regs[RegTempInt] = byte(int8(whole))
		s.regs[RegTempFrac] = byte(math.Round((s.temperature-whole)*16)) & 0x0F
		s.regs[RegTempConfig] = 0
		s.regs[RegIntStatus2] |= IntDieTempReady
		return s.regs[RegIntEnable2]&IntDieTempReady != 0
	default:
		s.regs[reg] = v
	}
	return false
}

// Push stores one sample as the sensor would after a conversion and raises
// the interrupt line when an enabled status bit is set.
func (s *Simulator) Push(red, ir uint32) {
	s.mu.Lock()
	fire := s.push(red, ir)
	irq := s.irq
	s.mu.Unlock()

	if fire && irq != nil {
		irq.Trigger()
	}
}

func (s *Simulator) push(red, ir uint32) bool {
	if s.count == FIFODepth {
		if ovf := s.regs[RegOvfCounter]; ovf < ovfMax {
			s.regs[RegOvfCounter] = ovf + 1
		}
		if s.regs[RegFIFOConfig]&(1<<4) == 0 {
			// no rollover: the new sample is lost
			return false
		}
		s.regs[RegFIFORdPtr] = (s.regs[RegFIFORdPtr] + 1) & ptrMask
		s.count--
	}

	wr := s.regs[RegFIFOWrPtr]
	EncodeWord(s.fifo[wr][:], red, ir)
	s.regs[RegFIFOWrPtr] = (wr + 1) & ptrMask
	s.count++

	s.regs[RegIntStatus1] |= IntPPGReady
	if free := FIFODepth - s.count; free <= int(s.regs[RegFIFOConfig]&0x0F) {
		s.regs[RegIntStatus1] |= IntAlmostFull
	}
	return s.regs[RegIntStatus1]&s.regs[RegIntEnable1] != 0
}

// Tick produces one sample from the waveform if the device is in a
// measurement mode.
func (s *Simulator) Tick() bool {
	if s.wave == nil {
		return false
	}
	s.mu.Lock()
	if s.regs[RegModeConfig]&modeMask == 0 || s.regs[RegModeConfig]&ModeShutdown != 0 {
		s.mu.Unlock()
		return false
	}
	red, ir := s.wave.Next()
	fire := s.push(red, ir)
	irq := s.irq
	s.mu.Unlock()

	if fire && irq != nil {
		irq.Trigger()
	}
	return true
}

// Run ticks at the waveform rate until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	if s.wave == nil {
		return errors.New("simulator has no waveform")
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.wave.RateHz()))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}
