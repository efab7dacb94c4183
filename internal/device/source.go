package device

import (
	"fmt"

	"go.uber.org/zap"

	"wisefido-ppg/internal/models"
)

// Signal is the sensor's edge-triggered data-ready line. Ready tests and clears it.
type Signal interface {
	Ready() bool
}

// Source reads samples out of the device FIFO one at a time.
//
// On a data-ready edge it reads the pointer registers, works out how many
// samples are pending and burst-reads them into a fixed buffer; TryRead then
// hands them out oldest first. Samples lost to a device FIFO overflow advance
// the sequence number so later stages see the gap.
type Source struct {
	regs     registers
	signal   Signal
	rollover bool
	logger   *zap.Logger

	raw   [FIFODepth * WordSize]byte
	burst [FIFODepth]models.Sample
	count int
	next  int

	seq    uint32
	lost   int
	faults uint64
}

// NewSource creates a Source over an initialized device.
func NewSource(bus Bus, signal Signal, s Settings, logger *zap.Logger) *Source {
	return &Source{
		regs:     newRegisters(bus, s.Retries),
		signal:   signal,
		rollover: s.Rollover,
		logger:   logger,
	}
}

// TryRead returns the oldest pending sample. It never blocks: with nothing
// buffered and no data-ready edge it reports ok == false. A transport error
// skips the current read cycle.
func (s *Source) TryRead() (models.Sample, bool, error) {
	if s.next < s.count {
		sample := s.burst[s.next]
		s.next++
		return sample, true, nil
	}
	if !s.signal.Ready() {
		return models.Sample{}, false, nil
	}
	if err := s.fetch(); err != nil {
		s.faults++
		return models.Sample{}, false, err
	}
	if s.count == 0 {
		return models.Sample{}, false, nil
	}
	s.next = 1
	return s.burst[0], true, nil
}

func (s *Source) fetch() error {
	s.count, s.next = 0, 0

	// reading the status acknowledges the interrupt
	if _, err := s.regs.readByte(RegIntStatus1); err != nil {
		return fmt.Errorf("read status: %w", err)
	}

	// FIFO_WR_PTR, OVF_COUNTER, FIFO_RD_PTR are contiguous
	var ptr [3]byte
	if err := s.regs.read(RegFIFOWrPtr, ptr[:]); err != nil {
		return fmt.Errorf("read fifo pointers: %w", err)
	}
	wr, ovf, rd := ptr[0], ptr[1], ptr[2]

	pending := Pending(wr, rd, ovf)
	if pending == 0 {
		return nil
	}

	frame := s.raw[:pending*WordSize]
	if err := s.regs.read(RegFIFOData, frame); err != nil {
		return fmt.Errorf("read fifo data: %w", err)
	}

	if ovf > 0 {
		s.lost += int(ovf)
		s.logger.Warn("Device FIFO overflow",
			zap.Uint8("lost", ovf),
			zap.Uint32("sequence", s.seq),
		)
		// with rollover the oldest samples were overwritten, otherwise the newest were dropped
		if s.rollover {
			s.seq += uint32(ovf)
		}
	}
	for i := 0; i < pending; i++ {
		red, ir := DecodeWord(frame[i*WordSize : (i+1)*WordSize])
		s.burst[i] = models.Sample{Infrared: ir, Red: red, Sequence: s.seq}
		s.seq++
	}
	if ovf > 0 && !s.rollover {
		s.seq += uint32(ovf)
	}
	s.count = pending
	return nil
}

// TakeOverflow returns the samples lost since the last call and resets the count.
func (s *Source) TakeOverflow() int {
	n := s.lost
	s.lost = 0
	return n
}

// Faults returns the number of failed read cycles.
func (s *Source) Faults() uint64 { return s.faults }
