// Package consumer feeds raw FIFO frames forwarded by sensor gateways into
// the monitor pipeline.
package consumer

import (
	"sync"
	"sync/atomic"

	"wisefido-ppg/internal/device"
	"wisefido-ppg/internal/models"
)

// Latch is the data-ready line shared with the run loop.
type Latch interface {
	Trigger()
	Ready() bool
}

// Queue is a fixed capacity sample queue between a network consumer and the
// run loop. Frames are decoded with the device FIFO layout and numbered in
// arrival order. Samples that do not fit are counted as overflow, the same
// way the device reports a FIFO overrun, and leave a gap in the sequence.
type Queue struct {
	ch    chan models.Sample
	latch Latch

	mu      sync.Mutex
	seq     uint32
	scratch []models.Sample

	lost      atomic.Int64
	badFrames atomic.Uint64
}

// NewQueue creates a queue holding up to size samples.
func NewQueue(size int, latch Latch) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		ch:      make(chan models.Sample, size),
		latch:   latch,
		scratch: make([]models.Sample, 0, device.FIFODepth),
	}
}

// PushFrame decodes one frame of 6 byte FIFO words and enqueues the samples.
// It is safe for concurrent use.
func (q *Queue) PushFrame(frame []byte) error {
	q.mu.Lock()
	samples, next, err := device.DecodeFIFO(q.scratch[:0], frame, q.seq)
	if err != nil {
		q.mu.Unlock()
		q.badFrames.Add(1)
		return err
	}
	q.seq = next
	q.scratch = samples[:0]

	dropped := 0
	for _, s := range samples {
		select {
		case q.ch <- s:
		default:
			dropped++
		}
	}
	q.mu.Unlock()

	if dropped > 0 {
		q.lost.Add(int64(dropped))
	}
	if len(samples) > 0 {
		q.latch.Trigger()
	}
	return nil
}

// TryRead implements pipeline.Source. It clears the data-ready latch once
// the queue is empty.
func (q *Queue) TryRead() (models.Sample, bool, error) {
	select {
	case s := <-q.ch:
		return s, true, nil
	default:
	}
	q.latch.Ready()
	// a producer may have pushed between the first check and the clear
	select {
	case s := <-q.ch:
		return s, true, nil
	default:
		return models.Sample{}, false, nil
	}
}

// TakeOverflow implements pipeline.Source.
func (q *Queue) TakeOverflow() int {
	return int(q.lost.Swap(0))
}

// Len returns the number of queued samples.
func (q *Queue) Len() int { return len(q.ch) }

// BadFrames returns the number of frames that could not be decoded.
func (q *Queue) BadFrames() uint64 { return q.badFrames.Load() }
