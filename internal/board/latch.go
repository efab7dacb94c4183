// Package board holds the hosted stand-ins for the MCU peripherals the monitor
// drives: the sensor's data-ready line and the buzzer output.
package board

import (
	"context"
	"sync/atomic"
	"time"
)

// EdgeLatch records data-ready edges. Trigger may be called from any goroutine
// (the interrupt side). Ready consumes the edge; Wait only suspends until one
// is pending, so the reader of the device still sees it.
type EdgeLatch struct {
	flag  atomic.Bool
	ch    chan struct{}
	timer *time.Timer
}

// NewEdgeLatch creates a cleared latch.
func NewEdgeLatch() *EdgeLatch {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return &EdgeLatch{ch: make(chan struct{}, 1), timer: t}
}

// Trigger latches an edge. Edges arriving while latched collapse into one.
func (l *EdgeLatch) Trigger() {
	l.flag.Store(true)
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// Ready tests and clears the latch without blocking.
func (l *EdgeLatch) Ready() bool {
	if !l.flag.Swap(false) {
		return false
	}
	select {
	case <-l.ch:
	default:
	}
	return true
}

// Pending reports a latched edge without clearing it.
func (l *EdgeLatch) Pending() bool { return l.flag.Load() }

// Wait blocks until an edge is pending, ctx is done or timeout elapses. It
// returns false on timeout and may wake spuriously. A zero timeout waits on
// the edge and ctx only.
func (l *EdgeLatch) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	if l.flag.Load() {
		return true, nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		l.timer.Reset(timeout)
		defer l.stopTimer()
		expired = l.timer.C
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-l.ch:
		return true, nil
	case <-expired:
		return false, nil
	}
}

func (l *EdgeLatch) stopTimer() {
	if !l.timer.Stop() {
		select {
		case <-l.timer.C:
		default:
		}
	}
}
