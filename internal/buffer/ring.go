// Package buffer holds the fixed-capacity sample ring between acquisition and conditioning.
package buffer

import "wisefido-ppg/internal/models"

// Ring keeps the most recent samples. Push never fails: when full the oldest
// sample is overwritten. A single read cursor tracks what the conditioner has
// consumed and never passes the write position.
type Ring struct {
	buf   []models.Sample
	head  int    // next write index
	count int    // valid samples, <= len(buf)
	write uint64 // total pushes
	read  uint64 // total consumed by ReadNew (or skipped)
}

// New allocates a ring of the given capacity. Capacity below 1 is raised to 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]models.Sample, capacity)}
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of samples held.
func (r *Ring) Len() int { return r.count }

// Push stores s, overwriting the oldest sample when full.
func (r *Ring) Push(s models.Sample) {
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.write++
}

// Snapshot appends the last k samples (oldest first) to dst. k is clamped to Len.
func (r *Ring) Snapshot(dst []models.Sample, k int) []models.Sample {
	if k > r.count {
		k = r.count
	}
	if k <= 0 {
		return dst
	}
	start := (r.head - k + len(r.buf)) % len(r.buf)
	for i := 0; i < k; i++ {
		dst = append(dst, r.buf[(start+i)%len(r.buf)])
	}
	return dst
}

// Unread returns how many held samples have not been returned by ReadNew.
func (r *Ring) Unread() int {
	n := r.write - r.read
	if n > uint64(r.count) {
		return r.count
	}
	return int(n)
}

// ReadNew appends the samples pushed since the previous call, oldest first,
// and advances the read cursor to the write position. The second result is
// the number of samples overwritten before they could be read.
func (r *Ring) ReadNew(dst []models.Sample) ([]models.Sample, int) {
	pending := r.write - r.read
	skipped := 0
	if pending > uint64(r.count) {
		skipped = int(pending - uint64(r.count))
		pending = uint64(r.count)
	}
	r.read = r.write
	return r.Snapshot(dst, int(pending)), skipped
}
