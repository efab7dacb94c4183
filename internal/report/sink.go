package report

import (
	"bytes"
	"io"

	"go.uber.org/zap"

	"wisefido-ppg/internal/models"
)

// Config sizes the sink.
type Config struct {
	// MaxLine is the longest line written, terminator included.
	MaxLine int
	// QueueBytes is the capacity of the pending byte queue.
	QueueBytes int
	// FlushBytes bounds the bytes written per Flush. Zero writes everything.
	FlushBytes int
}

// Stats of the sink.
type Stats struct {
	Lines       uint64
	Dropped     uint64
	Truncated   uint64
	WriteErrors uint64
}

// LineSink queues formatted lines in a fixed ring of bytes and drains them to
// an io.Writer in bounded chunks. Lines that do not fit are dropped whole.
type LineSink struct {
	w      io.Writer
	cfg    Config
	logger *zap.Logger

	queue []byte
	start int
	size  int

	scratch []byte
	stats   Stats
}

// NewLineSink allocates the queue and formatting scratch.
func NewLineSink(w io.Writer, cfg Config, logger *zap.Logger) *LineSink {
	if cfg.MaxLine < len(LineEnd)+1 {
		cfg.MaxLine = len(LineEnd) + 1
	}
	if cfg.QueueBytes < cfg.MaxLine {
		cfg.QueueBytes = cfg.MaxLine
	}
	return &LineSink{
		w:       w,
		cfg:     cfg,
		logger:  logger,
		queue:   make([]byte, cfg.QueueBytes),
		scratch: make([]byte, 0, 64),
	}
}

// Sample queues a raw sample line.
func (s *LineSink) Sample(sample models.Sample) bool {
	s.scratch = FormatSample(s.scratch[:0], sample)
	return s.Emit(s.scratch)
}

// Estimate queues a rate line.
func (s *LineSink) Estimate(est models.HeartRateEstimate) bool {
	s.scratch = FormatEstimate(s.scratch[:0], est)
	return s.Emit(s.scratch)
}

// Overflow queues a FIFO overflow line.
func (s *LineSink) Overflow(lost int) bool {
	s.scratch = FormatOverflow(s.scratch[:0], lost)
	return s.Emit(s.scratch)
}

// Emit queues one line, truncating it to MaxLine. The terminator is kept
// on truncated lines. It reports false when the queue is full.
func (s *LineSink) Emit(line []byte) bool {
	body := bytes.TrimSuffix(line, []byte(LineEnd))
	if limit := s.cfg.MaxLine - len(LineEnd); len(body) > limit {
		body = body[:limit]
		s.stats.Truncated++
	}

	n := len(body) + len(LineEnd)
	if len(s.queue)-s.size < n {
		s.stats.Dropped++
		return false
	}
	s.put(body)
	s.put([]byte(LineEnd))
	s.stats.Lines++
	return true
}

func (s *LineSink) put(p []byte) {
	for len(p) > 0 {
		end := (s.start + s.size) % len(s.queue)
		chunk := len(s.queue) - end
		if free := len(s.queue) - s.size; chunk > free {
			chunk = free
		}
		c := copy(s.queue[end:end+chunk], p)
		s.size += c
		p = p[c:]
	}
}

// Pending returns the number of queued bytes.
func (s *LineSink) Pending() int { return s.size }

// Flush writes up to FlushBytes of queued bytes. A failed write discards the
// chunk it was given.
func (s *LineSink) Flush() int {
	budget := s.size
	if s.cfg.FlushBytes > 0 && budget > s.cfg.FlushBytes {
		budget = s.cfg.FlushBytes
	}

	written := 0
	for budget > 0 {
		chunk := len(s.queue) - s.start
		if chunk > budget {
			chunk = budget
		}
		n, err := s.w.Write(s.queue[s.start : s.start+chunk])
		if err != nil {
			s.stats.WriteErrors++
			s.logger.Debug("Diagnostic write failed", zap.Error(err))
			n = chunk
		}
		s.start = (s.start + n) % len(s.queue)
		s.size -= n
		budget -= n
		written += n
		if err != nil || n < chunk {
			break
		}
	}
	if s.size == 0 {
		s.start = 0
	}
	return written
}

// Stats returns the sink counters.
func (s *LineSink) Stats() Stats { return s.stats }
