// Package report renders the diagnostic line protocol and queues it for a
// best effort byte sink.
package report

import (
	"strconv"

	"wisefido-ppg/internal/models"
)

// LineEnd terminates every line.
const LineEnd = "\r\n"

// FormatSample appends "IR: <infrared>, RED: <red>\r\n" to dst.
func FormatSample(dst []byte, s models.Sample) []byte {
	dst = append(dst, "IR: "...)
	dst = strconv.AppendUint(dst, uint64(s.Infrared), 10)
	dst = append(dst, ", RED: "...)
	dst = strconv.AppendUint(dst, uint64(s.Red), 10)
	return append(dst, LineEnd...)
}

// FormatEstimate appends "Heart Rate: <bpm> bpm\r\n" to dst.
func FormatEstimate(dst []byte, est models.HeartRateEstimate) []byte {
	dst = append(dst, "Heart Rate: "...)
	dst = strconv.AppendUint(dst, uint64(est.BPM), 10)
	return append(dst, " bpm"+LineEnd...)
}

// FormatOverflow appends "FIFO overflow: <lost>\r\n" to dst.
func FormatOverflow(dst []byte, lost int) []byte {
	dst = append(dst, "FIFO overflow: "...)
	dst = strconv.AppendInt(dst, int64(lost), 10)
	return append(dst, LineEnd...)
}
