package device

import (
	"fmt"

	"wisefido-ppg/internal/models"
)

// DecodeWord splits one 6 byte FIFO word into its 18-bit red and infrared values.
func DecodeWord(w []byte) (red, ir uint32) {
	red = (uint32(w[0])<<16 | uint32(w[1])<<8 | uint32(w[2])) & channelMask
	ir = (uint32(w[3])<<16 | uint32(w[4])<<8 | uint32(w[5])) & channelMask
	return red, ir
}

// EncodeWord is the inverse of DecodeWord. Values are masked to 18 bits.
func EncodeWord(w []byte, red, ir uint32) {
	red &= channelMask
	ir &= channelMask
	w[0], w[1], w[2] = byte(red>>16), byte(red>>8), byte(red)
	w[3], w[4], w[5] = byte(ir>>16), byte(ir>>8), byte(ir)
}

// DecodeFIFO decodes a burst of FIFO words into dst, numbering samples from
// seq. It returns the extended slice and the next sequence number.
func DecodeFIFO(dst []models.Sample, frame []byte, seq uint32) ([]models.Sample, uint32, error) {
	if len(frame)%WordSize != 0 {
		return dst, seq, fmt.Errorf("fifo frame of %d bytes is not a multiple of %d", len(frame), WordSize)
	}
	for off := 0; off < len(frame); off += WordSize {
		red, ir := DecodeWord(frame[off : off+WordSize])
		dst = append(dst, models.Sample{Infrared: ir, Red: red, Sequence: seq})
		seq++
	}
	return dst, seq, nil
}

// Pending returns the number of unread FIFO slots from the pointer registers.
// A full FIFO has equal pointers and a non-zero overflow counter.
func Pending(wr, rd, ovf byte) int {
	n := int((wr - rd) & ptrMask)
	if n == 0 && ovf > 0 {
		n = FIFODepth
	}
	return n
}
