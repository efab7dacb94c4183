package consumer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-ppg/internal/board"
	"wisefido-ppg/internal/device"
)

func frameOf(irs ...uint32) []byte {
	frame := make([]byte, len(irs)*device.WordSize)
	for i, ir := range irs {
		device.EncodeWord(frame[i*device.WordSize:], ir/2, ir)
	}
	return frame
}

func TestQueue_PushFrameNumbersSamples(t *testing.T) {
	latch := board.NewEdgeLatch()
	q := NewQueue(8, latch)

	require.NoError(t, q.PushFrame(frameOf(1000, 2000)))
	require.NoError(t, q.PushFrame(frameOf(3000)))
	assert.True(t, latch.Pending())
	assert.Equal(t, 3, q.Len())

	for i, want := range []uint32{1000, 2000, 3000} {
		s, ok, err := q.TryRead()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint32(i), s.Sequence)
		assert.Equal(t, want, s.Infrared)
		assert.Equal(t, want/2, s.Red)
	}
	assert.True(t, latch.Pending())

	_, ok, err := q.TryRead()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, latch.Pending())
}

func TestQueue_FullQueueCountsOverflow(t *testing.T) {
	q := NewQueue(2, board.NewEdgeLatch())

	require.NoError(t, q.PushFrame(frameOf(1, 2, 3)))
	assert.Equal(t, 1, q.TakeOverflow())
	assert.Zero(t, q.TakeOverflow())

	q.TryRead()
	q.TryRead()
	require.NoError(t, q.PushFrame(frameOf(4)))

	s, ok, _ := q.TryRead()
	require.True(t, ok)
	// the dropped sample leaves a gap in the numbering
	assert.Equal(t, uint32(3), s.Sequence)
	assert.Equal(t, uint32(4), s.Infrared)
}

func TestQueue_RejectsPartialWord(t *testing.T) {
	latch := board.NewEdgeLatch()
	q := NewQueue(8, latch)

	err := q.PushFrame([]byte{0, 1, 2, 3, 4})
	assert.Error(t, err)
	assert.Equal(t, uint64(1), q.BadFrames())
	assert.Zero(t, q.Len())
	assert.False(t, latch.Pending())

	require.NoError(t, q.PushFrame(frameOf(7)))
	s, ok, _ := q.TryRead()
	require.True(t, ok)
	assert.Equal(t, uint32(0), s.Sequence)
}

func TestQueue_EmptyFrameDoesNotSignal(t *testing.T) {
	latch := board.NewEdgeLatch()
	q := NewQueue(8, latch)

	require.NoError(t, q.PushFrame(nil))
	assert.False(t, latch.Pending())
}
