package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var abc = []string{"a", "b", "c"}

func TestNextIndexLinear(t *testing.T) {
	assert.Equal(t, -1, NextIndex(abc, 2, false, RepeatOff))
	assert.Equal(t, 0, NextIndex(abc, 2, false, RepeatQueue))
	assert.Equal(t, 2, NextIndex(abc, 1, false, RepeatOff))
	assert.Equal(t, 0, NextIndex(abc, -1, false, RepeatOff))
	assert.Equal(t, -1, NextIndex([]string{}, 0, false, RepeatQueue))
}

func TestNextIndexRepeatTrackWins(t *testing.T) {
	assert.Equal(t, 1, NextIndex(abc, 1, false, RepeatTrack))
	assert.Equal(t, 2, NextIndex(abc, 2, true, RepeatTrack))
}

func TestNextIndexShuffleSingleTrack(t *testing.T) {
	assert.Equal(t, 0, NextIndex([]string{"a"}, 0, true, RepeatOff))
	assert.Equal(t, 0, NextIndex([]string{"a"}, 0, true, RepeatQueue))
}

func TestNextIndexShuffleNeverRepeatsCurrent(t *testing.T) {
	for i := 0; i < 500; i++ {
		got := NextIndex(abc, 1, true, RepeatOff)
		assert.NotEqual(t, 1, got)
		assert.GreaterOrEqual(t, got, 0)
		assert.Less(t, got, len(abc))
	}
}

func TestNextIndexShuffleCoversEveryOtherIndex(t *testing.T) {
	// 注入随机源，逐一枚举
	for r := 0; r < 3; r++ {
		got := nextIndex(4, 1, true, RepeatOff, func(int) int { return r })
		assert.Equal(t, []int{0, 2, 3}[r], got)
	}
	got := nextIndex(4, -1, true, RepeatOff, func(n int) int {
		assert.Equal(t, 4, n)
		return 3
	})
	assert.Equal(t, 3, got)
}

func TestPreviousIndex(t *testing.T) {
	assert.Equal(t, 1, PreviousIndex(abc, 2, RepeatOff))
	assert.Equal(t, 0, PreviousIndex(abc, 0, RepeatOff))
	assert.Equal(t, 2, PreviousIndex(abc, 0, RepeatQueue))
	assert.Equal(t, 2, PreviousIndex(abc, 0, RepeatTrack))
	assert.Equal(t, 0, PreviousIndex(abc, -1, RepeatOff))
	assert.Equal(t, -1, PreviousIndex([]string{}, 0, RepeatQueue))
}

func TestRepeatModeCycle(t *testing.T) {
	assert.Equal(t, RepeatQueue, RepeatOff.Next())
	assert.Equal(t, RepeatTrack, RepeatQueue.Next())
	assert.Equal(t, RepeatOff, RepeatTrack.Next())
	assert.False(t, RepeatMode("all").Valid())
}
