package player

import "math/rand"

// RepeatMode 循环模式
type RepeatMode string

const (
	RepeatOff   RepeatMode = "off"
	RepeatQueue RepeatMode = "queue"
	RepeatTrack RepeatMode = "track"
)

// Next returns the mode that follows m in the off -> queue -> track cycle.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatQueue
	case RepeatQueue:
		return RepeatTrack
	default:
		return RepeatOff
	}
}

// Valid reports whether m is one of the known modes.
func (m RepeatMode) Valid() bool {
	return m == RepeatOff || m == RepeatQueue || m == RepeatTrack
}

// NextIndex returns the index to play after current, or -1 when playback
// should stop. Shuffle re-rolls on every call; a track may recur before
// every other track has played.
func NextIndex[T any](queue []T, current int, shuffle bool, mode RepeatMode) int {
	return nextIndex(len(queue), current, shuffle, mode, rand.Intn)
}

func nextIndex(n, current int, shuffle bool, mode RepeatMode, intn func(int) int) int {
	if n <= 0 {
		return -1
	}
	if mode == RepeatTrack {
		return current
	}
	if shuffle {
		if current < 0 || current >= n {
			return intn(n)
		}
		if n == 1 {
			return current
		}
		// 从其余 n-1 个位置中均匀选取
		r := intn(n - 1)
		if r >= current {
			r++
		}
		return r
	}
	if current+1 < n {
		return current + 1
	}
	if mode == RepeatQueue {
		return 0
	}
	return -1
}

// PreviousIndex returns the index to play before current. At the head of
// the queue it wraps when repeat is on and stays on the first track otherwise.
func PreviousIndex[T any](queue []T, current int, mode RepeatMode) int {
	return previousIndex(len(queue), current, mode)
}

func previousIndex(n, current int, mode RepeatMode) int {
	if n <= 0 {
		return -1
	}
	if current > n {
		current = n
	}
	if current-1 >= 0 {
		return current - 1
	}
	if mode != RepeatOff {
		return n - 1
	}
	return 0
}
