package player

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

// ErrIndexOutOfRange is returned by RemoveAt for an invalid position.
var ErrIndexOutOfRange = errors.New("queue index out of range")

// SongQueue is an unbounded FIFO of pending songs. It is safe for concurrent
// use, but DequeueWait expects a single consumer.
type SongQueue struct {
	mu    sync.Mutex
	songs []Song
	ready chan struct{}
}

// NewSongQueue creates an empty queue.
func NewSongQueue() *SongQueue {
	return &SongQueue{
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends song to the tail and returns the new length.
func (q *SongQueue) Enqueue(song Song) int {
	q.mu.Lock()
	q.songs = append(q.songs, song)
	n := len(q.songs)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}

	return n
}

// DequeueWait removes and returns the head of the queue, waiting up to timeout
// for one to arrive. ok is false when the timeout elapses or ctx is done.
func (q *SongQueue) DequeueWait(ctx context.Context, timeout time.Duration) (song Song, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if song, ok := q.pop(); ok {
			return song, true
		}

		select {
		case <-q.ready:
		case <-timer.C:
			return Song{}, false
		case <-ctx.Done():
			return Song{}, false
		}
	}
}

func (q *SongQueue) pop() (Song, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.songs) == 0 {
		return Song{}, false
	}

	song := q.songs[0]
	q.songs[0] = Song{}
	q.songs = q.songs[1:]

	return song, true
}

// Shuffle randomly permutes the pending songs in place.
func (q *SongQueue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()

	rand.Shuffle(len(q.songs), func(i, j int) {
		q.songs[i], q.songs[j] = q.songs[j], q.songs[i]
	})
}

// RemoveAt removes the song at the 0-based index.
func (q *SongQueue) RemoveAt(index int) (Song, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.songs) {
		return Song{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(q.songs))
	}

	song := q.songs[index]
	q.songs = slices.Delete(q.songs, index, index+1)

	return song, nil
}

// Snapshot returns a copy of songs[start:end], clamped to the queue bounds.
func (q *SongQueue) Snapshot(start, end int) []Song {
	q.mu.Lock()
	defer q.mu.Unlock()

	start = max(start, 0)
	end = min(end, len(q.songs))

	if start >= end {
		return nil
	}

	return slices.Clone(q.songs[start:end])
}

// Len returns the number of pending songs.
func (q *SongQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.songs)
}

// Clear drops all pending songs.
func (q *SongQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.songs = nil
}
