// Package visual acquires frames from a participant's live video track and
// keeps the most recent one available to the conversation.
//
// The moving parts are:
//
//   - [Buffer]: a single-slot, last-write-wins frame holder.
//   - [Stream]: reads one track's frames into a Buffer.
//   - [Watcher]: follows a room's track events and keeps exactly one Stream
//     running on the most recently published video track.
//   - [Supervisor]: owns the goroutines backing every Stream.
package visual

import (
	"sync"

	"github.com/MrWong99/lookout/pkg/video"
)

// BufferStats is a snapshot of a [Buffer]'s lifetime counters.
type BufferStats struct {
	// Sets counts frames written.
	Sets uint64

	// Overwritten counts frames replaced before anyone consumed them.
	Overwritten uint64

	// Consumed counts frames removed by GetAndClear.
	Consumed uint64
}

// Buffer holds at most one [video.Frame]. Writers never block on readers: a
// new frame replaces whatever is stored. All methods are safe for concurrent
// use and each is indivisible with respect to the others.
//
// The zero value is an empty buffer ready for use.
type Buffer struct {
	mu    sync.Mutex
	frame video.Frame
	full  bool
	stats BufferStats
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Set stores f, replacing any frame already held. It reports whether an
// unconsumed frame was replaced.
func (b *Buffer) Set(f video.Frame) (replaced bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	replaced = b.full
	b.frame = f
	b.full = true
	b.stats.Sets++
	if replaced {
		b.stats.Overwritten++
	}
	return replaced
}

// GetAndClear removes and returns the held frame. The second result is false
// when the buffer was empty.
func (b *Buffer) GetAndClear() (video.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return video.Frame{}, false
	}
	f := b.frame
	b.frame = video.Frame{}
	b.full = false
	b.stats.Consumed++
	return f, true
}

// Peek returns the held frame without removing it.
func (b *Buffer) Peek() (video.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame, b.full
}

// Clear drops the held frame, if any, without counting it as consumed.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frame = video.Frame{}
	b.full = false
}

// Stats returns a snapshot of the lifetime counters.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
