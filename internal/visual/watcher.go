package visual

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/lookout/pkg/video"
)

// ErrWatcherStarted is returned by a second call to [Watcher.Start].
var ErrWatcherStarted = errors.New("visual: watcher already started")

// Watcher keeps exactly one [Stream] running on the most recently published
// video track of a room. With no video track the buffer stays empty and the
// session runs without images.
//
// Watcher is safe for concurrent use.
type Watcher struct {
	room video.Room
	buf  *Buffer
	sup  *Supervisor
	opts []StreamOption

	mu         sync.Mutex
	ctx        context.Context
	active     *Stream
	activeID   string
	unregister func()
	started    bool
	stopped    bool
}

var _ video.TrackObserver = (*Watcher)(nil)

// NewWatcher returns a watcher that streams room's video into buf. opts are
// applied to every stream it creates.
func NewWatcher(room video.Room, buf *Buffer, sup *Supervisor, opts ...StreamOption) *Watcher {
	return &Watcher{room: room, buf: buf, sup: sup, opts: opts}
}

// Start registers the watcher for room events, then scans the tracks that
// were already published and streams the first video track found, unless an
// event selected a track in the meantime. Streams run until ctx is cancelled
// or [Watcher.Stop] is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrWatcherStarted
	}
	w.started = true
	w.ctx = ctx
	w.mu.Unlock()

	unregister := w.room.Observe(w)
	w.mu.Lock()
	w.unregister = unregister
	w.mu.Unlock()

	for _, p := range w.room.Participants() {
		for _, pub := range p.Publications {
			if pub.Kind != video.KindVideo || pub.Track == nil {
				continue
			}
			w.mu.Lock()
			if w.active == nil {
				w.switchLocked(pub)
			}
			w.mu.Unlock()
			return nil
		}
	}
	slog.Info("visual: no video track yet, running without images", "room", w.room.ID())
	return nil
}

// OnTrackEvent implements [video.TrackObserver].
func (w *Watcher) OnTrackEvent(ev video.TrackEvent) {
	switch ev.Type {
	case video.TrackPublished:
		if ev.Publication.Kind != video.KindVideo || ev.Publication.Track == nil {
			return
		}
		w.mu.Lock()
		w.switchLocked(ev.Publication)
		w.mu.Unlock()
	case video.TrackUnpublished:
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.active == nil || ev.Publication.TrackID != w.activeID {
			return
		}
		w.active.Stop()
		w.active = nil
		w.activeID = ""
		w.buf.Clear()
		slog.Info("visual: active track unpublished, running without images",
			"room", w.room.ID(), "track_id", ev.Publication.TrackID)
	}
}

// switchLocked replaces the active stream with one on pub. Re-publication of
// the track handle that is already streaming is ignored; a new handle under
// the same ID replaces the stream. Must be called with w.mu held.
func (w *Watcher) switchLocked(pub video.Publication) {
	if !w.started || w.stopped {
		return
	}
	if a := w.active; a != nil && pub.TrackID == w.activeID && pub.Track == a.track && a.State() != StateStopped {
		return
	}
	if w.active != nil {
		w.active.Stop()
		w.active = nil
		w.activeID = ""
	}

	s := NewStream(pub.Track, w.buf, w.sup, w.opts...)
	if err := s.Start(w.ctx); err != nil {
		slog.Warn("visual: cannot start stream", "room", w.room.ID(), "track_id", pub.TrackID, "err", err)
		return
	}
	w.active = s
	w.activeID = pub.TrackID
	slog.Info("visual: streaming track", "room", w.room.ID(), "track_id", pub.TrackID)
}

// ActiveTrack returns the ID of the track currently selected for streaming.
func (w *Watcher) ActiveTrack() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeID, w.active != nil
}

// ActiveStream returns the current stream, or nil.
func (w *Watcher) ActiveStream() *Stream {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Stop unregisters from the room and stops the active stream, waiting for
// its reader to exit. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.unregister != nil {
		w.unregister()
	}
	if w.active != nil {
		w.active.Stop()
		w.active = nil
		w.activeID = ""
	}
}
