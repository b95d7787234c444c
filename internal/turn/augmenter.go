// Package turn prepares finalized user turns for the reasoning model.
package turn

import (
	"log/slog"

	"github.com/MrWong99/lookout/pkg/types"
	"github.com/MrWong99/lookout/pkg/video"
)

// FrameSource yields the most recent frame exactly once.
// [visual.Buffer] satisfies this interface.
type FrameSource interface {
	GetAndClear() (video.Frame, bool)
}

// Augmenter attaches the latest camera frame to a user turn.
type Augmenter struct {
	src FrameSource
}

// NewAugmenter returns an Augmenter that consumes frames from src.
func NewAugmenter(src FrameSource) *Augmenter {
	return &Augmenter{src: src}
}

// Augment must be called exactly once per finalized user turn, after the turn
// text is assembled and before it is sent to the model. It consumes the
// buffered frame and appends it to msg as an image part. It reports whether
// an image was attached; an empty buffer leaves msg unchanged.
//
// A turn that already carries an image is left alone and the buffer is not
// consumed, so a turn never holds more than one image.
func (a *Augmenter) Augment(msg *types.Message) bool {
	if msg == nil || msg.HasImage() {
		return false
	}
	f, ok := a.src.GetAndClear()
	if !ok {
		return false
	}
	if len(f.Data) == 0 {
		slog.Debug("turn: dropping empty frame", "track_id", f.TrackID)
		return false
	}
	msg.Parts = append(msg.Parts, types.ImagePart(f.Image()))
	return true
}
