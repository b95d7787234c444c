// Package agent runs the conversational side of a room.
//
// A [Session] owns everything that lives for as long as one room is open:
//
//   - the frame [visual.Buffer] fed by a [visual.Watcher],
//   - the [turn.Augmenter] that attaches the buffered frame to each turn,
//   - the tool router over the session's vision tools and the shared MCP host,
//   - the conversation history sent to the reasoning model.
//
// Turns are handled one at a time in arrival order. Each reply is sent back to
// the room as an [video.OutboundReply] message.
package agent

import (
	"context"
	"fmt"

	"github.com/MrWong99/lookout/pkg/video"
)

// RoomSpeaker voices short acknowledgements by sending them to the room as
// [video.OutboundSay] messages. The client speaks them while the current
// tool call keeps running.
type RoomSpeaker struct {
	Room video.Room
}

// Say sends text to the room.
func (s RoomSpeaker) Say(ctx context.Context, text string) error {
	if err := s.Room.Send(ctx, video.Outbound{Type: video.OutboundSay, Text: text}); err != nil {
		return fmt.Errorf("agent: say: %w", err)
	}
	return nil
}
