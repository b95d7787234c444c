// Package sessionlog records what happened in each agent session: the user
// turns (and whether they carried a camera frame), every tool call outcome
// and every reply.
//
// Two [Store] implementations exist: [MemoryStore] for development and tests,
// and [PostgresStore] for deployments with a configured DSN.
package sessionlog

import (
	"context"
	"time"
)

// Kind classifies an [Entry].
type Kind string

const (
	KindTurn     Kind = "turn"
	KindToolCall Kind = "tool_call"
	KindReply    Kind = "reply"
)

// Entry is one line of a session transcript.
type Entry struct {
	SessionID string
	RoomID    string
	Kind      Kind

	// Text is the turn text, the reply text, or the tool result.
	Text string

	// HasImage is set on turns that carried the buffered frame.
	HasImage bool

	// Tool, IsError and DurationMs describe a tool call.
	Tool       string
	IsError    bool
	DurationMs int64

	// At is when the entry was recorded. [Store.Append] sets it if zero.
	At time.Time
}

// Store persists session transcripts. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append records e.
	Append(ctx context.Context, e Entry) error

	// List returns the entries of a session in the order they were appended.
	List(ctx context.Context, sessionID string) ([]Entry, error)
}
