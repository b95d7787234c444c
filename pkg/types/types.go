// Package types defines the shared types used across all Lookout packages.
//
// These types form the lingua franca between providers, the turn pipeline and
// the tool layer. Each package defines its own domain types, but cross-cutting
// data structures live here to avoid circular imports.
package types

import "time"

// Image is an encoded still image attached to a conversation message.
type Image struct {
	// Data holds the encoded bytes (JPEG or PNG).
	Data []byte

	// MIMEType is "image/jpeg" or "image/png".
	MIMEType string

	// Width and Height are the pixel dimensions, zero when unknown.
	Width  int
	Height int

	// CapturedAt is when the source frame was captured.
	CapturedAt time.Time
}

// PartType discriminates the content of a [Part].
type PartType int

const (
	// PartText is a plain text segment.
	PartText PartType = iota

	// PartImage is an inline image.
	PartImage
)

// String returns the lower-case name of the part type.
func (t PartType) String() string {
	switch t {
	case PartText:
		return "text"
	case PartImage:
		return "image"
	default:
		return "unknown"
	}
}

// Part is one ordered segment of a multi-part message.
type Part struct {
	Type PartType

	// Text is set when Type is PartText.
	Text string

	// Image is set when Type is PartImage.
	Image *Image
}

// TextPart returns a text [Part].
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ImagePart returns an image [Part] referencing img.
func ImagePart(img Image) Part {
	return Part{Type: PartImage, Image: &img}
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Parts holds additional ordered content after Content. Providers that
	// support multi-modal input send Content followed by Parts; text-only
	// providers use Content and the text parts.
	Parts []Part

	// Name is an optional participant name (for multi-speaker contexts).
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string
}

// HasImage reports whether any part of m is an image.
func (m *Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Type == PartImage && p.Image != nil {
			return true
		}
	}
	return false
}

// ImageCount returns the number of image parts in m.
func (m *Message) ImageCount() int {
	n := 0
	for _, p := range m.Parts {
		if p.Type == PartImage && p.Image != nil {
			n++
		}
	}
	return n
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any

	// MaxDurationMs is the declared upper bound, used as a hard timeout.
	// Zero means no tool-specific timeout.
	MaxDurationMs int
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output. Zero
	// means unknown.
	ContextWindow int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool
}
