package agent

import (
	"github.com/MrWong99/lookout/pkg/types"
)

// trimHistory drops the oldest messages until count reports at most budget
// tokens. The newest message is always kept, and the result always starts
// at a user message so no tool result is left without its call.
func trimHistory(history []types.Message, budget int, count func([]types.Message) (int, error)) ([]types.Message, error) {
	if budget <= 0 {
		return history, nil
	}
	for len(history) > 1 {
		n, err := count(history)
		if err != nil {
			return history, err
		}
		if n <= budget {
			break
		}
		history = history[1:]
		for len(history) > 1 && history[0].Role != "user" {
			history = history[1:]
		}
	}
	return history, nil
}

// withoutImages returns m with its image parts removed. Frames are only
// useful for the turn they were captured for.
func withoutImages(m types.Message) types.Message {
	if !m.HasImage() {
		return m
	}
	parts := make([]types.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Type != types.PartImage {
			parts = append(parts, p)
		}
	}
	m.Parts = parts
	return m
}
