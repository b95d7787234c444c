// Package tools holds the type shared by built-in tools.
package tools

import (
	"context"

	"github.com/MrWong99/lookout/pkg/types"
)

// Tool pairs the definition offered to the model with the function that
// answers a call. Definition.MaxDurationMs, when set, bounds each call.
//
// Handler receives the model's JSON arguments. Its result string is passed
// back to the model verbatim; an error is passed back as a failed tool
// result. Handlers may run concurrently and must honour ctx.
type Tool struct {
	Definition types.ToolDefinition
	Handler    func(ctx context.Context, args string) (string, error)
}
