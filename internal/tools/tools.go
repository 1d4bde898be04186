// Package tools holds shared plumbing for the switchpilot tool surface:
// argument validation, result construction, and per-call instrumentation.
// The concrete tools live in the switcher and autoswitch subpackages.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stagecast/switchpilot/internal/observe"
)

// validate is shared across all tool handlers. validator.Validate is
// concurrent-safe and caches struct metadata, so a single instance suffices.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateArgs checks the validate struct tags on a tool's argument struct and
// returns a caller-readable error listing every violated constraint.
func ValidateArgs(args any) error {
	err := validate.Struct(args)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("tools: validate arguments: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fieldName(fe), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", fieldName(fe), fe.Param()))
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fieldName(fe)))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fieldName(fe), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fieldName(fe), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// fieldName lowercases the first rune of the struct field name so messages
// match the JSON argument names callers actually send.
func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return "argument"
	}
	return strings.ToLower(name[:1]) + name[1:]
}

// Text builds a successful tool result with a single text block.
func Text(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

// Error builds a failed tool result with a single text block. Tool-level
// failures (bad arguments, device errors) are reported this way rather than
// as protocol errors so the caller can read and react to them.
func Error(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// Instrument wraps a tool handler so every call is timed and counted under
// the given tool name. A nil metrics value disables recording but keeps the
// wrapper transparent.
func Instrument[In, Out any](m *observe.Metrics, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		res, out, err := h(ctx, req, in)

		status := "ok"
		if err != nil || (res != nil && res.IsError) {
			status = "error"
		}
		m.RecordToolCall(ctx, name, status, time.Since(start).Seconds())

		return res, out, err
	}
}
