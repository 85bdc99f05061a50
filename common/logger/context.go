package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where business
// context (goal_id, task_id, entry_id, …) is automatically included in all log statements.
type LogFields struct {
	GoalID    *string // Orchestrator goal/prompt correlation id
	TaskID    *int64  // Task Manager task id
	EntryID   *int64  // Reflection log entry id
	InsightID *int64  // Actionable insight id
	ToolName  *string // Tool Registry tool name
	Component string  // Component name (OTel semantic convention style, e.g., "agent.orchestrator")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.GoalID != nil {
		result.GoalID = new.GoalID
	}
	if new.TaskID != nil {
		result.TaskID = new.TaskID
	}
	if new.EntryID != nil {
		result.EntryID = new.EntryID
	}
	if new.InsightID != nil {
		result.InsightID = new.InsightID
	}
	if new.ToolName != nil {
		result.ToolName = new.ToolName
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{TaskID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like prompts or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
