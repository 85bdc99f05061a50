package model

import "time"

// ReflectionStatus is the outcome classification of one goal execution.
type ReflectionStatus string

const (
	ReflectionSuccess        ReflectionStatus = "SUCCESS"
	ReflectionFailure        ReflectionStatus = "FAILURE"
	ReflectionPartialSuccess ReflectionStatus = "PARTIAL_SUCCESS"
)

// PlanStep is one entry of a Planner-produced plan.
type PlanStep struct {
	ToolName string         `json:"tool_name"`
	Args     []any          `json:"args,omitempty"`
	Kwargs   map[string]any `json:"kwargs,omitempty"`
}

// ExecutionResult is the parallel outcome of one PlanStep. Exactly one of
// Value/Error is meaningful; IsErrorResult is the definitive classifier used
// by the Execution Agent.
type ExecutionResult struct {
	Value                 any    `json:"value,omitempty"`
	Error                 string `json:"error,omitempty"`
	RanSuccessfully        *bool  `json:"ran_successfully,omitempty"`
	IsErrorRepresentation bool   `json:"is_error_representation,omitempty"`
}

// IsErrorResult reports whether r should be treated as a failed step outcome,
// per SPEC_FULL §4.9/§4.10: an explicit Error string, RanSuccessfully=false, or
// IsErrorRepresentation=true all count.
func (r ExecutionResult) IsErrorResult() bool {
	if r.Error != "" {
		return true
	}
	if r.RanSuccessfully != nil && !*r.RanSuccessfully {
		return true
	}
	return r.IsErrorRepresentation
}

// ReflectionLogEntry is an immutable record of one goal's execution. Entries
// are append-only and never mutate after creation.
type ReflectionLogEntry struct {
	EntryID      int64             `json:"entry_id"`
	Timestamp    time.Time         `json:"timestamp"`
	GoalDesc     string            `json:"goal_description"`
	Plan         []PlanStep        `json:"plan"`
	Results      []ExecutionResult `json:"execution_results"`
	Status       ReflectionStatus  `json:"status"`
	ErrorType    string            `json:"error_type,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Notes        string            `json:"notes,omitempty"`

	IsSelfModificationAttempt  bool    `json:"is_self_modification_attempt"`
	SourceSuggestionID         *int64  `json:"source_suggestion_id,omitempty"`
	ModificationType           string  `json:"modification_type,omitempty"`
	ModificationDetails        string  `json:"modification_details,omitempty"`
	PostModificationTestPassed *bool   `json:"post_modification_test_passed,omitempty"`
}

// FirstErrorStepIndex returns the 0-indexed position of the first step whose
// result is an error, or -1 if every step succeeded.
func (e ReflectionLogEntry) FirstErrorStepIndex() int {
	for i, r := range e.Results {
		if r.IsErrorResult() {
			return i
		}
	}
	return -1
}
