package model

import "time"

// InsightType classifies an ActionableInsight.
type InsightType string

const (
	InsightToolBugSuspected       InsightType = "TOOL_BUG_SUSPECTED"
	InsightToolUsageError         InsightType = "TOOL_USAGE_ERROR"
	InsightToolEnhancementSuggested InsightType = "TOOL_ENHANCEMENT_SUGGESTED"
	InsightNewToolSuggested       InsightType = "NEW_TOOL_SUGGESTED"
	InsightKnowledgeGapIdentified InsightType = "KNOWLEDGE_GAP_IDENTIFIED"
	InsightGeneralFailure         InsightType = "GENERAL_FAILURE_NOTED"
)

// InsightStatus is the lifecycle state of an ActionableInsight.
type InsightStatus string

const (
	InsightStatusNew               InsightStatus = "NEW"
	InsightStatusActionAttempted   InsightStatus = "ACTION_ATTEMPTED"
	InsightStatusActionSuccessful  InsightStatus = "ACTION_SUCCESSFUL"
	InsightStatusActionFailed      InsightStatus = "ACTION_FAILED"
	InsightStatusPendingManualReview InsightStatus = "PENDING_MANUAL_REVIEW"
)

// DefaultPriority is used when the Learning Agent does not assign one
// explicitly; 1 is the highest priority, larger numbers are lower priority.
const DefaultPriority = 5

// ActionableInsight is a durable, typed, prioritized suggestion for
// self-improvement, derived from one or more ReflectionLogEntry records.
type ActionableInsight struct {
	InsightID               int64             `json:"insight_id"`
	Type                    InsightType       `json:"type"`
	Description             string            `json:"description"`
	SourceReflectionEntryIDs []int64          `json:"source_reflection_entry_ids"`
	RelatedToolName         string            `json:"related_tool_name,omitempty"`
	SuggestedCodeChange     string            `json:"suggested_code_change,omitempty"`
	KnowledgeToLearn        string            `json:"knowledge_to_learn,omitempty"`
	Priority                int               `json:"priority"`
	Status                  InsightStatus     `json:"status"`
	CreatedAt               time.Time         `json:"created_at"`
	Metadata                map[string]string `json:"metadata,omitempty"`
}

// Metadata keys used for tool-modification insights. The Learning Agent reads
// module_path and function_name when it builds a PROPOSE_TOOL_MODIFICATION
// action; the reflection entry id it forwards to the Action Executor comes
// from SourceReflectionEntryIDs, and original_reflection_entry_id records the
// same id on the insight itself.
const (
	MetaModulePath             = "module_path"
	MetaFunctionName           = "function_name"
	MetaOriginalReflectionID   = "original_reflection_entry_id"
)
