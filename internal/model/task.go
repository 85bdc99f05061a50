package model

import "time"

// TaskType classifies the kind of asynchronous work unit an ActiveTask tracks.
type TaskType string

const (
	TaskTypeAgentToolCreation     TaskType = "AGENT_TOOL_CREATION"
	TaskTypeAgentToolModification TaskType = "AGENT_TOOL_MODIFICATION"
	TaskTypeUserProjectGeneric    TaskType = "USER_PROJECT_GENERIC"
	TaskTypeLearningNewFact       TaskType = "LEARNING_NEW_FACT"
	TaskTypeProcessingReflection  TaskType = "PROCESSING_REFLECTION"
	TaskTypeSuggestionProcessing  TaskType = "SUGGESTION_PROCESSING"
	TaskTypeMiscCodeGeneration    TaskType = "MISC_CODE_GENERATION"
	TaskTypePlanningCodeStructure TaskType = "PLANNING_CODE_STRUCTURE"
)

// TaskStatus is a node of the Task Manager's lifecycle state machine
// (SPEC_FULL §4.3).
type TaskStatus string

const (
	StatusInitializing          TaskStatus = "INITIALIZING"
	StatusPlanning              TaskStatus = "PLANNING"
	StatusGeneratingCode        TaskStatus = "GENERATING_CODE"
	StatusAwaitingCriticReview  TaskStatus = "AWAITING_CRITIC_REVIEW"
	StatusCriticReviewApproved  TaskStatus = "CRITIC_REVIEW_APPROVED"
	StatusApplyingChanges       TaskStatus = "APPLYING_CHANGES"
	StatusPostModTesting        TaskStatus = "POST_MOD_TESTING"
	StatusPostModTestPassed     TaskStatus = "POST_MOD_TEST_PASSED"
	StatusCompletedSuccessfully TaskStatus = "COMPLETED_SUCCESSFULLY"

	StatusFailedPreReview        TaskStatus = "FAILED_PRE_REVIEW"
	StatusCriticReviewRejected   TaskStatus = "CRITIC_REVIEW_REJECTED"
	StatusFailedDuringApply      TaskStatus = "FAILED_DURING_APPLY"
	StatusPostModTestFailed      TaskStatus = "POST_MOD_TEST_FAILED"
	StatusFailedCodeGeneration   TaskStatus = "FAILED_CODE_GENERATION"
	StatusFailedUnknown          TaskStatus = "FAILED_UNKNOWN"
	StatusUserCancelled          TaskStatus = "USER_CANCELLED"
	StatusFailedInterrupted      TaskStatus = "FAILED_INTERRUPTED"
)

// terminalStatuses is the fixed set of states from which a Task never
// transitions again.
var terminalStatuses = map[TaskStatus]bool{
	StatusCompletedSuccessfully: true,
	StatusFailedPreReview:       true,
	StatusCriticReviewRejected:  true,
	StatusFailedDuringApply:     true,
	StatusPostModTestFailed:     true,
	StatusFailedCodeGeneration:  true,
	StatusFailedUnknown:         true,
	StatusUserCancelled:         true,
	StatusFailedInterrupted:     true,
}

// IsTerminal reports whether s is one of the nine terminal states (one
// success, eight failure kinds).
func (s TaskStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// ActiveTask is a tracked unit of asynchronous work.
type ActiveTask struct {
	TaskID                 int64          `json:"task_id"`
	TaskType               TaskType       `json:"task_type"`
	Description            string         `json:"description"`
	RelatedItemID          string         `json:"related_item_id,omitempty"`
	Status                 TaskStatus     `json:"status"`
	StatusReason           string         `json:"status_reason,omitempty"`
	CurrentStepDescription string         `json:"current_step_description,omitempty"`
	CurrentSubStepName     string         `json:"current_sub_step_name,omitempty"`
	ProgressPercentage     *int           `json:"progress_percentage,omitempty"`
	ErrorCount             int            `json:"error_count"`
	OutputPreview          string         `json:"output_preview,omitempty"`
	DataForResume          map[string]any `json:"data_for_resume,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	LastUpdatedAt          time.Time      `json:"last_updated_at"`
	Details                map[string]any `json:"details,omitempty"`
}

const outputPreviewMaxLen = 250

// TruncatePreview truncates s to the 250-character output-preview limit the
// Task Manager enforces on every write.
func TruncatePreview(s string) string {
	if len(s) <= outputPreviewMaxLen {
		return s
	}
	return s[:outputPreviewMaxLen]
}

// StatusEventType maps a terminal TaskStatus to the NotificationEventType
// emitted when a task reaches it (SPEC_FULL §4.3/§4.4).
func StatusEventType(s TaskStatus) NotificationEventType {
	switch s {
	case StatusCompletedSuccessfully:
		return EventTaskCompletedSuccessfully
	case StatusFailedPreReview:
		return EventTaskFailedPreReview
	case StatusCriticReviewRejected:
		return EventSelfModificationRejectedCritics
	case StatusFailedDuringApply:
		return EventTaskFailedDuringApply
	case StatusPostModTestFailed:
		return EventSelfModificationFailedTests
	case StatusFailedCodeGeneration:
		return EventTaskFailedCodeGeneration
	case StatusFailedUnknown:
		return EventTaskFailedUnknown
	case StatusUserCancelled:
		return EventTaskUserCancelled
	case StatusFailedInterrupted:
		return EventTaskFailedInterrupted
	default:
		return EventGeneralInfo
	}
}
