package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jasonk87/selfevolve/common/llm"
	"github.com/jasonk87/selfevolve/internal/codeservice"
	"github.com/jasonk87/selfevolve/internal/model"
	"github.com/jasonk87/selfevolve/internal/selfmod"
	"github.com/jasonk87/selfevolve/internal/taskmgr"
)

// CodeService is the narrow slice of codeservice.Service the Action Executor
// needs: a self-fix suggestion when the caller didn't supply one.
type CodeService interface {
	ModifyCode(ctx context.Context, req codeservice.ModifyRequest) codeservice.ModifyResult
}

// SelfModificationEngine is the narrow slice of selfmod.Engine the Action
// Executor drives.
type SelfModificationEngine interface {
	EditFunctionSourceCode(ctx context.Context, modulePath, functionName, newCodeString, projectRootPath, changeDescription string) selfmod.Result
}

// TaskManager is the narrow slice of taskmgr.Manager the Action Executor
// drives to create and progress the Task tracking each action.
type TaskManager interface {
	AddTask(ctx context.Context, description string, taskType model.TaskType, relatedItemID string, details map[string]any) (*model.ActiveTask, error)
	UpdateTaskStatus(ctx context.Context, taskID int64, status model.TaskStatus, in taskmgr.UpdateTaskStatusInput) (*model.ActiveTask, error)
}

// NotificationBus is the narrow slice of notify.Bus the Action Executor
// emits terminal outcomes through.
type NotificationBus interface {
	AddNotification(ctx context.Context, eventType model.NotificationEventType, summary string, relatedItemID, relatedItemType string) (model.Notification, error)
}

// ReflectionLog is the narrow slice of reflection.Log the Action Executor
// reads to find the plan a post-modification test must re-execute.
type ReflectionLog interface {
	FindByEntryID(entryID int64) (model.ReflectionLogEntry, bool)
}

// FactStore is the narrow slice of factstore.Store the Action Executor
// appends ADD_LEARNED_FACT results to.
type FactStore interface {
	FindByNormalizedText(text string) (model.LearnedFact, bool)
	Add(ctx context.Context, text, category, source, userID string) (model.LearnedFact, error)
}

// PlanExecutor re-runs a plan and reports whether every step succeeded. The
// Execution Agent (C10) satisfies this once built; it is the post-
// modification test SPEC_FULL §4.8 calls for.
type PlanExecutor interface {
	ExecutePlan(ctx context.Context, plan []model.PlanStep) (results []model.ExecutionResult, overallSuccess bool)
}

// factCategories is the closed vocabulary the LLM category assessment must
// choose from, with "general" as the always-available fallback (SPEC_FULL
// §4.8: "closed vocabulary plus fallback general").
var factCategories = []string{
	model.CategoryUserPreference,
	model.CategoryProjectContext,
	model.CategoryGeneralKnowledge,
	"general",
}

// ActionExecutor executes actions emitted by the Learning Agent (C12) or
// surfaced mid-plan by the Orchestrator (C11 step 6).
type ActionExecutor struct {
	codeService CodeService
	selfMod     SelfModificationEngine
	tasks       TaskManager
	notifier    NotificationBus
	reflections ReflectionLog
	facts       FactStore
	planExec    PlanExecutor
	llm         llm.Client
	projectRoot string
}

// NewActionExecutor constructs an ActionExecutor. Every collaborator is
// injected — unlike the Python original's internal construction of its own
// Code Service, this component never constructs its own dependencies or
// reaches for a global singleton (SPEC_FULL §4.8, §9 Design Notes). llmClient
// may be nil, in which case ADD_LEARNED_FACT fails its task with a
// descriptive reason. planExec may be nil, in which case a tool modification
// that names an originating reflection entry is applied, counted as failing
// its post-modification test, and reverted.
func NewActionExecutor(
	codeService CodeService,
	selfMod SelfModificationEngine,
	tasks TaskManager,
	notifier NotificationBus,
	reflections ReflectionLog,
	facts FactStore,
	planExec PlanExecutor,
	llmClient llm.Client,
	projectRoot string,
) *ActionExecutor {
	return &ActionExecutor{
		codeService: codeService,
		selfMod:     selfMod,
		tasks:       tasks,
		notifier:    notifier,
		reflections: reflections,
		facts:       facts,
		planExec:    planExec,
		llm:         llmClient,
		projectRoot: projectRoot,
	}
}

// Execute dispatches action to its type-specific handler, returning whether
// it ultimately succeeded. Every branch creates and progresses a Task in C3;
// unknown types terminate the task FAILED_PRE_REVIEW with reason "unsupported".
func (e *ActionExecutor) Execute(ctx context.Context, action Action) (bool, error) {
	switch action.Type {
	case ActionTypeProposeToolModification:
		return e.executeProposeToolModification(ctx, action)
	case ActionTypeAddLearnedFact:
		return e.executeAddLearnedFact(ctx, action)
	default:
		task, err := e.tasks.AddTask(ctx, fmt.Sprintf("unsupported action %q", action.Type), model.TaskTypeMiscCodeGeneration, "", nil)
		if err != nil {
			return false, fmt.Errorf("creating task for unsupported action: %w", err)
		}
		if _, err := e.tasks.UpdateTaskStatus(ctx, task.TaskID, model.StatusFailedPreReview, taskmgr.UpdateTaskStatusInput{Reason: "unsupported"}); err != nil {
			return false, fmt.Errorf("marking unsupported action failed: %w", err)
		}
		return false, nil
	}
}

func (e *ActionExecutor) executeProposeToolModification(ctx context.Context, action Action) (bool, error) {
	data, err := ParseActionData[ProposeToolModificationAction](action)
	if err != nil {
		return false, err
	}

	task, err := e.tasks.AddTask(ctx, fmt.Sprintf("propose modification to %s/%s", data.ModulePath, data.FunctionName), model.TaskTypeAgentToolModification, data.ModulePath, map[string]any{
		"function_name": data.FunctionName,
	})
	if err != nil {
		return false, fmt.Errorf("creating task for tool modification: %w", err)
	}

	if data.ModulePath == "" || data.FunctionName == "" {
		e.failTask(ctx, task.TaskID, model.StatusFailedPreReview, "module_path and function_name are required")
		return false, nil
	}

	suggestedCode := data.SuggestedCodeChange
	if strings.TrimSpace(suggestedCode) == "" {
		if e.codeService == nil {
			e.failTask(ctx, task.TaskID, model.StatusFailedPreReview, "no suggested_code_change provided and no code service configured")
			return false, nil
		}
		result := e.codeService.ModifyCode(ctx, codeservice.ModifyRequest{
			Context:                 codeservice.ContextSelfFixTool,
			ModificationInstruction: data.ChangeDescription,
			ModulePath:              data.ModulePath,
			FunctionName:            data.FunctionName,
			TaskID:                  task.TaskID,
		})
		if result.Status != codeservice.StatusSuccessCodeModified || result.ModifiedCodeString == nil {
			reason := result.Status
			if result.Error != nil {
				reason = *result.Error
			}
			e.failTask(ctx, task.TaskID, model.StatusFailedPreReview, fmt.Sprintf("code service could not produce a suggestion: %s", reason))
			return false, nil
		}
		suggestedCode = *result.ModifiedCodeString
	}

	applied, testsPassed, applyErr := e.applyTestAndRevertCode(ctx, task.TaskID, data.ModulePath, data.FunctionName, suggestedCode, data.ChangeDescription, data.OriginalReflectionEntryID)
	if applyErr != nil {
		e.failTask(ctx, task.TaskID, model.StatusFailedDuringApply, applyErr.Error())
		return false, nil
	}
	if !applied {
		// failTask / status already recorded inside applyTestAndRevertCode
		return false, nil
	}

	if !testsPassed {
		if _, err := e.tasks.UpdateTaskStatus(ctx, task.TaskID, model.StatusPostModTestFailed, taskmgr.UpdateTaskStatusInput{Reason: "post-modification test failed; change reverted"}); err != nil {
			return false, fmt.Errorf("marking post-mod test failure: %w", err)
		}
		if _, err := e.notifier.AddNotification(ctx, model.EventSelfModificationFailedTests,
			fmt.Sprintf("modification to %s/%s reverted after failing post-modification test", data.ModulePath, data.FunctionName),
			fmt.Sprintf("%d", task.TaskID), "task"); err != nil {
			return false, fmt.Errorf("emitting self-modification-failed-tests notification: %w", err)
		}
		return false, nil
	}

	if _, err := e.tasks.UpdateTaskStatus(ctx, task.TaskID, model.StatusCompletedSuccessfully, taskmgr.UpdateTaskStatusInput{Reason: "applied and verified"}); err != nil {
		return false, fmt.Errorf("marking tool modification complete: %w", err)
	}
	if _, err := e.notifier.AddNotification(ctx, model.EventSelfModificationApplied,
		fmt.Sprintf("modification to %s/%s applied and verified", data.ModulePath, data.FunctionName),
		fmt.Sprintf("%d", task.TaskID), "task"); err != nil {
		return false, fmt.Errorf("emitting self-modification-applied notification: %w", err)
	}
	return true, nil
}

// applyTestAndRevertCode implements SPEC_FULL §4.8's applyTestAndRevertCode:
// (i) edit, (ii) if the edit succeeded, re-execute the plan of the named
// reflection entry as the post-modification test, (iii) on test failure,
// restore the file from backup and log the reversion. applied reports
// whether the edit itself went through (false means the caller's task has
// already been failed and nothing further should run); testsPassed is only
// meaningful when applied is true.
func (e *ActionExecutor) applyTestAndRevertCode(ctx context.Context, taskID int64, modulePath, functionName, newCode, changeDescription string, reflectionEntryID int64) (applied bool, testsPassed bool, err error) {
	if e.selfMod == nil {
		e.failTask(ctx, taskID, model.StatusFailedPreReview, "no self-modification engine configured")
		return false, false, nil
	}

	if _, err := e.tasks.UpdateTaskStatus(ctx, taskID, model.StatusApplyingChanges, taskmgr.UpdateTaskStatusInput{StepDescription: "editing function source"}); err != nil {
		return false, false, fmt.Errorf("marking task applying changes: %w", err)
	}

	editResult := e.selfMod.EditFunctionSourceCode(ctx, modulePath, functionName, newCode, e.projectRoot, changeDescription)
	switch editResult.Status {
	case selfmod.StatusCompleted:
		// proceeds to post-modification test below
	case selfmod.StatusCriticRejected:
		e.failTask(ctx, taskID, model.StatusCriticReviewRejected, editResult.Message)
		if _, err := e.notifier.AddNotification(ctx, model.EventSelfModificationRejectedCritics, editResult.Message, fmt.Sprintf("%d", taskID), "task"); err != nil {
			return false, false, fmt.Errorf("emitting critics-rejected notification: %w", err)
		}
		return false, false, nil
	case selfmod.StatusFailedPreReview:
		e.failTask(ctx, taskID, model.StatusFailedPreReview, editResult.Message)
		return false, false, nil
	default:
		e.failTask(ctx, taskID, model.StatusFailedDuringApply, editResult.Message)
		return false, false, nil
	}

	if editResult.NoOp {
		if _, err := e.tasks.UpdateTaskStatus(ctx, taskID, model.StatusCompletedSuccessfully, taskmgr.UpdateTaskStatusInput{Reason: editResult.Message}); err != nil {
			return false, false, fmt.Errorf("marking no-op modification complete: %w", err)
		}
		return true, true, nil
	}

	if _, err := e.tasks.UpdateTaskStatus(ctx, taskID, model.StatusPostModTesting, taskmgr.UpdateTaskStatusInput{StepDescription: "re-executing originating plan"}); err != nil {
		return false, false, fmt.Errorf("marking task post-mod testing: %w", err)
	}

	passed := e.runPostModificationTest(ctx, reflectionEntryID)
	if passed {
		return true, true, nil
	}

	if revertErr := selfmod.RevertModuleFromBackup(e.projectRoot, modulePath); revertErr != nil {
		slog.ErrorContext(ctx, "failed to revert module after failed post-modification test", "module_path", modulePath, "function_name", functionName, "error", revertErr)
	} else {
		slog.WarnContext(ctx, "reverted module after failed post-modification test", "module_path", modulePath, "function_name", functionName)
	}

	return true, false, nil
}

// runPostModificationTest re-executes the plan of the named reflection entry
// and reports whether every step succeeded. A zero reflectionEntryID (an
// action that names no originating entry) skips the test and reports true.
// Absent a plan executor, or when a non-zero id names no findable entry, the
// test is conservatively treated as failed.
func (e *ActionExecutor) runPostModificationTest(ctx context.Context, reflectionEntryID int64) bool {
	if reflectionEntryID == 0 {
		slog.InfoContext(ctx, "post-modification test skipped: no originating reflection entry id")
		return true
	}
	if e.reflections == nil || e.planExec == nil {
		slog.WarnContext(ctx, "post-modification test skipped: no reflection log or plan executor configured")
		return false
	}
	entry, found := e.reflections.FindByEntryID(reflectionEntryID)
	if !found {
		slog.WarnContext(ctx, "post-modification test skipped: originating reflection entry not found", "reflection_entry_id", reflectionEntryID)
		return false
	}
	_, ok := e.planExec.ExecutePlan(ctx, entry.Plan)
	return ok
}

func (e *ActionExecutor) failTask(ctx context.Context, taskID int64, status model.TaskStatus, reason string) {
	if _, err := e.tasks.UpdateTaskStatus(ctx, taskID, status, taskmgr.UpdateTaskStatusInput{Reason: reason}); err != nil {
		slog.ErrorContext(ctx, "failed to record task failure", "task_id", taskID, "status", status, "error", err)
	}
}

const addLearnedFactSystemPrompt = `You evaluate facts a self-improving software agent has learned during its operation, deciding whether each is worth retaining as durable, reusable knowledge.`

type factValueAssessment struct {
	IsValuable bool   `json:"is_valuable"`
	Reason     string `json:"reason"`
}

type factCategoryAssessment struct {
	Category string `json:"category" jsonschema:"enum=user_preference,enum=project_context,enum=general_knowledge,enum=general"`
}

func (e *ActionExecutor) executeAddLearnedFact(ctx context.Context, action Action) (bool, error) {
	data, err := ParseActionData[AddLearnedFactAction](action)
	if err != nil {
		return false, err
	}

	task, err := e.tasks.AddTask(ctx, "add learned fact", model.TaskTypeLearningNewFact, "", nil)
	if err != nil {
		return false, fmt.Errorf("creating task for learned fact: %w", err)
	}

	text := strings.TrimSpace(data.Text)
	if text == "" {
		e.failTask(ctx, task.TaskID, model.StatusFailedPreReview, "fact text is empty")
		return false, nil
	}

	if e.facts == nil {
		e.failTask(ctx, task.TaskID, model.StatusFailedPreReview, "no fact store configured")
		return false, nil
	}

	if _, duplicate := e.facts.FindByNormalizedText(text); duplicate {
		if _, err := e.tasks.UpdateTaskStatus(ctx, task.TaskID, model.StatusCompletedSuccessfully, taskmgr.UpdateTaskStatusInput{Reason: "duplicate fact, nothing to add"}); err != nil {
			return false, fmt.Errorf("marking duplicate fact complete: %w", err)
		}
		if _, err := e.notifier.AddNotification(ctx, model.EventGeneralInfo,
			fmt.Sprintf("fact already known, not re-learned: %s", text),
			fmt.Sprintf("%d", task.TaskID), "task"); err != nil {
			return false, fmt.Errorf("emitting duplicate-fact notification: %w", err)
		}
		return true, nil
	}

	if e.llm == nil {
		e.failTask(ctx, task.TaskID, model.StatusFailedPreReview, "no LLM configured for value assessment")
		return false, nil
	}

	var value factValueAssessment
	if _, err := e.llm.Chat(ctx, llm.Request{
		SystemPrompt: addLearnedFactSystemPrompt,
		UserPrompt:   fmt.Sprintf("Is the following fact worth remembering long-term?\n\nFact: %s", text),
		SchemaName:   "fact_value_assessment",
		Schema:       llm.GenerateSchema[factValueAssessment](),
	}, &value); err != nil {
		e.failTask(ctx, task.TaskID, model.StatusFailedPreReview, fmt.Sprintf("value assessment failed: %v", err))
		return false, nil
	}
	if !value.IsValuable {
		if _, err := e.tasks.UpdateTaskStatus(ctx, task.TaskID, model.StatusCompletedSuccessfully, taskmgr.UpdateTaskStatusInput{Reason: "fact judged not valuable: " + value.Reason}); err != nil {
			return false, fmt.Errorf("marking not-valuable fact complete: %w", err)
		}
		return true, nil
	}

	var category factCategoryAssessment
	if _, err := e.llm.Chat(ctx, llm.Request{
		SystemPrompt: addLearnedFactSystemPrompt,
		UserPrompt:   fmt.Sprintf("Classify the following fact into one of %s.\n\nFact: %s", strings.Join(factCategories, ", "), text),
		SchemaName:   "fact_category_assessment",
		Schema:       llm.GenerateSchema[factCategoryAssessment](),
	}, &category); err != nil {
		category.Category = "general"
	}
	if strings.TrimSpace(category.Category) == "" {
		category.Category = "general"
	}

	fact, err := e.facts.Add(ctx, text, category.Category, data.Source, data.UserID)
	if err != nil {
		e.failTask(ctx, task.TaskID, model.StatusFailedDuringApply, fmt.Sprintf("saving fact: %v", err))
		return false, nil
	}

	if _, err := e.tasks.UpdateTaskStatus(ctx, task.TaskID, model.StatusCompletedSuccessfully, taskmgr.UpdateTaskStatusInput{Reason: "fact added"}); err != nil {
		return false, fmt.Errorf("marking fact added complete: %w", err)
	}
	if _, err := e.notifier.AddNotification(ctx, model.EventFactLearned, fmt.Sprintf("learned new fact (%s): %s", fact.Category, fact.Text), fmt.Sprintf("%d", fact.FactID), "fact"); err != nil {
		return false, fmt.Errorf("emitting fact-learned notification: %w", err)
	}

	return true, nil
}
