package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jasonk87/selfevolve/internal/brain"
	"github.com/jasonk87/selfevolve/internal/model"
)

// ActionExecutor is the narrow slice of brain.ActionExecutor the Learning
// Agent dispatches selected insights to.
type ActionExecutor interface {
	Execute(ctx context.Context, action brain.Action) (bool, error)
}

// builtinToolModule is the SUPPLEMENTED FEATURES fallback mapping
// (original_source's tool_system.py hardcodes a handful of known tool names
// to their defining module so a failing step without explicit module
// metadata can still be attributed to source for a modification proposal).
type builtinToolModule struct {
	ModulePath   string
	FunctionName string
}

var builtinToolModules = map[string]builtinToolModule{
	"echo_message": {ModulePath: "github.com/jasonk87/selfevolve/internal/tools", FunctionName: "EchoMessage"},
	"read_file":    {ModulePath: "github.com/jasonk87/selfevolve/internal/tools", FunctionName: "ReadFile"},
}

// Agent is the Learning Agent (C12): it converts Reflection Log entries into
// ActionableInsights and periodically selects the highest-priority NEW
// insight to act on via the Action Executor.
type Agent struct {
	insights *Store
	actions  ActionExecutor
}

// NewAgent constructs a Learning Agent. actions may be nil in a read-only
// configuration; ReviewAndProposeNextAction then fails fast rather than
// dispatching.
func NewAgent(insights *Store, actions ActionExecutor) *Agent {
	return &Agent{insights: insights, actions: actions}
}

// ProcessReflectionEntry implements SPEC_FULL §4.12's insight-generation
// rules, emitting at most one ActionableInsight for entry. Returns false if
// no rule matched.
func (a *Agent) ProcessReflectionEntry(ctx context.Context, entry model.ReflectionLogEntry) (model.ActionableInsight, bool, error) {
	insight, ok := deriveInsight(entry)
	if !ok {
		return model.ActionableInsight{}, false, nil
	}
	stored, err := a.insights.Add(ctx, insight)
	if err != nil {
		return model.ActionableInsight{}, false, fmt.Errorf("persisting insight for entry %d: %w", entry.EntryID, err)
	}
	slog.InfoContext(ctx, "insight generated", "insight_id", stored.InsightID, "type", stored.Type, "priority", stored.Priority, "entry_id", entry.EntryID)
	return stored, true, nil
}

func deriveInsight(entry model.ReflectionLogEntry) (model.ActionableInsight, bool) {
	switch {
	case (entry.Status == model.ReflectionFailure || entry.Status == model.ReflectionPartialSuccess) && entry.ErrorType != "":
		return deriveFailureInsight(entry), true
	case entry.Status == model.ReflectionSuccess && strings.Contains(strings.ToLower(entry.Notes), "retry"):
		return deriveRetrySuccessInsight(entry), true
	default:
		return model.ActionableInsight{}, false
	}
}

// deriveFailureInsight walks the parallel plan/execution_results arrays to
// find the first failed step and blame its tool; a step with no args/kwargs
// is classified TOOL_USAGE_ERROR, otherwise TOOL_BUG_SUSPECTED. Falls back to
// a lower-priority general failure insight when no step can be blamed.
func deriveFailureInsight(entry model.ReflectionLogEntry) model.ActionableInsight {
	description := fmt.Sprintf("Tool execution failed or partially failed for goal %q. Error: %s - %s.", entry.GoalDesc, entry.ErrorType, entry.ErrorMessage)
	metadata := map[string]string{model.MetaOriginalReflectionID: fmt.Sprintf("%d", entry.EntryID)}

	idx := entry.FirstErrorStepIndex()
	if idx < 0 || idx >= len(entry.Plan) {
		return model.ActionableInsight{
			Type:                     model.InsightGeneralFailure,
			Description:              fmt.Sprintf("A failure occurred for goal %q (error: %s) but could not be attributed to a specific tool in the plan. Manual review may be needed.", entry.GoalDesc, entry.ErrorType),
			SourceReflectionEntryIDs: []int64{entry.EntryID},
			Priority:                 4,
			Metadata:                 metadata,
		}
	}

	step := entry.Plan[idx]
	insightType := model.InsightToolBugSuspected
	if len(step.Args) == 0 && len(step.Kwargs) == 0 {
		insightType = model.InsightToolUsageError
		description += fmt.Sprintf(" The tool %q was called without arguments, suggesting a usage error.", step.ToolName)
	} else {
		description += fmt.Sprintf(" The failure occurred at the step involving tool %q.", step.ToolName)
	}

	if builtin, ok := builtinToolModules[step.ToolName]; ok {
		metadata[model.MetaModulePath] = builtin.ModulePath
		metadata[model.MetaFunctionName] = builtin.FunctionName
	}

	return model.ActionableInsight{
		Type:                     insightType,
		Description:              description,
		SourceReflectionEntryIDs: []int64{entry.EntryID},
		RelatedToolName:          step.ToolName,
		Priority:                 3,
		Metadata:                 metadata,
	}
}

func deriveRetrySuccessInsight(entry model.ReflectionLogEntry) model.ActionableInsight {
	description := fmt.Sprintf("Goal %q succeeded after retries. This may indicate transient issues or fragility in the tools involved.", entry.GoalDesc)
	metadata := map[string]string{model.MetaOriginalReflectionID: fmt.Sprintf("%d", entry.EntryID)}

	var relatedTool string
	if len(entry.Plan) == 1 {
		relatedTool = entry.Plan[0].ToolName
		if builtin, ok := builtinToolModules[relatedTool]; ok {
			metadata[model.MetaModulePath] = builtin.ModulePath
			metadata[model.MetaFunctionName] = builtin.FunctionName
		}
	}

	return model.ActionableInsight{
		Type:                     model.InsightToolEnhancementSuggested,
		Description:              description,
		SourceReflectionEntryIDs: []int64{entry.EntryID},
		RelatedToolName:          relatedTool,
		Priority:                 7,
		Metadata:                 metadata,
	}
}

// ReviewAndProposeNextAction selects the NEW insight with lowest
// (priority, InsightID) — Snowflake ids embed a creation timestamp so this is
// a single sort key, per SPEC_FULL §4.12 — translates it to an action,
// dispatches to the Action Executor, and records the outcome. Returns a zero
// Action, false and a nil error when there is nothing to do.
func (a *Agent) ReviewAndProposeNextAction(ctx context.Context) (brain.Action, bool, error) {
	candidates := make([]model.ActionableInsight, 0)
	for _, ins := range a.insights.All() {
		if ins.Status == model.InsightStatusNew {
			candidates = append(candidates, ins)
		}
	}
	if len(candidates) == 0 {
		return brain.Action{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].InsightID < candidates[j].InsightID
	})
	selected := candidates[0]

	action, ok := proposeAction(selected)
	if !ok {
		if _, _, err := a.insights.UpdateStatus(ctx, selected.InsightID, model.InsightStatusPendingManualReview, map[string]string{
			"review_reason": fmt.Sprintf("insight type %s has no automatic action", selected.Type),
		}); err != nil {
			return brain.Action{}, false, fmt.Errorf("marking insight %d pending manual review: %w", selected.InsightID, err)
		}
		return brain.Action{}, false, nil
	}

	if _, _, err := a.insights.UpdateStatus(ctx, selected.InsightID, model.InsightStatusActionAttempted, nil); err != nil {
		return brain.Action{}, false, fmt.Errorf("marking insight %d attempted: %w", selected.InsightID, err)
	}

	if a.actions == nil {
		if _, _, err := a.insights.UpdateStatus(ctx, selected.InsightID, model.InsightStatusActionFailed, map[string]string{"failure_reason": "no action executor configured"}); err != nil {
			return action, false, fmt.Errorf("marking insight %d failed: %w", selected.InsightID, err)
		}
		return action, false, nil
	}

	succeeded, execErr := a.actions.Execute(ctx, action)
	finalStatus := model.InsightStatusActionFailed
	if execErr == nil && succeeded {
		finalStatus = model.InsightStatusActionSuccessful
	}
	patch := map[string]string{}
	if execErr != nil {
		patch["failure_reason"] = execErr.Error()
	}
	if _, _, err := a.insights.UpdateStatus(ctx, selected.InsightID, finalStatus, patch); err != nil {
		return action, succeeded, fmt.Errorf("recording insight %d outcome: %w", selected.InsightID, err)
	}
	if execErr != nil {
		return action, false, nil
	}
	return action, succeeded, nil
}

// ApproveInsight dispatches insightID through the same mapping
// ReviewAndProposeNextAction uses, regardless of its current priority
// ordering — the Go realization of the CLI/HTTP "approve suggestion"
// administrative command SPEC_FULL §6 calls for alongside task list and fact
// recall.
func (a *Agent) ApproveInsight(ctx context.Context, insightID int64) (brain.Action, bool, error) {
	insight, ok := a.findInsight(insightID)
	if !ok {
		return brain.Action{}, false, fmt.Errorf("insight %d not found", insightID)
	}
	action, ok := proposeAction(insight)
	if !ok {
		return brain.Action{}, false, fmt.Errorf("insight %d has no automatic action to approve", insightID)
	}
	if a.actions == nil {
		return brain.Action{}, false, fmt.Errorf("no action executor configured")
	}

	if _, _, err := a.insights.UpdateStatus(ctx, insightID, model.InsightStatusActionAttempted, nil); err != nil {
		return action, false, fmt.Errorf("marking insight %d attempted: %w", insightID, err)
	}

	succeeded, execErr := a.actions.Execute(ctx, action)
	finalStatus := model.InsightStatusActionFailed
	if execErr == nil && succeeded {
		finalStatus = model.InsightStatusActionSuccessful
	}
	patch := map[string]string{}
	if execErr != nil {
		patch["failure_reason"] = execErr.Error()
	}
	if _, _, err := a.insights.UpdateStatus(ctx, insightID, finalStatus, patch); err != nil {
		return action, succeeded, fmt.Errorf("recording insight %d outcome: %w", insightID, err)
	}
	return action, execErr == nil && succeeded, nil
}

// DenyInsight marks insightID failed without ever dispatching it, for the
// CLI/HTTP "deny suggestion" administrative command.
func (a *Agent) DenyInsight(ctx context.Context, insightID int64, reason string) error {
	if _, ok := a.findInsight(insightID); !ok {
		return fmt.Errorf("insight %d not found", insightID)
	}
	if reason == "" {
		reason = "denied by user"
	}
	_, _, err := a.insights.UpdateStatus(ctx, insightID, model.InsightStatusActionFailed, map[string]string{"failure_reason": reason})
	return err
}

func (a *Agent) findInsight(insightID int64) (model.ActionableInsight, bool) {
	for _, ins := range a.insights.All() {
		if ins.InsightID == insightID {
			return ins, true
		}
	}
	return model.ActionableInsight{}, false
}

// proposeAction translates an insight into an Action Executor payload, per
// SPEC_FULL §4.12's review_and_propose_next_action mapping: bug/enhancement
// insights with a related tool become PROPOSE_TOOL_MODIFICATION;
// knowledge-gap insights with learnable content become ADD_LEARNED_FACT.
// Anything else has no automatic action.
func proposeAction(insight model.ActionableInsight) (brain.Action, bool) {
	switch insight.Type {
	case model.InsightToolBugSuspected, model.InsightToolUsageError, model.InsightToolEnhancementSuggested:
		if insight.RelatedToolName == "" {
			return brain.Action{}, false
		}
		var reflectionID int64
		if len(insight.SourceReflectionEntryIDs) > 0 {
			reflectionID = insight.SourceReflectionEntryIDs[0]
		}
		data := brain.ProposeToolModificationAction{
			ModulePath:                insight.Metadata[model.MetaModulePath],
			FunctionName:              insight.Metadata[model.MetaFunctionName],
			SuggestedCodeChange:       insight.SuggestedCodeChange,
			ChangeDescription:         insight.Description,
			OriginalReflectionEntryID: reflectionID,
		}
		return mustAction(brain.ActionTypeProposeToolModification, data), true
	case model.InsightKnowledgeGapIdentified:
		if insight.KnowledgeToLearn == "" {
			return brain.Action{}, false
		}
		data := brain.AddLearnedFactAction{
			Text:   insight.KnowledgeToLearn,
			Source: fmt.Sprintf("insight:%d", insight.InsightID),
		}
		return mustAction(brain.ActionTypeAddLearnedFact, data), true
	default:
		return brain.Action{}, false
	}
}

func mustAction(actionType brain.ActionType, data any) brain.Action {
	raw, err := json.Marshal(data)
	if err != nil {
		// data is always one of the fixed payload structs above, which are
		// always marshalable; a failure here would be a programming error.
		panic(fmt.Sprintf("marshaling %s action data: %v", actionType, err))
	}
	return brain.Action{Type: actionType, Data: raw}
}
