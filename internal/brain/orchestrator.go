package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fatih/color"

	"github.com/jasonk87/selfevolve/common/logger"
	"github.com/jasonk87/selfevolve/internal/model"
	"github.com/jasonk87/selfevolve/internal/reflection"
)

// FactFinder is the narrow slice of factstore.Store the Orchestrator queries
// for relevant learned facts (SPEC_FULL §4.11 step 2).
type FactFinder interface {
	All() []model.LearnedFact
}

// ToolLister is the narrow slice of toolregistry.Registry the Orchestrator
// needs to hand the Planner its tool list.
type ToolLister interface {
	List() []model.Tool
}

// GoalPlanner is the Planner slice the Orchestrator drives.
type GoalPlanner interface {
	GeneratePlan(ctx context.Context, req GeneratePlanRequest) ([]model.PlanStep, error)
}

// PlanRunner is the Execution Agent slice the Orchestrator drives.
type PlanRunner interface {
	Run(ctx context.Context, planCtx GeneratePlanRequest, initialPlan []model.PlanStep) ([]model.PlanStep, []model.ExecutionResult, bool)
}

// OrchestratorReflectionLog is the narrow slice of reflection.Log the
// Orchestrator appends the goal's outcome to.
type OrchestratorReflectionLog interface {
	LogExecution(ctx context.Context, in reflection.LogExecutionInput) (model.ReflectionLogEntry, error)
}

// actionDispatchResult is the shape a plan step's result takes when the
// Execution Agent has surfaced a self-modification or fact-learning action
// for the Orchestrator to carry out (SPEC_FULL §4.11 step 6).
type actionDispatchResult struct {
	ActionTypeForExecutor    ActionType
	ActionDetailsForExecutor Action
}

const (
	maxFactsByKeyword   = 5
	maxFactsByCategory  = 2
	maxFactsOverall     = 7
	maxRenderedArgChars = 60
)

var preferredFactCategories = []string{
	model.CategoryUserPreference,
	model.CategoryProjectContext,
	model.CategoryGeneralKnowledge,
}

// Orchestrator is the top-level entry point for one user prompt (SPEC_FULL
// §4.11): it gathers facts and project context, drives the Planner and
// Execution Agent, dispatches any mid-plan actions to the Action Executor,
// logs the outcome, and renders a colored summary for the CLI/HTTP front
// ends.
type Orchestrator struct {
	tools       ToolLister
	facts       FactFinder
	planner     GoalPlanner
	executor    PlanRunner
	actions     *ActionExecutor
	reflections OrchestratorReflectionLog
	projectRoot string
	node        *snowflake.Node
}

// NewOrchestrator constructs an Orchestrator from its collaborators. actions
// may be nil in configurations that never allow self-modification (plan
// steps proposing PROPOSE_TOOL_MODIFICATION then simply fail). node mints the
// per-prompt goal correlation id HandlePrompt stamps into the log context;
// callers share the same node used by every other persisted store so ids
// stay time-ordered across the whole process.
func NewOrchestrator(
	tools ToolLister,
	facts FactFinder,
	planner GoalPlanner,
	executor PlanRunner,
	actions *ActionExecutor,
	reflections OrchestratorReflectionLog,
	projectRoot string,
	node *snowflake.Node,
) *Orchestrator {
	return &Orchestrator{
		tools:       tools,
		facts:       facts,
		node:        node,
		planner:     planner,
		executor:    executor,
		actions:     actions,
		reflections: reflections,
		projectRoot: projectRoot,
	}
}

// HandlePrompt runs one user prompt through the full C11 pipeline and
// returns whether it succeeded along with a rendered response.
func (o *Orchestrator) HandlePrompt(ctx context.Context, prompt string) (bool, string) {
	goalID := fmt.Sprintf("%d", o.node.Generate().Int64())
	ctx = logger.WithLogFields(ctx, logger.LogFields{GoalID: &goalID, Component: "agent.orchestrator"})
	slog.InfoContext(ctx, "orchestrator handling prompt", "prompt", truncate(prompt, 200))

	facts := o.relevantFacts(prompt)
	projectContext := o.detectProjectContext(prompt)

	planCtx := GeneratePlanRequest{
		Goal:           prompt,
		Tools:          o.toolList(),
		Facts:          facts,
		ProjectContext: projectContext,
	}

	plan, err := o.planner.GeneratePlan(ctx, planCtx)
	if err != nil {
		slog.ErrorContext(ctx, "planning failed", "error", err)
		o.logOutcome(ctx, prompt, nil, nil, false, fmt.Sprintf("planning failed: %s", err))
		return false, fmt.Sprintf("I couldn't come up with a plan for that: %s", err)
	}

	finalPlan, results, overallSuccess := o.executor.Run(ctx, planCtx, plan)

	results, overallSuccess = o.dispatchActions(ctx, results, overallSuccess)

	o.logOutcome(ctx, prompt, finalPlan, results, overallSuccess, "")

	summary := o.renderSummary(finalPlan, results, overallSuccess)
	return overallSuccess, summary
}

// relevantFacts implements SPEC_FULL §4.11 step 2: keyword overlap on the
// prompt's whitespace-split tokens (capped 5), plus up to 2 more by
// preferred category from most recent, overall capped at 7.
func (o *Orchestrator) relevantFacts(prompt string) []model.LearnedFact {
	if o.facts == nil {
		return nil
	}
	all := o.facts.All()
	if len(all) == 0 {
		return nil
	}

	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(prompt)) {
		tokens[tok] = struct{}{}
	}

	selected := make([]model.LearnedFact, 0, maxFactsOverall)
	seen := make(map[int64]struct{})

	for _, f := range all {
		if len(selected) >= maxFactsByKeyword {
			break
		}
		lower := strings.ToLower(f.Text)
		matched := false
		for tok := range tokens {
			if len(tok) < 3 {
				continue
			}
			if strings.Contains(lower, tok) {
				matched = true
				break
			}
		}
		if matched {
			selected = append(selected, f)
			seen[f.FactID] = struct{}{}
		}
	}

	for _, category := range preferredFactCategories {
		added := 0
		byCategory := make([]model.LearnedFact, 0)
		for _, f := range all {
			if f.Category != category {
				continue
			}
			if _, ok := seen[f.FactID]; ok {
				continue
			}
			byCategory = append(byCategory, f)
		}
		sort.Slice(byCategory, func(i, j int) bool {
			return byCategory[i].CreatedAt.After(byCategory[j].CreatedAt)
		})
		for _, f := range byCategory {
			if added >= maxFactsByCategory || len(selected) >= maxFactsOverall {
				break
			}
			selected = append(selected, f)
			seen[f.FactID] = struct{}{}
			added++
		}
		if len(selected) >= maxFactsOverall {
			break
		}
	}

	if len(selected) > maxFactsOverall {
		selected = selected[:maxFactsOverall]
	}
	return selected
}

// projectKeywords are the action/entity words that, together with a
// `<file>.go` mention, trigger loading that file as project context
// (SPEC_FULL §4.11 step 3: Go-idiomatic substitution for the distilled
// spec's `.py` heuristic).
var projectKeywords = []string{"fix", "modify", "update", "refactor", "implement", "review", "explain", "read", "edit"}

// knownProjectNames are multi-package project names the Orchestrator
// recognizes by name alone, without a specific file mention.
var knownProjectNames = []string{"selfevolve", "this project", "this repo", "this codebase"}

func (o *Orchestrator) detectProjectContext(prompt string) string {
	lower := strings.ToLower(prompt)

	for _, tok := range strings.Fields(prompt) {
		trimmed := strings.Trim(tok, ".,:;!?\"'()")
		if !strings.HasSuffix(trimmed, ".go") {
			continue
		}
		hasKeyword := false
		for _, kw := range projectKeywords {
			if strings.Contains(lower, kw) {
				hasKeyword = true
				break
			}
		}
		if !hasKeyword {
			continue
		}
		path := trimmed
		if o.projectRoot != "" && !filepath.IsAbs(path) {
			path = filepath.Join(o.projectRoot, trimmed)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			slog.Debug("project context file read failed", "path", path, "error", err)
			continue
		}
		return fmt.Sprintf("file %s:\n%s", trimmed, truncate(string(content), 4000))
	}

	for _, name := range knownProjectNames {
		if strings.Contains(lower, name) {
			return fmt.Sprintf("goal references the %s codebase rooted at %s", name, o.projectRoot)
		}
	}

	return ""
}

func (o *Orchestrator) toolList() []model.Tool {
	if o.tools == nil {
		return nil
	}
	return o.tools.List()
}

// dispatchActions implements SPEC_FULL §4.11 step 6: any result shaped as an
// actionDispatchResult is sent to the Action Executor and replaced with its
// outcome; any other error result flips overall success false.
func (o *Orchestrator) dispatchActions(ctx context.Context, results []model.ExecutionResult, overallSuccess bool) ([]model.ExecutionResult, bool) {
	for i, r := range results {
		if r.IsErrorResult() {
			overallSuccess = false
			continue
		}
		action, ok := asDispatchableAction(r.Value)
		if !ok {
			continue
		}
		if o.actions == nil {
			results[i] = model.ExecutionResult{Error: "action dispatch requested but no action executor configured"}
			overallSuccess = false
			continue
		}
		succeeded, err := o.actions.Execute(ctx, action.ActionDetailsForExecutor)
		if err != nil {
			results[i] = model.ExecutionResult{Error: err.Error()}
			overallSuccess = false
			continue
		}
		outcome := "action completed successfully"
		if !succeeded {
			outcome = "action did not succeed"
			overallSuccess = false
		}
		results[i] = model.ExecutionResult{Value: outcome, RanSuccessfully: &succeeded}
	}
	return results, overallSuccess
}

// asDispatchableAction recognizes the {action_type_for_executor,
// action_details_for_executor} shape a tool result takes when it is asking
// the Orchestrator to carry out a self-modification or fact-learning action
// rather than returning a plain value.
func asDispatchableAction(value any) (actionDispatchResult, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return actionDispatchResult{}, false
	}
	rawType, ok := m["action_type_for_executor"]
	if !ok {
		return actionDispatchResult{}, false
	}
	typeStr, ok := rawType.(string)
	if !ok || typeStr == "" {
		return actionDispatchResult{}, false
	}
	rawDetails, _ := m["action_details_for_executor"].(map[string]any)
	detailsBytes, err := json.Marshal(rawDetails)
	if err != nil {
		return actionDispatchResult{}, false
	}
	return actionDispatchResult{
		ActionTypeForExecutor: ActionType(typeStr),
		ActionDetailsForExecutor: Action{
			Type: ActionType(typeStr),
			Data: detailsBytes,
		},
	}, true
}

func (o *Orchestrator) logOutcome(ctx context.Context, goal string, plan []model.PlanStep, results []model.ExecutionResult, overallSuccess bool, notes string) {
	if o.reflections == nil {
		return
	}
	if _, err := o.reflections.LogExecution(ctx, reflection.LogExecutionInput{
		GoalDesc:       goal,
		Plan:           plan,
		Results:        results,
		OverallSuccess: overallSuccess,
		Notes:          notes,
	}); err != nil {
		slog.ErrorContext(ctx, "failed to log reflection entry", "error", err)
	}
}

// renderSummary composes SPEC_FULL §4.11 step 7's colored summary, using
// fatih/color (already vendored transitively via the teacher's own go.mod)
// to match the teacher's CLI convention of coloring success/failure output.
func (o *Orchestrator) renderSummary(plan []model.PlanStep, results []model.ExecutionResult, overallSuccess bool) string {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	var b strings.Builder
	if overallSuccess {
		fmt.Fprintf(&b, "%s\n", bold(green("goal completed successfully")))
	} else {
		fmt.Fprintf(&b, "%s\n", bold(red("goal did not fully complete")))
	}

	for i, step := range plan {
		var outcome string
		if i < len(results) && results[i].IsErrorResult() {
			outcome = red("FAILED: " + results[i].Error)
		} else if i < len(results) {
			outcome = green(truncate(fmt.Sprintf("%v", results[i].Value), maxRenderedArgChars))
		} else {
			outcome = red("not run")
		}
		fmt.Fprintf(&b, "%d. %s(%s) -> %s\n", i+1, step.ToolName, truncate(renderArgs(step), maxRenderedArgChars), outcome)
	}

	return b.String()
}

func renderArgs(step model.PlanStep) string {
	parts := make([]string, 0, len(step.Args)+len(step.Kwargs))
	for _, a := range step.Args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	for k, v := range step.Kwargs {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ", ")
}
