package brain

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/jasonk87/selfevolve/internal/model"
)

// ToolExecutor is the narrow collaborator the Execution Agent needs from the
// Tool Registry (SPEC_FULL §4.1's Execute operation).
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args []any, kwargs map[string]any) (any, error)
}

// ReplanningPlanner is the narrow collaborator the Execution Agent needs from
// the Planner when a step fails mid-goal.
type ReplanningPlanner interface {
	ReplanAfterFailure(ctx context.Context, req ReplanRequest) ([]model.PlanStep, error)
}

var stepOutputToken = regexp.MustCompile(`^\[\[step_(\d+)_output\]\]$`)

// ExecutionAgent runs Planner-produced plans against the Tool Registry,
// substituting "[[step_N_output]]" tokens with prior step results, and
// drives replanning when a step fails (SPEC_FULL §4.9-§4.10).
type ExecutionAgent struct {
	tools             ToolExecutor
	planner           ReplanningPlanner
	maxReplansPerGoal int
}

// NewExecutionAgent constructs an Execution Agent. planner may be nil for a
// configuration that only ever replays historical plans (e.g. the Action
// Executor's post-modification test, which calls ExecutePlan directly and
// never triggers replanning).
func NewExecutionAgent(tools ToolExecutor, planner ReplanningPlanner, maxReplansPerGoal int) *ExecutionAgent {
	if maxReplansPerGoal < 0 {
		maxReplansPerGoal = 0
	}
	return &ExecutionAgent{tools: tools, planner: planner, maxReplansPerGoal: maxReplansPerGoal}
}

// ExecutePlan runs plan steps strictly sequentially, continuing past a
// failed step rather than aborting (graceful degradation, grounded on the
// teacher's job-executor sequencing idiom). It performs no replanning, which
// makes it exactly what the Action Executor needs to replay a reflection
// entry's historical plan verbatim as a post-modification test (SPEC_FULL
// §4.8) — this method alone satisfies the brain.PlanExecutor interface.
func (e *ExecutionAgent) ExecutePlan(ctx context.Context, plan []model.PlanStep) ([]model.ExecutionResult, bool) {
	results := make([]model.ExecutionResult, len(plan))
	overallSuccess := true

	for i, step := range plan {
		result := e.executeStep(ctx, step, results[:i])
		results[i] = result
		if result.IsErrorResult() {
			overallSuccess = false
			slog.ErrorContext(ctx, "plan step failed", "step", i+1, "tool", step.ToolName, "error", result.Error)
			continue
		}
		slog.DebugContext(ctx, "plan step completed", "step", i+1, "tool", step.ToolName)
	}

	return results, overallSuccess
}

// Run drives one goal to completion: executes plan sequentially, and on a
// step failure asks the Planner to replan the remainder, bounded by
// maxReplansPerGoal (SPEC_FULL §4.9, §5). Returns the plan actually attempted
// (initial steps plus any replans) and the results of that final attempt.
// overallSuccess reports whether every step run after the last replan
// succeeded; a failed step that a replan recovered from does not count
// against it.
func (e *ExecutionAgent) Run(ctx context.Context, planCtx GeneratePlanRequest, initialPlan []model.PlanStep) (finalPlan []model.PlanStep, results []model.ExecutionResult, overallSuccess bool) {
	plan := append([]model.PlanStep(nil), initialPlan...)
	results = make([]model.ExecutionResult, 0, len(plan))
	replans := 0
	attemptStart := 0

	for i := 0; i < len(plan); i++ {
		step := plan[i]
		result := e.executeStep(ctx, step, results)
		results = append(results, result)

		if !result.IsErrorResult() {
			continue
		}

		slog.WarnContext(ctx, "plan step failed", "step", i+1, "tool", step.ToolName, "error", result.Error)

		if e.planner == nil || replans >= e.maxReplansPerGoal {
			slog.ErrorContext(ctx, "replan budget exhausted, recording goal as failure",
				"replans_used", replans, "max_replans", e.maxReplansPerGoal)
			return plan[:len(results)], results, false
		}

		replans++
		remaining, err := e.planner.ReplanAfterFailure(ctx, ReplanRequest{
			GeneratePlanRequest: planCtx,
			FailureAnalysis:     fmt.Sprintf("step %d (tool %q) failed: %s", i+1, step.ToolName, result.Error),
			CompletedSteps:      plan[:i+1],
			CompletedResults:    results,
		})
		if err != nil {
			slog.ErrorContext(ctx, "replanning failed", "error", err)
			return plan[:len(results)], results, false
		}

		slog.InfoContext(ctx, "plan revised after step failure", "replan_number", replans, "new_step_count", len(remaining))
		plan = append(plan[:i+1], remaining...)
		attemptStart = i + 1
	}

	overallSuccess = true
	for _, r := range results[attemptStart:] {
		if r.IsErrorResult() {
			overallSuccess = false
			break
		}
	}
	return plan, results, overallSuccess
}

func (e *ExecutionAgent) executeStep(ctx context.Context, step model.PlanStep, priorResults []model.ExecutionResult) model.ExecutionResult {
	args := substituteArgs(step.Args, priorResults)
	kwargs := substituteKwargs(step.Kwargs, priorResults)

	value, err := e.tools.Execute(ctx, step.ToolName, args, kwargs)
	if err != nil {
		return model.ExecutionResult{Error: err.Error()}
	}
	return model.ExecutionResult{Value: value}
}

func substituteArgs(args []any, results []model.ExecutionResult) []any {
	if len(args) == 0 {
		return args
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = substituteValue(a, results)
	}
	return out
}

func substituteKwargs(kwargs map[string]any, results []model.ExecutionResult) map[string]any {
	if len(kwargs) == 0 {
		return kwargs
	}
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		out[k] = substituteValue(v, results)
	}
	return out
}

// substituteValue replaces a literal "[[step_N_output]]" string with the
// value of the Nth (1-indexed) prior step's result. Any other value,
// including an out-of-range or malformed token, passes through unchanged.
func substituteValue(v any, results []model.ExecutionResult) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	m := stepOutputToken.FindStringSubmatch(s)
	if m == nil {
		return v
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil || idx < 1 || idx > len(results) {
		return v
	}
	return results[idx-1].Value
}
