// Package brain implements the reasoning/acting core of the agent (SPEC_FULL
// §4.8-§4.12): the Planner and Execution Agent that turn a goal into tool
// calls, the Orchestrator that drives one user prompt through that loop, the
// Action Executor that carries out self-modification and fact-learning
// side effects. The Learning Agent that mines the reflection log for
// follow-up work lives in internal/learning.
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jasonk87/selfevolve/common/llm"
	"github.com/jasonk87/selfevolve/internal/model"
)

// maxPlanAttempts bounds how many times the Planner nudges the model to call
// submit_plan before giving up; with a single tool available this only ever
// guards against a malformed or refused response, not genuine exploration.
const maxPlanAttempts = 3

// PlanStepParam is the wire shape the Planner asks the model to fill in.
// Arguments are strings rather than model.PlanStep's `any` so that a
// "[[step_N_output]]" substitution token round-trips as an exact string match
// for the Execution Agent (see SPEC_FULL §4.9).
type PlanStepParam struct {
	ToolName string            `json:"tool_name" jsonschema:"required,description=Exact registered tool name to invoke."`
	Args     []string          `json:"args,omitempty" jsonschema:"description=Positional arguments. Use the literal token [[step_N_output]] (1-indexed) to reference a prior step's result."`
	Kwargs   map[string]string `json:"kwargs,omitempty" jsonschema:"description=Named arguments. Use the literal token [[step_N_output]] (1-indexed) to reference a prior step's result."`
}

// SubmitPlanParams is the schema for the submit_plan tool, the only tool the
// Planner's model may call. Calling it terminates the planning loop.
type SubmitPlanParams struct {
	Steps     []PlanStepParam `json:"steps" jsonschema:"required,description=Ordered list of tool calls to execute sequentially. Empty if the goal needs no tool calls."`
	Reasoning string          `json:"reasoning" jsonschema:"required,description=Brief explanation of the plan, for logs only."`
}

func (p PlanStepParam) toModel() model.PlanStep {
	step := model.PlanStep{ToolName: p.ToolName}
	if len(p.Args) > 0 {
		step.Args = make([]any, len(p.Args))
		for i, a := range p.Args {
			step.Args[i] = a
		}
	}
	if len(p.Kwargs) > 0 {
		step.Kwargs = make(map[string]any, len(p.Kwargs))
		for k, v := range p.Kwargs {
			step.Kwargs[k] = v
		}
	}
	return step
}

// GeneratePlanRequest bundles everything the Planner's model needs to choose
// tool calls for a goal (SPEC_FULL §4.11 step 4: "tool list, facts section,
// and project context").
type GeneratePlanRequest struct {
	Goal           string
	Tools          []model.Tool
	Facts          []model.LearnedFact
	ProjectContext string
}

// ReplanRequest additionally carries what has already run and why the most
// recent step failed, for the Execution Agent's replanning call (SPEC_FULL
// §4.9: "invokes planner.ReplanAfterFailure with a failure analysis and the
// current context").
type ReplanRequest struct {
	GeneratePlanRequest
	FailureAnalysis  string
	CompletedSteps   []model.PlanStep
	CompletedResults []model.ExecutionResult
}

// Planner turns a goal (plus learned facts and project context) into an
// ordered tool-call plan, and revises the remainder of a plan after a step
// fails. It never executes tools itself — that is the Execution Agent's job.
type Planner struct {
	llm llm.AgentClient
}

// NewPlanner constructs a Planner. llmClient is expected to be configured
// with Config.LLM.AgentModel (SPEC_FULL's ambient config carries a distinct
// model for tool-calling plan generation vs. strict single-shot JSON calls).
func NewPlanner(llmClient llm.AgentClient) *Planner {
	return &Planner{llm: llmClient}
}

// GeneratePlan produces the initial plan for a goal.
func (p *Planner) GeneratePlan(ctx context.Context, req GeneratePlanRequest) ([]model.PlanStep, error) {
	slog.DebugContext(ctx, "planner invoked", "mode", "generate")
	steps, reasoning, err := p.runPlanningLoop(ctx, req.Goal, buildPlanUserPrompt(req))
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "plan generated", "step_count", len(steps), "reasoning", truncate(reasoning, 200))
	return steps, nil
}

// ReplanAfterFailure asks the Planner to replace the remaining steps of a
// plan after the Execution Agent observed a step failure.
func (p *Planner) ReplanAfterFailure(ctx context.Context, req ReplanRequest) ([]model.PlanStep, error) {
	slog.DebugContext(ctx, "planner invoked", "mode", "replan")
	steps, reasoning, err := p.runPlanningLoop(ctx, req.Goal, buildReplanUserPrompt(req))
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "plan revised after failure", "step_count", len(steps), "reasoning", truncate(reasoning, 200))
	return steps, nil
}

func (p *Planner) runPlanningLoop(ctx context.Context, goal, userPrompt string) ([]model.PlanStep, string, error) {
	messages := []llm.Message{
		{Role: "system", Content: plannerSystemPrompt},
		{Role: "user", Content: userPrompt},
	}

	for attempt := 1; attempt <= maxPlanAttempts; attempt++ {
		resp, err := p.llm.ChatWithTools(ctx, llm.AgentRequest{
			Messages: messages,
			Tools:    p.tools(),
		})
		if err != nil {
			return nil, "", fmt.Errorf("planner chat (goal %q, attempt %d): %w", goal, attempt, err)
		}

		for _, tc := range resp.ToolCalls {
			if tc.Name != "submit_plan" {
				continue
			}
			params, err := llm.ParseToolArguments[SubmitPlanParams](tc.Arguments)
			if err != nil {
				return nil, "", fmt.Errorf("parsing submit_plan: %w", err)
			}
			steps := make([]model.PlanStep, len(params.Steps))
			for i, s := range params.Steps {
				steps[i] = s.toModel()
			}
			return steps, params.Reasoning, nil
		}

		slog.WarnContext(ctx, "planner response had no submit_plan call, nudging", "attempt", attempt)
		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls},
			llm.Message{Role: "user", Content: "You must call submit_plan to finish, even with an empty steps list if no tool calls are needed."},
		)
	}

	return nil, "", fmt.Errorf("planner did not submit a plan for goal %q after %d attempts", goal, maxPlanAttempts)
}

func (p *Planner) tools() []llm.Tool {
	return []llm.Tool{
		{
			Name:        "submit_plan",
			Description: "Submit the ordered list of tool calls needed to accomplish the goal. Call this exactly once to finish.",
			Parameters:  llm.GenerateSchemaFrom(SubmitPlanParams{}),
		},
	}
}

func buildPlanUserPrompt(req GeneratePlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "GOAL:\n%s\n\n", req.Goal)
	b.WriteString(renderToolList(req.Tools))
	b.WriteString(renderFacts(req.Facts))
	b.WriteString(renderProjectContext(req.ProjectContext))
	b.WriteString("\nProduce the ordered tool-call plan via submit_plan.")
	return b.String()
}

func buildReplanUserPrompt(req ReplanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "GOAL:\n%s\n\n", req.Goal)
	b.WriteString("A step of the original plan failed. Revise the REMAINING work only; do not repeat steps that already succeeded.\n\n")
	fmt.Fprintf(&b, "FAILURE ANALYSIS:\n%s\n\n", req.FailureAnalysis)

	b.WriteString("STEPS ALREADY ATTEMPTED:\n")
	for i, step := range req.CompletedSteps {
		outcome := "ok"
		if i < len(req.CompletedResults) && req.CompletedResults[i].IsErrorResult() {
			outcome = "FAILED: " + req.CompletedResults[i].Error
		}
		fmt.Fprintf(&b, "%d. %s(%v, %v) -> %s\n", i+1, step.ToolName, step.Args, step.Kwargs, outcome)
	}
	b.WriteString("\n")

	b.WriteString(renderToolList(req.Tools))
	b.WriteString(renderFacts(req.Facts))
	b.WriteString(renderProjectContext(req.ProjectContext))
	b.WriteString("\nProduce the revised remaining plan via submit_plan. Note: [[step_N_output]] tokens in a revised plan refer to the position of a step within the FINAL combined plan (already-attempted steps keep their original indices).")
	return b.String()
}

func renderToolList(tools []model.Tool) string {
	if len(tools) == 0 {
		return "AVAILABLE TOOLS: none registered.\n\n"
	}
	var b strings.Builder
	b.WriteString("AVAILABLE TOOLS:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString("\n")
	return b.String()
}

func renderFacts(facts []model.LearnedFact) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("RELEVANT LEARNED FACTS:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Category, f.Text)
	}
	b.WriteString("\n")
	return b.String()
}

func renderProjectContext(projectContext string) string {
	if projectContext == "" {
		return ""
	}
	return fmt.Sprintf("PROJECT CONTEXT:\n%s\n\n", projectContext)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

const plannerSystemPrompt = `You are the planning component of a self-evolving software agent. Given a goal, a list of available tools, relevant learned facts, and project context, decide the ordered sequence of tool calls needed to accomplish the goal.

Rules:
- Only call tools that appear in AVAILABLE TOOLS, by their exact name.
- Keep the plan as short as possible; do not add speculative steps.
- To pass the output of an earlier step as an argument to a later one, use the literal string token "[[step_N_output]]" where N is the 1-indexed position of the earlier step. Do not attempt to compute or guess the value yourself.
- If the goal requires no tool calls (e.g., it is already answered by the provided facts or context), submit an empty steps list.
- You MUST finish by calling submit_plan exactly once.`
