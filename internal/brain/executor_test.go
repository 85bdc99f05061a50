package brain_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/jasonk87/selfevolve/internal/brain"
	"github.com/jasonk87/selfevolve/internal/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// stubTools implements brain.ToolExecutor over a fixed call script, keyed by
// invocation order per tool name.
type stubTools struct {
	calls   []toolCall
	results map[string][]toolResult
}

type toolCall struct {
	name   string
	args   []any
	kwargs map[string]any
}

type toolResult struct {
	value any
	err   error
}

func (s *stubTools) Execute(ctx context.Context, name string, args []any, kwargs map[string]any) (any, error) {
	s.calls = append(s.calls, toolCall{name: name, args: args, kwargs: kwargs})
	queue := s.results[name]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no stubbed result for tool %q", name)
	}
	next := queue[0]
	s.results[name] = queue[1:]
	return next.value, next.err
}

// stubPlanner implements brain.ReplanningPlanner, returning queued plans.
type stubPlanner struct {
	plans     [][]model.PlanStep
	callCount int
	lastReq   brain.ReplanRequest
}

func (s *stubPlanner) ReplanAfterFailure(ctx context.Context, req brain.ReplanRequest) ([]model.PlanStep, error) {
	s.lastReq = req
	if s.callCount >= len(s.plans) {
		return nil, errors.New("no more stubbed replans")
	}
	plan := s.plans[s.callCount]
	s.callCount++
	return plan, nil
}

var _ = Describe("ExecutionAgent", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("ExecutePlan", func() {
		It("runs steps sequentially and substitutes step output tokens", func() {
			tools := &stubTools{results: map[string][]toolResult{
				"read_file": {{value: "package main"}},
				"summarize": {{value: "a tiny main package"}},
			}}
			agent := brain.NewExecutionAgent(tools, nil, 0)

			results, ok := agent.ExecutePlan(ctx, []model.PlanStep{
				{ToolName: "read_file", Args: []any{"main.go"}},
				{ToolName: "summarize", Args: []any{"[[step_1_output]]"}},
			})

			Expect(ok).To(BeTrue())
			Expect(results).To(HaveLen(2))
			Expect(results[1].Value).To(Equal("a tiny main package"))
			Expect(tools.calls[1].args[0]).To(Equal("package main"))
		})

		It("continues past a failed step and reports overall failure", func() {
			tools := &stubTools{results: map[string][]toolResult{
				"step_a": {{err: errors.New("boom")}},
				"step_b": {{value: "done anyway"}},
			}}
			agent := brain.NewExecutionAgent(tools, nil, 0)

			results, ok := agent.ExecutePlan(ctx, []model.PlanStep{
				{ToolName: "step_a"},
				{ToolName: "step_b"},
			})

			Expect(ok).To(BeFalse())
			Expect(results).To(HaveLen(2))
			Expect(results[0].IsErrorResult()).To(BeTrue())
			Expect(results[1].IsErrorResult()).To(BeFalse())
			Expect(results[1].Value).To(Equal("done anyway"))
		})

		It("leaves an out-of-range substitution token untouched", func() {
			tools := &stubTools{results: map[string][]toolResult{
				"only_step": {{value: "[[step_5_output]]"}},
			}}
			agent := brain.NewExecutionAgent(tools, nil, 0)

			_, ok := agent.ExecutePlan(ctx, []model.PlanStep{
				{ToolName: "only_step", Args: []any{"[[step_5_output]]"}},
			})

			Expect(ok).To(BeTrue())
			Expect(tools.calls[0].args[0]).To(Equal("[[step_5_output]]"))
		})
	})

	Describe("Run", func() {
		It("succeeds without replanning when every step succeeds", func() {
			tools := &stubTools{results: map[string][]toolResult{
				"a": {{value: "ok"}},
			}}
			agent := brain.NewExecutionAgent(tools, nil, 2)

			finalPlan, results, ok := agent.Run(ctx, brain.GeneratePlanRequest{Goal: "goal"}, []model.PlanStep{{ToolName: "a"}})

			Expect(ok).To(BeTrue())
			Expect(finalPlan).To(HaveLen(1))
			Expect(results).To(HaveLen(1))
		})

		It("replans the remainder after a failed step, within budget", func() {
			tools := &stubTools{results: map[string][]toolResult{
				"fetch":    {{err: errors.New("timeout")}},
				"fallback": {{value: "recovered"}},
			}}
			planner := &stubPlanner{plans: [][]model.PlanStep{
				{{ToolName: "fallback"}},
			}}
			agent := brain.NewExecutionAgent(tools, planner, 2)

			finalPlan, results, ok := agent.Run(ctx, brain.GeneratePlanRequest{Goal: "fetch remote data"}, []model.PlanStep{{ToolName: "fetch"}})

			Expect(ok).To(BeTrue())
			Expect(finalPlan).To(HaveLen(2))
			Expect(finalPlan[1].ToolName).To(Equal("fallback"))
			Expect(results).To(HaveLen(2))
			Expect(results[1].Value).To(Equal("recovered"))
			Expect(planner.callCount).To(Equal(1))
			Expect(planner.lastReq.FailureAnalysis).To(ContainSubstring("fetch"))
		})

		It("records the goal as a failure once the replan budget is exhausted", func() {
			tools := &stubTools{results: map[string][]toolResult{
				"fetch": {{err: errors.New("timeout")}, {err: errors.New("timeout again")}},
			}}
			planner := &stubPlanner{plans: [][]model.PlanStep{
				{{ToolName: "fetch"}},
			}}
			agent := brain.NewExecutionAgent(tools, planner, 1)

			_, results, ok := agent.Run(ctx, brain.GeneratePlanRequest{Goal: "fetch remote data"}, []model.PlanStep{{ToolName: "fetch"}})

			Expect(ok).To(BeFalse())
			Expect(results).To(HaveLen(2))
			Expect(planner.callCount).To(Equal(1))
		})

		It("records the goal as a failure immediately when no planner is configured", func() {
			tools := &stubTools{results: map[string][]toolResult{
				"fetch": {{err: errors.New("timeout")}},
			}}
			agent := brain.NewExecutionAgent(tools, nil, 2)

			_, results, ok := agent.Run(ctx, brain.GeneratePlanRequest{Goal: "fetch remote data"}, []model.PlanStep{{ToolName: "fetch"}})

			Expect(ok).To(BeFalse())
			Expect(results).To(HaveLen(1))
		})
	})
})
