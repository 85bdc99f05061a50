package brain_test

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/jasonk87/selfevolve/internal/brain"
	"github.com/jasonk87/selfevolve/internal/model"
	"github.com/jasonk87/selfevolve/internal/reflection"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func orchestratorTestNode() *snowflake.Node {
	node, err := snowflake.NewNode(9)
	if err != nil {
		panic(err)
	}
	return node
}

type stubToolLister struct{ tools []model.Tool }

func (s *stubToolLister) List() []model.Tool { return s.tools }

type stubFactFinder struct{ facts []model.LearnedFact }

func (s *stubFactFinder) All() []model.LearnedFact { return s.facts }

type stubGoalPlanner struct {
	plan      []model.PlanStep
	err       error
	lastReq   brain.GeneratePlanRequest
	callCount int
}

func (s *stubGoalPlanner) GeneratePlan(ctx context.Context, req brain.GeneratePlanRequest) ([]model.PlanStep, error) {
	s.callCount++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.plan, nil
}

type stubPlanRunner struct {
	finalPlan []model.PlanStep
	results   []model.ExecutionResult
	ok        bool
}

func (s *stubPlanRunner) Run(ctx context.Context, planCtx brain.GeneratePlanRequest, initialPlan []model.PlanStep) ([]model.PlanStep, []model.ExecutionResult, bool) {
	if s.finalPlan == nil {
		s.finalPlan = initialPlan
	}
	return s.finalPlan, s.results, s.ok
}

type stubReflectionLog struct {
	entries []reflection.LogExecutionInput
}

func (s *stubReflectionLog) LogExecution(ctx context.Context, in reflection.LogExecutionInput) (model.ReflectionLogEntry, error) {
	s.entries = append(s.entries, in)
	return model.ReflectionLogEntry{EntryID: int64(len(s.entries))}, nil
}

var _ = Describe("Orchestrator", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("drives the planner and executor, then logs and renders a success summary", func() {
		tools := &stubToolLister{tools: []model.Tool{{Name: "read_file"}}}
		facts := &stubFactFinder{}
		planner := &stubGoalPlanner{plan: []model.PlanStep{{ToolName: "read_file", Args: []any{"main.go"}}}}
		runner := &stubPlanRunner{
			finalPlan: []model.PlanStep{{ToolName: "read_file", Args: []any{"main.go"}}},
			results:   []model.ExecutionResult{{Value: "package main"}},
			ok:        true,
		}
		log := &stubReflectionLog{}

		orch := brain.NewOrchestrator(tools, facts, planner, runner, nil, log, "/repo", orchestratorTestNode())

		ok, summary := orch.HandlePrompt(ctx, "read main.go please")

		Expect(ok).To(BeTrue())
		Expect(summary).To(ContainSubstring("read_file"))
		Expect(summary).To(ContainSubstring("main.go"))
		Expect(planner.callCount).To(Equal(1))
		Expect(log.entries).To(HaveLen(1))
		Expect(log.entries[0].OverallSuccess).To(BeTrue())
	})

	It("returns failure and logs it when planning errors out", func() {
		planner := &stubGoalPlanner{err: errors.New("provider down")}
		runner := &stubPlanRunner{}
		log := &stubReflectionLog{}

		orch := brain.NewOrchestrator(nil, nil, planner, runner, nil, log, "/repo", orchestratorTestNode())

		ok, summary := orch.HandlePrompt(ctx, "do something")

		Expect(ok).To(BeFalse())
		Expect(summary).To(ContainSubstring("provider down"))
		Expect(log.entries).To(HaveLen(1))
		Expect(log.entries[0].OverallSuccess).To(BeFalse())
	})

	It("selects learned facts by keyword overlap and passes them to the planner", func() {
		facts := &stubFactFinder{facts: []model.LearnedFact{
			{FactID: 1, Text: "the project uses gin for http routing", Category: "project_context", CreatedAt: time.Now()},
			{FactID: 2, Text: "unrelated fact about coffee", Category: "general_knowledge", CreatedAt: time.Now()},
		}}
		planner := &stubGoalPlanner{plan: nil}
		runner := &stubPlanRunner{ok: true}
		log := &stubReflectionLog{}

		orch := brain.NewOrchestrator(&stubToolLister{}, facts, planner, runner, nil, log, "/repo", orchestratorTestNode())

		_, _ = orch.HandlePrompt(ctx, "what http routing library does the project use?")

		// fact 1 matches by keyword; fact 2 is then added by its preferred
		// category (general_knowledge)
		Expect(planner.lastReq.Facts).To(HaveLen(2))
		Expect(planner.lastReq.Facts[0].FactID).To(Equal(int64(1)))
	})

	It("fails a PROPOSE_TOOL_MODIFICATION result closed when no action executor is configured", func() {
		runner := &stubPlanRunner{
			finalPlan: []model.PlanStep{{ToolName: "propose_fix"}},
			results: []model.ExecutionResult{{Value: map[string]any{
				"action_type_for_executor": "PROPOSE_TOOL_MODIFICATION",
				"action_details_for_executor": map[string]any{
					"module_path":   "",
					"function_name": "",
				},
			}}},
			ok: true,
		}
		planner := &stubGoalPlanner{plan: []model.PlanStep{{ToolName: "propose_fix"}}}
		log := &stubReflectionLog{}

		orch := brain.NewOrchestrator(&stubToolLister{}, &stubFactFinder{}, planner, runner, nil, log, "/repo", orchestratorTestNode())

		ok, _ := orch.HandlePrompt(ctx, "fix the bug")

		// no action executor configured: dispatch fails closed, overall success false
		Expect(ok).To(BeFalse())
		Expect(log.entries[0].Results[0].Error).To(ContainSubstring("no action executor"))
	})
})
