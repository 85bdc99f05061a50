package brain_test

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jasonk87/selfevolve/common/llm"
	"github.com/jasonk87/selfevolve/internal/brain"
	"github.com/jasonk87/selfevolve/internal/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockAgentClient implements llm.AgentClient, returning queued responses in
// order (or erroring, or repeating the last response once the queue drains).
type mockAgentClient struct {
	responses []*llm.AgentResponse
	err       error
	callCount int
}

func (m *mockAgentClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	m.callCount++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &llm.AgentResponse{Content: "no response configured"}, nil
	}
	idx := m.callCount - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

func (m *mockAgentClient) Model() string { return "mock-agent-model" }

func submitPlanResponse(steps []brain.PlanStepParam, reasoning string) *llm.AgentResponse {
	args, err := json.Marshal(brain.SubmitPlanParams{Steps: steps, Reasoning: reasoning})
	Expect(err).NotTo(HaveOccurred())
	return &llm.AgentResponse{
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "submit_plan", Arguments: string(args)},
		},
	}
}

var _ = Describe("Planner", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("GeneratePlan", func() {
		It("converts a submit_plan tool call into a model plan", func() {
			mock := &mockAgentClient{
				responses: []*llm.AgentResponse{
					submitPlanResponse([]brain.PlanStepParam{
						{ToolName: "read_file", Args: []string{"main.go"}},
						{ToolName: "summarize", Args: []string{"[[step_1_output]]"}},
					}, "read then summarize"),
				},
			}
			planner := brain.NewPlanner(mock)

			steps, err := planner.GeneratePlan(ctx, brain.GeneratePlanRequest{
				Goal:  "summarize main.go",
				Tools: []model.Tool{{Name: "read_file"}, {Name: "summarize"}},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(steps).To(HaveLen(2))
			Expect(steps[0].ToolName).To(Equal("read_file"))
			Expect(steps[0].Args).To(Equal([]any{"main.go"}))
			Expect(steps[1].Args).To(Equal([]any{"[[step_1_output]]"}))
			Expect(mock.callCount).To(Equal(1))
		})

		It("nudges the model and retries when submit_plan is never called, then fails", func() {
			mock := &mockAgentClient{
				responses: []*llm.AgentResponse{
					{Content: "I am thinking about it"},
				},
			}
			planner := brain.NewPlanner(mock)

			_, err := planner.GeneratePlan(ctx, brain.GeneratePlanRequest{Goal: "do something"})

			Expect(err).To(HaveOccurred())
			Expect(mock.callCount).To(Equal(3)) // maxPlanAttempts
		})

		It("propagates a chat error", func() {
			mock := &mockAgentClient{err: errors.New("provider unavailable")}
			planner := brain.NewPlanner(mock)

			_, err := planner.GeneratePlan(ctx, brain.GeneratePlanRequest{Goal: "do something"})

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("provider unavailable"))
		})

		It("accepts an empty steps list for a goal needing no tool calls", func() {
			mock := &mockAgentClient{
				responses: []*llm.AgentResponse{
					submitPlanResponse(nil, "already answered by facts"),
				},
			}
			planner := brain.NewPlanner(mock)

			steps, err := planner.GeneratePlan(ctx, brain.GeneratePlanRequest{
				Goal:  "what is the project's license",
				Facts: []model.LearnedFact{{Text: "project uses MIT license", Category: "project_context"}},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(steps).To(BeEmpty())
		})
	})

	Describe("ReplanAfterFailure", func() {
		It("requests a revised plan and converts the result", func() {
			mock := &mockAgentClient{
				responses: []*llm.AgentResponse{
					submitPlanResponse([]brain.PlanStepParam{
						{ToolName: "retry_with_fallback"},
					}, "fallback after failure"),
				},
			}
			planner := brain.NewPlanner(mock)

			steps, err := planner.ReplanAfterFailure(ctx, brain.ReplanRequest{
				GeneratePlanRequest: brain.GeneratePlanRequest{Goal: "fetch remote data"},
				FailureAnalysis:     "step 1 (tool \"fetch\") failed: timeout",
				CompletedSteps:      []model.PlanStep{{ToolName: "fetch"}},
				CompletedResults:    []model.ExecutionResult{{Error: "timeout"}},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(steps).To(HaveLen(1))
			Expect(steps[0].ToolName).To(Equal("retry_with_fallback"))
		})
	})
})
