// Package critic implements the Critic Coordinator (SPEC_FULL §4.5): N
// independent LLM reviewers voting unanimously on a proposed code change
// before it is ever applied.
package critic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jasonk87/selfevolve/common/llm"
)

// Verdict is the outcome a single critic returns for a review.
type Verdict string

const (
	VerdictApproved        Verdict = "approved"
	VerdictRequiresChanges Verdict = "requires_changes"
	VerdictRejected        Verdict = "rejected"
	VerdictError           Verdict = "error"
)

// Review is a single critic's structured response, grounded on
// original_source's reviewer.py REVIEW_CODE_PROMPT_TEMPLATE JSON contract.
type Review struct {
	Status      Verdict `json:"status" jsonschema:"enum=approved,enum=requires_changes,enum=rejected"`
	Comments    string  `json:"comments"`
	Suggestions string  `json:"suggestions,omitempty"`
}

// Request bundles everything a critic needs to review a proposed change.
type Request struct {
	CodeToReview         string
	CodeDiff             string
	OriginalRequirements string
	RelatedTests         string
	AttemptNumber        int
}

// Outcome is the coordinator's aggregate decision across every critic.
type Outcome struct {
	Approved bool
	Reviews  []Review
}

// Coordinator runs Count independent critics and requires unanimous approval.
type Coordinator struct {
	clients []llm.Client
}

// New constructs a Coordinator. Each client in clients reviews independently;
// any number >= 1 is accepted, though SPEC_FULL's default Config.Critics.Count
// is 2.
func New(clients []llm.Client) *Coordinator {
	return &Coordinator{clients: clients}
}

const reviewSystemPrompt = `You are a meticulous AI code reviewer. Review the provided code change against the stated requirements and any related tests.

Focus on:
- whether the change meets the stated requirements
- correctness and potential bugs or unhandled edge cases
- how well the code would satisfy the related tests, if provided
- clarity, readability, and maintainability
- safety and security, especially because this code may become part of the agent's own operational logic

Respond with status "approved" if the code is correct and well-written, "requires_changes" if it is close but has fixable issues, or "rejected" if it is fundamentally flawed or introduces a critical risk.`

// Review runs every critic in parallel and requires unanimous "approved" for
// the coordinator to approve (SPEC_FULL §4.5). Any critic returning
// VerdictError counts as non-approval. Reviews are returned in client order
// regardless of completion order, for deterministic logging.
func (c *Coordinator) Review(ctx context.Context, req Request) (Outcome, error) {
	if len(c.clients) == 0 {
		return Outcome{}, fmt.Errorf("critic coordinator has no configured clients")
	}

	reviews := make([]Review, len(c.clients))
	var wg sync.WaitGroup
	for i, client := range c.clients {
		wg.Add(1)
		go func(i int, client llm.Client) {
			defer wg.Done()
			reviews[i] = c.runOne(ctx, client, req)
		}(i, client)
	}
	wg.Wait()

	approved := true
	for _, r := range reviews {
		if r.Status != VerdictApproved {
			approved = false
		}
	}

	return Outcome{Approved: approved, Reviews: reviews}, nil
}

func (c *Coordinator) runOne(ctx context.Context, client llm.Client, req Request) Review {
	userPrompt := buildUserPrompt(req)

	var review Review
	_, err := client.Chat(ctx, llm.Request{
		SystemPrompt: reviewSystemPrompt,
		UserPrompt:   userPrompt,
		SchemaName:   "code_review",
		Schema:       llm.GenerateSchema[Review](),
		Temperature:  llm.Temp(0.2),
		MaxTokens:    1500,
	}, &review)
	if err != nil {
		slog.WarnContext(ctx, "critic review failed", "model", client.Model(), "error", err)
		return Review{Status: VerdictError, Comments: fmt.Sprintf("critic invocation failed: %v", err)}
	}

	if !validVerdict(review.Status) {
		return Review{Status: VerdictError, Comments: fmt.Sprintf("critic returned invalid status %q", review.Status)}
	}
	return review
}

func validVerdict(v Verdict) bool {
	switch v {
	case VerdictApproved, VerdictRequiresChanges, VerdictRejected:
		return true
	default:
		return false
	}
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Attempt #%d\n\n", req.AttemptNumber)
	b.WriteString("Original requirements:\n")
	b.WriteString(nonEmpty(req.OriginalRequirements, "(none provided)"))
	b.WriteString("\n\nCode to review:\n```\n")
	b.WriteString(req.CodeToReview)
	b.WriteString("\n```\n\nCode diff (changes made):\n```\n")
	b.WriteString(nonEmpty(req.CodeDiff, "No diff provided. Full code is under review."))
	b.WriteString("\n```\n\nRelated tests:\n```\n")
	b.WriteString(nonEmpty(req.RelatedTests, "No specific tests provided for review context."))
	b.WriteString("\n```\n")
	return b.String()
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
