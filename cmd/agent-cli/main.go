// Command agent-cli is the chat REPL front end (SPEC_FULL §6): a prompt loop
// over the Orchestrator, plus administrative commands parallel to the tools
// listed in the registry — suggestion approve/deny, task list, fact recall.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/jasonk87/selfevolve/common/logger"
	"github.com/jasonk87/selfevolve/common/otel"
	"github.com/jasonk87/selfevolve/core/config"
	"github.com/jasonk87/selfevolve/internal/app"
	"github.com/jasonk87/selfevolve/internal/model"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()

	// OTel must init before logger: the production logger handler reads the
	// active trace/span id off the context, which only exists once the
	// tracer provider is installed.
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize otel: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg)
	defer func() {
		if telemetry != nil {
			_ = telemetry.Shutdown(context.Background())
		}
	}()

	a, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			slog.ErrorContext(ctx, "app shutdown error", "error", err)
		}
	}()

	fmt.Println("self-evolve agent — type a goal, or /help for commands. /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if handleCommand(ctx, a, line) {
				fmt.Println("bye.")
				return
			}
			continue
		}

		ok, summary := a.Orchestrator.HandlePrompt(ctx, line)
		fmt.Println(summary)
		if !ok {
			slog.WarnContext(ctx, "prompt did not complete successfully", "prompt", line)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "input error: %v\n", err)
		os.Exit(1)
	}
}

// handleCommand runs an administrative "/"-prefixed command and reports
// whether the REPL should quit.
func handleCommand(ctx context.Context, a *app.App, line string) (quit bool) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println("commands: /tasks, /facts <query>, /insights, /approve <id>, /deny <id> [reason], /quit")

	case "/tasks":
		tasks := a.Tasks.ListActiveTasks(nil, nil)
		if len(tasks) == 0 {
			fmt.Println("no active tasks.")
			break
		}
		for _, t := range tasks {
			fmt.Printf("  [%d] %s — %s (%s)\n", t.TaskID, t.TaskType, t.Description, t.Status)
		}

	case "/facts":
		query := strings.ToLower(strings.Join(args, " "))
		var matched int
		for _, f := range a.Facts.All() {
			if query == "" || strings.Contains(strings.ToLower(f.Text), query) {
				fmt.Printf("  [%d] (%s) %s\n", f.FactID, f.Category, f.Text)
				matched++
			}
		}
		if matched == 0 {
			fmt.Println("no matching facts.")
		}

	case "/insights":
		var matched int
		for _, ins := range a.Insights.All() {
			if ins.Status == model.InsightStatusNew || ins.Status == model.InsightStatusPendingManualReview {
				fmt.Printf("  [%d] (%s, priority %d) %s\n", ins.InsightID, ins.Type, ins.Priority, ins.Description)
				matched++
			}
		}
		if matched == 0 {
			fmt.Println("no open insights.")
		}

	case "/approve":
		id, err := parseInsightID(args)
		if err != nil {
			fmt.Println(err)
			break
		}
		_, ok, err := a.Learner.ApproveInsight(ctx, id)
		reportApproval(ok, err)

	case "/deny":
		id, err := parseInsightID(args)
		if err != nil {
			fmt.Println(err)
			break
		}
		reason := ""
		if len(args) > 1 {
			reason = strings.Join(args[1:], " ")
		}
		if err := a.Learner.DenyInsight(ctx, id, reason); err != nil {
			fmt.Printf("deny failed: %v\n", err)
			break
		}
		fmt.Println("denied.")

	default:
		fmt.Printf("unknown command %q — try /help\n", cmd)
	}

	return false
}

func parseInsightID(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("usage: /approve|/deny <insight_id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid insight id %q", args[0])
	}
	return id, nil
}

func reportApproval(ok bool, err error) {
	if err != nil {
		fmt.Printf("approve failed: %v\n", err)
		return
	}
	if ok {
		fmt.Println("approved and applied.")
		return
	}
	fmt.Println("approved, but the action did not succeed.")
}
