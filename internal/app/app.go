// Package app assembles every component SPEC_FULL §4 describes into one
// running instance, the way the teacher's cmd/server wires store.NewStores
// and service.NewServices before handing the result to a transport layer.
// cmd/agent-cli and cmd/agentd both call New and differ only in how they
// drive the resulting Orchestrator.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"

	"github.com/jasonk87/selfevolve/common/id"
	"github.com/jasonk87/selfevolve/common/llm"
	"github.com/jasonk87/selfevolve/core/config"
	"github.com/jasonk87/selfevolve/internal/brain"
	"github.com/jasonk87/selfevolve/internal/codeservice"
	"github.com/jasonk87/selfevolve/internal/critic"
	"github.com/jasonk87/selfevolve/internal/factstore"
	"github.com/jasonk87/selfevolve/internal/learning"
	"github.com/jasonk87/selfevolve/internal/model"
	"github.com/jasonk87/selfevolve/internal/notify"
	"github.com/jasonk87/selfevolve/internal/reflection"
	"github.com/jasonk87/selfevolve/internal/selfmod"
	"github.com/jasonk87/selfevolve/internal/taskmgr"
	"github.com/jasonk87/selfevolve/internal/toolregistry"
	"github.com/jasonk87/selfevolve/internal/tools"
)

// App bundles every persisted store and reasoning component behind the
// Orchestrator, plus the few of them a transport layer needs direct access
// to for its own administrative endpoints (SPEC_FULL §6).
type App struct {
	Config Config

	Tools        *toolregistry.Registry
	Facts        *factstore.Store
	Tasks        *taskmgr.Manager
	Notifications *notify.Bus
	Reflections  *reflection.Log
	Insights     *learning.Store

	Learner      *learning.Agent
	Orchestrator *brain.Orchestrator

	redisMirror *notify.RedisNotifier
}

// Close releases any resources New opened outside the persisted JSON stores
// (currently just the optional Redis mirror connection, if configured).
func (a *App) Close(ctx context.Context) error {
	if a.redisMirror == nil {
		return nil
	}
	return a.redisMirror.Close()
}

// Config is an alias for core/config.Config, re-exported so callers of this
// package can name the configuration type without importing core/config.
type Config = config.Config

// New loads every persisted store from cfg.DataDir and wires the full
// reasoning core on top of them. Every domain store is handed the same
// snowflake.Node so IDs stay time-ordered across stores, mirroring the
// teacher's single id.Init call — but, per SPEC_FULL §9's no-global-
// singletons rule, as an explicit constructor argument rather than a
// package-level getter. common/id is still initialized here, but nothing in
// this package mints ids through it: the Orchestrator takes the same shared
// node and mints its per-prompt goal correlation id from that (see
// Orchestrator.HandlePrompt).
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := id.Init(1); err != nil {
		return nil, fmt.Errorf("initializing id generator: %w", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("initializing snowflake node: %w", err)
	}

	paths := dataPaths(cfg.DataDir)

	var redisMirror *notify.RedisNotifier
	var mirror notify.Mirror
	if cfg.Notifications.Enabled() {
		redisMirror, err = newRedisMirror(ctx, cfg.Notifications)
		if err != nil {
			// Best-effort: external dashboards losing their feed is not worth
			// failing agent startup over, unlike the primary JSON-backed bus.
			slog.ErrorContext(ctx, "notifications redis mirror disabled", "error", err)
		} else {
			mirror = redisMirror
		}
	}

	facts := factstore.New(paths.facts, node)
	taskNotifier := notify.New(paths.notifications, node, mirror)
	taskManager := taskmgr.New(paths.tasks, node, taskNotifier, cfg.TaskManager.ArchiveCapacity)
	reflectionLog := reflection.New(paths.reflections, node)
	insights := learning.New(paths.insights, node)

	toolDeps := toolregistry.Deps{
		TaskManager:     taskManagerAdapter{taskManager},
		NotificationBus: notificationBusAdapter{taskNotifier},
	}
	toolRegistry := toolregistry.New(paths.tools, toolDeps)
	for _, t := range tools.BuiltinTools() {
		toolRegistry.Register(ctx, t)
	}

	for _, loader := range []func(context.Context) error{
		toolRegistry.Load, facts.Load, taskManager.Load, taskNotifier.Load, reflectionLog.Load, insights.Load,
	} {
		if err := loader(ctx); err != nil {
			return nil, fmt.Errorf("loading persisted state: %w", err)
		}
	}

	structuredClient, err := llm.New(llm.Config{APIKey: cfg.LLM.APIKey, Model: cfg.LLM.StructuredModel})
	if err != nil {
		return nil, fmt.Errorf("constructing structured llm client: %w", err)
	}
	agentClient, err := llm.NewAgentClient(llm.Config{APIKey: cfg.LLM.APIKey, Model: cfg.LLM.AgentModel})
	if err != nil {
		return nil, fmt.Errorf("constructing agent llm client: %w", err)
	}

	criticModel := cfg.LLM.StructuredModel
	if cfg.Critics.Model != "" {
		criticModel = cfg.Critics.Model
	}
	criticClients := make([]llm.Client, 0, cfg.Critics.Count)
	for i := 0; i < cfg.Critics.Count; i++ {
		c, err := llm.New(llm.Config{APIKey: cfg.LLM.APIKey, Model: criticModel})
		if err != nil {
			return nil, fmt.Errorf("constructing critic client %d: %w", i, err)
		}
		criticClients = append(criticClients, c)
	}
	critics := critic.New(criticClients)

	lookup := func(modulePath, functionName string) (string, bool, error) {
		return selfmod.FunctionSourceForModule(cfg.ProjectRootPath, modulePath, functionName)
	}
	codeSvc := codeservice.New(structuredClient, lookup, nil, codeServiceTaskUpdater{taskManager})
	selfModEngine := selfmod.New(critics)

	planner := brain.NewPlanner(agentClient)
	executionAgent := brain.NewExecutionAgent(toolRegistryExecutor{toolRegistry}, planner, cfg.TaskManager.MaxReplansPerGoal)

	actionExecutor := brain.NewActionExecutor(
		codeSvc,
		selfModEngine,
		taskManager,
		taskNotifier,
		reflectionLog,
		facts,
		executionAgent,
		structuredClient,
		cfg.ProjectRootPath,
	)

	learner := learning.NewAgent(insights, actionExecutor)

	orchestrator := brain.NewOrchestrator(toolRegistry, facts, planner, executionAgent, actionExecutor, reflectionLog, cfg.ProjectRootPath, node)

	return &App{
		Config:        cfg,
		Tools:         toolRegistry,
		Facts:         facts,
		Tasks:         taskManager,
		Notifications: taskNotifier,
		Reflections:   reflectionLog,
		Insights:      insights,
		Learner:       learner,
		Orchestrator:  orchestrator,
		redisMirror:   redisMirror,
	}, nil
}

// newRedisMirror connects to cfg.RedisURL and verifies reachability before
// handing back a notify.Mirror, mirroring the teacher's own
// redis.ParseURL/redis.NewClient/Ping sequence in cmd/server/main.go.
func newRedisMirror(ctx context.Context, cfg config.NotificationsConfig) (*notify.RedisNotifier, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing notifications redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to notifications redis: %w", err)
	}
	return notify.NewRedisNotifier(client, cfg.RedisStream), nil
}

type dataFilePaths struct {
	tools         string
	facts         string
	tasks         string
	notifications string
	reflections   string
	insights      string
}

func dataPaths(dataDir string) dataFilePaths {
	join := func(name string) string { return dataDir + "/" + name }
	return dataFilePaths{
		tools:         join("tool_registry.json"),
		facts:         join("learned_facts.json"),
		tasks:         join("active_tasks.json"),
		notifications: join("notifications.json"),
		reflections:   join("reflection_log.json"),
		insights:      join("actionable_insights.json"),
	}
}

// toolRegistryExecutor adapts *toolregistry.Registry to brain.ToolExecutor.
type toolRegistryExecutor struct{ reg *toolregistry.Registry }

func (t toolRegistryExecutor) Execute(ctx context.Context, name string, args []any, kwargs map[string]any) (any, error) {
	return t.reg.Execute(ctx, name, args, kwargs)
}

// taskManagerAdapter narrows *taskmgr.Manager to the plain-reason shape a
// tool body's injected toolregistry.TaskManager expects, since tool bodies
// never need the richer progress fields AddTask/UpdateTaskStatus's own
// callers (the Action Executor) do.
type taskManagerAdapter struct{ mgr *taskmgr.Manager }

func (a taskManagerAdapter) UpdateTaskStatus(ctx context.Context, taskID int64, status model.TaskStatus, reason string) (*model.ActiveTask, error) {
	return a.mgr.UpdateTaskStatus(ctx, taskID, status, taskmgr.UpdateTaskStatusInput{Reason: reason})
}

// notificationBusAdapter narrows *notify.Bus to the shape a tool body's
// injected toolregistry.NotificationBus expects.
type notificationBusAdapter struct{ bus *notify.Bus }

func (a notificationBusAdapter) AddNotification(ctx context.Context, eventType model.NotificationEventType, summary string) (*model.Notification, error) {
	n, err := a.bus.AddNotification(ctx, eventType, summary, "", "")
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// codeServiceTaskUpdater narrows *taskmgr.Manager to the plain-string status
// shape codeservice.TaskUpdater expects, since the Code Service only ever
// reports free-form sub-step progress and never needs the richer
// taskmgr.UpdateTaskStatusInput fields its other callers (the Action
// Executor) do.
type codeServiceTaskUpdater struct{ mgr *taskmgr.Manager }

func (a codeServiceTaskUpdater) UpdateTaskStatus(ctx context.Context, taskID int64, status, reason, step string) error {
	_, err := a.mgr.UpdateTaskStatus(ctx, taskID, model.TaskStatus(status), taskmgr.UpdateTaskStatusInput{
		Reason:          reason,
		StepDescription: step,
	})
	return err
}
