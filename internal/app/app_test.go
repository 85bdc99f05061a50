package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonk87/selfevolve/internal/model"
	"github.com/jasonk87/selfevolve/internal/notify"
	"github.com/jasonk87/selfevolve/internal/taskmgr"
)

func TestDataPaths_JoinsDataDir(t *testing.T) {
	paths := dataPaths("/var/selfevolve/data")

	assert.Equal(t, "/var/selfevolve/data/tool_registry.json", paths.tools)
	assert.Equal(t, "/var/selfevolve/data/learned_facts.json", paths.facts)
	assert.Equal(t, "/var/selfevolve/data/active_tasks.json", paths.tasks)
	assert.Equal(t, "/var/selfevolve/data/notifications.json", paths.notifications)
	assert.Equal(t, "/var/selfevolve/data/reflection_log.json", paths.reflections)
	assert.Equal(t, "/var/selfevolve/data/actionable_insights.json", paths.insights)
}

func testNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	return node
}

func TestTaskManagerAdapter_NarrowsToPlainReasonUpdate(t *testing.T) {
	mgr := taskmgr.New(filepath.Join(t.TempDir(), "active_tasks.json"), testNode(t), nil, 100)
	task, err := mgr.AddTask(context.Background(), "do a thing", model.TaskTypeMiscCodeGeneration, "", nil)
	require.NoError(t, err)

	adapter := taskManagerAdapter{mgr}
	updated, err := adapter.UpdateTaskStatus(context.Background(), task.TaskID, model.StatusGeneratingCode, "started")
	require.NoError(t, err)
	assert.Equal(t, model.StatusGeneratingCode, updated.Status)
}

func TestNotificationBusAdapter_ReturnsPointerOnSuccess(t *testing.T) {
	bus := notify.New(filepath.Join(t.TempDir(), "notifications.json"), testNode(t), nil)

	adapter := notificationBusAdapter{bus}
	n, err := adapter.AddNotification(context.Background(), model.EventSelfModificationApplied, "patched read_file")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "patched read_file", n.SummaryMessage)
}

func TestCodeServiceTaskUpdater_ConvertsPlainStatusString(t *testing.T) {
	mgr := taskmgr.New(filepath.Join(t.TempDir(), "active_tasks.json"), testNode(t), nil, 100)
	task, err := mgr.AddTask(context.Background(), "modify a tool", model.TaskTypeAgentToolModification, "", nil)
	require.NoError(t, err)

	updater := codeServiceTaskUpdater{mgr}
	err = updater.UpdateTaskStatus(context.Background(), task.TaskID, string(model.StatusGeneratingCode), "generating patch", "drafting diff")
	require.NoError(t, err)

	stored, found := mgr.GetTask(task.TaskID)
	require.True(t, found)
	assert.Equal(t, model.StatusGeneratingCode, stored.Status)
	assert.Equal(t, "drafting diff", stored.CurrentStepDescription)
}
