// Package taskmgr implements the Task Manager (SPEC_FULL §4.3): a lifecycle
// state machine for every asynchronous unit of work, with crash-safe atomic
// persistence of the active set and LRU-capped archival of terminal tasks.
package taskmgr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/jasonk87/selfevolve/internal/model"
	"github.com/jasonk87/selfevolve/internal/repo"
)

// Notifier is the narrow collaborator the Task Manager calls on every
// terminal transition (SPEC_FULL §4.3(b)); satisfied by notify.Bus.
type Notifier interface {
	AddNotification(ctx context.Context, eventType model.NotificationEventType, summary string, relatedItemID, relatedItemType string) (model.Notification, error)
}

// Manager owns the active task set, the archive, and their persistence.
type Manager struct {
	mu       sync.Mutex
	active   map[int64]*model.ActiveTask
	archive  []model.ActiveTask
	path     string
	notifier Notifier
	node     *snowflake.Node
	archiveCapacity int
}

// New constructs a Manager. archiveCapacity <= 0 defaults to 100 per
// SPEC_FULL §4.3.
func New(path string, node *snowflake.Node, notifier Notifier, archiveCapacity int) *Manager {
	if archiveCapacity <= 0 {
		archiveCapacity = 100
	}
	return &Manager{
		active:          map[int64]*model.ActiveTask{},
		path:            path,
		notifier:        notifier,
		node:            node,
		archiveCapacity: archiveCapacity,
	}
}

type persistedState struct {
	Active  []model.ActiveTask `json:"active"`
	Archive []model.ActiveTask `json:"archive"`
}

// AddTask creates and persists a new task in INITIALIZING status.
func (m *Manager) AddTask(ctx context.Context, description string, taskType model.TaskType, relatedItemID string, details map[string]any) (*model.ActiveTask, error) {
	m.mu.Lock()
	now := time.Now().UTC()
	task := &model.ActiveTask{
		TaskID:         m.node.Generate().Int64(),
		TaskType:       taskType,
		Description:    description,
		RelatedItemID:  relatedItemID,
		Status:         model.StatusInitializing,
		CreatedAt:      now,
		LastUpdatedAt:  now,
		Details:        details,
	}
	m.active[task.TaskID] = task
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		return task, err
	}
	return task, nil
}

// UpdateTaskStatusInput bundles the optional fields UpdateTaskStatus accepts.
type UpdateTaskStatusInput struct {
	Reason           string
	StepDescription  string
	SubStepName      string
	Progress         *int
	IsErrorIncrement bool
	OutputPreview    string
	ResumeData       map[string]any
}

// UpdateTaskStatus transitions task taskID to status, persists the active
// set, and — if the new status is terminal — archives the task and emits a
// notification per the fixed status→event mapping.
func (m *Manager) UpdateTaskStatus(ctx context.Context, taskID int64, status model.TaskStatus, in UpdateTaskStatusInput) (*model.ActiveTask, error) {
	m.mu.Lock()
	task, ok := m.active[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("task %d not found in active set", taskID)
	}

	task.Status = status
	task.LastUpdatedAt = time.Now().UTC()
	if in.Reason != "" {
		task.StatusReason = in.Reason
	}
	if in.StepDescription != "" {
		task.CurrentStepDescription = in.StepDescription
	}
	if in.SubStepName != "" {
		task.CurrentSubStepName = in.SubStepName
	}
	if in.Progress != nil {
		task.ProgressPercentage = in.Progress
	}
	if in.IsErrorIncrement {
		task.ErrorCount++
	}
	if in.OutputPreview != "" {
		task.OutputPreview = model.TruncatePreview(in.OutputPreview)
	}
	if in.ResumeData != nil {
		task.DataForResume = in.ResumeData
	}

	var toArchive *model.ActiveTask
	if status.IsTerminal() {
		delete(m.active, taskID)
		archived := *task
		toArchive = &archived
		m.archive = append(m.archive, archived)
		m.evictArchiveLRU()
	}
	result := *task
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		return &result, err
	}

	if toArchive != nil {
		eventType := model.StatusEventType(status)
		summary := fmt.Sprintf("Task %d (%s) reached terminal status %s", task.TaskID, task.TaskType, status)
		if in.Reason != "" {
			summary = fmt.Sprintf("%s: %s", summary, in.Reason)
		}
		if m.notifier != nil {
			if _, err := m.notifier.AddNotification(ctx, eventType, model.TruncateSummary(summary), fmt.Sprintf("%d", task.TaskID), "task"); err != nil {
				return &result, fmt.Errorf("emitting terminal-status notification: %w", err)
			}
		}
	}

	return &result, nil
}

// evictArchiveLRU drops the least-recently-updated archived tasks once the
// archive exceeds its capacity (SPEC_FULL §4.3: true LRU by last_updated_at,
// correcting original_source's FIFO `pop(0)` — see DESIGN.md).
func (m *Manager) evictArchiveLRU() {
	if len(m.archive) <= m.archiveCapacity {
		return
	}
	sort.Slice(m.archive, func(i, j int) bool {
		return m.archive[i].LastUpdatedAt.Before(m.archive[j].LastUpdatedAt)
	})
	overflow := len(m.archive) - m.archiveCapacity
	m.archive = m.archive[overflow:]
}

// GetTask returns the active task by id, if present.
func (m *Manager) GetTask(taskID int64) (*model.ActiveTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[taskID]
	if !ok {
		return nil, false
	}
	copyT := *t
	return &copyT, true
}

// ListActiveTasks returns active tasks optionally filtered by type/status.
func (m *Manager) ListActiveTasks(taskType *model.TaskType, status *model.TaskStatus) []model.ActiveTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ActiveTask, 0, len(m.active))
	for _, t := range m.active {
		if taskType != nil && t.TaskType != *taskType {
			continue
		}
		if status != nil && t.Status != *status {
			continue
		}
		out = append(out, *t)
	}
	return out
}

// ListArchivedTasks returns up to limit archived tasks, most recent first.
func (m *Manager) ListArchivedTasks(limit int) []model.ActiveTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.archive)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.ActiveTask, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.archive[n-1-i]
	}
	return out
}

// ClearAllTasks removes every active task (and, if clearArchive, every
// archived task too).
func (m *Manager) ClearAllTasks(clearArchive bool) error {
	m.mu.Lock()
	m.active = map[int64]*model.ActiveTask{}
	if clearArchive {
		m.archive = nil
	}
	m.mu.Unlock()
	return m.persist()
}

func (m *Manager) persist() error {
	m.mu.Lock()
	state := persistedState{
		Active:  make([]model.ActiveTask, 0, len(m.active)),
		Archive: append([]model.ActiveTask(nil), m.archive...),
	}
	for _, t := range m.active {
		state.Active = append(state.Active, *t)
	}
	m.mu.Unlock()
	return repo.WriteJSONAtomic(m.path, state)
}

// Load restores active/archived tasks from disk, then reclassifies any
// loaded task whose status is non-terminal as FAILED_INTERRUPTED — the
// crash-recovery contract of SPEC_FULL §3/§4.3/§8 invariant 3. Those tasks
// also get a restart status reason and a fresh LastUpdatedAt, and move to the
// archive.
func (m *Manager) Load(ctx context.Context) error {
	var state persistedState
	ok, err := repo.ReadJSON(m.path, &state)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	m.mu.Lock()
	m.archive = state.Archive
	m.active = map[int64]*model.ActiveTask{}
	var interrupted []*model.ActiveTask
	for i := range state.Active {
		t := state.Active[i]
		if !t.Status.IsTerminal() {
			t.Status = model.StatusFailedInterrupted
			t.StatusReason = "process restarted while task was in progress"
			t.LastUpdatedAt = time.Now().UTC()
			interrupted = append(interrupted, &t)
			continue
		}
		m.active[t.TaskID] = &t
	}
	for _, t := range interrupted {
		archived := *t
		m.archive = append(m.archive, archived)
	}
	m.evictArchiveLRU()
	m.mu.Unlock()

	if len(interrupted) > 0 {
		if err := m.persist(); err != nil {
			return err
		}
		if m.notifier != nil {
			for _, t := range interrupted {
				summary := fmt.Sprintf("Task %d (%s) interrupted by restart", t.TaskID, t.TaskType)
				if _, err := m.notifier.AddNotification(ctx, model.EventTaskFailedInterrupted, model.TruncateSummary(summary), fmt.Sprintf("%d", t.TaskID), "task"); err != nil {
					return fmt.Errorf("emitting interrupted-task notification: %w", err)
				}
			}
		}
	}
	return nil
}
