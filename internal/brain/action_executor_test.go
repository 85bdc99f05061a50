package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jasonk87/selfevolve/common/llm"
	"github.com/jasonk87/selfevolve/internal/codeservice"
	"github.com/jasonk87/selfevolve/internal/model"
	"github.com/jasonk87/selfevolve/internal/selfmod"
	"github.com/jasonk87/selfevolve/internal/taskmgr"
)

type fakeTasks struct {
	tasks map[int64]*model.ActiveTask
	next  int64
}

func newFakeTasks() *fakeTasks { return &fakeTasks{tasks: map[int64]*model.ActiveTask{}} }

func (f *fakeTasks) AddTask(ctx context.Context, description string, taskType model.TaskType, relatedItemID string, details map[string]any) (*model.ActiveTask, error) {
	f.next++
	task := &model.ActiveTask{TaskID: f.next, TaskType: taskType, Description: description, RelatedItemID: relatedItemID, Status: model.StatusInitializing, Details: details}
	f.tasks[task.TaskID] = task
	return task, nil
}

func (f *fakeTasks) UpdateTaskStatus(ctx context.Context, taskID int64, status model.TaskStatus, in taskmgr.UpdateTaskStatusInput) (*model.ActiveTask, error) {
	task := f.tasks[taskID]
	task.Status = status
	task.StatusReason = in.Reason
	return task, nil
}

type fakeNotifier struct {
	notifications []model.Notification
}

func (f *fakeNotifier) AddNotification(ctx context.Context, eventType model.NotificationEventType, summary string, relatedItemID, relatedItemType string) (model.Notification, error) {
	n := model.Notification{EventType: eventType, SummaryMessage: summary, RelatedItemID: relatedItemID, RelatedItemType: relatedItemType}
	f.notifications = append(f.notifications, n)
	return n, nil
}

type fakeFacts struct {
	facts []model.LearnedFact
}

func (f *fakeFacts) FindByNormalizedText(text string) (model.LearnedFact, bool) {
	want := strings.ToLower(strings.TrimSpace(text))
	for _, fact := range f.facts {
		if strings.ToLower(strings.TrimSpace(fact.Text)) == want {
			return fact, true
		}
	}
	return model.LearnedFact{}, false
}

func (f *fakeFacts) Add(ctx context.Context, text, category, source, userID string) (model.LearnedFact, error) {
	fact := model.LearnedFact{FactID: int64(len(f.facts) + 1), Text: text, Category: category, Source: source, UserID: userID}
	f.facts = append(f.facts, fact)
	return fact, nil
}

type fakeReflections struct {
	entries map[int64]model.ReflectionLogEntry
}

func (f *fakeReflections) FindByEntryID(entryID int64) (model.ReflectionLogEntry, bool) {
	e, ok := f.entries[entryID]
	return e, ok
}

type fakePlanExec struct {
	success bool
}

func (f *fakePlanExec) ExecutePlan(ctx context.Context, plan []model.PlanStep) ([]model.ExecutionResult, bool) {
	return nil, f.success
}

type fakeSelfMod struct {
	result selfmod.Result
}

func (f *fakeSelfMod) EditFunctionSourceCode(ctx context.Context, modulePath, functionName, newCodeString, projectRootPath, changeDescription string) selfmod.Result {
	return f.result
}

type fakeCodeService struct {
	result codeservice.ModifyResult
}

func (f *fakeCodeService) ModifyCode(ctx context.Context, req codeservice.ModifyRequest) codeservice.ModifyResult {
	return f.result
}

// queueLLM returns queued JSON-shaped responses by call order.
type queueLLM struct {
	responses []any
	i         int
}

func (q *queueLLM) Model() string { return "fake" }

func (q *queueLLM) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	if q.i >= len(q.responses) {
		return nil, fmt.Errorf("queueLLM: no more queued responses")
	}
	data, err := json.Marshal(q.responses[q.i])
	if err != nil {
		return nil, err
	}
	q.i++
	if err := json.Unmarshal(data, result); err != nil {
		return nil, err
	}
	return &llm.Response{}, nil
}

func validReflectionEntry() model.ReflectionLogEntry {
	return model.ReflectionLogEntry{EntryID: 42, Plan: []model.PlanStep{{ToolName: "dummy_tool"}}}
}

func TestExecute_UnknownActionType_FailsPreReview(t *testing.T) {
	tasks := newFakeTasks()
	e := NewActionExecutor(nil, nil, tasks, &fakeNotifier{}, nil, nil, nil, nil, "")

	ok, err := e.Execute(context.Background(), Action{Type: "NOT_A_TYPE"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, tasks.tasks, 1)
	for _, task := range tasks.tasks {
		require.Equal(t, model.StatusFailedPreReview, task.Status)
		require.Equal(t, "unsupported", task.StatusReason)
	}
}

func TestExecute_ProposeToolModification_MissingDetails(t *testing.T) {
	tasks := newFakeTasks()
	e := NewActionExecutor(nil, nil, tasks, &fakeNotifier{}, nil, nil, nil, nil, "")

	action := Action{Type: ActionTypeProposeToolModification, Data: json.RawMessage(`{"function_name":"Foo"}`)}
	ok, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	require.False(t, ok)
	for _, task := range tasks.tasks {
		require.Equal(t, model.StatusFailedPreReview, task.Status)
	}
}

func TestExecute_ProposeToolModification_SuccessWithProvidedCode(t *testing.T) {
	tasks := newFakeTasks()
	notifier := &fakeNotifier{}
	reflections := &fakeReflections{entries: map[int64]model.ReflectionLogEntry{42: validReflectionEntry()}}
	selfMod := &fakeSelfMod{result: selfmod.Result{Status: selfmod.StatusCompleted, Message: "applied"}}
	planExec := &fakePlanExec{success: true}

	e := NewActionExecutor(nil, selfMod, tasks, notifier, reflections, nil, planExec, nil, "")

	action := Action{Type: ActionTypeProposeToolModification, Data: json.RawMessage(`{"module_path":"tools.weather","function_name":"GetForecast","suggested_code_change":"func GetForecast() {}","original_reflection_entry_id":42}`)}
	ok, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	require.True(t, ok)

	for _, task := range tasks.tasks {
		require.Equal(t, model.StatusCompletedSuccessfully, task.Status)
	}
	require.Len(t, notifier.notifications, 1)
	require.Equal(t, model.EventSelfModificationApplied, notifier.notifications[0].EventType)
}

func TestExecute_ProposeToolModification_RequestsSuggestionWhenMissing(t *testing.T) {
	tasks := newFakeTasks()
	notifier := &fakeNotifier{}
	reflections := &fakeReflections{entries: map[int64]model.ReflectionLogEntry{42: validReflectionEntry()}}
	selfMod := &fakeSelfMod{result: selfmod.Result{Status: selfmod.StatusCompleted}}
	planExec := &fakePlanExec{success: true}
	modified := "func GetForecast() {\n\t// fixed\n}"
	codeService := &fakeCodeService{result: codeservice.ModifyResult{Status: codeservice.StatusSuccessCodeModified, ModifiedCodeString: &modified}}

	e := NewActionExecutor(codeService, selfMod, tasks, notifier, reflections, nil, planExec, nil, "")

	action := Action{Type: ActionTypeProposeToolModification, Data: json.RawMessage(`{"module_path":"tools.weather","function_name":"GetForecast","original_reflection_entry_id":42}`)}
	ok, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExecute_ProposeToolModification_PostModTestFailsReverts(t *testing.T) {
	tasks := newFakeTasks()
	notifier := &fakeNotifier{}
	reflections := &fakeReflections{entries: map[int64]model.ReflectionLogEntry{42: validReflectionEntry()}}
	selfMod := &fakeSelfMod{result: selfmod.Result{Status: selfmod.StatusCompleted}}
	planExec := &fakePlanExec{success: false}

	e := NewActionExecutor(nil, selfMod, tasks, notifier, reflections, nil, planExec, nil, t.TempDir())

	action := Action{Type: ActionTypeProposeToolModification, Data: json.RawMessage(`{"module_path":"tools.weather","function_name":"GetForecast","suggested_code_change":"func GetForecast() {}","original_reflection_entry_id":42}`)}
	ok, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	require.False(t, ok)

	for _, task := range tasks.tasks {
		require.Equal(t, model.StatusPostModTestFailed, task.Status)
	}
	require.Len(t, notifier.notifications, 1)
	require.Equal(t, model.EventSelfModificationFailedTests, notifier.notifications[0].EventType)
}

func TestExecute_ProposeToolModification_CriticRejected(t *testing.T) {
	tasks := newFakeTasks()
	notifier := &fakeNotifier{}
	selfMod := &fakeSelfMod{result: selfmod.Result{Status: selfmod.StatusCriticRejected, Message: "rejected by critics"}}

	e := NewActionExecutor(nil, selfMod, tasks, notifier, nil, nil, nil, nil, "")

	action := Action{Type: ActionTypeProposeToolModification, Data: json.RawMessage(`{"module_path":"tools.weather","function_name":"GetForecast","suggested_code_change":"func GetForecast() {}"}`)}
	ok, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	require.False(t, ok)

	for _, task := range tasks.tasks {
		require.Equal(t, model.StatusCriticReviewRejected, task.Status)
	}
	require.Equal(t, model.EventSelfModificationRejectedCritics, notifier.notifications[0].EventType)
}

func TestExecute_AddLearnedFact_Duplicate(t *testing.T) {
	tasks := newFakeTasks()
	notifier := &fakeNotifier{}
	facts := &fakeFacts{facts: []model.LearnedFact{{Text: "the user likes go"}}}
	e := NewActionExecutor(nil, nil, tasks, notifier, nil, facts, nil, nil, "")

	action := Action{Type: ActionTypeAddLearnedFact, Data: json.RawMessage(`{"text":"  The User Likes Go  "}`)}
	ok, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, facts.facts, 1, "duplicate must not be appended")
	require.Len(t, notifier.notifications, 1)
	require.Equal(t, model.EventGeneralInfo, notifier.notifications[0].EventType)
	require.Contains(t, notifier.notifications[0].SummaryMessage, "already known")
}

func TestExecute_AddLearnedFact_NotValuable(t *testing.T) {
	tasks := newFakeTasks()
	facts := &fakeFacts{}
	client := &queueLLM{responses: []any{factValueAssessment{IsValuable: false, Reason: "too transient"}}}
	e := NewActionExecutor(nil, nil, tasks, &fakeNotifier{}, nil, facts, nil, client, "")

	action := Action{Type: ActionTypeAddLearnedFact, Data: json.RawMessage(`{"text":"it is currently raining"}`)}
	ok, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, facts.facts)
}

func TestExecute_AddLearnedFact_Success(t *testing.T) {
	tasks := newFakeTasks()
	notifier := &fakeNotifier{}
	facts := &fakeFacts{}
	client := &queueLLM{responses: []any{
		factValueAssessment{IsValuable: true, Reason: "durable preference"},
		factCategoryAssessment{Category: "user_preference"},
	}}
	e := NewActionExecutor(nil, nil, tasks, notifier, nil, facts, nil, client, "")

	action := Action{Type: ActionTypeAddLearnedFact, Data: json.RawMessage(`{"text":"the user prefers tabs","source":"learning_agent"}`)}
	ok, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, facts.facts, 1)
	require.Equal(t, "user_preference", facts.facts[0].Category)
	require.Len(t, notifier.notifications, 1)
	require.Equal(t, model.EventFactLearned, notifier.notifications[0].EventType)
}

func TestExecute_AddLearnedFact_EmptyText(t *testing.T) {
	tasks := newFakeTasks()
	e := NewActionExecutor(nil, nil, tasks, &fakeNotifier{}, nil, &fakeFacts{}, nil, nil, "")

	action := Action{Type: ActionTypeAddLearnedFact, Data: json.RawMessage(`{"text":"   "}`)}
	ok, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	require.False(t, ok)
}
