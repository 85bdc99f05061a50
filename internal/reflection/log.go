// Package reflection implements the Reflection Log (SPEC_FULL §4.2): an
// append-only record of goal executions keyed by a freshly minted entry id
// on every write. Entries never mutate once logged.
package reflection

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/jasonk87/selfevolve/internal/model"
	"github.com/jasonk87/selfevolve/internal/repo"
)

// Log is the in-memory + file-backed reflection log.
type Log struct {
	mu      sync.RWMutex
	entries []model.ReflectionLogEntry
	path    string
	node    *snowflake.Node
}

// New constructs a Log persisting to path. node mints entry ids; callers
// share one process-wide node (created in internal/app.New) so ids stay
// time-ordered.
func New(path string, node *snowflake.Node) *Log {
	return &Log{path: path, node: node}
}

// LogExecutionInput bundles the fields callers may set when appending an
// entry; only GoalDesc/Plan/Results/OverallSuccess are required.
type LogExecutionInput struct {
	GoalDesc                   string
	Plan                       []model.PlanStep
	Results                    []model.ExecutionResult
	OverallSuccess             bool
	Notes                      string
	IsSelfModificationAttempt  bool
	SourceSuggestionID         *int64
	ModificationType           string
	ModificationDetails        string
	PostModificationTestPassed *bool
	StatusOverride             *model.ReflectionStatus
}

// LogExecution appends a new immutable entry and persists the full log
// atomically.
func (l *Log) LogExecution(ctx context.Context, in LogExecutionInput) (model.ReflectionLogEntry, error) {
	status := deriveStatus(in)
	if in.StatusOverride != nil {
		status = *in.StatusOverride
	}

	entry := model.ReflectionLogEntry{
		EntryID:                     l.node.Generate().Int64(),
		Timestamp:                   time.Now().UTC(),
		GoalDesc:                    in.GoalDesc,
		Plan:                        in.Plan,
		Results:                     in.Results,
		Status:                      status,
		Notes:                       in.Notes,
		IsSelfModificationAttempt:   in.IsSelfModificationAttempt,
		SourceSuggestionID:          in.SourceSuggestionID,
		ModificationType:            in.ModificationType,
		ModificationDetails:         in.ModificationDetails,
		PostModificationTestPassed: in.PostModificationTestPassed,
	}
	if idx := entry.FirstErrorStepIndex(); idx >= 0 {
		entry.ErrorType = "step_execution_error"
		entry.ErrorMessage = in.Results[idx].Error
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	snapshot := append([]model.ReflectionLogEntry(nil), l.entries...)
	l.mu.Unlock()

	if err := repo.WriteJSONAtomic(l.path, snapshot); err != nil {
		return entry, err
	}
	return entry, nil
}

func deriveStatus(in LogExecutionInput) model.ReflectionStatus {
	if in.OverallSuccess {
		return model.ReflectionSuccess
	}
	for _, r := range in.Results {
		if !r.IsErrorResult() {
			return model.ReflectionPartialSuccess
		}
	}
	return model.ReflectionFailure
}

// FindByEntryID returns the entry with the given id, if any.
func (l *Log) FindByEntryID(entryID int64) (model.ReflectionLogEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.EntryID == entryID {
			return e, true
		}
	}
	return model.ReflectionLogEntry{}, false
}

// AnalyzeLastFailure returns the most recent FAILURE or PARTIAL_SUCCESS
// entry. Pure: never mutates the log.
func (l *Log) AnalyzeLastFailure() (model.ReflectionLogEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.Status == model.ReflectionFailure || e.Status == model.ReflectionPartialSuccess {
			return e, true
		}
	}
	return model.ReflectionLogEntry{}, false
}

// GetLearningsFromReflections returns up to limit of the most recent entries,
// newest first, for the Learning Agent to scan.
func (l *Log) GetLearningsFromReflections(limit int) []model.ReflectionLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.ReflectionLogEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = l.entries[n-1-i]
	}
	return out
}

// Load restores the log from disk, replacing in-memory state.
func (l *Log) Load(ctx context.Context) error {
	var stored []model.ReflectionLogEntry
	ok, err := repo.ReadJSON(l.path, &stored)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	l.mu.Lock()
	l.entries = stored
	l.mu.Unlock()
	return nil
}
