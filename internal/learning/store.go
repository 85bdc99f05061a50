// Package learning implements the Learning Agent (SPEC_FULL §4.12): it
// mines Reflection Log entries for actionable insights, persists them, and
// selects the next one to act on via the Action Executor.
package learning

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/jasonk87/selfevolve/internal/model"
	"github.com/jasonk87/selfevolve/internal/repo"
)

// Store is the in-memory + file-backed ActionableInsight repository
// (SPEC_FULL §3 LearnedFact's sibling data type: persists across restarts,
// rewritten wholesale on every state change, same as factstore.Store).
type Store struct {
	mu       sync.RWMutex
	insights []model.ActionableInsight
	path     string
	node     *snowflake.Node
}

// New constructs a Store persisting to path.
func New(path string, node *snowflake.Node) *Store {
	return &Store{path: path, node: node}
}

// Add appends a new insight with a fresh Snowflake ID, defaulting Status to
// NEW and Priority to model.DefaultPriority when unset, and persists
// atomically.
func (s *Store) Add(ctx context.Context, insight model.ActionableInsight) (model.ActionableInsight, error) {
	insight.InsightID = s.node.Generate().Int64()
	insight.CreatedAt = time.Now().UTC()
	if insight.Status == "" {
		insight.Status = model.InsightStatusNew
	}
	if insight.Priority == 0 {
		insight.Priority = model.DefaultPriority
	}

	s.mu.Lock()
	s.insights = append(s.insights, insight)
	snapshot := append([]model.ActionableInsight(nil), s.insights...)
	s.mu.Unlock()

	if err := repo.WriteJSONAtomic(s.path, snapshot); err != nil {
		return insight, err
	}
	return insight, nil
}

// All returns every known insight, oldest first.
func (s *Store) All() []model.ActionableInsight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ActionableInsight(nil), s.insights...)
}

// UpdateStatus transitions the named insight to status, merging metadata
// patch entries, and persists atomically. Reports false if no insight with
// that id exists.
func (s *Store) UpdateStatus(ctx context.Context, insightID int64, status model.InsightStatus, metadataPatch map[string]string) (model.ActionableInsight, bool, error) {
	s.mu.Lock()
	idx := -1
	for i, ins := range s.insights {
		if ins.InsightID == insightID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return model.ActionableInsight{}, false, nil
	}

	s.insights[idx].Status = status
	if len(metadataPatch) > 0 {
		if s.insights[idx].Metadata == nil {
			s.insights[idx].Metadata = make(map[string]string, len(metadataPatch))
		}
		for k, v := range metadataPatch {
			s.insights[idx].Metadata[k] = v
		}
	}
	updated := s.insights[idx]
	snapshot := append([]model.ActionableInsight(nil), s.insights...)
	s.mu.Unlock()

	if err := repo.WriteJSONAtomic(s.path, snapshot); err != nil {
		return updated, true, err
	}
	return updated, true, nil
}

// Load restores the store from disk.
func (s *Store) Load(ctx context.Context) error {
	var stored []model.ActionableInsight
	ok, err := repo.ReadJSON(s.path, &stored)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.insights = stored
	s.mu.Unlock()
	return nil
}
