// Package factstore implements the LearnedFact repository (SPEC_FULL §3,
// §8.4): an append-and-migrate store for facts the Learning Agent's
// ADD_LEARNED_FACT action accumulates, keyed for uniqueness by normalized
// (trimmed, lower-cased) text.
package factstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/jasonk87/selfevolve/internal/model"
	"github.com/jasonk87/selfevolve/internal/repo"
)

// Store is the in-memory + file-backed learned-fact store.
type Store struct {
	mu    sync.RWMutex
	facts []model.LearnedFact
	path  string
	node  *snowflake.Node
}

// New constructs a Store persisting to path.
func New(path string, node *snowflake.Node) *Store {
	return &Store{path: path, node: node}
}

// Normalize trims and lower-cases text for duplicate comparison and storage
// matching (SPEC_FULL §3: "uniqueness by normalized lower-cased text").
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// FindByNormalizedText returns the fact whose normalized text matches, if any.
func (s *Store) FindByNormalizedText(text string) (model.LearnedFact, bool) {
	want := Normalize(text)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.facts {
		if Normalize(f.Text) == want {
			return f, true
		}
	}
	return model.LearnedFact{}, false
}

// Add appends a new fact with a fresh Snowflake ID and persists atomically.
// Callers are responsible for duplicate-checking via FindByNormalizedText
// first; Add itself never rejects.
func (s *Store) Add(ctx context.Context, text, category, source, userID string) (model.LearnedFact, error) {
	now := time.Now().UTC()
	fact := model.LearnedFact{
		FactID:    s.node.Generate().Int64(),
		Text:      text,
		Category:  category,
		Source:    source,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.facts = append(s.facts, fact)
	snapshot := append([]model.LearnedFact(nil), s.facts...)
	s.mu.Unlock()

	if err := repo.WriteJSONAtomic(s.path, snapshot); err != nil {
		return fact, err
	}
	return fact, nil
}

// All returns every known fact, oldest first.
func (s *Store) All() []model.LearnedFact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.LearnedFact(nil), s.facts...)
}

// Load restores the store from disk, migrating the legacy plain
// list[string] format (SPEC_FULL §3/§8.4) to structured LearnedFact records
// tagged model.CategoryUncategorizedMigrated on first load, then re-saving
// atomically so the migration only ever runs once.
func (s *Store) Load(ctx context.Context) error {
	raw, err := repo.ReadRaw(s.path)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}

	var structured []model.LearnedFact
	if err := json.Unmarshal(raw, &structured); err == nil {
		s.mu.Lock()
		s.facts = structured
		s.mu.Unlock()
		return nil
	}

	var legacy []string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return err
	}

	now := time.Now().UTC()
	migrated := make([]model.LearnedFact, 0, len(legacy))
	for _, text := range legacy {
		migrated = append(migrated, model.LearnedFact{
			FactID:    s.node.Generate().Int64(),
			Text:      text,
			Category:  model.CategoryUncategorizedMigrated,
			Source:    "legacy_migration",
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	s.mu.Lock()
	s.facts = migrated
	s.mu.Unlock()

	return repo.WriteJSONAtomic(s.path, migrated)
}
