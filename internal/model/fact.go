package model

import "time"

// LearnedFact is a deduplicated, categorized fact the agent has accumulated.
// Uniqueness is by normalized (trimmed, lower-cased) Text.
type LearnedFact struct {
	FactID    int64     `json:"fact_id"`
	Text      string    `json:"text"`
	Category  string    `json:"category"`
	Source    string    `json:"source"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CategoryUncategorizedMigrated is stamped on facts migrated up from the
// legacy plain-string-list file format.
const CategoryUncategorizedMigrated = "uncategorized_migrated"

// Preferred fact categories the Orchestrator favors when topping up the
// relevant-facts set beyond keyword overlap (SPEC_FULL §4.11 step 2).
const (
	CategoryUserPreference  = "user_preference"
	CategoryProjectContext  = "project_context"
	CategoryGeneralKnowledge = "general_knowledge"
)
