// Package domain contains core domain types for the tutoring backend.
package domain

import (
	"time"
)

// Difficulty is a learner's difficulty tier.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Valid reports whether d is one of the three known tiers.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

// Next returns the tier one step above d. Advanced stays advanced.
func (d Difficulty) Next() Difficulty {
	switch d {
	case DifficultyBeginner:
		return DifficultyIntermediate
	case DifficultyIntermediate, DifficultyAdvanced:
		return DifficultyAdvanced
	default:
		return DifficultyIntermediate
	}
}

// Rank orders the tiers from 1 (beginner) to 3 (advanced). Unknown values
// rank 0.
func (d Difficulty) Rank() int {
	switch d {
	case DifficultyBeginner:
		return 1
	case DifficultyIntermediate:
		return 2
	case DifficultyAdvanced:
		return 3
	}
	return 0
}

// Preferences holds the learner settings that shape every prompt.
type Preferences struct {
	Difficulty         Difficulty `json:"difficulty"`
	PreferredLanguages []string   `json:"preferred_languages"`
	LearningStyle      string     `json:"learning_style"`
	ExplanationMode    string     `json:"explanation_mode"`
	TopicsOfInterest   []string   `json:"topics_of_interest"`
}

// DefaultPreferences returns the preferences assigned to new users.
func DefaultPreferences() Preferences {
	return Preferences{
		Difficulty:         DifficultyBeginner,
		PreferredLanguages: []string{"javascript"},
		LearningStyle:      "hands-on",
		ExplanationMode:    "step-by-step",
		TopicsOfInterest:   []string{},
	}
}

// EffectiveDifficulty returns the stored tier, or beginner when unset.
func (p Preferences) EffectiveDifficulty() Difficulty {
	if p.Difficulty.Valid() {
		return p.Difficulty
	}
	return DifficultyBeginner
}

// User represents a learner. Identity is owned by the auth layer; this core
// only reads it and promotes the difficulty tier.
type User struct {
	UserID      string      `json:"user_id"`
	Username    string      `json:"username"`
	Preferences Preferences `json:"preferences"`
	LastSeenAt  time.Time   `json:"last_seen_at"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
