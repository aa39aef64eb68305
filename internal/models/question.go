package models

import (
	"fmt"
	"strings"
	"time"
)

// Difficulty is the closed set of question difficulty levels.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// OptionCount is the number of answer choices every question carries.
const OptionCount = 5

// ParseDifficulty accepts easy, medium or hard (case-insensitive).
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("%w: difficulty must be easy, medium or hard, got %q", ErrInput, s)
	}
	return d, nil
}

// Valid reports whether d is one of the allowed levels.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// QuestionRecord is an accepted five-option multiple-choice question.
type QuestionRecord struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	Options       []string   `json:"options"`
	CorrectAnswer int        `json:"correct_answer"`
	Explanation   string     `json:"explanation"`
	Hint          string     `json:"hint,omitempty"`
	Difficulty    Difficulty `json:"difficulty"`
	Subject       string     `json:"subject"`
	Unit          string     `json:"unit"`
	GeneratedAt   time.Time  `json:"generated_at"`
}

// Validate checks the content rules a record must satisfy before it is accepted.
func (q QuestionRecord) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("%w: question text is empty", ErrValidation)
	}
	if len(q.Options) != OptionCount {
		return fmt.Errorf("%w: options must have exactly %d items, got %d", ErrValidation, OptionCount, len(q.Options))
	}
	for i, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("%w: option %d is empty", ErrValidation, i+1)
		}
	}
	if q.CorrectAnswer < 1 || q.CorrectAnswer > OptionCount {
		return fmt.Errorf("%w: correct answer must be between 1 and %d, got %d", ErrValidation, OptionCount, q.CorrectAnswer)
	}
	if strings.TrimSpace(q.Explanation) == "" {
		return fmt.Errorf("%w: explanation is empty", ErrValidation)
	}
	if !q.Difficulty.Valid() {
		return fmt.Errorf("%w: difficulty must be easy, medium or hard, got %q", ErrValidation, q.Difficulty)
	}
	return nil
}

// Statistics aggregates the question history.
type Statistics struct {
	TotalQuestions  int            `json:"total_questions"`
	BySubject       map[string]int `json:"by_subject"`
	ByDifficulty    map[string]int `json:"by_difficulty"`
	ByUnit          map[string]int `json:"by_unit"`
	GenerationTimes []time.Time    `json:"generation_times"`
}

// Assessment is the structured quality review of a generated question.
type Assessment struct {
	Scores       map[string]AssessmentScore `json:"scores"`
	OverallScore float64                    `json:"overall_score"`
	IsUsable     bool                       `json:"is_usable"`
	Summary      string                     `json:"summary"`
}

// AssessmentScore is one criterion of an Assessment.
type AssessmentScore struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}
