package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QuestionType string

const (
	QuestionEssay          QuestionType = "essay"
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionDiscussion     QuestionType = "discussion"
	QuestionProblemSolving QuestionType = "problem_solving"
)

// ValidQuestionTypes lists the accepted question types. An empty type is also accepted
// and is treated like an essay question.
var ValidQuestionTypes = []QuestionType{QuestionEssay, QuestionShortAnswer, QuestionDiscussion, QuestionProblemSolving}

type Question struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Type    QuestionType `json:"type,omitempty"`
	Context string       `json:"context,omitempty"`
}

type RubricItem struct {
	EvaluationArea   string `json:"evaluation_area"`
	DetailedCriteria string `json:"detailed_criteria"`
}

type Exam struct {
	ID                uint   `json:"id" gorm:"primaryKey"`
	Code              string `json:"code" gorm:"uniqueIndex;not null;size:32"`
	Title             string `json:"title" gorm:"not null;size:200"`
	Duration          int    `json:"duration" gorm:"not null;default:0"` // minutes, 0 = unlimited
	MaxClarifications int    `json:"max_clarifications" gorm:"not null;default:0"`

	Questions datatypes.JSONSlice[Question]   `json:"questions" gorm:"type:jsonb;not null"`
	Rubric    datatypes.JSONSlice[RubricItem] `json:"rubric" gorm:"type:jsonb;not null"`

	// Metadata
	OwnerID   string         `json:"owner_id" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Exam) TableName() string {
	return "exams"
}

// IsEssayOnly reports whether every question is an essay or untyped.
// Essay-only exams have no feedback/rebuttal step.
func (e *Exam) IsEssayOnly() bool {
	for _, q := range e.Questions {
		if q.Type != "" && q.Type != QuestionEssay {
			return false
		}
	}
	return true
}

// HasQuestion reports whether idx addresses a question of the exam
func (e *Exam) HasQuestion(idx int) bool {
	return idx >= 0 && idx < len(e.Questions)
}

// RubricAreas returns the rubric dimension names in rubric order.
func (e *Exam) RubricAreas() []string {
	areas := make([]string, 0, len(e.Rubric))
	for _, r := range e.Rubric {
		areas = append(areas, r.EvaluationArea)
	}
	return areas
}
