package models

import (
	"time"

	"gorm.io/datatypes"
)

type GradingStage string

const (
	StageChat     GradingStage = "chat"
	StageAnswer   GradingStage = "answer"
	StageFeedback GradingStage = "feedback"
)

// GradingStages is the fixed evaluation order of the pipeline.
var GradingStages = []GradingStage{StageChat, StageAnswer, StageFeedback}

const (
	MinScore       = 0
	MaxScore       = 100
	MinRubricScore = 0
	MaxRubricScore = 5
)

type StageScore struct {
	Score        int            `json:"score"`
	Comment      string         `json:"comment"`
	RubricScores map[string]int `json:"rubric_scores,omitempty"`
}

// StageGrading keeps the per-stage evaluations of one question. A nil stage did
// not run or produced no usable output.
type StageGrading struct {
	Chat     *StageScore `json:"chat,omitempty"`
	Answer   *StageScore `json:"answer,omitempty"`
	Feedback *StageScore `json:"feedback,omitempty"`
}

func (sg StageGrading) Get(stage GradingStage) *StageScore {
	switch stage {
	case StageChat:
		return sg.Chat
	case StageAnswer:
		return sg.Answer
	case StageFeedback:
		return sg.Feedback
	}
	return nil
}

func (sg *StageGrading) Set(stage GradingStage, score *StageScore) {
	switch stage {
	case StageChat:
		sg.Chat = score
	case StageAnswer:
		sg.Answer = score
	case StageFeedback:
		sg.Feedback = score
	}
}

// Stages returns the stages holding a score, in pipeline order.
func (sg StageGrading) Stages() []GradingStage {
	var stages []GradingStage
	for _, stage := range GradingStages {
		if sg.Get(stage) != nil {
			stages = append(stages, stage)
		}
	}
	return stages
}

type Grade struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	SessionID     uint   `json:"session_id" gorm:"not null;uniqueIndex:idx_grade_session_question"`
	QuestionIndex int    `json:"question_index" gorm:"not null;uniqueIndex:idx_grade_session_question"`
	Score         int    `json:"score" gorm:"not null"`
	Comment       string `json:"comment" gorm:"type:text"`

	StageGrading datatypes.JSONType[StageGrading] `json:"stage_grading" gorm:"type:jsonb;not null"`

	GradedBy  *string   `json:"graded_by" gorm:"size:255"` // nil for automated grading
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Grade) TableName() string {
	return "grades"
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

const (
	MaxSummaryStrengths  = 3
	MaxSummaryWeaknesses = 3
	SummaryKeyQuotes     = 2
)

// SessionSummary is the qualitative synthesis of a graded session.
type SessionSummary struct {
	ID         uint                        `json:"id" gorm:"primaryKey"`
	SessionID  uint                        `json:"session_id" gorm:"not null;uniqueIndex"`
	Sentiment  Sentiment                   `json:"sentiment" gorm:"not null;size:16"`
	Narrative  string                      `json:"narrative" gorm:"type:text"`
	Strengths  datatypes.JSONSlice[string] `json:"strengths" gorm:"type:jsonb;not null"`
	Weaknesses datatypes.JSONSlice[string] `json:"weaknesses" gorm:"type:jsonb;not null"`
	KeyQuotes  datatypes.JSONSlice[string] `json:"key_quotes" gorm:"type:jsonb;not null"`
	CreatedAt  time.Time                   `json:"created_at"`
	UpdatedAt  time.Time                   `json:"updated_at"`
}

func (SessionSummary) TableName() string {
	return "session_summaries"
}
