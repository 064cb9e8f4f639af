package oracle

import (
	"context"
	"errors"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// ErrOracleFailure marks a call that errored or returned an unusable structure
var ErrOracleFailure = errors.New("scoring oracle failure")

// ScoreRequest is the evidence of one grading stage of one question
type ScoreRequest struct {
	Stage    models.GradingStage
	Question models.Question
	Rubric   []models.RubricItem

	Transcript    []*models.Message // chat stage
	Answer        string            // answer stage, also context for feedback
	Feedback      string            // feedback stage
	FeedbackReply string            // feedback stage
}

// ScoreResult is the raw oracle verdict. Values are not range checked here.
type ScoreResult struct {
	Score        float64            `json:"score"`
	Comment      string             `json:"comment"`
	RubricScores map[string]float64 `json:"rubric_scores"`
}

type SummaryQuestion struct {
	Prompt     string
	Transcript []*models.Message
	Answer     string
	Score      *int
	Comment    string
}

type SummaryRequest struct {
	ExamTitle string
	Questions []SummaryQuestion
}

type SummaryResult struct {
	Sentiment  string   `json:"sentiment"`
	Narrative  string   `json:"narrative"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
	KeyQuotes  []string `json:"key_quotes"`
}

type ClarifyRequest struct {
	ExamTitle string
	Question  models.Question
	History   []*models.Message
	Text      string
}

// ScoringOracle evaluates free text against rubric criteria
type ScoringOracle interface {
	Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error)
	Summarize(ctx context.Context, req SummaryRequest) (*SummaryResult, error)
}

// Assistant answers student clarification questions during a session
type Assistant interface {
	Clarify(ctx context.Context, req ClarifyRequest) (string, error)
}
