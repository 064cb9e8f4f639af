package validator

import (
	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// ===== EXAM AUTHORING =====

// ExamCreateRequest represents the request structure for creating exams
type ExamCreateRequest struct {
	Code              *string             `json:"code" validate:"omitempty,exam_code"`
	Title             string              `json:"title" validate:"required,exam_title"`
	Duration          int                 `json:"duration" validate:"min=0,max=1440"` // minutes, 0 = unlimited
	MaxClarifications int                 `json:"max_clarifications" validate:"min=0,max=100"`
	Questions         []QuestionRequest   `json:"questions" validate:"required,min=1,max=50,dive"`
	Rubric            []RubricItemRequest `json:"rubric" validate:"max=20,dive"`
}

type QuestionRequest struct {
	ID      string              `json:"id" validate:"omitempty,max=64"`
	Prompt  string              `json:"prompt" validate:"required,max=5000"`
	Type    models.QuestionType `json:"type" validate:"question_type"`
	Context string              `json:"context" validate:"max=20000"`
}

type RubricItemRequest struct {
	EvaluationArea   string `json:"evaluation_area" validate:"required,max=100"`
	DetailedCriteria string `json:"detailed_criteria" validate:"max=2000"`
}

// ===== SESSION LIFECYCLE =====

type InitSessionRequest struct {
	ExamCode          string  `json:"exam_code" validate:"required,max=32"`
	DeviceFingerprint *string `json:"device_fingerprint" validate:"omitempty,max=255"`
}

type SaveDraftRequest struct {
	Answer string `json:"answer" validate:"max=200000"`
}

type ClarificationRequest struct {
	QuestionIndex int    `json:"question_index" validate:"min=0"`
	Question      string `json:"question" validate:"required,max=4000"`
}

type SubmittedAnswerRequest struct {
	QuestionIndex int     `json:"question_index" validate:"min=0"`
	Answer        string  `json:"answer" validate:"max=200000"`
	Feedback      *string `json:"feedback" validate:"omitempty,max=20000"`
	FeedbackReply *string `json:"feedback_reply" validate:"omitempty,max=20000"`
}

type TranscriptMessageRequest struct {
	QuestionIndex int                `json:"question_index" validate:"min=0"`
	Role          models.MessageRole `json:"role" validate:"required,message_role"`
	Content       string             `json:"content" validate:"required,max=20000"`
}

// SubmitSessionRequest carries the final answers and the full transcript, which
// replaces any messages stored during the session
type SubmitSessionRequest struct {
	Answers    []SubmittedAnswerRequest   `json:"answers" validate:"max=50,dive"`
	Transcript []TranscriptMessageRequest `json:"transcript" validate:"max=2000,dive"`
}

// ===== GRADING =====

// SaveGradeRequest is a manual grade override. Stage rubric scores are clamped, the
// overall score must already be in range.
type SaveGradeRequest struct {
	Score        int                  `json:"score" validate:"min=0,max=100"`
	Comment      string               `json:"comment" validate:"max=10000"`
	StageGrading *models.StageGrading `json:"stage_grading"`
}
