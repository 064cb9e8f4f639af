package services

import (
	"context"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use business validator types
type CreateExamRequest = validator.ExamCreateRequest
type InitSessionRequest = validator.InitSessionRequest
type SaveDraftRequest = validator.SaveDraftRequest
type SubmitSessionRequest = validator.SubmitSessionRequest
type ClarificationRequest = validator.ClarificationRequest
type SaveGradeRequest = validator.SaveGradeRequest

type ExamListResponse struct {
	Exams []*models.Exam `json:"exams"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}

// ===== SESSION DTOs =====

// SessionView is what a student sees when entering or re-entering an exam
type SessionView struct {
	Exam             *models.Exam        `json:"exam"`
	Session          *models.Session     `json:"session"`
	State            models.SessionState `json:"state"`
	Messages         []*models.Message   `json:"messages"`
	RemainingSeconds *int                `json:"remaining_time_seconds"`

	IsRetakeBlocked bool `json:"is_retake_blocked,omitempty"`
	AutoSubmitted   bool `json:"auto_submitted,omitempty"`
	TimeExpired     bool `json:"time_expired,omitempty"`
}

type SubmitResult struct {
	Session     *models.Session      `json:"session"`
	Submissions []*models.Submission `json:"submissions"`
}

type HeartbeatResult struct {
	SessionID        uint                `json:"session_id"`
	State            models.SessionState `json:"state"`
	RemainingSeconds *int                `json:"remaining_time_seconds"`
}

type ClarificationResult struct {
	Question           *models.Message `json:"question"`
	Answer             *models.Message `json:"answer"`
	UsedClarifications int             `json:"used_clarifications"`
	RemainingAllowed   *int            `json:"remaining_clarifications"`
}

// ===== GRADING DTOs =====

type GradingView struct {
	Session               *models.Session            `json:"session"`
	Exam                  *models.Exam               `json:"exam"`
	SubmissionsByQuestion map[int]*models.Submission `json:"submissions_by_question"`
	MessagesByQuestion    map[int][]*models.Message  `json:"messages_by_question"`
	GradesByQuestion      map[int]*models.Grade      `json:"grades_by_question"`
	Summary               *models.SessionSummary     `json:"summary,omitempty"`
	OverallScore          *float64                   `json:"overall_score"`
}

type AutoGradeResult struct {
	SessionID   uint            `json:"session_id"`
	GradesCount int             `json:"grades_count"`
	Grades      []*models.Grade `json:"grades"`
	Skipped     bool            `json:"skipped"`
	Message     string          `json:"message,omitempty"`
	Summarized  bool            `json:"summarized"`
}

// ===== OVERVIEW DTOs =====

type StudentOverview struct {
	StudentID       string              `json:"student_id"`
	SessionID       uint                `json:"session_id"`
	State           models.SessionState `json:"state"`
	Score           *float64            `json:"score"`
	GradedQuestions int                 `json:"graded_questions"`
	QuestionCount   int                 `json:"question_count"`
	AnswerLength    int                 `json:"answer_length"`
	DurationMinutes float64             `json:"duration_minutes"`
	Sentiment       *models.Sentiment   `json:"sentiment,omitempty"`
	SubmittedAt     *time.Time          `json:"submitted_at,omitempty"`
}

type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type MetricStats struct {
	Average      float64  `json:"average"`
	StdDev       float64  `json:"std_dev"`
	Distribution []Bucket `json:"distribution"`
}

type OverviewStatistics struct {
	Students       int         `json:"students"`
	Submitted      int         `json:"submitted"`
	Graded         int         `json:"graded"`
	Score          MetricStats `json:"score"`
	QuestionCount  MetricStats `json:"question_count"`
	AnswerLength   MetricStats `json:"answer_length"`
	SessionMinutes MetricStats `json:"session_minutes"`
}

type StageAnalysis struct {
	Stage        models.GradingStage `json:"stage"`
	AverageScore float64             `json:"average_score"`
	Count        int                 `json:"count"`
}

type RubricAnalysis struct {
	EvaluationArea string  `json:"evaluation_area"`
	AverageScore   float64 `json:"average_score"`
	Count          int     `json:"count"`
}

type ExamOverview struct {
	ExamID         uint               `json:"exam_id"`
	Title          string             `json:"title"`
	Students       []*StudentOverview `json:"students"`
	Statistics     OverviewStatistics `json:"statistics"`
	StageAnalysis  []StageAnalysis    `json:"stage_analysis"`
	RubricAnalysis []RubricAnalysis   `json:"rubric_analysis"`
}

// ===== SERVICE INTERFACES =====

type ExamService interface {
	Create(ctx context.Context, req *CreateExamRequest, ownerID string) (*models.Exam, error)
	GetByID(ctx context.Context, id uint, userID string) (*models.Exam, error)
	List(ctx context.Context, ownerID string, page, size int) (*ExamListResponse, error)
}

type SessionService interface {
	InitSession(ctx context.Context, req *InitSessionRequest, studentID string) (*SessionView, error)
	SaveDraft(ctx context.Context, sessionID uint, questionIndex int, req *SaveDraftRequest, studentID string) (*models.Submission, error)
	Submit(ctx context.Context, sessionID uint, req *SubmitSessionRequest, studentID string) (*SubmitResult, error)
	Heartbeat(ctx context.Context, sessionID uint, studentID string) (*HeartbeatResult, error)
	AskClarification(ctx context.Context, sessionID uint, req *ClarificationRequest, studentID string) (*ClarificationResult, error)
}

type GradingService interface {
	GetGrading(ctx context.Context, sessionID uint, userID string) (*GradingView, error)
	SaveGrade(ctx context.Context, sessionID uint, questionIndex int, req *SaveGradeRequest, graderID string) (*models.Grade, error)
	AutoGrade(ctx context.Context, sessionID uint, force bool, userID string) (*AutoGradeResult, error)

	// GradeSubmittedSession is the event-driven entry point. It never forces.
	GradeSubmittedSession(ctx context.Context, event events.SessionSubmittedEvent) error
}

type OverviewService interface {
	GetExamOverview(ctx context.Context, examID uint, userID string) (*ExamOverview, error)
	ExportExamOverview(ctx context.Context, examID uint, userID string) ([]byte, string, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	Exam() ExamService
	Session() SessionService
	Grading() GradingService
	Overview() OverviewService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
