package repositories

import (
	"context"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"gorm.io/gorm"
)

// ===== SHARED FILTER STRUCTS =====

type ExamFilters struct {
	OwnerID *string `json:"owner_id"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// ===== DOMAIN REPOSITORIES =====

// ExamRepository interface for exam persistence
type ExamRepository interface {
	Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	GetByCode(ctx context.Context, tx *gorm.DB, code string) (*models.Exam, error)
	List(ctx context.Context, tx *gorm.DB, filters ExamFilters) ([]*models.Exam, int64, error)
	ExistsByCode(ctx context.Context, tx *gorm.DB, code string) (bool, error)
}

// SessionRepository interface for exam session persistence.
// List methods return sessions newest first.
type SessionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, session *models.Session) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Session, error)

	// Query operations
	GetLatestSubmitted(ctx context.Context, tx *gorm.DB, examID uint, studentID string) (*models.Session, error)
	ListUnsubmitted(ctx context.Context, tx *gorm.DB, examID uint, studentID string) ([]*models.Session, error)
	ListByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Session, error)

	// State transitions. ClaimDevice and MarkSubmitted return false when their guard did not match.
	Activate(ctx context.Context, tx *gorm.DB, id uint, at time.Time) error
	ClaimDevice(ctx context.Context, tx *gorm.DB, id uint, fingerprint string) (bool, error)
	MarkSubmitted(ctx context.Context, tx *gorm.DB, id uint, at time.Time, reason string) (bool, error)
	TouchHeartbeat(ctx context.Context, tx *gorm.DB, id uint, at time.Time) error
	IncrementClarifications(ctx context.Context, tx *gorm.DB, id uint) error
}

// SubmissionRepository interface for per-question answers
type SubmissionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, submission *models.Submission) error
	Update(ctx context.Context, tx *gorm.DB, submission *models.Submission) error
	ListBySessionAndQuestion(ctx context.Context, tx *gorm.DB, sessionID uint, questionIndex int) ([]*models.Submission, error)
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.Submission, error)
	ListBySessions(ctx context.Context, tx *gorm.DB, sessionIDs []uint) ([]*models.Submission, error)
}

// MessageRepository interface for the ordered chat transcript
type MessageRepository interface {
	Create(ctx context.Context, tx *gorm.DB, message *models.Message) error
	CreateBatch(ctx context.Context, tx *gorm.DB, messages []*models.Message) error
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.Message, error)
	ListBySessions(ctx context.Context, tx *gorm.DB, sessionIDs []uint) ([]*models.Message, error)
	DeleteBySessionQuestions(ctx context.Context, tx *gorm.DB, sessionID uint, questionIndexes []int) error
}

// GradeRepository interface for question grades
type GradeRepository interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, grades []*models.Grade) error
	Upsert(ctx context.Context, tx *gorm.DB, grade *models.Grade) error
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.Grade, error)
	ListBySessions(ctx context.Context, tx *gorm.DB, sessionIDs []uint) ([]*models.Grade, error)
	CountBySession(ctx context.Context, tx *gorm.DB, sessionID uint) (int64, error)
	DeleteBySession(ctx context.Context, tx *gorm.DB, sessionID uint) error
}

// SummaryRepository interface for session syntheses
type SummaryRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, summary *models.SessionSummary) error
	GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) (*models.SessionSummary, error)
	ListBySessions(ctx context.Context, tx *gorm.DB, sessionIDs []uint) ([]*models.SessionSummary, error)
	DeleteBySession(ctx context.Context, tx *gorm.DB, sessionID uint) error
}
