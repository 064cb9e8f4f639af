package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

// SessionPostgreSQL stores exam sessions. Sessions mutate on every request so
// they are never cached.
type SessionPostgreSQL struct {
	db *gorm.DB
}

func NewSessionPostgreSQL(db *gorm.DB) repositories.SessionRepository {
	return &SessionPostgreSQL{db: db}
}

func (s *SessionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *SessionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, session *models.Session) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SessionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Session, error) {
	db := s.getDB(tx)
	var session models.Session
	if err := db.WithContext(ctx).First(&session, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// ===== QUERY OPERATIONS =====

// GetLatestSubmitted returns the most recently created submitted session of a student
func (s *SessionPostgreSQL) GetLatestSubmitted(ctx context.Context, tx *gorm.DB, examID uint, studentID string) (*models.Session, error) {
	db := s.getDB(tx)
	var session models.Session
	if err := db.WithContext(ctx).
		Where("exam_id = ? AND student_id = ? AND submitted_at IS NOT NULL", examID, studentID).
		Order("created_at DESC, id DESC").
		First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionPostgreSQL) ListUnsubmitted(ctx context.Context, tx *gorm.DB, examID uint, studentID string) ([]*models.Session, error) {
	db := s.getDB(tx)
	var sessions []*models.Session
	if err := db.WithContext(ctx).
		Where("exam_id = ? AND student_id = ? AND submitted_at IS NULL", examID, studentID).
		Order("created_at DESC, id DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list unsubmitted sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionPostgreSQL) ListByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Session, error) {
	db := s.getDB(tx)
	var sessions []*models.Session
	if err := db.WithContext(ctx).
		Where("exam_id = ?", examID).
		Order("created_at DESC, id DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions by exam: %w", err)
	}
	return sessions, nil
}

// ===== STATE TRANSITIONS =====

func (s *SessionPostgreSQL) Activate(ctx context.Context, tx *gorm.DB, id uint, at time.Time) error {
	db := s.getDB(tx)
	return db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND submitted_at IS NULL", id).
		Updates(map[string]interface{}{
			"is_active":         true,
			"last_heartbeat_at": at,
		}).Error
}

// ClaimDevice binds a fingerprint to a legacy session. Only a session without a
// fingerprint can be claimed, so two concurrent claims cannot both win.
func (s *SessionPostgreSQL) ClaimDevice(ctx context.Context, tx *gorm.DB, id uint, fingerprint string) (bool, error) {
	db := s.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND device_fingerprint IS NULL AND submitted_at IS NULL", id).
		Update("device_fingerprint", fingerprint)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkSubmitted is the only way into a terminal state. It reports false when the
// session was already submitted.
func (s *SessionPostgreSQL) MarkSubmitted(ctx context.Context, tx *gorm.DB, id uint, at time.Time, reason string) (bool, error) {
	db := s.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND submitted_at IS NULL", id).
		Updates(map[string]interface{}{
			"submitted_at":  at,
			"submit_reason": reason,
			"is_active":     false,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark session submitted: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *SessionPostgreSQL) TouchHeartbeat(ctx context.Context, tx *gorm.DB, id uint, at time.Time) error {
	db := s.getDB(tx)
	return db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", id).
		Update("last_heartbeat_at", at).Error
}

func (s *SessionPostgreSQL) IncrementClarifications(ctx context.Context, tx *gorm.DB, id uint) error {
	db := s.getDB(tx)
	return db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", id).
		Update("used_clarifications", gorm.Expr("used_clarifications + ?", 1)).Error
}
