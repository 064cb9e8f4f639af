package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type SubmissionPostgreSQL struct {
	db *gorm.DB
}

func NewSubmissionPostgreSQL(db *gorm.DB) repositories.SubmissionRepository {
	return &SubmissionPostgreSQL{db: db}
}

func (s *SubmissionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *SubmissionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, submission *models.Submission) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Create(submission).Error; err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

func (s *SubmissionPostgreSQL) Update(ctx context.Context, tx *gorm.DB, submission *models.Submission) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Save(submission).Error; err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	return nil
}

// ListBySessionAndQuestion returns every row stored for one question. Legacy data
// can hold more than one, callers pick the canonical row.
func (s *SubmissionPostgreSQL) ListBySessionAndQuestion(ctx context.Context, tx *gorm.DB, sessionID uint, questionIndex int) ([]*models.Submission, error) {
	db := s.getDB(tx)
	var submissions []*models.Submission
	if err := db.WithContext(ctx).
		Where("session_id = ? AND question_index = ?", sessionID, questionIndex).
		Order("id ASC").
		Find(&submissions).Error; err != nil {
		return nil, fmt.Errorf("failed to get submissions by question: %w", err)
	}
	return submissions, nil
}

func (s *SubmissionPostgreSQL) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.Submission, error) {
	db := s.getDB(tx)
	var submissions []*models.Submission
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("question_index ASC, id ASC").
		Find(&submissions).Error; err != nil {
		return nil, fmt.Errorf("failed to get submissions by session: %w", err)
	}
	return submissions, nil
}

func (s *SubmissionPostgreSQL) ListBySessions(ctx context.Context, tx *gorm.DB, sessionIDs []uint) ([]*models.Submission, error) {
	if len(sessionIDs) == 0 {
		return []*models.Submission{}, nil
	}

	db := s.getDB(tx)
	var submissions []*models.Submission
	if err := db.WithContext(ctx).
		Where("session_id IN ?", sessionIDs).
		Order("session_id ASC, question_index ASC, id ASC").
		Find(&submissions).Error; err != nil {
		return nil, fmt.Errorf("failed to get submissions by sessions: %w", err)
	}
	return submissions, nil
}

// ===== MESSAGES =====

type MessagePostgreSQL struct {
	db *gorm.DB
}

func NewMessagePostgreSQL(db *gorm.DB) repositories.MessageRepository {
	return &MessagePostgreSQL{db: db}
}

func (m *MessagePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return m.db
}

func (m *MessagePostgreSQL) Create(ctx context.Context, tx *gorm.DB, message *models.Message) error {
	db := m.getDB(tx)
	if err := db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (m *MessagePostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	db := m.getDB(tx)
	if err := db.WithContext(ctx).CreateInBatches(messages, 100).Error; err != nil {
		return fmt.Errorf("failed to create messages: %w", err)
	}
	return nil
}

// ListBySession returns the transcript in insertion order
func (m *MessagePostgreSQL) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.Message, error) {
	db := m.getDB(tx)
	var messages []*models.Message
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

func (m *MessagePostgreSQL) ListBySessions(ctx context.Context, tx *gorm.DB, sessionIDs []uint) ([]*models.Message, error) {
	if len(sessionIDs) == 0 {
		return []*models.Message{}, nil
	}

	db := m.getDB(tx)
	var messages []*models.Message
	if err := db.WithContext(ctx).
		Where("session_id IN ?", sessionIDs).
		Order("session_id ASC, id ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to get messages by sessions: %w", err)
	}
	return messages, nil
}

// DeleteBySessionQuestions removes the transcript of the given questions only
func (m *MessagePostgreSQL) DeleteBySessionQuestions(ctx context.Context, tx *gorm.DB, sessionID uint, questionIndexes []int) error {
	if len(questionIndexes) == 0 {
		return nil
	}
	db := m.getDB(tx)
	return db.WithContext(ctx).
		Where("session_id = ? AND question_index IN ?", sessionID, questionIndexes).
		Delete(&models.Message{}).Error
}
