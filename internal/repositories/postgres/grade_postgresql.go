package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type GradePostgreSQL struct {
	db *gorm.DB
}

func NewGradePostgreSQL(db *gorm.DB) repositories.GradeRepository {
	return &GradePostgreSQL{db: db}
}

func (g *GradePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return g.db
}

func (g *GradePostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, grades []*models.Grade) error {
	if len(grades) == 0 {
		return nil
	}

	db := g.getDB(tx)
	if err := db.WithContext(ctx).Create(grades).Error; err != nil {
		return fmt.Errorf("failed to create grades: %w", err)
	}
	return nil
}

// Upsert writes the grade of one question, replacing any previous one
func (g *GradePostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, grade *models.Grade) error {
	db := g.getDB(tx)
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "question_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "comment", "stage_grading", "graded_by", "updated_at"}),
		}).
		Create(grade).Error
	if err != nil {
		return fmt.Errorf("failed to upsert grade: %w", err)
	}
	return nil
}

func (g *GradePostgreSQL) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.Grade, error) {
	db := g.getDB(tx)
	var grades []*models.Grade
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("question_index ASC").
		Find(&grades).Error; err != nil {
		return nil, fmt.Errorf("failed to get grades: %w", err)
	}
	return grades, nil
}

func (g *GradePostgreSQL) ListBySessions(ctx context.Context, tx *gorm.DB, sessionIDs []uint) ([]*models.Grade, error) {
	if len(sessionIDs) == 0 {
		return []*models.Grade{}, nil
	}

	db := g.getDB(tx)
	var grades []*models.Grade
	if err := db.WithContext(ctx).
		Where("session_id IN ?", sessionIDs).
		Order("session_id ASC, question_index ASC").
		Find(&grades).Error; err != nil {
		return nil, fmt.Errorf("failed to get grades by sessions: %w", err)
	}
	return grades, nil
}

func (g *GradePostgreSQL) CountBySession(ctx context.Context, tx *gorm.DB, sessionID uint) (int64, error) {
	db := g.getDB(tx)
	var count int64
	err := db.WithContext(ctx).Model(&models.Grade{}).Where("session_id = ?", sessionID).Count(&count).Error
	return count, err
}

func (g *GradePostgreSQL) DeleteBySession(ctx context.Context, tx *gorm.DB, sessionID uint) error {
	db := g.getDB(tx)
	return db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.Grade{}).Error
}

// ===== SUMMARIES =====

type SummaryPostgreSQL struct {
	db *gorm.DB
}

func NewSummaryPostgreSQL(db *gorm.DB) repositories.SummaryRepository {
	return &SummaryPostgreSQL{db: db}
}

func (s *SummaryPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *SummaryPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, summary *models.SessionSummary) error {
	db := s.getDB(tx)
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"sentiment", "narrative", "strengths", "weaknesses", "key_quotes", "updated_at"}),
		}).
		Create(summary).Error
	if err != nil {
		return fmt.Errorf("failed to upsert summary: %w", err)
	}
	return nil
}

func (s *SummaryPostgreSQL) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) (*models.SessionSummary, error) {
	db := s.getDB(tx)
	var summary models.SessionSummary
	if err := db.WithContext(ctx).Where("session_id = ?", sessionID).First(&summary).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *SummaryPostgreSQL) ListBySessions(ctx context.Context, tx *gorm.DB, sessionIDs []uint) ([]*models.SessionSummary, error) {
	if len(sessionIDs) == 0 {
		return []*models.SessionSummary{}, nil
	}

	db := s.getDB(tx)
	var summaries []*models.SessionSummary
	if err := db.WithContext(ctx).Where("session_id IN ?", sessionIDs).Find(&summaries).Error; err != nil {
		return nil, fmt.Errorf("failed to get summaries: %w", err)
	}
	return summaries, nil
}

func (s *SummaryPostgreSQL) DeleteBySession(ctx context.Context, tx *gorm.DB, sessionID uint) error {
	db := s.getDB(tx)
	return db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.SessionSummary{}).Error
}
