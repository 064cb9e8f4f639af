package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

const (
	examCodeLength   = 8
	examCodeAttempts = 5
)

type examService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewExamService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator) ExamService {
	return &examService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
	}
}

func (s *examService) Create(ctx context.Context, req *CreateExamRequest, ownerID string) (*models.Exam, error) {
	s.logger.Info("Creating exam", "title", req.Title, "owner_id", ownerID)

	if errs := s.validator.GetBusinessValidator().ValidateExamCreate(req); len(errs) > 0 {
		return nil, fmt.Errorf("validation failed: %w", errs)
	}

	canCreate, err := s.repo.User().HasRole(ctx, ownerID, models.RoleTeacher)
	if err != nil && !errors.Is(err, repositories.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check user role: %w", err)
	}
	if !canCreate {
		return nil, NewPermissionError(ownerID, 0, "exam", "create", "insufficient role permissions")
	}

	code, err := s.resolveCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	exam := &models.Exam{
		Code:              code,
		Title:             strings.TrimSpace(req.Title),
		Duration:          req.Duration,
		MaxClarifications: req.MaxClarifications,
		Questions:         datatypes.NewJSONSlice(buildQuestions(req.Questions)),
		Rubric:            datatypes.NewJSONSlice(buildRubric(req.Rubric)),
		OwnerID:           ownerID,
	}

	if err := s.repo.Exam().Create(ctx, s.db, exam); err != nil {
		if repositories.IsDuplicateError(err) {
			return nil, ErrExamCodeTaken
		}
		return nil, persistenceError("create exam", err)
	}

	s.logger.Info("Exam created", "exam_id", exam.ID, "code", exam.Code)
	return exam, nil
}

func (s *examService) GetByID(ctx context.Context, id uint, userID string) (*models.Exam, error) {
	exam, err := s.repo.Exam().GetByID(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, persistenceError("get exam", err)
	}

	if err := ensureExamOwner(ctx, s.repo.User(), exam, userID, "read"); err != nil {
		return nil, err
	}
	return exam, nil
}

func (s *examService) List(ctx context.Context, ownerID string, page, size int) (*ExamListResponse, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	exams, total, err := s.repo.Exam().List(ctx, s.db, repositories.ExamFilters{
		OwnerID: &ownerID,
		Limit:   size,
		Offset:  (page - 1) * size,
	})
	if err != nil {
		return nil, persistenceError("list exams", err)
	}
	if exams == nil {
		exams = []*models.Exam{}
	}

	return &ExamListResponse{Exams: exams, Total: total, Page: page, Size: size}, nil
}

// resolveCode normalises a requested code or generates a fresh one
func (s *examService) resolveCode(ctx context.Context, requested *string) (string, error) {
	if requested != nil && strings.TrimSpace(*requested) != "" {
		code := strings.ToUpper(strings.TrimSpace(*requested))
		exists, err := s.repo.Exam().ExistsByCode(ctx, s.db, code)
		if err != nil {
			return "", persistenceError("check exam code", err)
		}
		if exists {
			return "", ErrExamCodeTaken
		}
		return code, nil
	}

	for i := 0; i < examCodeAttempts; i++ {
		code := GenerateExamCode()
		exists, err := s.repo.Exam().ExistsByCode(ctx, s.db, code)
		if err != nil {
			return "", persistenceError("check exam code", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrExamCodeTaken
}

// GenerateExamCode returns eight upper-case hex characters from a random UUID
func GenerateExamCode() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(raw[:examCodeLength])
}

func buildQuestions(reqs []validator.QuestionRequest) []models.Question {
	questions := make([]models.Question, 0, len(reqs))
	for i, q := range reqs {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			id = fmt.Sprintf("q%d", i+1)
		}
		questions = append(questions, models.Question{
			ID:      id,
			Prompt:  strings.TrimSpace(q.Prompt),
			Type:    q.Type,
			Context: q.Context,
		})
	}
	return questions
}

func buildRubric(reqs []validator.RubricItemRequest) []models.RubricItem {
	rubric := make([]models.RubricItem, 0, len(reqs))
	for _, r := range reqs {
		rubric = append(rubric, models.RubricItem{
			EvaluationArea:   strings.TrimSpace(r.EvaluationArea),
			DetailedCriteria: strings.TrimSpace(r.DetailedCriteria),
		})
	}
	return rubric
}

// ensureExamOwner allows the exam owner and administrators
func ensureExamOwner(ctx context.Context, users repositories.UserRepository, exam *models.Exam, userID, action string) error {
	if exam.OwnerID == userID {
		return nil
	}
	if users != nil {
		isAdmin, err := users.HasRole(ctx, userID, models.RoleAdmin)
		if err != nil && !errors.Is(err, repositories.ErrUserNotFound) {
			return fmt.Errorf("failed to check user role: %w", err)
		}
		if isAdmin {
			return nil
		}
	}
	return NewPermissionError(userID, exam.ID, "exam", action, "not owner of the exam")
}
