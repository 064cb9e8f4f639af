package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

const (
	messageAlreadyGraded = "already graded"
	messageNoEvidence    = "no question had enough evidence to grade"
)

var errAlreadyGraded = errors.New("session graded concurrently")

type gradingService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	opts      Options
}

func NewGradingService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, opts Options) GradingService {
	return &gradingService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		opts:      opts.withDefaults(),
	}
}

// ===== READ =====

func (s *gradingService) GetGrading(ctx context.Context, sessionID uint, userID string) (*GradingView, error) {
	session, exam, err := s.loadForInstructor(ctx, sessionID, userID, "view_grading")
	if err != nil {
		return nil, err
	}

	var (
		submissions []*models.Submission
		messages    []*models.Message
		grades      []*models.Grade
		summary     *models.SessionSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		submissions, err = s.repo.Submission().ListBySession(gctx, s.db, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		messages, err = s.repo.Message().ListBySession(gctx, s.db, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		grades, err = s.repo.Grade().ListBySession(gctx, s.db, sessionID)
		return err
	})
	g.Go(func() error {
		found, err := s.repo.Summary().GetBySession(gctx, s.db, sessionID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return nil
			}
			return err
		}
		summary = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, persistenceError("load grading view", err)
	}

	gradesByQuestion := make(map[int]*models.Grade, len(grades))
	for _, grade := range grades {
		gradesByQuestion[grade.QuestionIndex] = grade
	}

	return &GradingView{
		Session:               session,
		Exam:                  exam,
		SubmissionsByQuestion: submissionsByQuestion(submissions),
		MessagesByQuestion:    messagesByQuestion(messages),
		GradesByQuestion:      gradesByQuestion,
		Summary:               summary,
		OverallScore:          overallScore(grades),
	}, nil
}

// ===== MANUAL GRADING =====

func (s *gradingService) SaveGrade(ctx context.Context, sessionID uint, questionIndex int, req *SaveGradeRequest, graderID string) (*models.Grade, error) {
	s.logger.Info("Saving manual grade",
		"session_id", sessionID,
		"question_index", questionIndex,
		"grader_id", graderID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	session, exam, err := s.loadForInstructor(ctx, sessionID, graderID, "grade")
	if err != nil {
		return nil, err
	}
	if !exam.HasQuestion(questionIndex) {
		return nil, ErrInvalidQuestionIndex
	}
	if !session.IsSubmitted() {
		return nil, ErrSessionNotSubmitted
	}

	stages := models.StageGrading{}
	if req.StageGrading != nil {
		stages = clampStageGrading(*req.StageGrading)
	}

	grade := &models.Grade{
		SessionID:     sessionID,
		QuestionIndex: questionIndex,
		Score:         clampRound(float64(req.Score), models.MinScore, models.MaxScore),
		Comment:       req.Comment,
		StageGrading:  datatypes.NewJSONType(stages),
		GradedBy:      &graderID,
	}
	if err := s.repo.Grade().Upsert(ctx, s.db, grade); err != nil {
		return nil, persistenceError("save grade", err)
	}
	cache.InvalidateOverviewCache(ctx, s.opts.Cache, exam.ID)

	// reload, an upsert that hit the conflict path does not report the row id
	grades, err := s.repo.Grade().ListBySession(ctx, s.db, sessionID)
	if err != nil {
		return nil, persistenceError("reload grade", err)
	}
	for _, g := range grades {
		if g.QuestionIndex == questionIndex {
			return g, nil
		}
	}
	return nil, ErrGradeNotFound
}

// ===== AUTOMATED GRADING =====

func (s *gradingService) AutoGrade(ctx context.Context, sessionID uint, force bool, userID string) (*AutoGradeResult, error) {
	s.logger.Info("Auto-grading session", "session_id", sessionID, "force", force, "user_id", userID)

	session, exam, err := s.loadForInstructor(ctx, sessionID, userID, "auto_grade")
	if err != nil {
		return nil, err
	}
	return s.autoGrade(ctx, session, exam, force, &userID)
}

func (s *gradingService) GradeSubmittedSession(ctx context.Context, event events.SessionSubmittedEvent) error {
	session, err := s.repo.Session().GetByID(ctx, s.db, event.SessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			s.logger.Warn("Submitted session no longer exists, skipping grading", "session_id", event.SessionID)
			return nil
		}
		return persistenceError("get session", err)
	}
	exam, err := s.repo.Exam().GetByID(ctx, s.db, session.ExamID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			s.logger.Warn("Exam of submitted session no longer exists, skipping grading", "session_id", session.ID)
			return nil
		}
		return persistenceError("get exam", err)
	}

	result, err := s.autoGrade(ctx, session, exam, false, nil)
	if err != nil {
		if errors.Is(err, ErrSessionNotSubmitted) {
			s.logger.Warn("Submitted event for an open session, skipping grading", "session_id", session.ID)
			return nil
		}
		return err
	}

	s.logger.Info("Submitted session graded",
		"session_id", session.ID,
		"grades_count", result.GradesCount,
		"skipped", result.Skipped)
	return nil
}

func (s *gradingService) autoGrade(ctx context.Context, session *models.Session, exam *models.Exam, force bool, actor *string) (*AutoGradeResult, error) {
	if !session.IsSubmitted() {
		return nil, ErrSessionNotSubmitted
	}

	existing, err := s.repo.Grade().ListBySession(ctx, s.db, session.ID)
	if err != nil {
		return nil, persistenceError("list grades", err)
	}
	if len(existing) > 0 && !force {
		s.logger.Info("Session already graded, skipping", "session_id", session.ID, "grades", len(existing))
		return skippedResult(session.ID, existing), nil
	}

	var (
		submissions []*models.Submission
		messages    []*models.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		submissions, err = s.repo.Submission().ListBySession(gctx, s.db, session.ID)
		return err
	})
	g.Go(func() error {
		var err error
		messages, err = s.repo.Message().ListBySession(gctx, s.db, session.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, persistenceError("load grading evidence", err)
	}

	// oracle calls are paid for, a client hanging up must not throw their results away
	ctx = context.WithoutCancel(ctx)

	evidence := newEvidence(exam, submissionsByQuestion(submissions), messagesByQuestion(messages))
	grades := s.runPipeline(ctx, session.ID, evidence)
	summary := s.summarize(ctx, session.ID, evidence, grades)

	err = s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		if force {
			if err := tx.Grade().DeleteBySession(ctx, nil, session.ID); err != nil {
				return err
			}
			if err := tx.Summary().DeleteBySession(ctx, nil, session.ID); err != nil {
				return err
			}
		} else {
			count, err := tx.Grade().CountBySession(ctx, nil, session.ID)
			if err != nil {
				return err
			}
			if count > 0 {
				return errAlreadyGraded
			}
		}

		if len(grades) > 0 {
			if err := tx.Grade().CreateBatch(ctx, nil, grades); err != nil {
				return err
			}
		}
		if summary != nil {
			if err := tx.Summary().Upsert(ctx, nil, summary); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errAlreadyGraded) {
		current, err := s.repo.Grade().ListBySession(ctx, s.db, session.ID)
		if err != nil {
			return nil, persistenceError("list grades", err)
		}
		return skippedResult(session.ID, current), nil
	}
	if err != nil {
		return nil, persistenceError("store grades", err)
	}

	s.publishGraded(ctx, session, len(grades), force, actor)
	cache.InvalidateOverviewCache(ctx, s.opts.Cache, session.ExamID)

	result := &AutoGradeResult{
		SessionID:   session.ID,
		GradesCount: len(grades),
		Grades:      grades,
		Summarized:  summary != nil,
	}
	if len(grades) == 0 {
		result.Message = messageNoEvidence
	}

	s.logger.Info("Session auto-graded",
		"session_id", session.ID,
		"grades_count", result.GradesCount,
		"questions", len(exam.Questions),
		"summarized", result.Summarized,
		"forced", force)

	return result, nil
}

func (s *gradingService) publishGraded(ctx context.Context, session *models.Session, count int, forced bool, actor *string) {
	if s.opts.Publisher == nil {
		return
	}
	event := events.NewEvent(events.TopicSessionGraded, events.SessionGradedEvent{
		SessionID:   session.ID,
		ExamID:      session.ExamID,
		GradesCount: count,
		Forced:      forced,
		GradedBy:    actor,
	})
	if err := s.opts.Publisher.Publish(context.WithoutCancel(ctx), events.TopicSessionGraded, event); err != nil {
		s.logger.Error("Failed to publish session graded event", "session_id", session.ID, "error", err)
	}
}

// ===== HELPERS =====

func (s *gradingService) loadForInstructor(ctx context.Context, sessionID uint, userID, action string) (*models.Session, *models.Exam, error) {
	session, err := s.repo.Session().GetByID(ctx, s.db, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, persistenceError("get session", err)
	}

	exam, err := s.repo.Exam().GetByID(ctx, s.db, session.ExamID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrExamNotFound
		}
		return nil, nil, persistenceError("get exam", err)
	}

	if err := ensureExamOwner(ctx, s.repo.User(), exam, userID, action); err != nil {
		return nil, nil, err
	}
	return session, exam, nil
}

func skippedResult(sessionID uint, grades []*models.Grade) *AutoGradeResult {
	sort.Slice(grades, func(i, j int) bool { return grades[i].QuestionIndex < grades[j].QuestionIndex })
	return &AutoGradeResult{
		SessionID:   sessionID,
		GradesCount: len(grades),
		Grades:      grades,
		Skipped:     true,
		Message:     messageAlreadyGraded,
	}
}

// overallScore is the mean question score to one decimal, nil when ungraded
func overallScore(grades []*models.Grade) *float64 {
	if len(grades) == 0 {
		return nil
	}
	total := 0
	for _, g := range grades {
		total += g.Score
	}
	score := round1(float64(total) / float64(len(grades)))
	return &score
}
