package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/oracle"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

type sessionService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	opts      Options
}

func NewSessionService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, opts Options) SessionService {
	return &sessionService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		opts:      opts.withDefaults(),
	}
}

// ===== SESSION REGISTRY =====

func (s *sessionService) InitSession(ctx context.Context, req *InitSessionRequest, studentID string) (*SessionView, error) {
	s.logger.Info("Initializing exam session", "exam_code", req.ExamCode, "student_id", studentID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	code := strings.ToUpper(strings.TrimSpace(req.ExamCode))
	exam, err := s.repo.Exam().GetByCode(ctx, s.db, code)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, persistenceError("get exam", err)
	}

	fingerprint := normalizeFingerprint(req.DeviceFingerprint)

	view, err := s.initOnce(ctx, exam, studentID, fingerprint)
	if errors.Is(err, errBindingRace) {
		// another request for the same student won; resolve against its result
		s.logger.Warn("Concurrent session initialization, resolving again",
			"exam_id", exam.ID,
			"student_id", studentID)
		view, err = s.initOnce(ctx, exam, studentID, fingerprint)
	}
	if err != nil {
		if errors.Is(err, errBindingRace) {
			return nil, ErrSessionInitConflict
		}
		return nil, err
	}

	s.logger.Info("Exam session initialized",
		"session_id", view.Session.ID,
		"state", view.State,
		"auto_submitted", view.AutoSubmitted)

	return view, nil
}

func (s *sessionService) initOnce(ctx context.Context, exam *models.Exam, studentID string, fingerprint *string) (*SessionView, error) {
	now := s.opts.Clock()

	latest, err := s.repo.Session().GetLatestSubmitted(ctx, s.db, exam.ID, studentID)
	if err == nil {
		view, err := s.buildView(ctx, exam, latest, now)
		if err != nil {
			return nil, err
		}
		view.State = models.SessionRetakeBlocked
		view.IsRetakeBlocked = true
		return view, nil
	}
	if !repositories.IsNotFoundError(err) {
		return nil, persistenceError("get submitted session", err)
	}

	var session *models.Session
	autoSubmitted := false
	created := false

	// repositories handed to the callback are bound to the transaction
	err = s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		open, err := tx.Session().ListUnsubmitted(ctx, nil, exam.ID, studentID)
		if err != nil {
			return err
		}

		candidate, legacy := ResolveDeviceBinding(fingerprint, open)
		switch {
		case candidate == nil:
			session = &models.Session{
				ExamID:            exam.ID,
				StudentID:         studentID,
				DeviceFingerprint: fingerprint,
				IsActive:          true,
				LastHeartbeatAt:   &now,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := tx.Session().Create(ctx, nil, session); err != nil {
				if repositories.IsDuplicateError(err) {
					return errBindingRace
				}
				return err
			}
			created = true

		case IsExpired(exam, candidate, now):
			ok, err := tx.Session().MarkSubmitted(ctx, nil, candidate.ID, now, models.SubmitReasonTimeOut)
			if err != nil {
				return err
			}
			if !ok {
				return errBindingRace
			}
			markSubmitted(candidate, now, models.SubmitReasonTimeOut)
			session = candidate
			autoSubmitted = true

		default:
			if legacy {
				ok, err := tx.Session().ClaimDevice(ctx, nil, candidate.ID, *fingerprint)
				if err != nil {
					if repositories.IsDuplicateError(err) {
						return errBindingRace
					}
					return err
				}
				if !ok {
					return errBindingRace
				}
				candidate.DeviceFingerprint = fingerprint
			}
			if err := tx.Session().Activate(ctx, nil, candidate.ID, now); err != nil {
				return err
			}
			candidate.IsActive = true
			candidate.LastHeartbeatAt = &now
			session = candidate
		}
		return nil
	})
	if err != nil {
		return nil, persistenceError("init session", err)
	}

	if autoSubmitted {
		s.afterSubmit(ctx, session, models.SubmitReasonTimeOut)
	}
	if created {
		// the overview lists every session of the exam
		cache.InvalidateOverviewCache(ctx, s.opts.Cache, exam.ID)
	}

	view, err := s.buildView(ctx, exam, session, now)
	if err != nil {
		return nil, err
	}
	if autoSubmitted {
		view.AutoSubmitted = true
		view.TimeExpired = true
	}
	return view, nil
}

func (s *sessionService) buildView(ctx context.Context, exam *models.Exam, session *models.Session, now time.Time) (*SessionView, error) {
	messages, err := s.repo.Message().ListBySession(ctx, s.db, session.ID)
	if err != nil {
		return nil, persistenceError("list messages", err)
	}
	if messages == nil {
		messages = []*models.Message{}
	}

	return &SessionView{
		Exam:             exam,
		Session:          session,
		State:            session.State(),
		Messages:         messages,
		RemainingSeconds: RemainingSeconds(exam, session, now),
	}, nil
}

// ===== SUBMISSION STORE =====

func (s *sessionService) SaveDraft(ctx context.Context, sessionID uint, questionIndex int, req *SaveDraftRequest, studentID string) (*models.Submission, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	session, exam, err := s.loadOwnedSession(ctx, sessionID, studentID, "save_draft")
	if err != nil {
		return nil, err
	}
	if !exam.HasQuestion(questionIndex) {
		return nil, ErrInvalidQuestionIndex
	}
	if err := s.ensureWritable(ctx, exam, session); err != nil {
		return nil, err
	}

	var saved *models.Submission
	err = s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		current, err := tx.Session().GetByID(ctx, nil, sessionID)
		if err != nil {
			return err
		}
		if current.IsSubmitted() {
			return ErrSessionAlreadySubmitted
		}

		saved, err = upsertAnswer(ctx, tx, sessionID, questionIndex, req.Answer, nil, nil, s.opts.Clock())
		return err
	})
	if err != nil {
		return nil, persistenceError("save draft", err)
	}
	cache.InvalidateOverviewCache(ctx, s.opts.Cache, exam.ID)

	s.logger.Debug("Draft saved",
		"session_id", sessionID,
		"question_index", questionIndex,
		"edit_count", saved.EditCount)

	return saved, nil
}

// upsertAnswer writes the answer of one question through the unique
// (session, question) row, keeping its edit history
func upsertAnswer(ctx context.Context, tx repositories.Repository, sessionID uint, questionIndex int, text string, feedback, reply *string, now time.Time) (*models.Submission, error) {
	rows, err := tx.Submission().ListBySessionAndQuestion(ctx, nil, sessionID, questionIndex)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		submission := NewSubmission(sessionID, questionIndex, text, now)
		submission.Feedback = feedback
		submission.FeedbackReply = reply
		if err := tx.Submission().Create(ctx, nil, submission); err != nil {
			return nil, err
		}
		return submission, nil
	}

	submission := PickSubmission(rows)
	changed := ApplyDraft(submission, text)
	if feedback != nil && (submission.Feedback == nil || *submission.Feedback != *feedback) {
		submission.Feedback = feedback
		changed = true
	}
	if reply != nil && (submission.FeedbackReply == nil || *submission.FeedbackReply != *reply) {
		submission.FeedbackReply = reply
		changed = true
	}
	if changed {
		if err := tx.Submission().Update(ctx, nil, submission); err != nil {
			return nil, err
		}
	}
	return submission, nil
}

// ===== SUBMIT =====

func (s *sessionService) Submit(ctx context.Context, sessionID uint, req *SubmitSessionRequest, studentID string) (*SubmitResult, error) {
	s.logger.Info("Submitting exam session", "session_id", sessionID, "student_id", studentID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	session, exam, err := s.loadOwnedSession(ctx, sessionID, studentID, "submit")
	if err != nil {
		return nil, err
	}
	if session.IsSubmitted() {
		return nil, ErrSessionAlreadySubmitted
	}
	for _, a := range req.Answers {
		if !exam.HasQuestion(a.QuestionIndex) {
			return nil, ErrInvalidQuestionIndex
		}
	}
	for _, m := range req.Transcript {
		if !exam.HasQuestion(m.QuestionIndex) {
			return nil, ErrInvalidQuestionIndex
		}
	}

	now := s.opts.Clock()
	if IsExpired(exam, session, now) {
		// closes the session as time_out, the late payload is not stored
		return nil, s.ensureWritable(ctx, exam, session)
	}
	reason := models.SubmitReasonSubmitted

	err = s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		for _, a := range req.Answers {
			if _, err := upsertAnswer(ctx, tx, sessionID, a.QuestionIndex, a.Answer, a.Feedback, a.FeedbackReply, now); err != nil {
				return err
			}
		}

		if len(req.Transcript) > 0 {
			// only the questions present in the transcript are replaced
			if err := tx.Message().DeleteBySessionQuestions(ctx, nil, sessionID, transcriptQuestions(req.Transcript)); err != nil {
				return err
			}
			messages := make([]*models.Message, 0, len(req.Transcript))
			for _, m := range req.Transcript {
				messages = append(messages, &models.Message{
					SessionID:     sessionID,
					QuestionIndex: m.QuestionIndex,
					Role:          m.Role,
					Content:       m.Content,
					CreatedAt:     now,
				})
			}
			if err := tx.Message().CreateBatch(ctx, nil, messages); err != nil {
				return err
			}
		}

		ok, err := tx.Session().MarkSubmitted(ctx, nil, sessionID, now, reason)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSessionAlreadySubmitted
		}
		return nil
	})
	if err != nil {
		return nil, persistenceError("submit session", err)
	}

	markSubmitted(session, now, reason)
	s.afterSubmit(ctx, session, reason)

	rows, err := s.repo.Submission().ListBySession(ctx, s.db, sessionID)
	if err != nil {
		return nil, persistenceError("list submissions", err)
	}

	s.logger.Info("Exam session submitted",
		"session_id", sessionID,
		"reason", reason,
		"answers", len(req.Answers))

	return &SubmitResult{
		Session:     session,
		Submissions: orderedSubmissions(rows),
	}, nil
}

func transcriptQuestions(transcript []validator.TranscriptMessageRequest) []int {
	seen := make(map[int]bool, len(transcript))
	indexes := make([]int, 0, len(transcript))
	for _, m := range transcript {
		if !seen[m.QuestionIndex] {
			seen[m.QuestionIndex] = true
			indexes = append(indexes, m.QuestionIndex)
		}
	}
	return indexes
}

// ===== HEARTBEAT & CLARIFICATIONS =====

func (s *sessionService) Heartbeat(ctx context.Context, sessionID uint, studentID string) (*HeartbeatResult, error) {
	session, exam, err := s.loadOwnedSession(ctx, sessionID, studentID, "heartbeat")
	if err != nil {
		return nil, err
	}
	if err := s.ensureWritable(ctx, exam, session); err != nil {
		return nil, err
	}

	now := s.opts.Clock()
	if err := s.repo.Session().TouchHeartbeat(ctx, s.db, sessionID, now); err != nil {
		return nil, persistenceError("touch heartbeat", err)
	}

	return &HeartbeatResult{
		SessionID:        sessionID,
		State:            models.SessionActive,
		RemainingSeconds: RemainingSeconds(exam, session, now),
	}, nil
}

func (s *sessionService) AskClarification(ctx context.Context, sessionID uint, req *ClarificationRequest, studentID string) (*ClarificationResult, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	session, exam, err := s.loadOwnedSession(ctx, sessionID, studentID, "ask_clarification")
	if err != nil {
		return nil, err
	}
	if !exam.HasQuestion(req.QuestionIndex) {
		return nil, ErrInvalidQuestionIndex
	}
	if err := s.ensureWritable(ctx, exam, session); err != nil {
		return nil, err
	}
	if exam.MaxClarifications > 0 && session.UsedClarifications >= exam.MaxClarifications {
		return nil, NewBusinessRuleError("max_clarifications", "clarification limit reached for this session", map[string]interface{}{
			"max":  exam.MaxClarifications,
			"used": session.UsedClarifications,
		})
	}
	if s.opts.Assistant == nil {
		return nil, fmt.Errorf("%w: no assistant configured", ErrOracleFailure)
	}

	all, err := s.repo.Message().ListBySession(ctx, s.db, sessionID)
	if err != nil {
		return nil, persistenceError("list messages", err)
	}
	history := messagesByQuestion(all)[req.QuestionIndex]

	callCtx, cancel := context.WithTimeout(ctx, s.opts.OracleTimeout)
	reply, err := s.opts.Assistant.Clarify(callCtx, oracle.ClarifyRequest{
		ExamTitle: exam.Title,
		Question:  exam.Questions[req.QuestionIndex],
		History:   history,
		Text:      req.Question,
	})
	cancel()
	if err != nil {
		s.logger.Warn("Clarification assistant failed",
			"session_id", sessionID,
			"question_index", req.QuestionIndex,
			"error", err)
		if !errors.Is(err, ErrOracleFailure) {
			err = fmt.Errorf("%w: %v", ErrOracleFailure, err)
		}
		return nil, err
	}

	now := s.opts.Clock()
	question := &models.Message{
		SessionID:     sessionID,
		QuestionIndex: req.QuestionIndex,
		Role:          models.RoleUserMessage,
		Content:       req.Question,
		CreatedAt:     now,
	}
	answer := &models.Message{
		SessionID:     sessionID,
		QuestionIndex: req.QuestionIndex,
		Role:          models.RoleAssistantMessage,
		Content:       reply,
		CreatedAt:     now,
	}

	err = s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		if err := tx.Message().CreateBatch(ctx, nil, []*models.Message{question, answer}); err != nil {
			return err
		}
		return tx.Session().IncrementClarifications(ctx, nil, sessionID)
	})
	if err != nil {
		return nil, persistenceError("store clarification", err)
	}

	result := &ClarificationResult{
		Question:           question,
		Answer:             answer,
		UsedClarifications: session.UsedClarifications + 1,
	}
	if exam.MaxClarifications > 0 {
		left := exam.MaxClarifications - result.UsedClarifications
		result.RemainingAllowed = &left
	}
	return result, nil
}

// ===== HELPERS =====

func (s *sessionService) loadOwnedSession(ctx context.Context, sessionID uint, studentID, action string) (*models.Session, *models.Exam, error) {
	session, err := s.repo.Session().GetByID(ctx, s.db, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, persistenceError("get session", err)
	}
	if session.StudentID != studentID {
		return nil, nil, NewPermissionError(studentID, sessionID, "session", action, "not owned by student")
	}

	exam, err := s.repo.Exam().GetByID(ctx, s.db, session.ExamID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrExamNotFound
		}
		return nil, nil, persistenceError("get exam", err)
	}
	return session, exam, nil
}

// ensureWritable rejects writes to finished sessions. A session whose time ran
// out is auto-submitted on the spot.
func (s *sessionService) ensureWritable(ctx context.Context, exam *models.Exam, session *models.Session) error {
	if session.IsSubmitted() {
		return ErrSessionAlreadySubmitted
	}

	now := s.opts.Clock()
	if !IsExpired(exam, session, now) {
		return nil
	}

	ok, err := s.repo.Session().MarkSubmitted(ctx, s.db, session.ID, now, models.SubmitReasonTimeOut)
	if err != nil {
		return persistenceError("auto-submit session", err)
	}
	if ok {
		markSubmitted(session, now, models.SubmitReasonTimeOut)
		s.afterSubmit(ctx, session, models.SubmitReasonTimeOut)
	}
	return ErrSessionTimeExpired
}

func (s *sessionService) afterSubmit(ctx context.Context, session *models.Session, reason string) {
	if reason == models.SubmitReasonTimeOut {
		s.logger.Info("Session auto-submitted after time limit",
			"session_id", session.ID,
			"exam_id", session.ExamID)
	}
	publishSubmitted(ctx, s.opts.Publisher, s.logger, session, reason)
	cache.InvalidateOverviewCache(ctx, s.opts.Cache, session.ExamID)
}

func markSubmitted(session *models.Session, at time.Time, reason string) {
	session.SubmittedAt = &at
	session.SubmitReason = &reason
	session.IsActive = false
}
