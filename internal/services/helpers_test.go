package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/oracle"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

const (
	teacherID = "teacher-1"
	adminID   = "admin-1"
	studentID = "student-1"
)

var baseTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// ===== STUBS =====

type stubUsers struct {
	roles map[string]models.UserRole
}

func (u stubUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	role, ok := u.roles[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	return &models.User{ID: id, Role: role}, nil
}

func (u stubUsers) ExistsByID(ctx context.Context, id string) (bool, error) {
	_, ok := u.roles[id]
	return ok, nil
}

func (u stubUsers) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	got, ok := u.roles[id]
	if !ok {
		return false, repositories.ErrUserNotFound
	}
	return got == role, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubScorer returns scripted results per stage and records every request
type stubScorer struct {
	mu       sync.Mutex
	results  map[models.GradingStage]*oracle.ScoreResult
	failures map[models.GradingStage]bool
	calls    map[models.GradingStage]int
	requests []oracle.ScoreRequest

	summary        *oracle.SummaryResult
	summarizeCalls int

	// onScore runs before every Score call
	onScore func()
}

func newStubScorer() *stubScorer {
	return &stubScorer{
		results: map[models.GradingStage]*oracle.ScoreResult{
			models.StageChat:     {Score: 70, Comment: "engaged"},
			models.StageAnswer:   {Score: 80, Comment: "solid"},
			models.StageFeedback: {Score: 90, Comment: "good rebuttal"},
		},
		failures: map[models.GradingStage]bool{},
		calls:    map[models.GradingStage]int{},
	}
}

func (s *stubScorer) Score(ctx context.Context, req oracle.ScoreRequest) (*oracle.ScoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onScore != nil {
		s.onScore()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", oracle.ErrOracleFailure, err)
	}
	s.calls[req.Stage]++
	s.requests = append(s.requests, req)
	if s.failures[req.Stage] {
		return nil, fmt.Errorf("%w: scripted failure", oracle.ErrOracleFailure)
	}
	result, ok := s.results[req.Stage]
	if !ok {
		return nil, fmt.Errorf("%w: no script for %s", oracle.ErrOracleFailure, req.Stage)
	}
	out := *result
	return &out, nil
}

func (s *stubScorer) Summarize(ctx context.Context, req oracle.SummaryRequest) (*oracle.SummaryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summarizeCalls++
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", oracle.ErrOracleFailure, err)
	}
	if s.summary == nil {
		return nil, fmt.Errorf("%w: no summary scripted", oracle.ErrOracleFailure)
	}
	out := *s.summary
	return &out, nil
}

func (s *stubScorer) callsFor(stage models.GradingStage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

func (s *stubScorer) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

type stubAssistant struct {
	reply string
	err   error
	calls int
}

func (a *stubAssistant) Clarify(ctx context.Context, req oracle.ClarifyRequest) (string, error) {
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return a.reply, nil
}

// ===== ENVIRONMENT =====

type testEnv struct {
	db        *gorm.DB
	repo      repositories.Repository
	clock     *fakeClock
	scorer    *stubScorer
	assistant *stubAssistant
	publisher *events.MockEventPublisher

	exams    ExamService
	sessions SessionService
	grading  GradingService
	overview OverviewService

	logger    *slog.Logger
	validator *validator.Validator
	opts      Options
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&models.Exam{},
		&models.Session{},
		&models.Submission{},
		&models.Message{},
		&models.Grade{},
		&models.SessionSummary{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	users := stubUsers{roles: map[string]models.UserRole{
		teacherID:   models.RoleTeacher,
		"teacher-2": models.RoleTeacher,
		adminID:     models.RoleAdmin,
		studentID:   models.RoleStudent,
		"student-2": models.RoleStudent,
		"student-3": models.RoleStudent,
	}}
	repo := postgres.NewPostgreSQLRepository(postgres.RepositoryConfig{DB: db, UserRepository: users})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		db:        db,
		repo:      repo,
		clock:     &fakeClock{now: baseTime},
		scorer:    newStubScorer(),
		assistant: &stubAssistant{reply: "Focus on the second paragraph."},
		publisher: events.NewMockEventPublisher(logger),
		logger:    logger,
		validator: validator.New(),
	}
	env.opts = Options{
		Publisher:      env.publisher,
		Scorer:         env.scorer,
		Assistant:      env.assistant,
		GradingWorkers: 2,
		OracleTimeout:  5 * time.Second,
		Clock:          env.clock.Now,
	}
	env.buildServices()
	return env
}

func (e *testEnv) buildServices() {
	e.exams = NewExamService(e.repo, e.db, e.logger, e.validator)
	e.sessions = NewSessionService(e.repo, e.db, e.logger, e.validator, e.opts)
	e.grading = NewGradingService(e.repo, e.db, e.logger, e.validator, e.opts)
	e.overview = NewOverviewService(e.repo, e.db, e.logger, e.opts)
}

// useRedisCache rebuilds the services over a miniredis-backed cache
func (e *testEnv) useRedisCache(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e.opts.Cache = cache.NewCacheManager(client)
	e.buildServices()
	return mr
}

type examFixture struct {
	code              string
	duration          int
	maxClarifications int
	questions         []models.Question
	rubric            []models.RubricItem
}

func (e *testEnv) createExam(t *testing.T, fx examFixture) *models.Exam {
	t.Helper()
	if fx.code == "" {
		fx.code = "EXAM01"
	}
	if len(fx.questions) == 0 {
		fx.questions = []models.Question{
			{ID: "q1", Prompt: "Explain the trolley problem.", Type: models.QuestionEssay},
			{ID: "q2", Prompt: "Is lying ever justified?", Type: models.QuestionEssay},
		}
	}
	exam := &models.Exam{
		Code:              fx.code,
		Title:             "Ethics midterm",
		Duration:          fx.duration,
		MaxClarifications: fx.maxClarifications,
		Questions:         datatypes.NewJSONSlice(fx.questions),
		Rubric:            datatypes.NewJSONSlice(fx.rubric),
		OwnerID:           teacherID,
	}
	if err := e.repo.Exam().Create(context.Background(), nil, exam); err != nil {
		t.Fatalf("create exam: %v", err)
	}
	return exam
}

func (e *testEnv) initSession(t *testing.T, code, student string, fingerprint *string) *SessionView {
	t.Helper()
	view, err := e.sessions.InitSession(context.Background(), &InitSessionRequest{ExamCode: code, DeviceFingerprint: fingerprint}, student)
	if err != nil {
		t.Fatalf("InitSession(%s, %v) error = %v", student, fingerprint, err)
	}
	return view
}

func (e *testEnv) submit(t *testing.T, sessionID uint, student string, req *SubmitSessionRequest) *SubmitResult {
	t.Helper()
	if req == nil {
		req = &SubmitSessionRequest{}
	}
	result, err := e.sessions.Submit(context.Background(), sessionID, req, student)
	if err != nil {
		t.Fatalf("Submit(%d) error = %v", sessionID, err)
	}
	return result
}

func strPtr(s string) *string { return &s }

func intValue(p *int) string {
	if p == nil {
		return "nil"
	}
	return fmt.Sprint(*p)
}
