package services

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type overviewService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
	opts   Options
}

func NewOverviewService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, opts Options) OverviewService {
	return &overviewService{
		repo:   repo,
		db:     db,
		logger: logger,
		opts:   opts.withDefaults(),
	}
}

// bucketEdge is an inclusive upper bound; the last bucket is open ended
type bucketEdge struct {
	label string
	max   float64
}

var (
	scoreBuckets = []bucketEdge{
		{"0-20", 20}, {"21-40", 40}, {"41-60", 60}, {"61-80", 80}, {"81-100", math.Inf(1)},
	}
	questionCountBuckets = []bucketEdge{
		{"0", 0}, {"1-3", 3}, {"4-6", 6}, {"7-10", 10}, {"11+", math.Inf(1)},
	}
	answerLengthBuckets = []bucketEdge{
		{"0-100", 100}, {"101-300", 300}, {"301-500", 500}, {"501-1000", 1000}, {"1001+", math.Inf(1)},
	}
	durationBuckets = []bucketEdge{
		{"0-20", 20}, {"21-40", 40}, {"41-60", 60}, {"61-80", 80}, {"81+", math.Inf(1)},
	}
)

func (s *overviewService) GetExamOverview(ctx context.Context, examID uint, userID string) (*ExamOverview, error) {
	exam, err := s.loadOwnedExam(ctx, examID, userID)
	if err != nil {
		return nil, err
	}

	var overview ExamOverview
	err = s.opts.Cache.Overview.CacheOrExecute(ctx, cache.OverviewKey(examID), &overview, cache.OverviewCacheConfig.TTL, func() (interface{}, error) {
		return s.buildOverview(ctx, exam)
	})
	if err != nil {
		return nil, err
	}
	return &overview, nil
}

func (s *overviewService) loadOwnedExam(ctx context.Context, examID uint, userID string) (*models.Exam, error) {
	exam, err := s.repo.Exam().GetByID(ctx, s.db, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, persistenceError("get exam", err)
	}
	if err := ensureExamOwner(ctx, s.repo.User(), exam, userID, "view_overview"); err != nil {
		return nil, err
	}
	return exam, nil
}

func (s *overviewService) buildOverview(ctx context.Context, exam *models.Exam) (*ExamOverview, error) {
	all, err := s.repo.Session().ListByExam(ctx, s.db, exam.ID)
	if err != nil {
		return nil, persistenceError("list sessions", err)
	}
	sessions := RepresentativeSessions(all)

	ids := make([]uint, 0, len(sessions))
	for _, session := range sessions {
		ids = append(ids, session.ID)
	}

	var (
		submissions []*models.Submission
		grades      []*models.Grade
		summaries   []*models.SessionSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		submissions, err = s.repo.Submission().ListBySessions(gctx, s.db, ids)
		return err
	})
	g.Go(func() error {
		var err error
		grades, err = s.repo.Grade().ListBySessions(gctx, s.db, ids)
		return err
	})
	g.Go(func() error {
		var err error
		summaries, err = s.repo.Summary().ListBySessions(gctx, s.db, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, persistenceError("load overview data", err)
	}

	return ComputeOverview(exam, sessions, submissions, grades, summaries, s.opts.Clock()), nil
}

// RepresentativeSessions keeps one session per student: the latest submitted
// one if any, else the latest open one
func RepresentativeSessions(sessions []*models.Session) []*models.Session {
	chosen := make(map[string]*models.Session)
	for _, session := range sessions {
		current, ok := chosen[session.StudentID]
		if !ok || representsBetter(session, current) {
			chosen[session.StudentID] = session
		}
	}

	out := make([]*models.Session, 0, len(chosen))
	for _, session := range chosen {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

func representsBetter(a, b *models.Session) bool {
	if a.IsSubmitted() != b.IsSubmitted() {
		return a.IsSubmitted()
	}
	return newer(a, b)
}

// ComputeOverview aggregates per-student rows and exam statistics. It makes no
// oracle calls.
func ComputeOverview(exam *models.Exam, sessions []*models.Session, submissions []*models.Submission, grades []*models.Grade, summaries []*models.SessionSummary, now time.Time) *ExamOverview {
	subsBySession := make(map[uint][]*models.Submission)
	for _, sub := range submissions {
		subsBySession[sub.SessionID] = append(subsBySession[sub.SessionID], sub)
	}
	gradesBySession := make(map[uint][]*models.Grade)
	for _, g := range grades {
		gradesBySession[g.SessionID] = append(gradesBySession[g.SessionID], g)
	}
	sentimentBySession := make(map[uint]models.Sentiment)
	for _, sm := range summaries {
		sentimentBySession[sm.SessionID] = sm.Sentiment
	}

	overview := &ExamOverview{
		ExamID:   exam.ID,
		Title:    exam.Title,
		Students: make([]*StudentOverview, 0, len(sessions)),
	}

	var scores, questionCounts, answerLengths, durations []float64
	stageTotals := make(map[models.GradingStage]*runningMean)
	rubricTotals := make(map[string]*runningMean)

	for _, session := range sessions {
		row := &StudentOverview{
			StudentID:   session.StudentID,
			SessionID:   session.ID,
			State:       session.State(),
			SubmittedAt: session.SubmittedAt,
		}

		for _, sub := range orderedSubmissions(subsBySession[session.ID]) {
			if sub.Answer != "" {
				row.QuestionCount++
			}
			row.AnswerLength += utf8.RuneCountInString(sub.Answer)
		}
		row.DurationMinutes = round1(sessionMinutes(session, now))

		sessionGrades := gradesBySession[session.ID]
		row.GradedQuestions = len(sessionGrades)
		row.Score = overallScore(sessionGrades)
		for _, g := range sessionGrades {
			sg := g.StageGrading.Data()
			for _, stage := range sg.Stages() {
				stageScore := sg.Get(stage)
				meanFor(stageTotals, stage).add(float64(stageScore.Score))
				for area, v := range stageScore.RubricScores {
					meanFor(rubricTotals, area).add(float64(v))
				}
			}
		}

		if sentiment, ok := sentimentBySession[session.ID]; ok {
			row.Sentiment = &sentiment
		}

		overview.Students = append(overview.Students, row)

		if row.Score != nil {
			scores = append(scores, *row.Score)
			overview.Statistics.Graded++
		}
		if session.IsSubmitted() {
			overview.Statistics.Submitted++
		}
		questionCounts = append(questionCounts, float64(row.QuestionCount))
		answerLengths = append(answerLengths, float64(row.AnswerLength))
		durations = append(durations, row.DurationMinutes)
	}

	overview.Statistics.Students = len(sessions)
	overview.Statistics.Score = metricStats(scores, scoreBuckets, true)
	overview.Statistics.QuestionCount = metricStats(questionCounts, questionCountBuckets, false)
	overview.Statistics.AnswerLength = metricStats(answerLengths, answerLengthBuckets, false)
	overview.Statistics.SessionMinutes = metricStats(durations, durationBuckets, true)

	overview.StageAnalysis = make([]StageAnalysis, 0, len(models.GradingStages))
	for _, stage := range models.GradingStages {
		m := stageTotals[stage]
		if m == nil {
			overview.StageAnalysis = append(overview.StageAnalysis, StageAnalysis{Stage: stage})
			continue
		}
		overview.StageAnalysis = append(overview.StageAnalysis, StageAnalysis{
			Stage:        stage,
			AverageScore: round1(m.mean()),
			Count:        m.n,
		})
	}

	overview.RubricAnalysis = rubricAnalysis(exam.RubricAreas(), rubricTotals)
	return overview
}

// rubricAnalysis lists rubric dimensions in exam order, then any other
// dimension found in stage grades by name
func rubricAnalysis(areas []string, totals map[string]*runningMean) []RubricAnalysis {
	out := make([]RubricAnalysis, 0, len(totals))
	seen := make(map[string]bool, len(areas))
	for _, area := range areas {
		seen[area] = true
		m := totals[area]
		if m == nil {
			out = append(out, RubricAnalysis{EvaluationArea: area})
			continue
		}
		out = append(out, RubricAnalysis{EvaluationArea: area, AverageScore: round1(m.mean()), Count: m.n})
	}

	var extra []string
	for area := range totals {
		if !seen[area] {
			extra = append(extra, area)
		}
	}
	sort.Strings(extra)
	for _, area := range extra {
		m := totals[area]
		out = append(out, RubricAnalysis{EvaluationArea: area, AverageScore: round1(m.mean()), Count: m.n})
	}
	return out
}

// sessionMinutes is the time from creation to submission, or to the last sign
// of life for open sessions
func sessionMinutes(session *models.Session, now time.Time) float64 {
	end := now
	switch {
	case session.SubmittedAt != nil:
		end = *session.SubmittedAt
	case session.LastHeartbeatAt != nil:
		end = *session.LastHeartbeatAt
	}
	minutes := end.Sub(session.CreatedAt).Minutes()
	if minutes < 0 {
		return 0
	}
	return minutes
}

type runningMean struct {
	sum float64
	n   int
}

func (m *runningMean) add(v float64) {
	m.sum += v
	m.n++
}

func (m *runningMean) mean() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

func meanFor[K comparable](totals map[K]*runningMean, key K) *runningMean {
	m, ok := totals[key]
	if !ok {
		m = &runningMean{}
		totals[key] = m
	}
	return m
}

// metricStats returns mean, population standard deviation and the bucket
// counts of values. roundFirst buckets continuous values by their rounded value.
func metricStats(values []float64, edges []bucketEdge, roundFirst bool) MetricStats {
	stats := MetricStats{Distribution: make([]Bucket, len(edges))}
	for i, e := range edges {
		stats.Distribution[i] = Bucket{Label: e.label}
	}
	if len(values) == 0 {
		return stats
	}

	sum := 0.0
	for _, v := range values {
		sum += v
		x := v
		if roundFirst {
			x = math.Round(v)
		}
		stats.Distribution[bucketIndex(x, edges)].Count++
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	stats.Average = round1(mean)
	stats.StdDev = round1(math.Sqrt(variance))
	return stats
}

func bucketIndex(v float64, edges []bucketEdge) int {
	for i, e := range edges {
		if v <= e.max {
			return i
		}
	}
	return len(edges) - 1
}
