package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

func overviewFixture() (*models.Exam, []*models.Session, []*models.Submission, []*models.Grade, []*models.SessionSummary) {
	exam := &models.Exam{
		ID:        1,
		Title:     "Ethics midterm",
		Questions: datatypes.NewJSONSlice([]models.Question{{ID: "q1"}, {ID: "q2"}}),
		Rubric:    datatypes.NewJSONSlice([]models.RubricItem{{EvaluationArea: "clarity"}}),
	}

	at := func(minutes int) *time.Time {
		t := baseTime.Add(time.Duration(minutes) * time.Minute)
		return &t
	}
	reason := models.SubmitReasonSubmitted
	sessions := []*models.Session{
		{ID: 1, ExamID: 1, StudentID: "a", CreatedAt: baseTime, SubmittedAt: at(30), SubmitReason: &reason},
		{ID: 2, ExamID: 1, StudentID: "b", CreatedAt: baseTime, SubmittedAt: at(45), SubmitReason: &reason},
		{ID: 3, ExamID: 1, StudentID: "c", CreatedAt: baseTime, IsActive: true, LastHeartbeatAt: at(10)},
	}

	submissions := []*models.Submission{
		{ID: 1, SessionID: 1, QuestionIndex: 0, Answer: "hello"},
		{ID: 2, SessionID: 1, QuestionIndex: 1, Answer: ""},
		{ID: 3, SessionID: 2, QuestionIndex: 0, Answer: "안녕하세요"},
		{ID: 4, SessionID: 2, QuestionIndex: 1, Answer: strings.Repeat("x", 200)},
	}

	stage := func(score int, rubric map[string]int) datatypes.JSONType[models.StageGrading] {
		return datatypes.NewJSONType(models.StageGrading{Answer: &models.StageScore{Score: score, RubricScores: rubric}})
	}
	grades := []*models.Grade{
		{SessionID: 1, QuestionIndex: 0, Score: 80, StageGrading: stage(80, map[string]int{"clarity": 4})},
		{SessionID: 2, QuestionIndex: 0, Score: 60, StageGrading: stage(60, map[string]int{"clarity": 2, "tone": 3})},
		{SessionID: 2, QuestionIndex: 1, Score: 70, StageGrading: stage(70, nil)},
	}

	summaries := []*models.SessionSummary{{SessionID: 1, Sentiment: models.SentimentPositive}}
	return exam, sessions, submissions, grades, summaries
}

func bucketCounts(stats MetricStats) map[string]int {
	out := make(map[string]int, len(stats.Distribution))
	for _, b := range stats.Distribution {
		out[b.Label] = b.Count
	}
	return out
}

func TestComputeOverview(t *testing.T) {
	exam, sessions, submissions, grades, summaries := overviewFixture()
	overview := ComputeOverview(exam, sessions, submissions, grades, summaries, baseTime.Add(time.Hour))

	stats := overview.Statistics
	if stats.Students != 3 || stats.Submitted != 2 || stats.Graded != 2 {
		t.Errorf("counts = %d/%d/%d, want 3/2/2", stats.Students, stats.Submitted, stats.Graded)
	}

	rows := make(map[string]*StudentOverview)
	for _, row := range overview.Students {
		rows[row.StudentID] = row
	}
	if a := rows["a"]; a.QuestionCount != 1 || a.AnswerLength != 5 || a.DurationMinutes != 30 || a.Sentiment == nil {
		t.Errorf("student a = %+v", a)
	}
	if b := rows["b"]; b.QuestionCount != 2 || b.AnswerLength != 205 || b.Score == nil || *b.Score != 65 {
		t.Errorf("student b = %+v", b)
	}
	if c := rows["c"]; c.Score != nil || c.DurationMinutes != 10 || c.State != models.SessionActive {
		t.Errorf("student c = %+v", c)
	}

	if stats.Score.Average != 72.5 || stats.Score.StdDev != 7.5 {
		t.Errorf("score stats = %+v, want 72.5 and 7.5", stats.Score)
	}
	if got := bucketCounts(stats.Score); got["61-80"] != 2 || got["81-100"] != 0 {
		t.Errorf("score buckets = %v", got)
	}

	if stats.QuestionCount.Average != 1 || stats.QuestionCount.StdDev != 0.8 {
		t.Errorf("question count stats = %+v", stats.QuestionCount)
	}
	if got := bucketCounts(stats.QuestionCount); got["0"] != 1 || got["1-3"] != 2 {
		t.Errorf("question count buckets = %v", got)
	}

	if got := bucketCounts(stats.AnswerLength); got["0-100"] != 2 || got["101-300"] != 1 {
		t.Errorf("answer length buckets = %v", got)
	}
	if got := bucketCounts(stats.SessionMinutes); got["0-20"] != 1 || got["21-40"] != 1 || got["41-60"] != 1 {
		t.Errorf("duration buckets = %v", got)
	}

	if len(overview.StageAnalysis) != len(models.GradingStages) {
		t.Fatalf("StageAnalysis = %+v", overview.StageAnalysis)
	}
	for _, st := range overview.StageAnalysis {
		switch st.Stage {
		case models.StageAnswer:
			if st.AverageScore != 70 || st.Count != 3 {
				t.Errorf("answer stage = %+v, want 70 over 3", st)
			}
		default:
			if st.Count != 0 {
				t.Errorf("stage %s = %+v, want empty", st.Stage, st)
			}
		}
	}

	if len(overview.RubricAnalysis) != 2 {
		t.Fatalf("RubricAnalysis = %+v", overview.RubricAnalysis)
	}
	if r := overview.RubricAnalysis[0]; r.EvaluationArea != "clarity" || r.AverageScore != 3 || r.Count != 2 {
		t.Errorf("clarity = %+v", r)
	}
	if r := overview.RubricAnalysis[1]; r.EvaluationArea != "tone" || r.Count != 1 {
		t.Errorf("extra dimension = %+v", r)
	}
}

func TestComputeOverview_NoSessions(t *testing.T) {
	exam, _, _, _, _ := overviewFixture()
	overview := ComputeOverview(exam, nil, nil, nil, nil, baseTime)

	if overview.Statistics.Students != 0 || len(overview.Students) != 0 {
		t.Errorf("overview = %+v", overview)
	}
	if len(overview.Statistics.Score.Distribution) != len(scoreBuckets) {
		t.Errorf("empty score distribution = %+v", overview.Statistics.Score.Distribution)
	}
	if r := overview.RubricAnalysis; len(r) != 1 || r[0].Count != 0 {
		t.Errorf("RubricAnalysis = %+v", r)
	}
}

func TestMetricStats_BucketEdges(t *testing.T) {
	tests := []struct {
		name       string
		values     []float64
		edges      []bucketEdge
		roundFirst bool
		want       map[string]int
	}{
		{"inclusive upper edge", []float64{20, 21}, scoreBuckets, true, map[string]int{"0-20": 1, "21-40": 1}},
		{"rounds before bucketing", []float64{20.4, 20.6}, scoreBuckets, true, map[string]int{"0-20": 1, "21-40": 1}},
		{"open last bucket", []float64{11, 40}, questionCountBuckets, false, map[string]int{"11+": 2}},
		{"zero bucket", []float64{0}, questionCountBuckets, false, map[string]int{"0": 1}},
		{"long answers", []float64{1000, 1001}, answerLengthBuckets, false, map[string]int{"501-1000": 1, "1001+": 1}},
		{"long sessions", []float64{80.4, 95}, durationBuckets, true, map[string]int{"61-80": 1, "81+": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bucketCounts(metricStats(tt.values, tt.edges, tt.roundFirst))
			for label, want := range tt.want {
				if got[label] != want {
					t.Errorf("bucket %s = %d, want %d (all %v)", label, got[label], want, got)
				}
			}
		})
	}
}

func TestRepresentativeSessions(t *testing.T) {
	submitted := baseTime.Add(time.Hour)
	sessions := []*models.Session{
		{ID: 1, StudentID: "b", CreatedAt: baseTime},
		{ID: 2, StudentID: "b", CreatedAt: baseTime.Add(time.Minute)},
		{ID: 3, StudentID: "a", CreatedAt: baseTime, SubmittedAt: &submitted},
		{ID: 4, StudentID: "a", CreatedAt: baseTime.Add(2 * time.Hour)},
	}

	got := RepresentativeSessions(sessions)
	if len(got) != 2 {
		t.Fatalf("RepresentativeSessions() = %d sessions, want 2", len(got))
	}
	if got[0].StudentID != "a" || got[0].ID != 3 {
		t.Errorf("student a representative = %d, want submitted session 3", got[0].ID)
	}
	if got[1].StudentID != "b" || got[1].ID != 2 {
		t.Errorf("student b representative = %d, want newest session 2", got[1].ID)
	}
}

func TestGetExamOverview(t *testing.T) {
	env := newTestEnv(t)
	exam := env.createExam(t, examFixture{duration: 60})
	ctx := context.Background()

	for _, student := range []string{studentID, "student-2"} {
		sessionID := env.submittedSession(t, student, &SubmitSessionRequest{
			Answers: []validator.SubmittedAnswerRequest{{QuestionIndex: 0, Answer: "an answer from " + student}},
		})
		if _, err := env.grading.AutoGrade(ctx, sessionID, false, teacherID); err != nil {
			t.Fatalf("AutoGrade() error = %v", err)
		}
	}
	env.initSession(t, "EXAM01", "student-3", strPtr("fp"))

	overview, err := env.overview.GetExamOverview(ctx, exam.ID, teacherID)
	if err != nil {
		t.Fatalf("GetExamOverview() error = %v", err)
	}
	if overview.Statistics.Students != 3 || overview.Statistics.Submitted != 2 || overview.Statistics.Graded != 2 {
		t.Errorf("statistics = %+v", overview.Statistics)
	}
	if overview.Statistics.Score.Average != 80 {
		t.Errorf("score average = %v, want 80", overview.Statistics.Score.Average)
	}

	var perr *PermissionError
	if _, err := env.overview.GetExamOverview(ctx, exam.ID, "teacher-2"); !errors.As(err, &perr) {
		t.Errorf("foreign teacher error = %v, want PermissionError", err)
	}
	if _, err := env.overview.GetExamOverview(ctx, 999, teacherID); !errors.Is(err, ErrExamNotFound) {
		t.Errorf("missing exam error = %v, want ErrExamNotFound", err)
	}
}

func TestExportExamOverview(t *testing.T) {
	env := newTestEnv(t)
	exam := env.createExam(t, examFixture{duration: 60})
	env.submittedSession(t, studentID, &SubmitSessionRequest{
		Answers: []validator.SubmittedAnswerRequest{{QuestionIndex: 0, Answer: "answer"}},
	})

	data, filename, err := env.overview.ExportExamOverview(context.Background(), exam.ID, teacherID)
	if err != nil {
		t.Fatalf("ExportExamOverview() error = %v", err)
	}
	if !strings.HasSuffix(filename, ".xlsx") {
		t.Errorf("filename = %q", filename)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != sheetStudents || sheets[1] != sheetStatistics {
		t.Errorf("sheets = %v", sheets)
	}

	rows, err := f.GetRows(sheetStudents)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "Student" || rows[1][0] != studentID {
		t.Errorf("student rows = %v", rows)
	}

	stats, err := f.GetRows(sheetStatistics)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(stats) == 0 || stats[0][1] != exam.Title {
		t.Errorf("statistics rows = %v", stats)
	}
}

func TestGetExamOverview_CacheFollowsSessionActivity(t *testing.T) {
	env := newTestEnv(t)
	mr := env.useRedisCache(t)
	exam := env.createExam(t, examFixture{duration: 60})
	ctx := context.Background()
	key := "overview:" + cache.OverviewKey(exam.ID)

	overview, err := env.overview.GetExamOverview(ctx, exam.ID, teacherID)
	if err != nil {
		t.Fatalf("GetExamOverview() error = %v", err)
	}
	if overview.Statistics.Students != 0 || !mr.Exists(key) {
		t.Fatalf("students = %d, cached = %v, want 0 and cached", overview.Statistics.Students, mr.Exists(key))
	}

	view := env.initSession(t, "EXAM01", studentID, strPtr("fp"))
	if mr.Exists(key) {
		t.Errorf("overview still cached after a new session")
	}
	overview, err = env.overview.GetExamOverview(ctx, exam.ID, teacherID)
	if err != nil {
		t.Fatalf("GetExamOverview() error = %v", err)
	}
	if overview.Statistics.Students != 1 {
		t.Errorf("students = %d, want 1", overview.Statistics.Students)
	}

	// resuming the same session leaves the cached overview alone
	env.initSession(t, "EXAM01", studentID, strPtr("fp"))
	if !mr.Exists(key) {
		t.Errorf("resume dropped the cached overview")
	}

	if _, err := env.sessions.SaveDraft(ctx, view.Session.ID, 0, &SaveDraftRequest{Answer: "draft"}, studentID); err != nil {
		t.Fatalf("SaveDraft() error = %v", err)
	}
	if mr.Exists(key) {
		t.Errorf("overview still cached after a draft save")
	}
}
