package services

import (
	"context"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/oracle"
)

// evidence is everything a grading run reads about one session
type evidence struct {
	exam        *models.Exam
	submissions map[int]*models.Submission
	messages    map[int][]*models.Message
	essayOnly   bool
}

func newEvidence(exam *models.Exam, submissions map[int]*models.Submission, messages map[int][]*models.Message) *evidence {
	return &evidence{
		exam:        exam,
		submissions: submissions,
		messages:    messages,
		essayOnly:   exam.IsEssayOnly(),
	}
}

// studentTexts lists answers, feedback replies and the student's chat turns
func (ev *evidence) studentTexts() []string {
	var texts []string
	for _, sub := range ev.submissions {
		if sub == nil {
			continue
		}
		texts = append(texts, sub.Answer)
		if sub.FeedbackReply != nil {
			texts = append(texts, *sub.FeedbackReply)
		}
	}
	for _, transcript := range ev.messages {
		for _, m := range transcript {
			if m.Role == models.RoleUserMessage {
				texts = append(texts, m.Content)
			}
		}
	}
	return texts
}

type stageTask struct {
	questionIndex int
	stage         models.GradingStage
	request       oracle.ScoreRequest
}

// planStages lists the stages that have input. The feedback stage never runs
// for essay-only exams.
func planStages(ev *evidence) []stageTask {
	var tasks []stageTask
	for idx, question := range ev.exam.Questions {
		base := oracle.ScoreRequest{
			Question: question,
			Rubric:   ev.exam.Rubric,
		}

		if transcript := ev.messages[idx]; len(transcript) > 0 {
			req := base
			req.Stage = models.StageChat
			req.Transcript = transcript
			tasks = append(tasks, stageTask{questionIndex: idx, stage: models.StageChat, request: req})
		}

		submission := ev.submissions[idx]
		if submission == nil {
			continue
		}
		if strings.TrimSpace(submission.Answer) != "" {
			req := base
			req.Stage = models.StageAnswer
			req.Answer = submission.Answer
			tasks = append(tasks, stageTask{questionIndex: idx, stage: models.StageAnswer, request: req})
		}
		if !ev.essayOnly && submission.HasRebuttal() {
			req := base
			req.Stage = models.StageFeedback
			req.Answer = submission.Answer
			req.Feedback = *submission.Feedback
			req.FeedbackReply = *submission.FeedbackReply
			tasks = append(tasks, stageTask{questionIndex: idx, stage: models.StageFeedback, request: req})
		}
	}
	return tasks
}

// runPipeline scores every planned stage on a bounded pool and folds the
// results into at most one grade per question
func (s *gradingService) runPipeline(ctx context.Context, sessionID uint, ev *evidence) []*models.Grade {
	tasks := planStages(ev)
	results := make([]*models.StageScore, len(tasks))

	if s.opts.Scorer != nil {
		var pool errgroup.Group
		pool.SetLimit(s.opts.GradingWorkers)
		for i, task := range tasks {
			pool.Go(func() error {
				results[i] = s.runStage(ctx, sessionID, task, ev.exam.RubricAreas())
				return nil
			})
		}
		_ = pool.Wait()
	}

	byQuestion := make(map[int]*models.StageGrading)
	for i, task := range tasks {
		if results[i] == nil {
			continue
		}
		sg, ok := byQuestion[task.questionIndex]
		if !ok {
			sg = &models.StageGrading{}
			byQuestion[task.questionIndex] = sg
		}
		sg.Set(task.stage, results[i])
	}

	grades := make([]*models.Grade, 0, len(byQuestion))
	for idx := range ev.exam.Questions {
		sg, ok := byQuestion[idx]
		if !ok {
			// no stage produced output: the question stays ungraded
			continue
		}
		grades = append(grades, &models.Grade{
			SessionID:     sessionID,
			QuestionIndex: idx,
			Score:         aggregateScore(*sg),
			Comment:       aggregateComment(*sg),
			StageGrading:  datatypes.NewJSONType(*sg),
		})
	}
	return grades
}

// runStage calls the oracle once. Any failure yields nil and is only logged.
func (s *gradingService) runStage(ctx context.Context, sessionID uint, task stageTask, areas []string) (score *models.StageScore) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Grading stage panicked",
				"session_id", sessionID,
				"question_index", task.questionIndex,
				"stage", task.stage,
				"panic", r)
			score = nil
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, s.opts.OracleTimeout)
	defer cancel()

	result, err := s.opts.Scorer.Score(callCtx, task.request)
	if err != nil {
		s.logger.Warn("Grading stage produced no output",
			"session_id", sessionID,
			"question_index", task.questionIndex,
			"stage", task.stage,
			"error", err)
		return nil
	}

	score = normalizeStageScore(result, areas)
	if score == nil {
		s.logger.Warn("Grading stage returned an unusable score",
			"session_id", sessionID,
			"question_index", task.questionIndex,
			"stage", task.stage)
	}
	return score
}

// normalizeStageScore clamps then rounds the oracle values into their ranges.
// Rubric keys are matched case-insensitively against the exam rubric; unknown
// keys are dropped when the exam has a rubric.
func normalizeStageScore(result *oracle.ScoreResult, areas []string) *models.StageScore {
	if result == nil || math.IsNaN(result.Score) || math.IsInf(result.Score, 0) {
		return nil
	}

	score := &models.StageScore{
		Score:   clampRound(result.Score, models.MinScore, models.MaxScore),
		Comment: strings.TrimSpace(result.Comment),
	}

	canonical := make(map[string]string, len(areas))
	for _, a := range areas {
		canonical[strings.ToLower(strings.TrimSpace(a))] = a
	}

	for key, value := range result.RubricScores {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		name := strings.TrimSpace(key)
		if len(canonical) > 0 {
			known, ok := canonical[strings.ToLower(name)]
			if !ok {
				continue
			}
			name = known
		}
		if name == "" {
			continue
		}
		if score.RubricScores == nil {
			score.RubricScores = make(map[string]int)
		}
		score.RubricScores[name] = clampRound(value, models.MinRubricScore, models.MaxRubricScore)
	}
	return score
}

func clampStageGrading(sg models.StageGrading) models.StageGrading {
	var out models.StageGrading
	for _, stage := range models.GradingStages {
		in := sg.Get(stage)
		if in == nil {
			continue
		}
		clamped := &models.StageScore{
			Score:   clampRound(float64(in.Score), models.MinScore, models.MaxScore),
			Comment: in.Comment,
		}
		for k, v := range in.RubricScores {
			if clamped.RubricScores == nil {
				clamped.RubricScores = make(map[string]int, len(in.RubricScores))
			}
			clamped.RubricScores[k] = clampRound(float64(v), models.MinRubricScore, models.MaxRubricScore)
		}
		out.Set(stage, clamped)
	}
	return out
}

// aggregateScore is the rounded mean of the stages that produced output
func aggregateScore(sg models.StageGrading) int {
	stages := sg.Stages()
	if len(stages) == 0 {
		return 0
	}
	total := 0
	for _, stage := range stages {
		total += sg.Get(stage).Score
	}
	return clampRound(float64(total)/float64(len(stages)), models.MinScore, models.MaxScore)
}

func aggregateComment(sg models.StageGrading) string {
	var parts []string
	for _, stage := range sg.Stages() {
		if c := sg.Get(stage).Comment; c != "" {
			parts = append(parts, "["+string(stage)+"] "+c)
		}
	}
	return strings.Join(parts, "\n")
}

func clampRound(v float64, lo, hi int) int {
	return int(math.Round(math.Max(float64(lo), math.Min(float64(hi), v))))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// ===== SESSION SYNTHESIS =====

// summarize asks the oracle for a qualitative synthesis. It returns nil on any
// failure, grading still succeeds without it.
func (s *gradingService) summarize(ctx context.Context, sessionID uint, ev *evidence, grades []*models.Grade) *models.SessionSummary {
	if s.opts.Scorer == nil || len(grades) == 0 {
		return nil
	}

	byQuestion := make(map[int]*models.Grade, len(grades))
	for _, g := range grades {
		byQuestion[g.QuestionIndex] = g
	}

	req := oracle.SummaryRequest{ExamTitle: ev.exam.Title}
	for idx, question := range ev.exam.Questions {
		q := oracle.SummaryQuestion{
			Prompt:     question.Prompt,
			Transcript: ev.messages[idx],
		}
		if sub := ev.submissions[idx]; sub != nil {
			q.Answer = sub.Answer
		}
		if g, ok := byQuestion[idx]; ok {
			score := g.Score
			q.Score = &score
			q.Comment = g.Comment
		}
		req.Questions = append(req.Questions, q)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.OracleTimeout)
	defer cancel()

	result, err := s.opts.Scorer.Summarize(callCtx, req)
	if err != nil {
		s.logger.Warn("Session synthesis failed", "session_id", sessionID, "error", err)
		return nil
	}

	summary := normalizeSummary(sessionID, result, ev)
	if summary == nil {
		s.logger.Warn("Session synthesis unusable", "session_id", sessionID)
	}
	return summary
}

// normalizeSummary keeps only key quotes that appear verbatim in what the
// student wrote. Fewer than SummaryKeyQuotes survivors drop the summary.
func normalizeSummary(sessionID uint, result *oracle.SummaryResult, ev *evidence) *models.SessionSummary {
	if result == nil {
		return nil
	}
	quotes := verbatimQuotes(result.KeyQuotes, ev.studentTexts())
	if len(quotes) < models.SummaryKeyQuotes {
		return nil
	}

	sentiment := models.Sentiment(strings.ToLower(strings.TrimSpace(result.Sentiment)))
	switch sentiment {
	case models.SentimentPositive, models.SentimentNegative, models.SentimentNeutral:
	default:
		sentiment = models.SentimentNeutral
	}

	return &models.SessionSummary{
		SessionID:  sessionID,
		Sentiment:  sentiment,
		Narrative:  strings.TrimSpace(result.Narrative),
		Strengths:  datatypes.NewJSONSlice(firstN(nonBlank(result.Strengths), models.MaxSummaryStrengths)),
		Weaknesses: datatypes.NewJSONSlice(firstN(nonBlank(result.Weaknesses), models.MaxSummaryWeaknesses)),
		KeyQuotes:  datatypes.NewJSONSlice(quotes[:models.SummaryKeyQuotes]),
	}
}

func verbatimQuotes(candidates, sources []string) []string {
	var out []string
	for _, q := range candidates {
		q = strings.TrimSpace(strings.Trim(strings.TrimSpace(q), `"'“”‘’`))
		if q == "" {
			continue
		}
		for _, src := range sources {
			if strings.Contains(src, q) {
				out = append(out, q)
				break
			}
		}
	}
	return out
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstN(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}
