package services

import (
	"sort"
	"time"
	"unicode/utf8"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// ApplyDraft overwrites the stored answer with text. A changed answer pushes
// the previous text onto the append-only history. It reports whether the row
// changed.
func ApplyDraft(submission *models.Submission, text string) bool {
	if submission.Answer == text {
		return false
	}
	priorUpdatedAt := submission.UpdatedAt
	if priorUpdatedAt.IsZero() {
		priorUpdatedAt = submission.CreatedAt
	}
	submission.AnswerHistory = append(submission.AnswerHistory, models.AnswerHistoryEntry{
		PriorText:      submission.Answer,
		PriorUpdatedAt: priorUpdatedAt,
	})
	submission.EditCount++
	submission.Answer = text
	return true
}

// NewSubmission returns the first draft of a question
func NewSubmission(sessionID uint, questionIndex int, text string, now time.Time) *models.Submission {
	return &models.Submission{
		SessionID:     sessionID,
		QuestionIndex: questionIndex,
		Answer:        text,
		AnswerHistory: []models.AnswerHistoryEntry{},
		EditCount:     0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// PickSubmission chooses one row among duplicates of the same question:
// a row carrying feedback first, then the longer answer, then the newest row.
func PickSubmission(rows []*models.Submission) *models.Submission {
	var best *models.Submission
	for _, row := range rows {
		if best == nil || preferSubmission(row, best) {
			best = row
		}
	}
	return best
}

func preferSubmission(a, b *models.Submission) bool {
	aFeedback, bFeedback := a.Feedback != nil, b.Feedback != nil
	if aFeedback != bFeedback {
		return aFeedback
	}
	aLen, bLen := utf8.RuneCountInString(a.Answer), utf8.RuneCountInString(b.Answer)
	if aLen != bLen {
		return aLen > bLen
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// submissionsByQuestion reconciles rows into one submission per question index
func submissionsByQuestion(rows []*models.Submission) map[int]*models.Submission {
	grouped := make(map[int][]*models.Submission)
	for _, row := range rows {
		grouped[row.QuestionIndex] = append(grouped[row.QuestionIndex], row)
	}
	out := make(map[int]*models.Submission, len(grouped))
	for idx, group := range grouped {
		out[idx] = PickSubmission(group)
	}
	return out
}

// orderedSubmissions returns one submission per question, by question index
func orderedSubmissions(rows []*models.Submission) []*models.Submission {
	byQuestion := submissionsByQuestion(rows)
	out := make([]*models.Submission, 0, len(byQuestion))
	for _, s := range byQuestion {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionIndex < out[j].QuestionIndex })
	return out
}

func messagesByQuestion(messages []*models.Message) map[int][]*models.Message {
	out := make(map[int][]*models.Message)
	for _, m := range messages {
		out[m.QuestionIndex] = append(out[m.QuestionIndex], m)
	}
	return out
}
