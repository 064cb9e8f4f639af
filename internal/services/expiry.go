package services

import (
	"math"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// RemainingTime returns the time left in a session. limited is false for
// exams without a duration.
func RemainingTime(exam *models.Exam, session *models.Session, now time.Time) (remaining time.Duration, limited bool) {
	if exam.Duration <= 0 {
		return 0, false
	}
	deadline := session.CreatedAt.Add(time.Duration(exam.Duration) * time.Minute)
	remaining = deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// IsExpired reports whether the exam duration has fully elapsed
func IsExpired(exam *models.Exam, session *models.Session, now time.Time) bool {
	remaining, limited := RemainingTime(exam, session, now)
	return limited && remaining <= 0
}

// RemainingSeconds is nil for unlimited exams
func RemainingSeconds(exam *models.Exam, session *models.Session, now time.Time) *int {
	remaining, limited := RemainingTime(exam, session, now)
	if !limited {
		return nil
	}
	seconds := int(math.Ceil(remaining.Seconds()))
	return &seconds
}
