package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/oracle"
)

const (
	defaultGradingWorkers = 4
	defaultOracleTimeout  = 60 * time.Second
)

// Options carries the collaborators shared by the session and grading services
type Options struct {
	Publisher events.EventPublisher
	Scorer    oracle.ScoringOracle
	Assistant oracle.Assistant
	Cache     *cache.CacheManager

	// GradingWorkers caps simultaneous oracle calls of one grading run
	GradingWorkers int
	OracleTimeout  time.Duration

	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.GradingWorkers < 1 {
		o.GradingWorkers = defaultGradingWorkers
	}
	if o.OracleTimeout <= 0 {
		o.OracleTimeout = defaultOracleTimeout
	}
	if o.Cache == nil {
		o.Cache = cache.NewCacheManager(nil)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// publishSubmitted announces a submitted session. Failures are logged only.
func publishSubmitted(ctx context.Context, publisher events.EventPublisher, logger *slog.Logger, session *models.Session, reason string) {
	if publisher == nil {
		return
	}
	submittedAt := time.Now()
	if session.SubmittedAt != nil {
		submittedAt = *session.SubmittedAt
	}
	event := events.NewEvent(events.TopicSessionSubmitted, events.SessionSubmittedEvent{
		SessionID:   session.ID,
		ExamID:      session.ExamID,
		StudentID:   session.StudentID,
		Reason:      reason,
		SubmittedAt: submittedAt,
	})
	if err := publisher.Publish(context.WithoutCancel(ctx), events.TopicSessionSubmitted, event); err != nil {
		logger.Error("Failed to publish session submitted event", "session_id", session.ID, "error", err)
	}
}
