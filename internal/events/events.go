package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TopicSessionSubmitted = "exam.session.submitted"
	TopicSessionGraded    = "exam.session.graded"

	EventSource  = "exam-session-service"
	EventVersion = "1.0"
)

// Event is the envelope of every published message
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    EventSource,
		Version:   EventVersion,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// SessionSubmittedEvent is published on manual submit and on auto-submit
type SessionSubmittedEvent struct {
	SessionID   uint      `json:"session_id"`
	ExamID      uint      `json:"exam_id"`
	StudentID   string    `json:"student_id"`
	Reason      string    `json:"reason"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type SessionGradedEvent struct {
	SessionID   uint    `json:"session_id"`
	ExamID      uint    `json:"exam_id"`
	GradesCount int     `json:"grades_count"`
	Forced      bool    `json:"forced"`
	GradedBy    *string `json:"graded_by,omitempty"`
}

// EventPublisher publishes domain events. Publishing is best-effort for callers:
// a failed publish never rolls back the state change that caused it.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event *Event) error
	Close() error
}
