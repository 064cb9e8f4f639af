package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/codec"
)

type SessionState string

const (
	SessionNew                  SessionState = "new"
	SessionActive               SessionState = "active"
	SessionSubmitted            SessionState = "submitted"
	SessionExpiredAutoSubmitted SessionState = "expired_auto_submitted"

	// SessionRetakeBlocked is never stored. It labels the read-only view of a
	// finished session that its student opens again.
	SessionRetakeBlocked SessionState = "retake_blocked"
)

const (
	SubmitReasonSubmitted = "submitted"
	SubmitReasonTimeOut   = "time_out"
)

// Session is one student's attempt at one exam. The partial unique index keeps a
// device from owning two open sessions of the same exam.
type Session struct {
	ID                uint    `json:"id" gorm:"primaryKey"`
	ExamID            uint    `json:"exam_id" gorm:"not null;index;uniqueIndex:idx_sessions_open_device,where:submitted_at IS NULL"`
	StudentID         string  `json:"student_id" gorm:"not null;index;size:255;uniqueIndex:idx_sessions_open_device,where:submitted_at IS NULL"`
	DeviceFingerprint *string `json:"device_fingerprint" gorm:"size:255;uniqueIndex:idx_sessions_open_device,where:submitted_at IS NULL"`

	IsActive           bool       `json:"is_active" gorm:"not null;default:false"`
	LastHeartbeatAt    *time.Time `json:"last_heartbeat_at"`
	SubmittedAt        *time.Time `json:"submitted_at" gorm:"index"`
	SubmitReason       *string    `json:"submit_reason" gorm:"size:32"`
	UsedClarifications int        `json:"used_clarifications" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string {
	return "exam_sessions"
}

func (s *Session) IsSubmitted() bool {
	return s.SubmittedAt != nil
}

func (s *Session) HasFingerprint() bool {
	return s.DeviceFingerprint != nil && *s.DeviceFingerprint != ""
}

// State derives the state machine position from the stored columns.
func (s *Session) State() SessionState {
	switch {
	case s.SubmittedAt != nil && s.SubmitReason != nil && *s.SubmitReason == SubmitReasonTimeOut:
		return SessionExpiredAutoSubmitted
	case s.SubmittedAt != nil:
		return SessionSubmitted
	case s.IsActive:
		return SessionActive
	default:
		return SessionNew
	}
}

type AnswerHistoryEntry struct {
	PriorText      string    `json:"prior_text"`
	PriorUpdatedAt time.Time `json:"prior_updated_at"`
}

// Submission holds the answer of one question within a session.
// answer_history is append-only.
type Submission struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	SessionID     uint   `json:"session_id" gorm:"not null;uniqueIndex:idx_submission_session_question"`
	QuestionIndex int    `json:"question_index" gorm:"not null;uniqueIndex:idx_submission_session_question"`
	Answer        string `json:"answer" gorm:"type:text;not null;default:''"`

	AnswerHistory datatypes.JSONSlice[AnswerHistoryEntry] `json:"answer_history" gorm:"type:jsonb;not null"`
	EditCount     int                                     `json:"edit_count" gorm:"not null;default:0"`

	// Feedback-reply workflow
	Feedback      *string `json:"feedback" gorm:"type:text"`
	FeedbackReply *string `json:"feedback_reply" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Submission) TableName() string {
	return "submissions"
}

// HasRebuttal reports whether both a prior feedback and a student reply exist.
func (s *Submission) HasRebuttal() bool {
	return s.Feedback != nil && strings.TrimSpace(*s.Feedback) != "" &&
		s.FeedbackReply != nil && strings.TrimSpace(*s.FeedbackReply) != ""
}

func (s *Submission) BeforeSave(tx *gorm.DB) error {
	if s.AnswerHistory == nil {
		s.AnswerHistory = datatypes.JSONSlice[AnswerHistoryEntry]{}
	}
	packed, err := codec.Pack(s.Answer, codec.DefaultThreshold)
	if err != nil {
		return err
	}
	s.Answer = packed
	return nil
}

func (s *Submission) AfterSave(tx *gorm.DB) error {
	return s.inflate()
}

func (s *Submission) AfterFind(tx *gorm.DB) error {
	return s.inflate()
}

func (s *Submission) inflate() error {
	plain, err := codec.Unpack(s.Answer)
	if err != nil {
		return err
	}
	s.Answer = plain
	return nil
}

type MessageRole string

const (
	RoleUserMessage      MessageRole = "user"
	RoleAssistantMessage MessageRole = "assistant"
)

type Message struct {
	ID            uint        `json:"id" gorm:"primaryKey"`
	SessionID     uint        `json:"session_id" gorm:"not null;index:idx_messages_session_question"`
	QuestionIndex int         `json:"question_index" gorm:"not null;index:idx_messages_session_question"`
	Role          MessageRole `json:"role" gorm:"not null;size:16"`
	Content       string      `json:"content" gorm:"type:text;not null"`
	CreatedAt     time.Time   `json:"created_at"`
}

func (Message) TableName() string {
	return "session_messages"
}
