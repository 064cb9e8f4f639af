package services

import (
	"errors"
	"fmt"

	"github.com/SAP-F-2025/exam-session-service/internal/oracle"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

// ===== SENTINEL ERRORS =====

var (
	ErrExamNotFound    = errors.New("exam not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrGradeNotFound   = errors.New("grade not found")

	ErrSessionAlreadySubmitted = errors.New("session already submitted")
	ErrSessionNotSubmitted     = errors.New("session not submitted")
	ErrSessionTimeExpired      = errors.New("session time expired")
	ErrInvalidQuestionIndex    = errors.New("invalid question index")
	ErrExamCodeTaken           = errors.New("exam code already in use")
	ErrSessionInitConflict     = errors.New("session initialization conflicted with a concurrent request")

	ErrOracleFailure = oracle.ErrOracleFailure
)

// ValidationErrors is returned for malformed requests
type ValidationErrors = validator.ValidationErrors

// ===== TYPED ERRORS =====

// PermissionError reports that a user may not act on a resource
type PermissionError struct {
	UserID     string `json:"user_id"`
	ResourceID uint   `json:"resource_id"`
	Resource   string `json:"resource"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s", e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// BusinessRuleError reports a request that is well formed but violates a domain rule
type BusinessRuleError struct {
	Rule    string                 `json:"rule"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Message)
}

func NewBusinessRuleError(rule, message string, context map[string]interface{}) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: message, Context: context}
}

// PersistenceError wraps a failed store operation. The request is aborted.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	// keep domain errors raised inside transactions intact
	var perm *PermissionError
	var rule *BusinessRuleError
	var pe *PersistenceError
	switch {
	case errors.As(err, &pe), errors.As(err, &perm), errors.As(err, &rule),
		errors.Is(err, ErrSessionAlreadySubmitted), errors.Is(err, ErrSessionNotSubmitted),
		errors.Is(err, ErrInvalidQuestionIndex), errors.Is(err, errBindingRace):
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// errBindingRace signals that a concurrent request changed the open sessions
// of a student between resolution and write
var errBindingRace = errors.New("device binding race")
