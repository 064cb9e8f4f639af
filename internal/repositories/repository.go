package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Repository aggregates every persistence collaborator of the service
type Repository interface {
	// Exam domain
	Exam() ExamRepository

	// Session domain
	Session() SessionRepository
	Submission() SubmissionRepository
	Message() MessageRepository

	// Grading domain
	Grade() GradeRepository
	Summary() SummaryRepository

	// Identity (read-only, external)
	User() UserRepository

	// Transaction support
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// IsNotFoundError reports whether err means the requested row does not exist
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicateError reports whether err is a unique constraint violation.
// It relies on the dialector translating driver errors.
func IsDuplicateError(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
