package validator

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

var examCodePattern = regexp.MustCompile(`^[A-Z0-9]{4,32}$`)

// BusinessValidator handles business rule validation
type BusinessValidator struct {
	validate *validator.Validate
}

// NewBusinessValidator creates a new business validator
func NewBusinessValidator(validate *validator.Validate) *BusinessValidator {
	bv := &BusinessValidator{validate: validate}
	bv.registerBusinessRules()
	return bv
}

// Validate validates business rules for any struct
func (bv *BusinessValidator) Validate(s interface{}) ValidationErrors {
	if err := bv.validate.Struct(s); err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// ValidateExamCreate validates exam creation business rules
func (bv *BusinessValidator) ValidateExamCreate(req *ExamCreateRequest) ValidationErrors {
	var errors ValidationErrors

	// Basic struct validation
	errors = append(errors, bv.Validate(req)...)

	// Question ids and rubric areas must be unique
	seenIDs := make(map[string]bool)
	for i, q := range req.Questions {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			continue
		}
		if seenIDs[id] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("questions[%d].id", i),
				Message: "duplicate question id",
				Value:   id,
				Rule:    "unique",
			})
		}
		seenIDs[id] = true
	}

	seenAreas := make(map[string]bool)
	for i, r := range req.Rubric {
		area := strings.ToLower(strings.TrimSpace(r.EvaluationArea))
		if area == "" {
			continue
		}
		if seenAreas[area] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("rubric[%d].evaluation_area", i),
				Message: "duplicate evaluation area",
				Value:   r.EvaluationArea,
				Rule:    "unique",
			})
		}
		seenAreas[area] = true
	}

	return errors
}

func (bv *BusinessValidator) registerBusinessRules() {
	// Empty type is treated as essay
	bv.validate.RegisterValidation("question_type", func(fl validator.FieldLevel) bool {
		qt := models.QuestionType(fl.Field().String())
		return qt == "" || slices.Contains(models.ValidQuestionTypes, qt)
	})

	bv.validate.RegisterValidation("exam_title", func(fl validator.FieldLevel) bool {
		title := strings.TrimSpace(fl.Field().String())
		n := utf8.RuneCountInString(title)
		return n >= 1 && n <= 200
	})

	bv.validate.RegisterValidation("exam_code", func(fl validator.FieldLevel) bool {
		return examCodePattern.MatchString(fl.Field().String())
	})

	bv.validate.RegisterValidation("message_role", func(fl validator.FieldLevel) bool {
		role := models.MessageRole(fl.Field().String())
		return role == models.RoleUserMessage || role == models.RoleAssistantMessage
	})
}
