package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
)

type GradingHandler struct {
	BaseHandler
	gradingService services.GradingService
}

func NewGradingHandler(gradingService services.GradingService, logger utils.Logger) *GradingHandler {
	return &GradingHandler{
		BaseHandler:    NewBaseHandler(logger),
		gradingService: gradingService,
	}
}

// GetGrading returns the evidence and grades of a session
// @Summary Get session grading
// @Tags grading
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.GradingView
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/grading [get]
func (h *GradingHandler) GetGrading(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	view, err := h.gradingService.GetGrading(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// SaveGrade stores a manual grade for one question
// @Summary Save manual grade
// @Tags grading
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param question_index path int true "Zero-based question index"
// @Param grade body services.SaveGradeRequest true "Grade"
// @Success 200 {object} models.Grade
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/grades/{question_index} [put]
func (h *GradingHandler) SaveGrade(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	idx := h.parseIndexParam(c, "question_index")
	if idx < 0 {
		return
	}

	var req services.SaveGradeRequest
	if !h.bindJSON(c, &req) {
		return
	}

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	grade, err := h.gradingService.SaveGrade(c.Request.Context(), id, idx, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, grade)
}

// AutoGrade runs the grading pipeline on a submitted session
// @Summary Auto-grade session
// @Tags grading
// @Produce json
// @Param id path uint true "Session ID"
// @Param force query bool false "Replace existing grades"
// @Success 200 {object} services.AutoGradeResult
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/auto-grade [post]
func (h *GradingHandler) AutoGrade(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	force := false
	if raw := c.Query("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "Invalid force flag",
				Details: raw,
			})
			return
		}
		force = parsed
	}

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Auto-grading session", "session_id", id, "force", force)

	result, err := h.gradingService.AutoGrade(c.Request.Context(), id, force, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
