package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
)

type SessionHandler struct {
	BaseHandler
	sessionService services.SessionService
}

func NewSessionHandler(sessionService services.SessionService, logger utils.Logger) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
	}
}

// InitSession enters an exam by its code
// @Summary Enter exam
// @Description Creates, resumes or shows the finished session of the caller
// @Tags sessions
// @Accept json
// @Produce json
// @Param session body services.InitSessionRequest true "Exam code and device fingerprint"
// @Success 200 {object} services.SessionView
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/init [post]
func (h *SessionHandler) InitSession(c *gin.Context) {
	var req services.InitSessionRequest
	if !h.bindJSON(c, &req) {
		return
	}

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Initializing exam session", "exam_code", req.ExamCode)

	view, err := h.sessionService.InitSession(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// SaveDraft stores the current answer of one question
// @Summary Save draft answer
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param question_index path int true "Zero-based question index"
// @Success 200 {object} models.Submission
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /sessions/{id}/drafts/{question_index} [put]
func (h *SessionHandler) SaveDraft(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	idx := h.parseIndexParam(c, "question_index")
	if idx < 0 {
		return
	}

	var req services.SaveDraftRequest
	if !h.bindJSON(c, &req) {
		return
	}

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	submission, err := h.sessionService.SaveDraft(c.Request.Context(), id, idx, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, submission)
}

func (h *SessionHandler) Heartbeat(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	result, err := h.sessionService.Heartbeat(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// AskClarification sends a question about the exam to the assistant
// @Summary Ask clarification
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param clarification body services.ClarificationRequest true "Question"
// @Success 201 {object} services.ClarificationResult
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /sessions/{id}/clarifications [post]
func (h *SessionHandler) AskClarification(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.ClarificationRequest
	if !h.bindJSON(c, &req) {
		return
	}

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Asking clarification", "session_id", id, "question_index", req.QuestionIndex)

	result, err := h.sessionService.AskClarification(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// Submit finalizes a session with its answers and transcript
// @Summary Submit session
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param submission body services.SubmitSessionRequest true "Final answers and transcript"
// @Success 200 {object} services.SubmitResult
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/submit [post]
func (h *SessionHandler) Submit(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.SubmitSessionRequest
	if !h.bindJSON(c, &req) {
		return
	}

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Submitting exam session", "session_id", id)

	result, err := h.sessionService.Submit(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
