package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
)

const serviceName = "exam-session-service"

type HandlerManager struct {
	examHandler    *ExamHandler
	sessionHandler *SessionHandler
	gradingHandler *GradingHandler
	userHandler    *UserHandler
	serviceManager services.ServiceManager
	authenticate   gin.HandlerFunc
}

// NewHandlerManager wires the handlers. authenticate must store the caller via
// SetUser, in production it is CasdoorAuthMiddleware.AuthMiddleware().
func NewHandlerManager(serviceManager services.ServiceManager, logger utils.Logger, authenticate gin.HandlerFunc) *HandlerManager {
	return &HandlerManager{
		examHandler:    NewExamHandler(serviceManager.Exam(), serviceManager.Overview(), logger),
		sessionHandler: NewSessionHandler(serviceManager.Session(), logger),
		gradingHandler: NewGradingHandler(serviceManager.Grading(), logger),
		userHandler:    NewUserHandler(logger),
		serviceManager: serviceManager,
		authenticate:   authenticate,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	instructor := RequireRole(models.RoleTeacher, models.RoleAdmin)

	v1 := router.Group("/api/v1")
	v1.Use(hm.authenticate)
	{
		v1.GET("/me", hm.userHandler.GetCurrentUser)

		// Exam authoring and reporting - Teachers and Admins only
		exams := v1.Group("/exams")
		exams.Use(instructor)
		{
			exams.POST("", hm.examHandler.CreateExam)
			exams.GET("", hm.examHandler.ListExams)
			exams.GET("/:id", hm.examHandler.GetExam)
			exams.GET("/:id/overview", hm.examHandler.GetOverview)
			exams.GET("/:id/overview/export", hm.examHandler.ExportOverview)
		}

		// Session routes - ownership is checked by the services
		sessions := v1.Group("/sessions")
		{
			sessions.POST("/init", hm.sessionHandler.InitSession)
			sessions.PUT("/:id/drafts/:question_index", hm.sessionHandler.SaveDraft)
			sessions.POST("/:id/heartbeat", hm.sessionHandler.Heartbeat)
			sessions.POST("/:id/clarifications", hm.sessionHandler.AskClarification)
			sessions.POST("/:id/submit", hm.sessionHandler.Submit)

			// Grading - exam owner
			sessions.GET("/:id/grading", instructor, hm.gradingHandler.GetGrading)
			sessions.PUT("/:id/grades/:question_index", instructor, hm.gradingHandler.SaveGrade)
			sessions.POST("/:id/auto-grade", instructor, hm.gradingHandler.AutoGrade)
		}
	}

	router.GET("/health", hm.health)
}

func (hm *HandlerManager) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := hm.serviceManager.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": serviceName,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
	})
}
