package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
)

type UserHandler struct {
	BaseHandler
}

func NewUserHandler(logger utils.Logger) *UserHandler {
	return &UserHandler{
		BaseHandler: NewBaseHandler(logger),
	}
}

// GetCurrentUser returns the identity resolved by the auth middleware
// @Summary Current user
// @Description Lets clients decide between the instructor and the student views
// @Tags users
// @Produce json
// @Success 200 {object} models.User
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Router /me [get]
func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	value, exists := c.Get(contextUser)
	user, ok := value.(*models.User)
	if !exists || !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	c.JSON(http.StatusOK, user)
}
