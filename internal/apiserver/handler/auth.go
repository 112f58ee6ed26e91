package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amoylab/msgate/internal/auth"
	"github.com/amoylab/msgate/internal/common/dto"
	"github.com/amoylab/msgate/internal/common/errorx"
)

// Auth serves operator login
type Auth struct {
	logger *zap.Logger
	gate   *auth.Gate
	errs   *errorx.ErrorHandler
}

func NewAuth(logger *zap.Logger, gate *auth.Gate, errs *errorx.ErrorHandler) *Auth {
	return &Auth{
		logger: logger.Named("handler.auth"),
		gate:   gate,
		errs:   errs,
	}
}

// HandleLogin exchanges username and password for a bearer token
func (h *Auth) HandleLogin(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.HandleError(c, errorx.Validation("Username and password are required."))
		return
	}

	token, principal, err := h.gate.IssueToken(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.errs.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.LoginResponse{
		Success: true,
		Message: "Login successful",
		Token:   token,
		User:    dto.UserInfo{ID: principal.ID, Username: principal.Username},
	})
}
