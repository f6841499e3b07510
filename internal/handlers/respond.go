package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yungbote/studypath-backend/internal/pkg/errors"
)

func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func RespondError(c *gin.Context, status int, code string, err error) {
	body := gin.H{"error": code}
	if err != nil {
		body["detail"] = err.Error()
	}
	c.JSON(status, body)
}

// RespondServiceError maps the service-layer error taxonomy onto HTTP
// statuses: only explicitly-referenced missing entities surface as 404.
func RespondServiceError(c *gin.Context, code string, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		RespondError(c, http.StatusNotFound, code, err)
	case errors.Is(err, apperrors.ErrInvalidArgument):
		RespondError(c, http.StatusBadRequest, code, err)
	default:
		RespondError(c, http.StatusInternalServerError, code, err)
	}
}
