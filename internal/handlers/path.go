package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/studypath-backend/internal/pkg/logger"
	"github.com/yungbote/studypath-backend/internal/requestdata"
	"github.com/yungbote/studypath-backend/internal/services"
)

const defaultPathLimit = 50

type PathHandler struct {
	log   *logger.Logger
	paths services.PathService
}

func NewPathHandler(log *logger.Logger, paths services.PathService) *PathHandler {
	return &PathHandler{
		log:   log.With("handler", "PathHandler"),
		paths: paths,
	}
}

func (h *PathHandler) GetLearningPath(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	kbID, err := uuid.Parse(c.Param("kb_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_kb_id", err)
		return
	}

	limit := defaultPathLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	path, err := h.paths.GeneratePath(c.Request.Context(), rd.UserID, kbID, limit)
	if err != nil {
		h.log.Error("GetLearningPath failed", "error", err, "user_id", rd.UserID, "kb_id", kbID)
		RespondServiceError(c, "generate_path_failed", err)
		return
	}
	RespondOK(c, gin.H{"items": path.Items, "edges": path.Edges})
}

// InvalidateLearningPath drops the kb's cached path. The extraction
// pipeline calls it after adding or removing keypoints.
func (h *PathHandler) InvalidateLearningPath(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	kbID, err := uuid.Parse(c.Param("kb_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_kb_id", err)
		return
	}
	if err := h.paths.InvalidateForKB(c.Request.Context(), kbID); err != nil {
		h.log.Error("InvalidateLearningPath failed", "error", err, "kb_id", kbID)
		RespondServiceError(c, "invalidate_path_failed", err)
		return
	}
	RespondOK(c, gin.H{"invalidated": true})
}
