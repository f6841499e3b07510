package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/studypath-backend/internal/pkg/logger"
	"github.com/yungbote/studypath-backend/internal/requestdata"
	"github.com/yungbote/studypath-backend/internal/services"
)

type GraphHandler struct {
	log    *logger.Logger
	graphs services.GraphService
}

func NewGraphHandler(log *logger.Logger, graphs services.GraphService) *GraphHandler {
	return &GraphHandler{
		log:    log.With("handler", "GraphHandler"),
		graphs: graphs,
	}
}

func (h *GraphHandler) GetGraph(c *gin.Context) {
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
	edges, err := h.graphs.GetGraph(c.Request.Context(), rd.UserID, kbID)
	if err != nil {
		h.log.Error("GetGraph failed", "error", err, "kb_id", kbID)
		RespondServiceError(c, "get_graph_failed", err)
		return
	}
	RespondOK(c, gin.H{"edges": edges})
}

func (h *GraphHandler) RebuildGraph(c *gin.Context) {
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

	force := true
	if raw := strings.TrimSpace(c.Query("force")); raw != "" {
		force = raw == "true" || raw == "1"
	}

	edges, err := h.graphs.BuildGraph(c.Request.Context(), rd.UserID, kbID, force)
	if err != nil {
		h.log.Error("RebuildGraph failed", "error", err, "user_id", rd.UserID, "kb_id", kbID)
		RespondServiceError(c, "rebuild_graph_failed", err)
		return
	}
	RespondOK(c, gin.H{"edges": edges})
}
