package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/studypath-backend/internal/pkg/logger"
	"github.com/yungbote/studypath-backend/internal/requestdata"
	"github.com/yungbote/studypath-backend/internal/services"
)

type MasteryHandler struct {
	log     *logger.Logger
	mastery services.MasteryService
}

func NewMasteryHandler(log *logger.Logger, mastery services.MasteryService) *MasteryHandler {
	return &MasteryHandler{
		log:     log.With("handler", "MasteryHandler"),
		mastery: mastery,
	}
}

type quizResultRequest struct {
	Correct bool `json:"correct"`
}

func (h *MasteryHandler) RecordQuizResult(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	keypointID, err := uuid.Parse(c.Param("keypoint_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_keypoint_id", err)
		return
	}
	var req quizResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}

	transition, err := h.mastery.RecordQuizResult(c.Request.Context(), keypointID, req.Correct)
	if err != nil {
		h.log.Error("RecordQuizResult failed", "error", err, "keypoint_id", keypointID)
		RespondServiceError(c, "record_quiz_result_failed", err)
		return
	}
	RespondOK(c, transition)
}

func (h *MasteryHandler) RecordStudyInteraction(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	keypointID, err := uuid.Parse(c.Param("keypoint_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_keypoint_id", err)
		return
	}

	transition, err := h.mastery.RecordStudyInteraction(c.Request.Context(), keypointID)
	if err != nil {
		h.log.Error("RecordStudyInteraction failed", "error", err, "keypoint_id", keypointID)
		RespondServiceError(c, "record_study_interaction_failed", err)
		return
	}
	RespondOK(c, transition)
}

func (h *MasteryHandler) GetMasterySummary(c *gin.Context) {
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

	summary, err := h.mastery.KBMasterySummary(c.Request.Context(), rd.UserID, kbID)
	if err != nil {
		h.log.Error("GetMasterySummary failed", "error", err, "user_id", rd.UserID, "kb_id", kbID)
		RespondServiceError(c, "mastery_summary_failed", err)
		return
	}
	RespondOK(c, summary)
}
