package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mfifer/docchat/internal/chat"
	"github.com/mfifer/docchat/internal/common"
)

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": Version,
	})
}

type chatReq struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id"`
}

// Chat runs one message through the pipeline synchronously. A missing session
// id gets a fresh one, returned so the client can continue the conversation.
func (h *Handler) Chat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	result, err := h.Svc.ProcessMessage(c.Request.Context(), sessionID, req.Message)
	if err != nil {
		h.Log.Error("chat processing failed", zap.String("session_id", sessionID), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "an error occurred while processing your request")
		return
	}

	common.OK(c, gin.H{
		"answer":         result.Answer,
		"session_id":     sessionID,
		"retrieved_docs": result.RetrievedDocs,
	})
}

// ClearHistory wipes a session's log. Idempotent.
func (h *Handler) ClearHistory(c *gin.Context) {
	sessionID := c.Param("session_id")

	if err := h.Svc.History().Clear(c.Request.Context(), sessionID); err != nil {
		h.Log.Error("clear history failed", zap.String("session_id", sessionID), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to clear history")
		return
	}

	common.OK(c, gin.H{"message": "chat history cleared for session " + sessionID})
}

type asyncChatReq struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
}

// ChatAsync creates a job row and enqueues it for the worker. An
// Idempotency-Key header makes retries return the original job.
func (h *Handler) ChatAsync(c *gin.Context) {
	var req asyncChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	jobID, err := common.NewULID()
	if err != nil {
		h.Log.Error("ulid generation failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	j := &chat.Job{
		ID:             jobID,
		SessionID:      req.SessionID,
		Question:       req.Message,
		IdempotencyKey: idempoKeyPtr,
		Status:         chat.JobQueued,
	}

	j, created, err := h.Jobs.CreateOrGetExisting(c.Request.Context(), j)
	if err != nil {
		h.Log.Error("job create failed", zap.String("session_id", req.SessionID), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	// Enqueue only when a new job row was created.
	if created {
		if err := h.Rabbit.PublishJob(c.Request.Context(), j.ID); err != nil {
			h.Log.Error("job publish failed", zap.String("job_id", j.ID), zap.Error(err))
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	common.OK(c, gin.H{"job_id": j.ID})
}

// GetJob reports the state of an async job, including the answer once the
// worker has finished.
func (h *Handler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.Jobs.GetByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		h.Log.Error("job lookup failed", zap.String("job_id", jobID), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":           j.ID,
			"session_id":   j.SessionID,
			"status":       j.Status,
			"answer":       j.Answer,
			"search_query": j.SearchQuery,
			"error":        j.Error,
			"created_at":   j.CreatedAt,
			"updated_at":   j.UpdatedAt,
		},
	})
}
