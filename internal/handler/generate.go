package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"aitest-backend/internal/model"
	"aitest-backend/internal/service"
	"aitest-backend/internal/storage"
	"aitest-backend/internal/utils"
	"aitest-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

type GenerateHandler struct {
	generateService *service.GenerateService
}

func NewGenerateHandler(generateService *service.GenerateService) *GenerateHandler {
	return &GenerateHandler{
		generateService: generateService,
	}
}

// StreamGenerate 流式生成测试用例，事件以 SSE 推送
func (h *GenerateHandler) StreamGenerate(c *gin.Context) {
	var req model.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logger.Infof("收到生成请求 - Slot: %s, Append: %v, Force: %v, ExpectedCount: %d",
		req.Slot, req.Append, req.Force, req.ExpectedCount)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Minute)
	defer cancel()

	eventChan, errChan := h.generateService.StreamGenerate(ctx, req)
	h.pump(c, ctx, eventChan, errChan)
}

// ConfirmDuplicate 用户确认重复后强制重新生成，继续以 SSE 推送
func (h *GenerateHandler) ConfirmDuplicate(c *gin.Context) {
	var req model.DuplicateDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Minute)
	defer cancel()

	eventChan, errChan, err := h.generateService.ConfirmDuplicate(ctx, req.Slot)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	h.pump(c, ctx, eventChan, errChan)
}

// CancelDuplicate 用户放弃重新生成，直接复用历史记录
func (h *GenerateHandler) CancelDuplicate(c *gin.Context) {
	var req model.DuplicateDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.generateService.CancelDuplicate(req.Slot)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *GenerateHandler) GetRecord(c *gin.Context) {
	recordID, err := strconv.ParseInt(c.Param("record_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的记录 ID"})
		return
	}

	record, err := h.generateService.GetRecord(recordID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.RecordResponse{
		RecordID:    record.ID,
		Requirement: record.Requirement,
		Cases:       record.Cases,
		Count:       len(record.Cases),
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	})
}

func (h *GenerateHandler) ListRecords(c *gin.Context) {
	records, err := h.generateService.Store().ListRecords()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   len(records),
	})
}

func (h *GenerateHandler) DeleteRecord(c *gin.Context) {
	recordID, err := strconv.ParseInt(c.Param("record_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的记录 ID"})
		return
	}

	if err := h.generateService.Store().DeleteRecord(recordID); err != nil {
		if err == storage.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Record deleted successfully"})
}

// pump 将服务层事件转写为 SSE，直到通道关闭或上下文结束
func (h *GenerateHandler) pump(c *gin.Context, ctx context.Context, eventChan <-chan model.GenerateEvent, errChan <-chan error) {
	sseWriter := utils.NewSSEWriter(c.Writer)

	heartbeatTicker := time.NewTicker(30 * time.Second)
	defer heartbeatTicker.Stop()

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				sseWriter.Close()
				return
			}

			if err := sseWriter.WriteJSON(event.Type, event); err != nil {
				logger.Errorf("Failed to write SSE: %v", err)
				return
			}

		case err := <-errChan:
			if err != nil {
				sseWriter.WriteJSON("error", gin.H{
					"error":     err.Error(),
					"type":      "service_error",
					"timestamp": time.Now().Unix(),
				})
				sseWriter.Close()
				return
			}

		case <-heartbeatTicker.C:
			if err := sseWriter.WriteJSON("heartbeat", gin.H{
				"type":      "heartbeat",
				"timestamp": time.Now().Unix(),
			}); err != nil {
				logger.Warnf("心跳发送失败: %v", err)
				return
			}

		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				sseWriter.WriteJSON("error", gin.H{
					"error":     "处理超时",
					"type":      "timeout",
					"timestamp": time.Now().Unix(),
				})
			}
			sseWriter.Close()
			return
		}
	}
}
