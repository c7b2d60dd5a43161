package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/tradejournal/backend/internal/application/event"
)

// OutboxHandler serves the identity service's outbox inspection endpoints
type OutboxHandler struct {
	BaseHandler
	outboxService *event.OutboxService
}

// NewOutboxHandler creates a new outbox handler
func NewOutboxHandler(outboxService *event.OutboxService) *OutboxHandler {
	return &OutboxHandler{
		outboxService: outboxService,
	}
}

// GetStats godoc
// @ID           getOutboxStats
// @Summary      Get outbox statistics
// @Description  Count outbox records per delivery status
// @Tags         outbox
// @Produce      json
// @Success      200 {object} dto.Response{data=event.OutboxStatsDTO}
// @Failure      500 {object} dto.Response
// @Router       /system/outbox/stats [get]
func (h *OutboxHandler) GetStats(c *gin.Context) {
	stats, err := h.outboxService.GetStats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, stats)
}

// GetRecord godoc
// @ID           getOutboxRecord
// @Summary      Get an outbox record by ID
// @Tags         outbox
// @Produce      json
// @Param        id path string true "Outbox record ID" format(uuid)
// @Success      200 {object} dto.Response{data=event.OutboxRecordDTO}
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /system/outbox/{id} [get]
func (h *OutboxHandler) GetRecord(c *gin.Context) {
	id, ok := h.parseID(c, "record")
	if !ok {
		return
	}

	record, err := h.outboxService.GetRecord(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, record)
}
