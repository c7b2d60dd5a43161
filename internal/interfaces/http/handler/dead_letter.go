package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/tradejournal/backend/internal/application/event"
	"github.com/tradejournal/backend/internal/interfaces/http/middleware"
)

// DeadLetterHandler serves the journal service's dead letter endpoints
type DeadLetterHandler struct {
	BaseHandler
	deadLetters *event.DeadLetterService
}

// NewDeadLetterHandler creates a new dead letter handler
func NewDeadLetterHandler(deadLetters *event.DeadLetterService) *DeadLetterHandler {
	return &DeadLetterHandler{
		deadLetters: deadLetters,
	}
}

// List godoc
// @ID           listDeadLetters
// @Summary      List dead letters
// @Description  Page through messages the inbox consumer gave up on
// @Tags         inbox
// @Produce      json
// @Param        include_replayed query bool false "Include replayed letters"
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Items per page" default(20) maximum(100)
// @Success      200 {object} dto.Response{data=[]event.DeadLetterDTO}
// @Failure      400 {object} dto.Response
// @Router       /system/inbox/dead [get]
func (h *DeadLetterHandler) List(c *gin.Context) {
	var filter event.DeadLetterFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.ValidationError(c, middleware.FormatValidationErrors(err))
		return
	}

	result, err := h.deadLetters.List(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, result.Letters, result.Total, result.Page, result.PageSize)
}

// Get godoc
// @ID           getDeadLetter
// @Summary      Get a dead letter by ID
// @Tags         inbox
// @Produce      json
// @Param        id path string true "Dead letter ID" format(uuid)
// @Success      200 {object} dto.Response{data=event.DeadLetterDTO}
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /system/inbox/dead/{id} [get]
func (h *DeadLetterHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c, "dead letter")
	if !ok {
		return
	}

	letter, err := h.deadLetters.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, letter)
}

// Replay godoc
// @ID           replayDeadLetter
// @Summary      Replay a dead letter
// @Description  Apply the parked message through the projection. The inbox still prevents a second application.
// @Tags         inbox
// @Produce      json
// @Param        id path string true "Dead letter ID" format(uuid)
// @Success      200 {object} dto.Response{data=event.ReplayResultDTO}
// @Failure      404 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Router       /system/inbox/dead/{id}/replay [post]
func (h *DeadLetterHandler) Replay(c *gin.Context) {
	id, ok := h.parseID(c, "dead letter")
	if !ok {
		return
	}

	result, err := h.deadLetters.Replay(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, result)
}
