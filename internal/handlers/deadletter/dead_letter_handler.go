// internal/handlers/deadletter/dead_letter_handler.go
package deadletter

import (
	"net/http"

	"billing-service/internal/domain/billingevent"
	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/pkg/response"
	"billing-service/internal/service/reconcile"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DeadLetterHandler struct {
	dispatcher *reconcile.Dispatcher
	logger     *zap.Logger
}

func NewDeadLetterHandler(dispatcher *reconcile.Dispatcher, logger *zap.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// ListDeadLetters lists failed events, newest first
func (h *DeadLetterHandler) ListDeadLetters(c *gin.Context) {
	var filters billingevent.DeadLetterListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, "invalid query parameters", err)
		return
	}

	items, err := h.dispatcher.ListDeadLetters(c.Request.Context(), filters.Limit)
	if err != nil {
		h.logger.Error("failed to list dead letters", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "failed to list dead letters", err)
		return
	}

	response.Success(c, http.StatusOK, "dead letters retrieved successfully", billingevent.DeadLetterListResponse{
		DeadLetters: items,
		Total:       len(items),
	})
}

// ReplayDeadLetter re-runs processing for one failed event
func (h *DeadLetterHandler) ReplayDeadLetter(c *gin.Context) {
	eventID := c.Param("event_id")
	if eventID == "" {
		response.ValidationError(c, "event id is required", xerrors.ErrInvalidInput)
		return
	}

	ack, err := h.dispatcher.Replay(c.Request.Context(), eventID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrDeadLetterNotFound) {
			response.NotFound(c, "dead letter not found")
			return
		}
		response.Error(c, http.StatusBadGateway, "replay failed", err, ack)
		return
	}

	response.Success(c, http.StatusOK, "event replayed successfully", ack)
}
