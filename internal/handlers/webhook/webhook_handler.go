// internal/handlers/webhook/webhook_handler.go
package webhook

import (
	"errors"
	"io"
	"net/http"
	"time"

	"billing-service/internal/domain/billingevent"
	"billing-service/internal/integration/stripe"
	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/service/reconcile"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type WebhookHandler struct {
	secret     string
	dispatcher *reconcile.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func NewWebhookHandler(secret string, dispatcher *reconcile.Dispatcher, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:     secret,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// HandleWebhook verifies a provider delivery and hands it to the dispatcher
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	if h.secret == "" {
		h.logger.Error("webhook received but verification secret is not configured")
		h.fail(c, http.StatusInternalServerError, xerrors.ErrSecretNotConfigured)
		return
	}

	sigHeader := c.GetHeader(stripe.SignatureHeader)
	if sigHeader == "" {
		h.fail(c, http.StatusBadRequest, xerrors.ErrSignatureMissing)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, stripe.MaxBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, http.StatusRequestEntityTooLarge, errors.New("payload too large"))
			return
		}
		h.fail(c, http.StatusBadRequest, errors.New("failed to read request body"))
		return
	}

	ev, err := stripe.ParseEvent(payload, sigHeader, h.secret)
	if err != nil {
		h.logger.Warn("webhook rejected",
			zap.String("client_ip", c.ClientIP()),
			zap.Error(err),
		)
		switch {
		case xerrors.Is(err, xerrors.ErrSignatureInvalid):
			h.fail(c, http.StatusBadRequest, xerrors.ErrSignatureInvalid)
		case xerrors.Is(err, xerrors.ErrInvalidPayload):
			h.fail(c, http.StatusBadRequest, xerrors.ErrInvalidPayload)
		default:
			h.fail(c, http.StatusInternalServerError, xerrors.ErrInternal)
		}
		return
	}

	ack, err := h.dispatcher.Handle(c.Request.Context(), ev)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, errors.New("webhook processing failed"))
		return
	}

	c.JSON(http.StatusOK, billingevent.WebhookResponse{
		Received: true,
		Skipped:  ack.Skipped(),
	})
}

// Liveness reports whether the endpoint can verify deliveries
func (h *WebhookHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, billingevent.LivenessResponse{
		Status:                  "ok",
		WebhookSecretConfigured: h.secret != "",
		Timestamp:               h.now().UTC(),
	})
}

func (h *WebhookHandler) fail(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, billingevent.WebhookResponse{
		Received: false,
		Error:    err.Error(),
	})
}
