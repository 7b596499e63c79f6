package stripewebhooks

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"handytoknow/internal/apperr"
	"handytoknow/internal/domain/billing"
	"handytoknow/internal/infra/stripe"

	"github.com/gin-gonic/gin"
)

// maxBodyBytes matches the size Stripe documents for webhook payloads.
const maxBodyBytes = 65536

type Handler struct {
	gateway stripe.Gateway
	svc     *billing.Service
}

func NewHandler(gateway stripe.Gateway, svc *billing.Service) *Handler {
	return &Handler{gateway: gateway, svc: svc}
}

// POST /api/stripe-webhook
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := readStripeBody(c, maxBodyBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apperr.Respond(c, apperr.Validation("Request body too large", nil))
			return
		}
		apperr.Respond(c, apperr.Validation("Error reading request body", nil))
		return
	}

	event, err := h.gateway.ConstructEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		slog.Warn("stripe signature verification failed", "error", err, "ip", c.ClientIP())
		apperr.Respond(c, apperr.Signature(err))
		return
	}

	outcome, err := h.svc.HandleEvent(c.Request.Context(), event)
	if err != nil {
		// 5xx makes Stripe redeliver.
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": outcome})
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
