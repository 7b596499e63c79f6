package billingapi

import (
	"net/http"

	"handytoknow/internal/app/http/middleware"
	"handytoknow/internal/apperr"
	"handytoknow/internal/domain/billing"

	"github.com/gin-gonic/gin"
)

// GET /api/trade/payments
func (h *Handler) GetPaymentHistory(c *gin.Context) {
	acct, ok := middleware.Account(c)
	if !ok {
		apperr.Respond(c, apperr.Auth("Trade account required"))
		return
	}

	all, err := h.svc.Payments().List(c.Request.Context())
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Failed to load payments", err))
		return
	}

	payments := make([]billing.Payment, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].TradeID == acct.TradeID {
			payments = append(payments, all[i])
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "payments": payments})
}
