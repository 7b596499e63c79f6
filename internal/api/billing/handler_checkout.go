package billingapi

import (
	"net/http"
	"strings"

	"handytoknow/internal/app/http/middleware"
	"handytoknow/internal/apperr"
	"handytoknow/internal/domain/billing"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *billing.Service
}

func NewHandler(svc *billing.Service) *Handler {
	return &Handler{svc: svc}
}

type checkoutRequest struct {
	PriceID        string            `json:"priceId"`
	SuccessURL     string            `json:"successUrl"`
	CancelURL      string            `json:"cancelUrl"`
	CustomerEmail  string            `json:"customerEmail"`
	Metadata       map[string]string `json:"metadata"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

// POST /api/create-checkout-session
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	var body checkoutRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid request body", err.Error()))
		return
	}

	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(body.IdempotencyKey)
	}

	res, err := h.svc.CreateCheckout(c.Request.Context(), billing.CheckoutInput{
		PriceID:        strings.TrimSpace(body.PriceID),
		SuccessURL:     strings.TrimSpace(body.SuccessURL),
		CancelURL:      strings.TrimSpace(body.CancelURL),
		CustomerEmail:  strings.TrimSpace(body.CustomerEmail),
		Metadata:       body.Metadata,
		IdempotencyKey: key,
	})
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"sessionId":     res.SessionID,
		"url":           res.URL,
		"correlationId": res.CorrelationID,
	})
}

// POST /api/verify-session {sessionId}
// GET  /api/verify-session?session_id=
func (h *Handler) VerifySession(c *gin.Context) {
	sessionID := c.Query("session_id")
	if c.Request.Method == http.MethodPost {
		var body struct {
			SessionID string `json:"sessionId"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			apperr.Respond(c, apperr.Validation("Invalid request body", err.Error()))
			return
		}
		sessionID = body.SessionID
	}

	v, err := h.svc.VerifySession(c.Request.Context(), sessionID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	resp := gin.H{
		"success":        true,
		"sessionId":      v.SessionID,
		"paymentStatus":  v.PaymentStatus,
		"customerEmail":  v.CustomerEmail,
		"tradeUpdated":   v.TradeUpdated,
		"alreadyApplied": v.AlreadyApplied,
	}
	if v.Subscription != nil {
		resp["subscription"] = v.Subscription
	}
	if v.TradeUpdated {
		resp["plan"] = v.Plan
		resp["credits"] = v.Credits
		resp["subscriptionStatus"] = v.SubscriptionStatus
	}
	c.JSON(http.StatusOK, resp)
}

// POST /api/trade/billing-portal
func (h *Handler) CreateBillingPortal(c *gin.Context) {
	acct, ok := middleware.Account(c)
	if !ok {
		apperr.Respond(c, apperr.Auth("Trade account required"))
		return
	}
	if acct.CustomerID == "" {
		apperr.Respond(c, apperr.Validation("No Stripe customer yet (subscribe first)", nil))
		return
	}

	url, err := h.svc.PortalURL(c.Request.Context(), acct.CustomerID)
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Could not create billing portal session", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
}
