package plansapi

import (
	"net/http"
	"strings"

	"handytoknow/internal/apperr"
	"handytoknow/internal/domain/billing"
	"handytoknow/internal/infra/stripe"

	"github.com/gin-gonic/gin"
)

// Plan check results.
const (
	CheckOK       = "ok"
	CheckMissing  = "missing"
	CheckArchived = "archived"
)

type PlanCheck struct {
	Plan     string `json:"plan"`
	PriceID  string `json:"priceId"`
	Credits  int    `json:"credits"`
	Status   string `json:"status"`
	Product  string `json:"product,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
	Interval string `json:"interval,omitempty"`
}

type UnlistedPrice struct {
	PriceID  string `json:"priceId"`
	Product  string `json:"product"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Interval string `json:"interval"`
}

// GET /api/admin/plans/check
//
// Compares the configured plan prices with what Stripe is selling. Nothing is
// written: the catalog comes from configuration.
func (h *Handler) CheckPlans(c *gin.Context) {
	prices, err := h.gateway.ListPrices(c.Request.Context())
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Failed to fetch Stripe prices", err))
		return
	}

	byID := make(map[string]stripe.Price, len(prices))
	for _, p := range prices {
		byID[p.ID] = p
	}

	checks := make([]PlanCheck, 0, 3)
	matched, missing := 0, 0
	for _, plan := range h.catalog.All() {
		check := PlanCheck{Plan: plan.Name, PriceID: plan.StripePriceID, Credits: plan.Credits}
		p, ok := byID[plan.StripePriceID]
		switch {
		case !ok:
			check.Status = CheckMissing
			missing++
		case !p.Active:
			check.Status = CheckArchived
			missing++
		default:
			check.Status = CheckOK
			matched++
		}
		if ok {
			check.Product = p.ProductName
			check.Amount = billing.FormatAmount(p.UnitAmount, p.Currency)
			check.Currency = strings.ToUpper(p.Currency)
			check.Interval = p.Interval
		}
		checks = append(checks, check)
	}

	unlisted := make([]UnlistedPrice, 0)
	for _, p := range prices {
		if !p.Active {
			continue
		}
		if _, known := h.catalog.ByPrice(p.ID); known {
			continue
		}
		unlisted = append(unlisted, UnlistedPrice{
			PriceID:  p.ID,
			Product:  p.ProductName,
			Amount:   billing.FormatAmount(p.UnitAmount, p.Currency),
			Currency: strings.ToUpper(p.Currency),
			Interval: p.Interval,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"plans":      checks,
		"unlisted":   unlisted,
		"matched":    matched,
		"missing":    missing,
		"configured": len(checks),
	})
}
