package admin

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"handytoknow/internal/apperr"
	"handytoknow/internal/domain/billing"
	"handytoknow/internal/domain/trades"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type Handler struct {
	trades *trades.Repository
	svc    *billing.Service
	now    func() time.Time
}

func NewHandler(repo *trades.Repository, svc *billing.Service) *Handler {
	return &Handler{trades: repo, svc: svc, now: time.Now}
}

type AdminStats struct {
	TotalTrades    int               `json:"totalTrades"`
	TradesPerPlan  map[string]int    `json:"tradesPerPlan"`
	TradesByStatus map[string]int    `json:"tradesByStatus"`
	TotalRevenue   map[string]string `json:"totalRevenue"`
	RecentRevenue  map[string]string `json:"recentRevenue"`
}

// GET /api/admin/trades
func (h *Handler) ListAllTrades(c *gin.Context) {
	accounts, err := h.trades.List(c.Request.Context())
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Failed to load trades", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "trades": accounts})
}

// GET /api/admin/trades/:id
func (h *Handler) GetTradeDetails(c *gin.Context) {
	tradeID := c.Param("id")
	ctx := c.Request.Context()

	row, err := h.trades.FindByID(ctx, tradeID)
	if errors.Is(err, trades.ErrNotFound) {
		apperr.Respond(c, apperr.NotFound("Trade not found"))
		return
	}
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Failed to load trade", err))
		return
	}

	all, err := h.svc.Payments().List(ctx)
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Failed to fetch payments", err))
		return
	}
	payments := make([]billing.Payment, 0)
	for _, p := range all {
		if p.TradeID == tradeID {
			payments = append(payments, p)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"trade":    trades.AccountFromRow(row),
		"payments": payments,
	})
}

// GET /api/admin/payments
func (h *Handler) ListAllPayments(c *gin.Context) {
	payments, err := h.svc.Payments().List(c.Request.Context())
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Failed to load payments", err))
		return
	}
	// Newest first.
	for i, j := 0, len(payments)-1; i < j; i, j = i+1, j-1 {
		payments[i], payments[j] = payments[j], payments[i]
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "payments": payments})
}

// GET /api/admin/stats
func (h *Handler) GetAdminStats(c *gin.Context) {
	ctx := c.Request.Context()
	accounts, err := h.trades.List(ctx)
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Failed to load trades", err))
		return
	}
	payments, err := h.svc.Payments().List(ctx)
	if err != nil {
		apperr.Respond(c, apperr.Upstream("Failed to load payments", err))
		return
	}

	stats := AdminStats{
		TotalTrades:    len(accounts),
		TradesPerPlan:  map[string]int{},
		TradesByStatus: map[string]int{},
	}
	for _, a := range accounts {
		plan := a.Plan
		if plan == "" {
			plan = "No Plan"
		}
		stats.TradesPerPlan[plan]++
		stats.TradesByStatus[a.Status]++
	}

	thirtyDaysAgo := h.now().AddDate(0, 0, -30)
	total := map[string]decimal.Decimal{}
	recent := map[string]decimal.Decimal{}
	for _, p := range payments {
		if p.Status != "paid" {
			continue
		}
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			continue
		}
		cur := strings.ToUpper(p.Currency)
		total[cur] = total[cur].Add(amount)
		if at, err := time.Parse(time.RFC3339, p.RecordedAt); err == nil && !at.Before(thirtyDaysAgo) {
			recent[cur] = recent[cur].Add(amount)
		}
	}
	stats.TotalRevenue = fixed(total)
	stats.RecentRevenue = fixed(recent)

	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

func fixed(sums map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(sums))
	for cur, d := range sums {
		out[cur] = d.StringFixed(billing.CurrencyExponent(cur))
	}
	return out
}
