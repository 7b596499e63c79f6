package trade

import (
	"net/http"

	"handytoknow/internal/app/http/middleware"
	"handytoknow/internal/apperr"
	"handytoknow/internal/domain/plans"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	catalog *plans.Catalog
}

func NewHandler(catalog *plans.Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// GET /api/trade/me
func (h *Handler) GetCurrentTrade(c *gin.Context) {
	acct, ok := middleware.Account(c)
	if !ok {
		apperr.Respond(c, apperr.Auth("Unauthorized"))
		return
	}

	c.JSON(http.StatusOK, MeResponse{
		Success: true,
		Account: BuildAccountDTO(acct),
		Billing: BillingDTO{
			Plan:          BuildPlanDTO(h.catalog, acct.Plan),
			Status:        acct.Status,
			Credits:       acct.Credits,
			HasCustomer:   acct.CustomerID != "",
			LastUpdatedAt: acct.LastUpdated,
		},
		Access: BuildAccessDTO(acct.Status),
	})
}
