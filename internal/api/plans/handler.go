package plansapi

import (
	"net/http"

	"handytoknow/internal/domain/plans"
	"handytoknow/internal/infra/stripe"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	catalog *plans.Catalog
	gateway stripe.Gateway
}

func NewHandler(catalog *plans.Catalog, gateway stripe.Gateway) *Handler {
	return &Handler{catalog: catalog, gateway: gateway}
}

// GET /api/plans
func (h *Handler) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "plans": h.catalog.All()})
}
