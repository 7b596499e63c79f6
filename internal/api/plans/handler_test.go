package plansapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"handytoknow/internal/domain/plans"
	"handytoknow/internal/infra/stripe"
	"handytoknow/internal/infra/stripe/stripetest"

	"github.com/gin-gonic/gin"
)

type checkResponse struct {
	Plans    []PlanCheck     `json:"plans"`
	Unlisted []UnlistedPrice `json:"unlisted"`
	Matched  int             `json:"matched"`
	Missing  int             `json:"missing"`
}

func setup(t *testing.T) (*gin.Engine, *stripetest.Fake) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gw := stripetest.New("whsec_test")
	h := NewHandler(plans.NewCatalog(map[string]string{
		plans.Bronze: "price_bronze",
		plans.Silver: "price_silver",
		plans.Gold:   "price_gold",
	}), gw)

	r := gin.New()
	r.GET("/api/plans", h.ListPlans)
	r.GET("/api/admin/plans/check", h.CheckPlans)
	return r, gw
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestListPlans(t *testing.T) {
	r, _ := setup(t)

	w := get(r, "/api/plans")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Plans []plans.Plan `json:"plans"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []plans.Plan{
		{Name: plans.Bronze, StripePriceID: "price_bronze", Credits: 10},
		{Name: plans.Silver, StripePriceID: "price_silver", Credits: 70},
		{Name: plans.Gold, StripePriceID: "price_gold", Credits: 160},
	}
	if len(body.Plans) != len(want) {
		t.Fatalf("plans = %+v", body.Plans)
	}
	for i := range want {
		if body.Plans[i] != want[i] {
			t.Fatalf("plans[%d] = %+v, want %+v", i, body.Plans[i], want[i])
		}
	}
}

func TestCheckPlans(t *testing.T) {
	r, gw := setup(t)
	gw.Prices = []stripe.Price{
		{ID: "price_bronze", ProductName: "Bronze", Currency: "gbp", UnitAmount: 1900, Interval: "month", Active: true},
		{ID: "price_silver", ProductName: "Silver", Currency: "gbp", UnitAmount: 4900, Interval: "month", Active: false},
		{ID: "price_promo", ProductName: "Spring promo", Currency: "gbp", UnitAmount: 2500, Interval: "month", Active: true},
	}

	w := get(r, "/api/admin/plans/check")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	var body checkResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	wantStatus := map[string]string{
		plans.Bronze: CheckOK,
		plans.Silver: CheckArchived,
		plans.Gold:   CheckMissing,
	}
	for _, p := range body.Plans {
		if p.Status != wantStatus[p.Plan] {
			t.Fatalf("%s status = %q, want %q", p.Plan, p.Status, wantStatus[p.Plan])
		}
	}
	if body.Plans[0].Amount != "19.00" || body.Plans[0].Currency != "GBP" {
		t.Fatalf("bronze = %+v", body.Plans[0])
	}
	if body.Matched != 1 || body.Missing != 2 {
		t.Fatalf("matched/missing = %d/%d, want 1/2", body.Matched, body.Missing)
	}
	if len(body.Unlisted) != 1 || body.Unlisted[0].PriceID != "price_promo" || body.Unlisted[0].Amount != "25.00" {
		t.Fatalf("unlisted = %+v", body.Unlisted)
	}
}

func TestCheckPlansUpstreamFailure(t *testing.T) {
	r, gw := setup(t)
	gw.Errs["list_prices"] = context.DeadlineExceeded

	if w := get(r, "/api/admin/plans/check"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
