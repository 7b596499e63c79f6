package billingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"handytoknow/internal/app/http/middleware"
	"handytoknow/internal/domain/billing"
	"handytoknow/internal/domain/plans"
	"handytoknow/internal/domain/trades"
	"handytoknow/internal/infra/mailer"
	"handytoknow/internal/infra/recordstore"
	"handytoknow/internal/infra/stripe/stripetest"

	"github.com/gin-gonic/gin"
)

type fixture struct {
	router *gin.Engine
	gw     *stripetest.Fake
	repo   *trades.Repository
	svc    *billing.Service
}

// setup mounts the handlers. Trade routes get acct injected in place of
// the JWT and access middleware.
func setup(t *testing.T, acct *trades.Account) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := recordstore.NewMemory()
	repo := trades.NewRepository(store)
	gw := stripetest.New("whsec_test")
	catalog := plans.NewCatalog(map[string]string{
		plans.Bronze: "price_bronze",
		plans.Silver: "price_silver",
		plans.Gold:   "price_gold",
	})
	svc := billing.NewService(gw, repo, catalog, store, &mailer.LogSender{}, billing.Config{
		AppURL:     "https://handytoknow.test",
		AdminEmail: "admin@handytoknow.test",
	})
	h := NewHandler(svc)

	r := gin.New()
	r.POST("/api/create-checkout-session", h.CreateCheckoutSession)
	r.POST("/api/verify-session", h.VerifySession)
	r.GET("/api/verify-session", h.VerifySession)

	trade := r.Group("/api/trade")
	trade.Use(func(c *gin.Context) {
		if acct != nil {
			c.Set(middleware.KeyAccount, *acct)
		}
		c.Next()
	})
	trade.GET("/payments", h.GetPaymentHistory)
	trade.POST("/billing-portal", h.CreateBillingPortal)

	if _, err := repo.Create(context.Background(), map[string]string{
		trades.ColTradeID: "t-1",
		trades.ColEmail:   "bob@example.com",
		trades.ColStatus:  trades.StatusPaymentPending,
		trades.ColCredits: "0",
	}); err != nil {
		t.Fatalf("seed trade: %v", err)
	}
	return &fixture{router: r, gw: gw, repo: repo, svc: svc}
}

func (f *fixture) do(method, path string, body any, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestCreateCheckoutSession(t *testing.T) {
	f := setup(t, nil)

	w, body := f.do(http.MethodPost, "/api/create-checkout-session", map[string]any{
		"priceId":        "price_silver",
		"customerEmail":  "bob@example.com",
		"metadata":       map[string]string{"trade_id": "t-1"},
		"idempotencyKey": "from-body",
	}, map[string]string{"Idempotency-Key": "from-header"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if body["success"] != true || body["sessionId"] == "" || body["url"] == "" || body["correlationId"] == "" {
		t.Fatalf("unexpected body: %v", body)
	}

	created := f.gw.Created()
	if len(created) != 1 {
		t.Fatalf("created sessions = %d, want 1", len(created))
	}
	if created[0].IdempotencyKey != "from-header" {
		t.Fatalf("IdempotencyKey = %q, want header value", created[0].IdempotencyKey)
	}
	if created[0].Metadata["trade_id"] != "t-1" {
		t.Fatalf("metadata = %v, want trade_id t-1", created[0].Metadata)
	}
}

func TestCreateCheckoutSessionValidation(t *testing.T) {
	cases := []struct {
		name string
		body any
		want int
	}{
		{"missing price", map[string]any{"customerEmail": "bob@example.com"}, http.StatusBadRequest},
		{"unknown price", map[string]any{"priceId": "price_platinum"}, http.StatusBadRequest},
		{"bad email", map[string]any{"priceId": "price_silver", "customerEmail": "not-an-email"}, http.StatusBadRequest},
		{"malformed json", "not an object", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t, nil)
			w, body := f.do(http.MethodPost, "/api/create-checkout-session", tc.body, nil)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tc.want, w.Body.String())
			}
			if _, ok := body["error"]; !ok {
				t.Fatalf("body has no error: %v", body)
			}
			if n := len(f.gw.Created()); n != 0 {
				t.Fatalf("created sessions = %d, want 0", n)
			}
		})
	}
}

func (f *fixture) paidSession(t *testing.T) string {
	t.Helper()
	res, err := f.svc.CreateCheckout(context.Background(), billing.CheckoutInput{
		PriceID:  "price_silver",
		Metadata: map[string]string{"trade_id": "t-1"},
	})
	if err != nil {
		t.Fatalf("CreateCheckout error = %v", err)
	}
	f.gw.Pay(res.SessionID, "sub_1", "price_silver", "cus_1", 4900)
	return res.SessionID
}

func TestVerifySessionPostAndGet(t *testing.T) {
	f := setup(t, nil)
	sessionID := f.paidSession(t)

	w, body := f.do(http.MethodPost, "/api/verify-session", map[string]string{"sessionId": sessionID}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("POST status = %d (body %s)", w.Code, w.Body.String())
	}
	if body["tradeUpdated"] != true || body["alreadyApplied"] != false {
		t.Fatalf("POST body = %v", body)
	}
	if body["plan"] != plans.Silver || body["credits"] != float64(70) {
		t.Fatalf("plan/credits = %v/%v, want Silver/70", body["plan"], body["credits"])
	}

	w, body = f.do(http.MethodGet, "/api/verify-session?session_id="+sessionID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d (body %s)", w.Code, w.Body.String())
	}
	if body["alreadyApplied"] != true {
		t.Fatalf("second verify alreadyApplied = %v, want true", body["alreadyApplied"])
	}

	row, err := f.repo.FindByID(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("FindByID error = %v", err)
	}
	if acct := trades.AccountFromRow(row); acct.Status != trades.StatusActive || acct.Credits != 70 {
		t.Fatalf("account = %+v, want active with 70 credits", acct)
	}
}

func TestVerifySessionErrors(t *testing.T) {
	f := setup(t, nil)
	unpaid, err := f.svc.CreateCheckout(context.Background(), billing.CheckoutInput{
		PriceID:  "price_silver",
		Metadata: map[string]string{"trade_id": "t-1"},
	})
	if err != nil {
		t.Fatalf("CreateCheckout error = %v", err)
	}

	cases := []struct {
		name string
		path string
		want int
	}{
		{"missing id", "/api/verify-session", http.StatusBadRequest},
		{"unknown session", "/api/verify-session?session_id=cs_missing", http.StatusNotFound},
		{"unpaid", "/api/verify-session?session_id=" + unpaid.SessionID, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := f.do(http.MethodGet, tc.path, nil, nil)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestBillingPortal(t *testing.T) {
	t.Run("with customer", func(t *testing.T) {
		f := setup(t, &trades.Account{TradeID: "t-1", CustomerID: "cus_1", Status: trades.StatusActive})
		w, body := f.do(http.MethodPost, "/api/trade/billing-portal", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
		}
		if body["url"] != "https://billing.stripe.test/p/cus_1" {
			t.Fatalf("url = %v", body["url"])
		}
	})

	t.Run("no customer yet", func(t *testing.T) {
		f := setup(t, &trades.Account{TradeID: "t-1", Status: trades.StatusActive})
		w, _ := f.do(http.MethodPost, "/api/trade/billing-portal", nil, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("no account", func(t *testing.T) {
		f := setup(t, nil)
		w, _ := f.do(http.MethodPost, "/api/trade/billing-portal", nil, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
	})
}

func TestPaymentHistoryIsScopedToTrade(t *testing.T) {
	f := setup(t, &trades.Account{TradeID: "t-1", Status: trades.StatusActive})
	sessionID := f.paidSession(t)
	if _, err := f.svc.VerifySession(context.Background(), sessionID); err != nil {
		t.Fatalf("VerifySession error = %v", err)
	}

	w, body := f.do(http.MethodGet, "/api/trade/payments", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	payments, _ := body["payments"].([]any)
	if len(payments) != 1 {
		t.Fatalf("payments = %v, want 1 entry", body["payments"])
	}

	other := setup(t, &trades.Account{TradeID: "t-2", Status: trades.StatusActive})
	_, body = other.do(http.MethodGet, "/api/trade/payments", nil, nil)
	if payments, _ := body["payments"].([]any); len(payments) != 0 {
		t.Fatalf("other trade sees payments: %v", payments)
	}
}
