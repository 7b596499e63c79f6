package stripewebhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"handytoknow/internal/domain/billing"
	"handytoknow/internal/domain/plans"
	"handytoknow/internal/domain/trades"
	"handytoknow/internal/infra/mailer"
	"handytoknow/internal/infra/recordstore"
	"handytoknow/internal/infra/stripe/stripetest"

	"github.com/gin-gonic/gin"
)

const secret = "whsec_test"

type fixture struct {
	router *gin.Engine
	gw     *stripetest.Fake
	repo   *trades.Repository
	svc    *billing.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := recordstore.NewMemory()
	repo := trades.NewRepository(store)
	gw := stripetest.New(secret)
	catalog := plans.NewCatalog(map[string]string{
		plans.Bronze: "price_bronze",
		plans.Silver: "price_silver",
		plans.Gold:   "price_gold",
	})
	svc := billing.NewService(gw, repo, catalog, store, &mailer.LogSender{}, billing.Config{
		AppURL:     "https://handytoknow.test",
		AdminEmail: "admin@handytoknow.test",
	})

	r := gin.New()
	r.POST("/api/stripe-webhook", NewHandler(gw, svc).StripeWebhook)

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

// paidSession creates and pays a silver checkout for trade t-1.
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

func (f *fixture) post(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) account(t *testing.T) trades.Account {
	t.Helper()
	row, err := f.repo.FindByID(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("FindByID error = %v", err)
	}
	return trades.AccountFromRow(row)
}

func completed(eventID, sessionID string) []byte {
	return stripetest.EventPayload(eventID, billing.EventCheckoutCompleted, map[string]any{
		"id":             sessionID,
		"object":         "checkout.session",
		"payment_status": "paid",
		"metadata":       map[string]string{"trade_id": "t-1"},
	})
}

func status(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	s, _ := body["status"].(string)
	return s
}

func TestWebhookRejectsBadSignatures(t *testing.T) {
	f := setup(t)
	sessionID := f.paidSession(t)
	payload := completed("evt_1", sessionID)

	cases := []struct {
		name      string
		signature string
	}{
		{"missing", ""},
		{"wrong secret", stripetest.Sign(payload, "whsec_other")},
		{"garbage", "t=1,v1=deadbeef"},
		{"signed other body", stripetest.Sign(completed("evt_2", sessionID), secret)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.post(payload, tc.signature)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}

	if acct := f.account(t); acct.Status != trades.StatusPaymentPending || acct.Credits != 0 {
		t.Fatalf("trade changed by unsigned event: %+v", acct)
	}
}

func TestWebhookCompletedActivatesTradeOnce(t *testing.T) {
	f := setup(t)
	sessionID := f.paidSession(t)
	payload := completed("evt_1", sessionID)

	w := f.post(payload, stripetest.Sign(payload, secret))
	if w.Code != http.StatusOK || status(t, w) != billing.OutcomeReceived {
		t.Fatalf("first delivery = %d %s", w.Code, w.Body.String())
	}
	acct := f.account(t)
	if acct.Status != trades.StatusActive || acct.Credits != 70 {
		t.Fatalf("account = %+v, want active with 70 credits", acct)
	}

	w = f.post(payload, stripetest.Sign(payload, secret))
	if w.Code != http.StatusOK || status(t, w) != billing.OutcomeDuplicate {
		t.Fatalf("redelivery = %d %s", w.Code, w.Body.String())
	}
	if again := f.account(t); again != acct {
		t.Fatalf("redelivery changed record:\n%+v\n%+v", acct, again)
	}
}

func TestWebhookRetryableFailureAsksForRedelivery(t *testing.T) {
	f := setup(t)
	sessionID := f.paidSession(t)
	payload := completed("evt_1", sessionID)

	f.gw.Errs["retrieve_session"] = context.DeadlineExceeded
	w := f.post(payload, stripetest.Sign(payload, secret))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (body %s)", w.Code, w.Body.String())
	}

	w = f.post(payload, stripetest.Sign(payload, secret))
	if w.Code != http.StatusOK || status(t, w) != billing.OutcomeReceived {
		t.Fatalf("redelivery = %d %s", w.Code, w.Body.String())
	}
}

func TestWebhookIgnoresUnhandledTypes(t *testing.T) {
	f := setup(t)
	payload := stripetest.EventPayload("evt_x", "customer.created", map[string]any{"id": "cus_1", "object": "customer"})

	w := f.post(payload, stripetest.Sign(payload, secret))
	if w.Code != http.StatusOK || status(t, w) != billing.OutcomeIgnored {
		t.Fatalf("response = %d %s", w.Code, w.Body.String())
	}
}

func TestWebhookInvoiceFailedMovesToPastDue(t *testing.T) {
	f := setup(t)
	sessionID := f.paidSession(t)
	payload := completed("evt_1", sessionID)
	if w := f.post(payload, stripetest.Sign(payload, secret)); w.Code != http.StatusOK {
		t.Fatalf("completed = %d", w.Code)
	}

	invoice := stripetest.EventPayload("evt_2", billing.EventInvoiceFailed, map[string]any{
		"id":           "in_1",
		"object":       "invoice",
		"subscription": "sub_1",
		"customer":     "cus_1",
		"amount_due":   4900,
		"currency":     "gbp",
	})
	w := f.post(invoice, stripetest.Sign(invoice, secret))
	if w.Code != http.StatusOK {
		t.Fatalf("invoice failed = %d %s", w.Code, w.Body.String())
	}
	if acct := f.account(t); acct.Status != trades.StatusPastDue || acct.Credits != 70 {
		t.Fatalf("account = %+v, want past_due keeping credits", acct)
	}
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	f := setup(t)
	payload := []byte(`{"id":"evt_big","type":"invoice.paid","pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`)

	w := f.post(payload, stripetest.Sign(payload, secret))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
