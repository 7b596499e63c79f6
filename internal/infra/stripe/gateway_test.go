package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testWebhookSecret = "whsec_test"

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient("sk_test_123", testWebhookSecret, 5*time.Second, WithBackendURL(srv.URL))
}

func TestCreateCheckoutSessionSendsMetadataTwice(t *testing.T) {
	var form map[string][]string
	var idem string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm error = %v", err)
		}
		form = r.PostForm
		idem = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_1"}`)
	})

	s, err := c.CreateCheckoutSession(context.Background(), CheckoutRequest{
		PriceID:        "price_silver",
		SuccessURL:     "https://app.test/ok",
		CancelURL:      "https://app.test/cancel",
		CustomerEmail:  "bob@example.com",
		Metadata:       map[string]string{"trade_id": "t-1", "plan": "silver"},
		IdempotencyKey: "nonce-1",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession error = %v", err)
	}
	if s.ID != "cs_test_1" || s.URL == "" {
		t.Fatalf("session = %+v", s)
	}
	if idem != "nonce-1" {
		t.Fatalf("Idempotency-Key = %q, want nonce-1", idem)
	}

	checks := map[string]string{
		"mode":                                  "subscription",
		"line_items[0][price]":                  "price_silver",
		"metadata[trade_id]":                    "t-1",
		"metadata[plan]":                        "silver",
		"subscription_data[metadata][trade_id]": "t-1",
		"subscription_data[metadata][plan]":     "silver",
		"client_reference_id":                   "t-1",
		"customer_email":                        "bob@example.com",
	}
	for key, want := range checks {
		if got := strings.Join(form[key], ","); got != want {
			t.Fatalf("form[%s] = %q, want %q", key, got, want)
		}
	}
}

func TestRetrieveSessionExpandsAndConverts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions/cs_paid" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("expand[0]") != "subscription" || q.Get("expand[1]") != "customer" {
			t.Errorf("expand = %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id":"cs_paid","object":"checkout.session","payment_status":"paid",
			"amount_total":4900,"currency":"gbp",
			"customer_details":{"email":"bob@example.com"},
			"customer":{"id":"cus_1","object":"customer"},
			"metadata":{"trade_id":"t-1"},
			"subscription":{"id":"sub_1","object":"subscription","status":"active",
				"current_period_end":1700000000,
				"items":{"object":"list","data":[{"id":"si_1","object":"subscription_item","price":{"id":"price_silver","object":"price"}}]}}
		}`)
	})

	s, err := c.RetrieveSession(context.Background(), "cs_paid")
	if err != nil {
		t.Fatalf("RetrieveSession error = %v", err)
	}
	if s.PaymentStatus != "paid" || s.CustomerEmail != "bob@example.com" || s.CustomerID != "cus_1" {
		t.Fatalf("session = %+v", s)
	}
	if s.Subscription == nil || s.Subscription.ID != "sub_1" || s.Subscription.PriceID != "price_silver" {
		t.Fatalf("subscription = %+v", s.Subscription)
	}
	if s.Metadata["trade_id"] != "t-1" {
		t.Fatalf("metadata = %v", s.Metadata)
	}
}

func TestRetrieveSessionNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session: cs_missing"}}`)
	})

	_, err := c.RetrieveSession(context.Background(), "cs_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("RetrieveSession error = %v, want ErrNotFound", err)
	}
}

func TestConstructEvent(t *testing.T) {
	c := NewClient("sk_test_123", testWebhookSecret, time.Second)
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","payment_status":"paid","metadata":{"trade_id":"t-1"}}}}`)

	t.Run("valid signature", func(t *testing.T) {
		ev, err := c.ConstructEvent(payload, sign(payload, testWebhookSecret, time.Now()))
		if err != nil {
			t.Fatalf("ConstructEvent error = %v", err)
		}
		if ev.ID != "evt_1" || ev.Type != "checkout.session.completed" {
			t.Fatalf("event = %+v", ev)
		}
		if ev.Session == nil || ev.Session.ID != "cs_1" || ev.Session.Metadata["trade_id"] != "t-1" {
			t.Fatalf("session = %+v", ev.Session)
		}
	})

	cases := map[string]string{
		"wrong secret": sign(payload, "whsec_other", time.Now()),
		"stale":        sign(payload, testWebhookSecret, time.Now().Add(-time.Hour)),
		"missing":      "",
		"garbage":      "t=abc,v1=zz",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := c.ConstructEvent(payload, header); !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("ConstructEvent error = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestConstructEventDecodesInvoice(t *testing.T) {
	c := NewClient("sk_test_123", testWebhookSecret, time.Second)
	payload := []byte(`{"id":"evt_2","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_1","object":"invoice","customer":"cus_1","customer_email":"bob@example.com","subscription":"sub_1","amount_due":4900,"currency":"gbp"}}}`)

	ev, err := c.ConstructEvent(payload, sign(payload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("ConstructEvent error = %v", err)
	}
	if ev.Invoice == nil || ev.Invoice.SubscriptionID != "sub_1" || ev.Invoice.CustomerID != "cus_1" {
		t.Fatalf("invoice = %+v", ev.Invoice)
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]string{
		"":                   "none",
		"active":             StatusActive,
		" trialing ":         StatusTrialing,
		"unpaid":             StatusPastDue,
		"past_due":           StatusPastDue,
		"incomplete_expired": StatusCanceled,
		"incomplete":         "incomplete",
	}
	for in, want := range cases {
		if got := NormalizeStatus(in); got != want {
			t.Fatalf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestListPricesSkipsOneOffAndFlagsArchivedProducts(t *testing.T) {
	var query map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/prices" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		query = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","url":"/v1/prices","has_more":false,"data":[
			{"id":"price_silver","object":"price","active":true,"currency":"gbp","unit_amount":4900,
			 "recurring":{"interval":"month"},"product":{"id":"prod_1","object":"product","name":"Silver","active":true}},
			{"id":"price_old","object":"price","active":true,"currency":"gbp","unit_amount":3900,
			 "recurring":{"interval":"month"},"product":{"id":"prod_2","object":"product","name":"Legacy","active":false}},
			{"id":"price_once","object":"price","active":true,"currency":"gbp","unit_amount":1000,
			 "product":{"id":"prod_3","object":"product","name":"Setup fee","active":true}}
		]}`)
	})

	prices, err := c.ListPrices(context.Background())
	if err != nil {
		t.Fatalf("ListPrices error = %v", err)
	}
	if got := query["expand[]"]; len(got) != 1 || got[0] != "data.product" {
		t.Fatalf("expand = %v, want data.product", got)
	}
	if len(prices) != 2 {
		t.Fatalf("prices = %+v, want 2 recurring", prices)
	}
	silver := prices[0]
	if silver.ID != "price_silver" || silver.UnitAmount != 4900 || silver.Interval != "month" ||
		silver.ProductName != "Silver" || !silver.Active {
		t.Fatalf("silver = %+v", silver)
	}
	if prices[1].Active {
		t.Fatalf("price on archived product reported active: %+v", prices[1])
	}
}
