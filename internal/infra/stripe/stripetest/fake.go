// Package stripetest provides an in-memory stripe.Gateway for tests. Webhook
// signatures are checked with the real verifier.
package stripetest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"handytoknow/internal/infra/stripe"
)

var _ stripe.Gateway = (*Fake)(nil)

type Fake struct {
	mu            sync.Mutex
	sessions      map[string]*stripe.Session
	subscriptions map[string]*stripe.Subscription
	created       []stripe.CheckoutRequest
	canceled      []string
	nextID        int
	verifier      *stripe.Client

	// Prices is what ListPrices returns.
	Prices []stripe.Price

	// Errs, when set for an operation name, is returned once by that
	// operation. Names: "create", "retrieve_session", "retrieve_subscription",
	// "cancel", "portal", "list_prices".
	Errs map[string]error
}

func New(webhookSecret string) *Fake {
	return &Fake{
		sessions:      map[string]*stripe.Session{},
		subscriptions: map[string]*stripe.Subscription{},
		verifier:      stripe.NewClient("sk_test_fake", webhookSecret, time.Second),
		Errs:          map[string]error{},
	}
}

func (f *Fake) takeErr(op string) error {
	err := f.Errs[op]
	delete(f.Errs, op)
	return err
}

func (f *Fake) CreateCheckoutSession(ctx context.Context, req stripe.CheckoutRequest) (*stripe.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr("create"); err != nil {
		return nil, err
	}
	f.nextID++
	f.created = append(f.created, req)
	s := &stripe.Session{
		ID:            fmt.Sprintf("cs_test_%d", f.nextID),
		PaymentStatus: "unpaid",
		CustomerEmail: req.CustomerEmail,
		Metadata:      copyMap(req.Metadata),
	}
	s.URL = "https://checkout.stripe.test/" + s.ID
	f.sessions[s.ID] = s
	return copySession(s), nil
}

// Pay marks a session paid and attaches a new active subscription carrying
// the session metadata, like Stripe does with subscription_data.metadata.
func (f *Fake) Pay(sessionID, subscriptionID, priceID, customerID string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		s = &stripe.Session{ID: sessionID, Metadata: map[string]string{}}
		f.sessions[sessionID] = s
	}
	sub := &stripe.Subscription{
		ID:               subscriptionID,
		Status:           "active",
		PriceID:          priceID,
		CustomerID:       customerID,
		Metadata:         copyMap(s.Metadata),
		CurrentPeriodEnd: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.subscriptions[subscriptionID] = sub
	s.PaymentStatus = "paid"
	s.CustomerID = customerID
	s.AmountTotal = amount
	s.Currency = "gbp"
	s.Subscription = sub
}

// PutSession stores s as returned by RetrieveSession.
func (f *Fake) PutSession(s *stripe.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = copySession(s)
	if s.Subscription != nil {
		sub := *s.Subscription
		f.subscriptions[sub.ID] = &sub
	}
}

func (f *Fake) RetrieveSession(ctx context.Context, id string) (*stripe.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr("retrieve_session"); err != nil {
		return nil, err
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", id, stripe.ErrNotFound)
	}
	return copySession(s), nil
}

func (f *Fake) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr("retrieve_subscription"); err != nil {
		return nil, err
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("retrieve subscription %s: %w", id, stripe.ErrNotFound)
	}
	cp := *sub
	cp.Metadata = copyMap(sub.Metadata)
	return &cp, nil
}

func (f *Fake) CancelSubscription(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr("cancel"); err != nil {
		return err
	}
	f.canceled = append(f.canceled, id)
	if sub, ok := f.subscriptions[id]; ok {
		sub.Status = "canceled"
	}
	return nil
}

// SetSubscriptionStatus changes a subscription's status as Stripe would after
// dunning or a cancellation made outside this service.
func (f *Fake) SetSubscriptionStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subscriptions[id]; ok {
		sub.Status = status
	}
}

func (f *Fake) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr("portal"); err != nil {
		return "", err
	}
	return "https://billing.stripe.test/p/" + customerID, nil
}

func (f *Fake) ListPrices(ctx context.Context) ([]stripe.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr("list_prices"); err != nil {
		return nil, err
	}
	return append([]stripe.Price(nil), f.Prices...), nil
}

func (f *Fake) ConstructEvent(payload []byte, signature string) (*stripe.Event, error) {
	return f.verifier.ConstructEvent(payload, signature)
}

// Created returns the checkout requests seen so far.
func (f *Fake) Created() []stripe.CheckoutRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stripe.CheckoutRequest(nil), f.created...)
}

func (f *Fake) Canceled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.canceled...)
}

// Sign builds a Stripe-Signature header for payload.
func Sign(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// EventPayload renders a webhook body wrapping object.
func EventPayload(id, eventType string, object any) []byte {
	b, err := json.Marshal(map[string]any{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": object},
	})
	if err != nil {
		panic(err)
	}
	return b
}

func copySession(s *stripe.Session) *stripe.Session {
	cp := *s
	cp.Metadata = copyMap(s.Metadata)
	if s.Subscription != nil {
		sub := *s.Subscription
		sub.Metadata = copyMap(s.Subscription.Metadata)
		cp.Subscription = &sub
	}
	return &cp
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
