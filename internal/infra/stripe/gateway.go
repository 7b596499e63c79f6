// Package stripe adapts the Stripe API to the few calls the checkout
// workflow needs and converts Stripe objects into flat local types.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
	"github.com/stripe/stripe-go/v75/webhook"
)

var (
	ErrNotFound         = errors.New("stripe: resource not found")
	ErrInvalidSignature = errors.New("stripe: webhook signature verification failed")
)

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	// RetrieveSession returns the session with subscription and customer expanded.
	RetrieveSession(ctx context.Context, id string) (*Session, error)
	RetrieveSubscription(ctx context.Context, id string) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string) error
	// ConstructEvent verifies the Stripe-Signature header against the raw
	// payload and decodes the event. Nothing in payload is trusted before that.
	ConstructEvent(payload []byte, signature string) (*Event, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// ListPrices returns the active recurring prices with their products.
	ListPrices(ctx context.Context) ([]Price, error)
}

type CheckoutRequest struct {
	PriceID        string
	SuccessURL     string
	CancelURL      string
	CustomerEmail  string
	Metadata       map[string]string
	IdempotencyKey string
}

type Session struct {
	ID                string
	URL               string
	PaymentStatus     string
	CustomerEmail     string
	CustomerID        string
	ClientReferenceID string
	AmountTotal       int64
	Currency          string
	Metadata          map[string]string
	Subscription      *Subscription
}

type Subscription struct {
	ID               string
	Status           string
	PriceID          string
	CustomerID       string
	Metadata         map[string]string
	CurrentPeriodEnd time.Time
}

type Invoice struct {
	ID               string
	CustomerID       string
	CustomerEmail    string
	SubscriptionID   string
	AmountDue        int64
	Currency         string
	HostedInvoiceURL string
}

type Price struct {
	ID          string
	ProductID   string
	ProductName string
	Currency    string
	UnitAmount  int64
	Interval    string
	// Active is false when the price or its product has been archived.
	Active bool
}

// Event is a verified webhook event. Exactly one of Session, Subscription or
// Invoice is set for the event families the workflow handles.
type Event struct {
	ID           string
	Type         string
	Session      *Session
	Subscription *Subscription
	Invoice      *Invoice
}

type Client struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
}

type Option func(*stripego.BackendConfig)

// WithBackendURL points the client at another API host. Used by tests.
func WithBackendURL(url string) Option {
	return func(c *stripego.BackendConfig) { c.URL = stripego.String(url) }
}

func NewClient(secretKey, webhookSecret string, timeout time.Duration, opts ...Option) *Client {
	cfg := &stripego.BackendConfig{
		// Failed calls surface to the caller; Stripe is not retried here.
		MaxNetworkRetries: stripego.Int64(0),
		HTTPClient:        &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	backends := &stripego.Backends{
		API:     stripego.GetBackendWithConfig(stripego.APIBackend, cfg),
		Connect: stripego.GetBackend(stripego.ConnectBackend),
		Uploads: stripego.GetBackend(stripego.UploadsBackend),
	}
	return &Client{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
		timeout:       timeout,
	}
}

func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	params := &stripego.CheckoutSessionParams{
		Mode:       stripego.String(string(stripego.CheckoutSessionModeSubscription)),
		SuccessURL: stripego.String(req.SuccessURL),
		CancelURL:  stripego.String(req.CancelURL),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{Price: stripego.String(req.PriceID), Quantity: stripego.Int64(1)},
		},
		SubscriptionData: &stripego.CheckoutSessionSubscriptionDataParams{
			Metadata: copyMetadata(req.Metadata),
		},
	}
	params.Metadata = copyMetadata(req.Metadata)
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripego.String(req.CustomerEmail)
	}
	if tradeID := req.Metadata["trade_id"]; tradeID != "" {
		params.ClientReferenceID = stripego.String(tradeID)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", mapError(err))
	}
	return fromCheckoutSession(s), nil
}

func (c *Client) RetrieveSession(ctx context.Context, id string) (*Session, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	params := &stripego.CheckoutSessionParams{}
	params.AddExpand("subscription")
	params.AddExpand("customer")
	params.Context = ctx

	s, err := c.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", id, mapError(err))
	}
	return fromCheckoutSession(s), nil
}

func (c *Client) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	params := &stripego.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", id, mapError(err))
	}
	return fromSubscription(sub), nil
}

func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	params := &stripego.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := c.api.Subscriptions.Cancel(id, params); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", id, mapError(err))
	}
	return nil
}

func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	params := &stripego.BillingPortalSessionParams{
		Customer:  stripego.String(customerID),
		ReturnURL: stripego.String(returnURL),
	}
	params.Context = ctx

	portal, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", mapError(err))
	}
	return portal.URL, nil
}

func (c *Client) ListPrices(ctx context.Context) ([]Price, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	params := &stripego.PriceListParams{
		Active: stripego.Bool(true),
		Type:   stripego.String(string(stripego.PriceTypeRecurring)),
	}
	params.AddExpand("data.product")
	params.Context = ctx

	var out []Price
	it := c.api.Prices.List(params)
	for it.Next() {
		p := it.Price()
		if p.Recurring == nil {
			continue
		}
		out = append(out, fromPrice(p))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list prices: %w", mapError(err))
	}
	return out, nil
}

func (c *Client) ConstructEvent(payload []byte, signature string) (*Event, error) {
	if c.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeEvent(ev)
}

func decodeEvent(ev stripego.Event) (*Event, error) {
	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, nil
	}

	switch {
	case strings.HasPrefix(out.Type, "checkout.session."):
		var s stripego.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Session = fromCheckoutSession(&s)
	case strings.HasPrefix(out.Type, "customer.subscription."):
		var sub stripego.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		out.Subscription = fromSubscription(&sub)
	case strings.HasPrefix(out.Type, "invoice."):
		var in stripego.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &in); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		out.Invoice = fromInvoice(&in)
	}
	return out, nil
}

func fromCheckoutSession(s *stripego.CheckoutSession) *Session {
	if s == nil {
		return nil
	}
	out := &Session{
		ID:                s.ID,
		URL:               s.URL,
		PaymentStatus:     string(s.PaymentStatus),
		CustomerEmail:     s.CustomerEmail,
		ClientReferenceID: s.ClientReferenceID,
		AmountTotal:       s.AmountTotal,
		Currency:          string(s.Currency),
		Metadata:          copyMetadata(s.Metadata),
	}
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
		if out.CustomerEmail == "" {
			out.CustomerEmail = s.Customer.Email
		}
	}
	if s.Subscription != nil && s.Subscription.ID != "" {
		out.Subscription = fromSubscription(s.Subscription)
	}
	return out
}

func fromSubscription(sub *stripego.Subscription) *Subscription {
	if sub == nil {
		return nil
	}
	out := &Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: copyMetadata(sub.Metadata),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	return out
}

func fromPrice(p *stripego.Price) Price {
	out := Price{
		ID:         p.ID,
		Currency:   string(p.Currency),
		UnitAmount: p.UnitAmount,
		Active:     p.Active,
	}
	if p.Recurring != nil {
		out.Interval = string(p.Recurring.Interval)
	}
	if p.Product != nil {
		out.ProductID = p.Product.ID
		out.ProductName = p.Product.Name
		out.Active = out.Active && p.Product.Active
	}
	return out
}

func fromInvoice(in *stripego.Invoice) *Invoice {
	out := &Invoice{
		ID:               in.ID,
		CustomerEmail:    in.CustomerEmail,
		AmountDue:        in.AmountDue,
		Currency:         string(in.Currency),
		HostedInvoiceURL: in.HostedInvoiceURL,
	}
	if in.Customer != nil {
		out.CustomerID = in.Customer.ID
	}
	if in.Subscription != nil {
		out.SubscriptionID = in.Subscription.ID
	}
	return out
}

func mapError(err error) error {
	var se *stripego.Error
	if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, se.Msg)
	}
	return err
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
