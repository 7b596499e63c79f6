package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"

	"handytoknow/internal/apperr"
	"handytoknow/internal/domain/forms"
	"handytoknow/internal/infra/stripe"
)

// PurchaseTypeTrade marks sessions that buy a trade subscription.
const PurchaseTypeTrade = "trade_subscription"

// Stripe metadata limits.
const (
	maxMetadataKeys     = 50
	maxMetadataKeyLen   = 40
	maxMetadataValueLen = 500
)

type CheckoutInput struct {
	PriceID        string
	SuccessURL     string
	CancelURL      string
	CustomerEmail  string
	Metadata       map[string]string
	IdempotencyKey string
}

type CheckoutResult struct {
	SessionID     string `json:"sessionId"`
	URL           string `json:"url"`
	CorrelationID string `json:"correlationId"`
}

// CreateCheckout opens a subscription checkout session for a catalog price.
// The same metadata goes on the session and on the subscription it creates,
// so the trade id reaches every later webhook. Nothing local is written.
func (s *Service) CreateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if in.PriceID == "" {
		return nil, apperr.Validation("Missing required fields", []string{"priceId"})
	}
	plan, ok := s.catalog.ByPrice(in.PriceID)
	if !ok {
		return nil, apperr.Validation("Unknown price", "priceId is not one of the configured plans")
	}
	if in.CustomerEmail != "" && !forms.ValidEmail(in.CustomerEmail) {
		return nil, apperr.Validation("Invalid email address", nil)
	}

	meta := make(map[string]string, len(in.Metadata)+3)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	meta["plan"] = plan.Name
	correlationID := uuid.NewString()
	meta["correlation_id"] = correlationID
	if meta["trade_id"] != "" {
		meta["purchase_type"] = PurchaseTypeTrade
	}
	if problems := ValidateMetadata(meta); len(problems) > 0 {
		return nil, apperr.Validation("Invalid metadata", problems)
	}

	if in.SuccessURL == "" {
		in.SuccessURL = s.cfg.AppURL + "/trade/success?session_id={CHECKOUT_SESSION_ID}"
	}
	if in.CancelURL == "" {
		in.CancelURL = s.cfg.AppURL + "/trade/cancelled"
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, stripe.CheckoutRequest{
		PriceID:        in.PriceID,
		SuccessURL:     in.SuccessURL,
		CancelURL:      in.CancelURL,
		CustomerEmail:  in.CustomerEmail,
		Metadata:       meta,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return nil, apperr.Upstream("Failed to create checkout session", err)
	}

	slog.Info("checkout session created",
		"session_id", session.ID,
		"trade_id", meta["trade_id"],
		"plan", plan.Name,
		"correlation_id", correlationID,
	)
	return &CheckoutResult{SessionID: session.ID, URL: session.URL, CorrelationID: correlationID}, nil
}

// ValidateMetadata checks a metadata bag against Stripe's limits and returns
// one message per problem, sorted.
func ValidateMetadata(meta map[string]string) []string {
	var problems []string
	if len(meta) > maxMetadataKeys {
		problems = append(problems, fmt.Sprintf("metadata has %d keys, at most %d allowed", len(meta), maxMetadataKeys))
	}
	for k, v := range meta {
		switch {
		case k == "":
			problems = append(problems, "metadata keys must not be empty")
		case utf8.RuneCountInString(k) > maxMetadataKeyLen:
			problems = append(problems, fmt.Sprintf("metadata key %q is longer than %d characters", k, maxMetadataKeyLen))
		}
		if utf8.RuneCountInString(v) > maxMetadataValueLen {
			problems = append(problems, fmt.Sprintf("metadata value for %q is longer than %d characters", k, maxMetadataValueLen))
		}
	}
	sort.Strings(problems)
	return problems
}
