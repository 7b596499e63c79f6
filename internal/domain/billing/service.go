// Package billing runs the subscription purchase workflow: checkout session
// creation, webhook confirmation and session verification. Both confirmation
// paths go through ApplyPaymentConfirmation, keyed by the trade id carried in
// checkout metadata.
package billing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"handytoknow/internal/domain/plans"
	"handytoknow/internal/domain/trades"
	"handytoknow/internal/infra/mailer"
	"handytoknow/internal/infra/recordstore"
	"handytoknow/internal/infra/stripe"
)

type Config struct {
	AppURL     string
	AdminEmail string
	// EventTTL is how long a processed webhook event id is remembered.
	EventTTL time.Duration
	// EventLease bounds how long an in-flight event blocks redeliveries.
	EventLease time.Duration
}

type Service struct {
	gateway  stripe.Gateway
	trades   *trades.Repository
	catalog  *plans.Catalog
	ledger   *Ledger
	payments *Payments
	sender   mailer.Sender
	cfg      Config
	now      func() time.Time
}

func NewService(
	gateway stripe.Gateway,
	repo *trades.Repository,
	catalog *plans.Catalog,
	store recordstore.Store,
	sender mailer.Sender,
	cfg Config,
) *Service {
	if cfg.EventTTL <= 0 {
		cfg.EventTTL = 72 * time.Hour
	}
	if cfg.EventLease <= 0 {
		cfg.EventLease = 5 * time.Minute
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")

	return &Service{
		gateway:  gateway,
		trades:   repo,
		catalog:  catalog,
		ledger:   NewLedger(store, cfg.EventTTL, cfg.EventLease),
		payments: NewPayments(store),
		sender:   sender,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *Service) Catalog() *plans.Catalog { return s.catalog }

func (s *Service) Payments() *Payments { return s.payments }

// PortalURL returns a Stripe billing portal link for customerID.
func (s *Service) PortalURL(ctx context.Context, customerID string) (string, error) {
	return s.gateway.CreatePortalSession(ctx, customerID, s.cfg.AppURL+"/trade/account")
}

// send delivers msg best-effort.
func (s *Service) send(ctx context.Context, msg mailer.Message) {
	if msg.To == "" {
		return
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		slog.Error("billing email failed", "to", msg.To, "subject", msg.Subject, "error", err)
	}
}
