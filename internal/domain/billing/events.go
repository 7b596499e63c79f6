package billing

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"handytoknow/internal/apperr"
	"handytoknow/internal/domain/trades"
	"handytoknow/internal/infra/recordstore"
	"handytoknow/internal/infra/stripe"
)

// Webhook acknowledgements.
const (
	OutcomeReceived  = "received"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventInvoicePaid            = "invoice.payment_succeeded"
	EventInvoiceFailed          = "invoice.payment_failed"
	EventSubscriptionUpdated    = "customer.subscription.updated"
	EventSubscriptionDeleted    = "customer.subscription.deleted"
)

func handles(eventType string) bool {
	switch eventType {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded, EventInvoicePaid,
		EventInvoiceFailed, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return true
	}
	return false
}

// HandleEvent applies a verified webhook event at most once per event id.
// A returned error means the event should be redelivered: the ledger claim
// was released. Failures that a redelivery cannot fix are logged and
// acknowledged.
func (s *Service) HandleEvent(ctx context.Context, ev *stripe.Event) (string, error) {
	if !handles(ev.Type) {
		slog.Info("webhook event ignored", "event_id", ev.ID, "type", ev.Type)
		return OutcomeIgnored, nil
	}
	if ev.ID == "" {
		return "", apperr.Validation("Event has no id", nil)
	}

	claim, ok, err := s.ledger.Claim(ctx, ev.ID, ev.Type)
	if err != nil {
		return "", apperr.Upstream("Failed to record webhook event", err)
	}
	if !ok {
		slog.Info("duplicate webhook event", "event_id", ev.ID, "type", ev.Type)
		return OutcomeDuplicate, nil
	}

	// The ledger update must land even if the request context is gone.
	bg := context.WithoutCancel(ctx)

	err = s.dispatch(ctx, ev)
	if err != nil && apperr.IsRetryable(err) {
		if rerr := claim.Release(bg, err.Error()); rerr != nil {
			slog.Error("release webhook event failed", "event_id", ev.ID, "error", rerr)
		}
		return "", err
	}

	note := "ok"
	if err != nil {
		note = err.Error()
		slog.Warn("webhook event not applied", "event_id", ev.ID, "type", ev.Type, "error", err)
	}
	if derr := claim.Done(bg, note); derr != nil {
		slog.Error("mark webhook event done failed", "event_id", ev.ID, "error", derr)
	}
	slog.Info("webhook event processed", "event_id", ev.ID, "type", ev.Type)
	return OutcomeReceived, nil
}

func (s *Service) dispatch(ctx context.Context, ev *stripe.Event) error {
	switch ev.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded:
		if ev.Session == nil || ev.Session.ID == "" {
			return apperr.Validation("Event has no checkout session", nil)
		}
		return s.onCheckoutCompleted(ctx, ev.Session.ID)
	case EventInvoicePaid, EventInvoiceFailed:
		if ev.Invoice == nil {
			return apperr.Validation("Event has no invoice", nil)
		}
		if ev.Type == EventInvoicePaid {
			return s.onInvoicePaid(ctx, ev.Invoice)
		}
		return s.onInvoiceFailed(ctx, ev.Invoice)
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		if ev.Subscription == nil || ev.Subscription.ID == "" {
			return apperr.Validation("Event has no subscription", nil)
		}
		if ev.Type == EventSubscriptionUpdated {
			return s.onSubscriptionUpdated(ctx, ev.Subscription)
		}
		return s.onSubscriptionDeleted(ctx, ev.Subscription)
	}
	return nil
}

// onCheckoutCompleted re-reads the session from Stripe with its
// subscription expanded rather than trusting the event copy.
func (s *Service) onCheckoutCompleted(ctx context.Context, sessionID string) error {
	sess, err := s.gateway.RetrieveSession(ctx, sessionID)
	if errors.Is(err, stripe.ErrNotFound) {
		return apperr.NotFound("Checkout session not found")
	}
	if err != nil {
		return apperr.Upstream("Failed to retrieve checkout session", err)
	}
	if !isPaid(sess.PaymentStatus) {
		// Delayed payment methods finish with async_payment_succeeded.
		slog.Info("checkout completed without payment yet", "session_id", sess.ID, "payment_status", sess.PaymentStatus)
		return nil
	}

	var (
		acct     *trades.Account
		applyErr error
	)
	if strings.TrimSpace(sess.Metadata["trade_id"]) == "" {
		applyErr = apperr.Validation("Checkout session is not linked to a trade account", nil)
	} else {
		conf, err := s.ApplyPaymentConfirmation(ctx, sess)
		switch {
		case err != nil && apperr.IsRetryable(err):
			return err
		case err != nil:
			applyErr = err
		case conf.Superseded:
			return nil
		default:
			acct = &conf.Account
		}
	}

	s.notifyPurchase(ctx, sess, acct)
	return applyErr
}

func (s *Service) onInvoicePaid(ctx context.Context, inv *stripe.Invoice) error {
	if inv.SubscriptionID == "" {
		return apperr.Validation("Invoice is not for a subscription", nil)
	}
	meta, err := s.subscriptionMetadata(ctx, inv.SubscriptionID)
	if err != nil {
		return err
	}
	acct, changed, err := s.updateLinkedTrade(ctx, inv.SubscriptionID, meta, func(r *recordstore.Row) bool {
		if r.Get(trades.ColStatus) == trades.StatusActive {
			return false
		}
		r.Set(trades.ColStatus, trades.StatusActive)
		return true
	})
	if err != nil || acct == nil {
		return err
	}
	if changed {
		slog.Info("trade reactivated by paid invoice", "trade_id", acct.TradeID, "invoice_id", inv.ID)
	}
	return nil
}

// onInvoiceFailed moves the trade to past_due and starts dunning. Credits
// are left alone.
func (s *Service) onInvoiceFailed(ctx context.Context, inv *stripe.Invoice) error {
	if inv.SubscriptionID == "" {
		return apperr.Validation("Invoice is not for a subscription", nil)
	}
	meta, err := s.subscriptionMetadata(ctx, inv.SubscriptionID)
	if err != nil {
		return err
	}
	acct, changed, err := s.updateLinkedTrade(ctx, inv.SubscriptionID, meta, func(r *recordstore.Row) bool {
		if r.Get(trades.ColStatus) == trades.StatusPastDue {
			return false
		}
		r.Set(trades.ColStatus, trades.StatusPastDue)
		return true
	})
	if err != nil || acct == nil {
		return err
	}
	if changed {
		slog.Warn("trade moved to past_due", "trade_id", acct.TradeID, "invoice_id", inv.ID)
	}
	s.notifyPaymentFailed(ctx, *acct, inv)
	return nil
}

func (s *Service) onSubscriptionUpdated(ctx context.Context, sub *stripe.Subscription) error {
	status := stripe.NormalizeStatus(sub.Status)
	plan, planKnown := s.catalog.ByPrice(sub.PriceID)

	acct, changed, err := s.updateLinkedTrade(ctx, sub.ID, sub.Metadata, func(r *recordstore.Row) bool {
		changed := false
		// incomplete is the pre-payment state; checkout completion decides.
		if status != "incomplete" && status != "none" && r.Get(trades.ColStatus) != status {
			r.Set(trades.ColStatus, status)
			changed = true
		}
		if planKnown && r.Get(trades.ColPlan) != plan.Name {
			r.Set(trades.ColPlan, plan.Name)
			r.Set(trades.ColCredits, strconv.Itoa(plan.Credits))
			changed = true
		}
		return changed
	})
	if err != nil || acct == nil {
		return err
	}
	if changed {
		slog.Info("trade subscription updated", "trade_id", acct.TradeID, "status", acct.Status, "plan", acct.Plan)
	}
	return nil
}

func (s *Service) onSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	acct, changed, err := s.updateLinkedTrade(ctx, sub.ID, sub.Metadata, func(r *recordstore.Row) bool {
		if r.Get(trades.ColStatus) == trades.StatusCanceled {
			return false
		}
		r.Set(trades.ColStatus, trades.StatusCanceled)
		return true
	})
	if err != nil || acct == nil {
		return err
	}
	if changed {
		slog.Info("trade subscription canceled", "trade_id", acct.TradeID, "subscription_id", sub.ID)
		s.notifyCanceled(ctx, *acct)
	}
	return nil
}

// subscriptionMetadata fetches the metadata Stripe keeps on a subscription.
// A subscription Stripe no longer knows yields no metadata.
func (s *Service) subscriptionMetadata(ctx context.Context, subscriptionID string) (map[string]string, error) {
	sub, err := s.gateway.RetrieveSubscription(ctx, subscriptionID)
	if errors.Is(err, stripe.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Upstream("Failed to retrieve subscription", err)
	}
	return sub.Metadata, nil
}

// resolveTrade finds the trade behind a subscription: the trade_id metadata
// set at checkout, else an exact match on the stored subscription id.
func (s *Service) resolveTrade(ctx context.Context, subscriptionID string, meta map[string]string) (string, error) {
	if id := strings.TrimSpace(meta["trade_id"]); id != "" {
		return id, nil
	}
	row, err := s.trades.FindBySubscriptionID(ctx, subscriptionID)
	if errors.Is(err, trades.ErrNotFound) {
		return "", apperr.NotFound("No trade account linked to subscription " + subscriptionID)
	}
	if err != nil {
		return "", apperr.Upstream("Failed to look up trade account", err)
	}
	return row.Get(trades.ColTradeID), nil
}

// updateLinkedTrade applies mutate to the trade behind subscriptionID. Events
// for a subscription the trade has since replaced are skipped and return a
// nil account.
func (s *Service) updateLinkedTrade(
	ctx context.Context,
	subscriptionID string,
	meta map[string]string,
	mutate func(*recordstore.Row) bool,
) (*trades.Account, bool, error) {
	tradeID, err := s.resolveTrade(ctx, subscriptionID, meta)
	if err != nil {
		return nil, false, err
	}

	stale := false
	row, changed, err := s.trades.Update(ctx, tradeID, func(r *recordstore.Row) (bool, error) {
		cur := r.Get(trades.ColSubscriptionID)
		stale = cur != "" && cur != subscriptionID
		if stale {
			return false, nil
		}
		if !mutate(r) {
			return false, nil
		}
		if cur == "" {
			r.Set(trades.ColSubscriptionID, subscriptionID)
		}
		return true, nil
	})
	if errors.Is(err, trades.ErrNotFound) {
		return nil, false, apperr.NotFound("No trade account matches trade id " + tradeID)
	}
	if err != nil {
		return nil, false, apperr.Upstream("Failed to update trade account", err)
	}
	if stale {
		slog.Info("ignoring event for replaced subscription",
			"trade_id", tradeID, "subscription_id", subscriptionID)
		return nil, false, nil
	}
	acct := trades.AccountFromRow(row)
	return &acct, changed, nil
}
