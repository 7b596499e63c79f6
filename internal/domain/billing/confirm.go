package billing

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"handytoknow/internal/apperr"
	"handytoknow/internal/domain/plans"
	"handytoknow/internal/domain/trades"
	"handytoknow/internal/infra/recordstore"
	"handytoknow/internal/infra/stripe"
)

type Confirmation struct {
	Account trades.Account
	// Applied is false when the trade already carried this checkout session.
	Applied bool
	// Superseded is set when the trade is linked to another subscription the
	// session may not replace. Nothing was written.
	Superseded bool
}

func isPaid(status string) bool {
	return status == "paid" || status == "no_payment_required"
}

func isLive(status string) bool {
	switch stripe.NormalizeStatus(status) {
	case stripe.StatusActive, stripe.StatusTrialing:
		return true
	}
	return false
}

// planFor prefers the subscription price, which the client cannot influence,
// and falls back to the plan recorded in metadata at checkout creation.
func (s *Service) planFor(sess *stripe.Session) string {
	if sess.Subscription != nil {
		if p, ok := s.catalog.ByPrice(sess.Subscription.PriceID); ok {
			return p.Name
		}
	}
	name, _ := plans.Normalize(sess.Metadata["plan"])
	return name
}

// linkedSubscription reports the state at Stripe of the subscription the
// trade row points at: live means active or trialing, cancelable means it
// exists and is not canceled yet.
func (s *Service) linkedSubscription(ctx context.Context, subscriptionID string) (live, cancelable bool, err error) {
	sub, err := s.gateway.RetrieveSubscription(ctx, subscriptionID)
	if errors.Is(err, stripe.ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, apperr.Upstream("Failed to retrieve current subscription", err)
	}
	return isLive(sub.Status), stripe.NormalizeStatus(sub.Status) != stripe.StatusCanceled, nil
}

// ApplyPaymentConfirmation activates the trade named by the session's
// trade_id metadata. It is the only place a checkout moves a trade to
// active, and it is idempotent by checkout session id: once a trade row
// carries sess.ID, later calls for the same session change nothing.
//
// A session may only take over a trade that is linked to a different
// subscription when its own subscription is live and the linked one is not.
// Older sessions replayed after a renewal, and checkouts started against a
// paying trade, leave the row and the linked subscription untouched. Plan
// changes for a live subscription go through the billing portal.
func (s *Service) ApplyPaymentConfirmation(ctx context.Context, sess *stripe.Session) (*Confirmation, error) {
	if !isPaid(sess.PaymentStatus) {
		return nil, apperr.Validation("Payment not completed", map[string]string{"paymentStatus": sess.PaymentStatus})
	}
	tradeID := strings.TrimSpace(sess.Metadata["trade_id"])
	if tradeID == "" {
		return nil, apperr.Validation("Checkout session is not linked to a trade account", nil)
	}

	plan := s.planFor(sess)
	newSubID := ""
	if sess.Subscription != nil {
		newSubID = sess.Subscription.ID
	}

	current, err := s.trades.FindByID(ctx, tradeID)
	if errors.Is(err, trades.ErrNotFound) {
		return nil, apperr.NotFound("No trade account matches this checkout session")
	}
	if err != nil {
		return nil, apperr.Upstream("Failed to read trade account", err)
	}
	checkedSubID := current.Get(trades.ColSubscriptionID)
	checkedLive, checkedCancelable := false, false
	if checkedSubID != "" && checkedSubID != newSubID && current.Get(trades.ColSessionID) != sess.ID {
		if checkedLive, checkedCancelable, err = s.linkedSubscription(ctx, checkedSubID); err != nil {
			return nil, err
		}
	}

	var (
		replacedSubID string
		superseded    bool
	)
	row, applied, err := s.trades.Update(ctx, tradeID, func(r *recordstore.Row) (bool, error) {
		replacedSubID, superseded = "", false
		if r.Get(trades.ColSessionID) == sess.ID {
			return false, nil
		}
		if cur := r.Get(trades.ColSubscriptionID); cur != "" && cur != newSubID {
			// The linked subscription changed since it was checked.
			if cur != checkedSubID || checkedLive || newSubID == "" || !isLive(sess.Subscription.Status) {
				superseded = true
				return false, nil
			}
			if checkedCancelable {
				replacedSubID = cur
			}
		}

		r.Set(trades.ColPlan, plan)
		r.Set(trades.ColStatus, trades.StatusActive)
		r.Set(trades.ColCredits, strconv.Itoa(plans.CreditsFor(plan)))
		if sess.CustomerID != "" {
			r.Set(trades.ColCustomerID, sess.CustomerID)
		}
		if newSubID != "" {
			r.Set(trades.ColSubscriptionID, newSubID)
		}
		r.Set(trades.ColSessionID, sess.ID)
		return true, nil
	})
	if errors.Is(err, trades.ErrNotFound) {
		return nil, apperr.NotFound("No trade account matches this checkout session")
	}
	if err != nil {
		return nil, apperr.Upstream("Failed to update trade account", err)
	}

	acct := trades.AccountFromRow(row)
	if superseded {
		slog.Warn("paid checkout session superseded; trade left unchanged",
			"trade_id", tradeID,
			"session_id", sess.ID,
			"session_subscription_id", newSubID,
			"trade_subscription_id", acct.SubscriptionID,
			"correlation_id", sess.Metadata["correlation_id"],
		)
		return &Confirmation{Account: acct, Superseded: true}, nil
	}
	if applied {
		slog.Info("trade subscription activated",
			"trade_id", tradeID,
			"session_id", sess.ID,
			"plan", plan,
			"credits", acct.Credits,
			"correlation_id", sess.Metadata["correlation_id"],
		)
		if replacedSubID != "" {
			// One live subscription per trade.
			if err := s.gateway.CancelSubscription(ctx, replacedSubID); err != nil {
				slog.Error("cancel replaced subscription failed",
					"trade_id", tradeID, "subscription_id", replacedSubID, "error", err)
			} else {
				slog.Info("replaced subscription canceled", "trade_id", tradeID, "subscription_id", replacedSubID)
			}
		}
	}

	if err := s.payments.Record(ctx, sess, acct); err != nil {
		return nil, apperr.Upstream("Failed to record payment", err)
	}
	return &Confirmation{Account: acct, Applied: applied}, nil
}

type Verification struct {
	SessionID     string               `json:"sessionId"`
	PaymentStatus string               `json:"paymentStatus"`
	CustomerEmail string               `json:"customerEmail"`
	Subscription  *SubscriptionSummary `json:"subscription,omitempty"`
	TradeUpdated  bool                 `json:"tradeUpdated"`
	// AlreadyApplied reports that an earlier webhook or verify call had
	// already activated the trade for this session.
	AlreadyApplied     bool   `json:"alreadyApplied"`
	// Superseded reports a paid session the trade no longer follows.
	Superseded         bool   `json:"superseded,omitempty"`
	Plan               string `json:"plan,omitempty"`
	Credits            int    `json:"credits,omitempty"`
	SubscriptionStatus string `json:"subscriptionStatus,omitempty"`
}

type SubscriptionSummary struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Plan             string `json:"plan,omitempty"`
	CurrentPeriodEnd string `json:"currentPeriodEnd,omitempty"`
}

// VerifySession is called by the client after the Stripe redirect. The
// session is always re-read from Stripe; nothing the client sends besides
// the id is trusted.
func (s *Service) VerifySession(ctx context.Context, sessionID string) (*Verification, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperr.Validation("Missing required fields", []string{"sessionId"})
	}

	sess, err := s.gateway.RetrieveSession(ctx, sessionID)
	if errors.Is(err, stripe.ErrNotFound) {
		return nil, apperr.NotFound("Checkout session not found")
	}
	if err != nil {
		return nil, apperr.Upstream("Failed to retrieve checkout session", err)
	}
	if !isPaid(sess.PaymentStatus) {
		return nil, apperr.Validation("Payment not completed", map[string]string{"paymentStatus": sess.PaymentStatus})
	}

	v := &Verification{
		SessionID:     sess.ID,
		PaymentStatus: sess.PaymentStatus,
		CustomerEmail: sess.CustomerEmail,
	}
	if sub := sess.Subscription; sub != nil {
		v.Subscription = &SubscriptionSummary{
			ID:     sub.ID,
			Status: stripe.NormalizeStatus(sub.Status),
			Plan:   s.planFor(sess),
		}
		if !sub.CurrentPeriodEnd.IsZero() {
			v.Subscription.CurrentPeriodEnd = sub.CurrentPeriodEnd.Format(time.RFC3339)
		}
	}

	if strings.TrimSpace(sess.Metadata["trade_id"]) == "" {
		slog.Info("verified session without trade link", "session_id", sess.ID)
		return v, nil
	}

	conf, err := s.ApplyPaymentConfirmation(ctx, sess)
	if err != nil {
		return nil, err
	}
	if conf.Superseded {
		v.Superseded = true
		return v, nil
	}
	v.TradeUpdated = true
	v.AlreadyApplied = !conf.Applied
	v.Plan = conf.Account.Plan
	v.Credits = conf.Account.Credits
	v.SubscriptionStatus = conf.Account.Status
	return v, nil
}
