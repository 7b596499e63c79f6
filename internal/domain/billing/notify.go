package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"handytoknow/internal/domain/plans"
	"handytoknow/internal/domain/trades"
	"handytoknow/internal/infra/mailer"
	"handytoknow/internal/infra/stripe"
)

func (s *Service) compose(to, subject string, body mailer.Body) (mailer.Message, bool) {
	html, err := mailer.Compose(body)
	if err != nil {
		slog.Error("compose email failed", "subject", subject, "error", err)
		return mailer.Message{}, false
	}
	return mailer.Message{To: to, Subject: subject, HTML: html}, true
}

func money(minor int64, currency string) string {
	return strings.TrimSpace(FormatAmount(minor, currency) + " " + strings.ToUpper(currency))
}

// notifyPurchase sends the admin purchase summary and the purchaser welcome.
func (s *Service) notifyPurchase(ctx context.Context, sess *stripe.Session, acct *trades.Account) {
	plan := s.planFor(sess)
	business := sess.Metadata["business_name"]
	if acct != nil && acct.BusinessName != "" {
		business = acct.BusinessName
	}
	subID := ""
	if sess.Subscription != nil {
		subID = sess.Subscription.ID
	}

	rows := []mailer.Field{
		{Label: "Business", Value: business},
		{Label: "Email", Value: sess.CustomerEmail},
		{Label: "Plan", Value: plan},
		{Label: "Credits", Value: fmt.Sprint(plans.CreditsFor(plan))},
		{Label: "Amount", Value: money(sess.AmountTotal, sess.Currency)},
		{Label: "Checkout session", Value: sess.ID},
		{Label: "Subscription", Value: subID},
		{Label: "Trade ID", Value: sess.Metadata["trade_id"]},
	}
	if msg, ok := s.compose(s.cfg.AdminEmail, "New subscription purchase: "+business, mailer.Body{
		Heading: "New subscription purchase",
		Rows:    rows,
	}); ok {
		s.send(ctx, msg)
	}

	if msg, ok := s.compose(sess.CustomerEmail, "Welcome to HandyToKnow", mailer.Body{
		Heading: "Your subscription is active",
		Paragraphs: []string{
			fmt.Sprintf("Thanks for subscribing to the %s plan.", plan),
			"Your lead credits are ready to use from your trade account.",
		},
		Rows:       []mailer.Field{{Label: "Plan", Value: plan}, {Label: "Credits", Value: fmt.Sprint(plans.CreditsFor(plan))}},
		ButtonText: "Go to my account",
		ButtonURL:  s.cfg.AppURL + "/trade/account",
	}); ok {
		s.send(ctx, msg)
	}
}

// notifyPaymentFailed sends the dunning email with a portal link and tells
// the admin.
func (s *Service) notifyPaymentFailed(ctx context.Context, acct trades.Account, inv *stripe.Invoice) {
	link := s.cfg.AppURL + "/trade/account"
	if acct.CustomerID != "" {
		if url, err := s.PortalURL(ctx, acct.CustomerID); err != nil {
			slog.Warn("billing portal link failed, using account page", "trade_id", acct.TradeID, "error", err)
		} else {
			link = url
		}
	}

	to := acct.Email
	if to == "" {
		to = inv.CustomerEmail
	}
	if msg, ok := s.compose(to, "Your HandyToKnow payment failed", mailer.Body{
		Heading: "We could not take your payment",
		Paragraphs: []string{
			"Your latest subscription payment did not go through, so your account is now limited.",
			"Please update your payment details to keep receiving leads.",
		},
		Rows:       []mailer.Field{{Label: "Amount due", Value: money(inv.AmountDue, inv.Currency)}},
		ButtonText: "Update payment details",
		ButtonURL:  link,
	}); ok {
		s.send(ctx, msg)
	}

	if msg, ok := s.compose(s.cfg.AdminEmail, "Payment failed: "+acct.BusinessName, mailer.Body{
		Heading: "Subscription payment failed",
		Rows: []mailer.Field{
			{Label: "Business", Value: acct.BusinessName},
			{Label: "Email", Value: to},
			{Label: "Trade ID", Value: acct.TradeID},
			{Label: "Invoice", Value: inv.ID},
			{Label: "Amount due", Value: money(inv.AmountDue, inv.Currency)},
		},
	}); ok {
		s.send(ctx, msg)
	}
}

func (s *Service) notifyCanceled(ctx context.Context, acct trades.Account) {
	if msg, ok := s.compose(acct.Email, "Your HandyToKnow subscription has ended", mailer.Body{
		Heading: "Your subscription has ended",
		Paragraphs: []string{
			"Your subscription was canceled and your listing is no longer active.",
			"You can subscribe again at any time.",
		},
		ButtonText: "Choose a plan",
		ButtonURL:  s.cfg.AppURL + "/trade/plans",
	}); ok {
		s.send(ctx, msg)
	}
}
