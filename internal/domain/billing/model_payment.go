package billing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"handytoknow/internal/domain/trades"
	"handytoknow/internal/infra/recordstore"
	"handytoknow/internal/infra/stripe"
)

const PaymentsSheet = "Payments"

const (
	colSessionID      = "Session ID"
	colTradeID        = "Trade ID"
	colBusinessName   = "Business Name"
	colEmail          = "Email"
	colPlan           = "Plan"
	colAmount         = "Amount"
	colCurrency       = "Currency"
	colSubscriptionID = "Subscription ID"
	colStatus         = "Status"
	colRecordedAt     = "Recorded At"
)

var paymentsHeader = []string{
	colSessionID, colTradeID, colBusinessName, colEmail, colPlan, colAmount,
	colCurrency, colSubscriptionID, colStatus, colRecordedAt,
}

type Payment struct {
	SessionID      string `json:"sessionId"`
	TradeID        string `json:"tradeId"`
	BusinessName   string `json:"businessName"`
	Email          string `json:"email"`
	Plan           string `json:"plan"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Status         string `json:"status"`
	RecordedAt     string `json:"recordedAt"`
}

// Payments is the confirmed-checkout log, one row per checkout session.
type Payments struct {
	store recordstore.Store
	now   func() time.Time

	mu    sync.Mutex
	sheet recordstore.Sheet
}

func NewPayments(store recordstore.Store) *Payments {
	return &Payments{store: store, now: time.Now}
}

func (p *Payments) open(ctx context.Context) (recordstore.Sheet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sheet != nil {
		return p.sheet, nil
	}
	s, err := p.store.Sheet(ctx, PaymentsSheet, paymentsHeader)
	if err != nil {
		return nil, err
	}
	p.sheet = s
	return s, nil
}

// Record appends the payment for sess unless one is already logged.
func (p *Payments) Record(ctx context.Context, sess *stripe.Session, acct trades.Account) error {
	sheet, err := p.open(ctx)
	if err != nil {
		return err
	}
	_, err = recordstore.Find(ctx, sheet, recordstore.Equals(colSessionID, sess.ID))
	if err == nil {
		return nil
	}
	if !errors.Is(err, recordstore.ErrNotFound) {
		return err
	}

	email := sess.CustomerEmail
	if email == "" {
		email = acct.Email
	}
	subID := ""
	if sess.Subscription != nil {
		subID = sess.Subscription.ID
	}
	_, err = sheet.AppendRow(ctx, map[string]string{
		colSessionID:      sess.ID,
		colTradeID:        acct.TradeID,
		colBusinessName:   acct.BusinessName,
		colEmail:          email,
		colPlan:           acct.Plan,
		colAmount:         FormatAmount(sess.AmountTotal, sess.Currency),
		colCurrency:       strings.ToUpper(sess.Currency),
		colSubscriptionID: subID,
		colStatus:         sess.PaymentStatus,
		colRecordedAt:     p.now().UTC().Format(time.RFC3339),
	})
	return err
}

// List returns logged payments, oldest first. Rows duplicated by concurrent
// writers in different processes are collapsed by session id.
func (p *Payments) List(ctx context.Context) ([]Payment, error) {
	sheet, err := p.open(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := sheet.Rows(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rows))
	out := make([]Payment, 0, len(rows))
	for _, r := range rows {
		id := r.Get(colSessionID)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Payment{
			SessionID:      id,
			TradeID:        r.Get(colTradeID),
			BusinessName:   r.Get(colBusinessName),
			Email:          r.Get(colEmail),
			Plan:           r.Get(colPlan),
			Amount:         r.Get(colAmount),
			Currency:       r.Get(colCurrency),
			SubscriptionID: r.Get(colSubscriptionID),
			Status:         r.Get(colStatus),
			RecordedAt:     r.Get(colRecordedAt),
		})
	}
	return out, nil
}

// Currencies Stripe charges in whole units, or in thousandths.
var (
	zeroDecimal = map[string]bool{
		"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
		"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
		"VUV": true, "XAF": true, "XOF": true, "XPF": true,
	}
	threeDecimal = map[string]bool{"BHD": true, "JOD": true, "KWD": true, "OMR": true, "TND": true}
)

// CurrencyExponent is the number of minor-unit digits Stripe uses for
// currency. Unknown currencies get two.
func CurrencyExponent(currency string) int32 {
	c := strings.ToUpper(strings.TrimSpace(currency))
	switch {
	case zeroDecimal[c]:
		return 0
	case threeDecimal[c]:
		return 3
	default:
		return 2
	}
}

// FormatAmount renders an amount given in Stripe minor units (pence, cents,
// or whole yen) in major units.
func FormatAmount(minor int64, currency string) string {
	exp := CurrencyExponent(currency)
	return decimal.New(minor, -exp).StringFixed(exp)
}
